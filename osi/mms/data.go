package mms

import (
	"fmt"
	"time"

	"github.com/careychow/libIEC61850-sub000/ber"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// Теги Data согласно ISO/IEC 9506-2:
//
//	Data ::= CHOICE {
//	  array            [1] IMPLICIT SEQUENCE OF Data,
//	  structure        [2] IMPLICIT SEQUENCE OF Data,
//	  boolean          [3] IMPLICIT BOOLEAN,
//	  bit-string       [4] IMPLICIT BIT STRING,
//	  integer          [5] IMPLICIT INTEGER,
//	  unsigned         [6] IMPLICIT INTEGER,
//	  floating-point   [7] IMPLICIT FloatingPoint,
//	  octet-string     [9] IMPLICIT OCTET STRING,
//	  visible-string   [10] IMPLICIT VisibleString,
//	  generalized-time [11] IMPLICIT GeneralizedTime,
//	  binary-time      [12] IMPLICIT TimeOfDay,
//	  mMSString        [16] IMPLICIT MMSString,
//	  utc-time         [17] IMPLICIT UtcTime
//	}
const (
	tagArray           = 0xa1
	tagStructure       = 0xa2
	tagBoolean         = 0x83
	tagBitString       = 0x84
	tagInteger         = 0x85
	tagUnsigned        = 0x86
	tagFloatingPoint   = 0x87
	tagOctetString     = 0x89
	tagVisibleString   = 0x8a
	tagGeneralizedTime = 0x8b
	tagBinaryTime      = 0x8c
	tagMMSString       = 0x90
	tagUTCTime         = 0x91

	// AccessResult ::= CHOICE { failure [0] IMPLICIT DataAccessError, success Data }
	tagAccessFailure = 0x80
)

const generalizedTimeLayout = "20060102150405.000Z"

// DataNode строит BER дерево значения MMS Data.
// Значение DataAccessError кодируется как failure AccessResult.
func DataNode(v *variant.Variant) *ber.Node {
	if v == nil {
		return ber.Constructed(tagStructure)
	}

	switch v.Type() {
	case variant.Array, variant.Structure:
		tag := uint32(tagStructure)
		if v.Type() == variant.Array {
			tag = tagArray
		}
		node := ber.Constructed(tag)
		for _, element := range v.Elements() {
			node.Add(DataNode(element))
		}
		return node

	case variant.Boolean:
		return ber.Bool(tagBoolean, v.Bool())

	case variant.BitString:
		return ber.Bits(tagBitString, v.BitSize(), v.Bytes())

	case variant.Integer:
		return ber.Signed(tagInteger, v.Int64())

	case variant.Unsigned:
		return ber.Unsigned(tagUnsigned, v.Uint64())

	case variant.Float32:
		value := make([]byte, 5)
		ber.EncodeFloat(v.Float32(), value, 0)
		return ber.Primitive(tagFloatingPoint, value)

	case variant.Float64:
		value := make([]byte, 9)
		ber.EncodeDouble(v.Float64(), value, 0)
		return ber.Primitive(tagFloatingPoint, value)

	case variant.OctetString:
		return ber.Primitive(tagOctetString, v.Bytes())

	case variant.VisibleString:
		return ber.String(tagVisibleString, v.Text())

	case variant.MMSString:
		return ber.String(tagMMSString, v.Text())

	case variant.GeneralizedTime:
		return ber.String(tagGeneralizedTime, v.Time().UTC().Format(generalizedTimeLayout))

	case variant.BinaryTime:
		return ber.Primitive(tagBinaryTime, v.Bytes())

	case variant.UTCTime:
		return ber.Primitive(tagUTCTime, v.Bytes())

	case variant.DataAccessError:
		return ber.Unsigned(tagAccessFailure, uint64(v.AccessError()))
	}

	return ber.Constructed(tagStructure)
}

// EncodeData кодирует значение MMS Data
func EncodeData(v *variant.Variant) []byte {
	return DataNode(v).Encode()
}

// DataSize возвращает размер закодированного значения в байтах
func DataSize(v *variant.Variant) int {
	return DataNode(v).Size()
}

// ParseData декодирует одно значение MMS Data из буфера
func ParseData(buffer []byte) (*variant.Variant, error) {
	tlv, _, err := ber.ParseTLV(buffer, 0, len(buffer))
	if err != nil {
		return nil, err
	}
	return DecodeData(tlv)
}

// DecodeData декодирует значение MMS Data из элемента TLV.
// Элемент failure AccessResult возвращается как значение DataAccessError.
func DecodeData(tlv ber.TLV) (*variant.Variant, error) {
	switch tlv.Tag {
	case tagArray, tagStructure:
		children, err := tlv.Children()
		if err != nil {
			return nil, err
		}
		elements := make([]*variant.Variant, 0, len(children))
		for _, child := range children {
			element, err := DecodeData(child)
			if err != nil {
				return nil, err
			}
			elements = append(elements, element)
		}
		if tlv.Tag == tagArray {
			return variant.NewArrayVariant(elements...), nil
		}
		return variant.NewStructureVariant(elements...), nil

	case tagBoolean:
		if len(tlv.Value) != 1 {
			return nil, fmt.Errorf("%w: boolean length %d", ErrInvalidPDU, len(tlv.Value))
		}
		return variant.NewBoolVariant(tlv.Bool()), nil

	case tagBitString:
		return decodeBitString(tlv.Value)

	case tagInteger:
		if len(tlv.Value) == 0 || len(tlv.Value) > 8 {
			return nil, fmt.Errorf("%w: integer length %d", ErrInvalidPDU, len(tlv.Value))
		}
		return variant.NewIntegerVariant(tlv.Int()), nil

	case tagUnsigned:
		if len(tlv.Value) == 0 || len(tlv.Value) > 9 {
			return nil, fmt.Errorf("%w: unsigned length %d", ErrInvalidPDU, len(tlv.Value))
		}
		var value uint64
		for _, b := range tlv.Value {
			value = value<<8 | uint64(b)
		}
		return variant.NewUnsignedVariant(value), nil

	case tagFloatingPoint:
		switch len(tlv.Value) {
		case 5:
			return variant.NewFloat32Variant(ber.DecodeFloat(tlv.Value, 0)), nil
		case 9:
			return variant.NewFloat64Variant(ber.DecodeDouble(tlv.Value, 0)), nil
		}
		return nil, fmt.Errorf("%w: floating-point length %d", ErrInvalidPDU, len(tlv.Value))

	case tagOctetString:
		return variant.NewOctetStringVariant(tlv.Value), nil

	case tagVisibleString:
		return variant.NewVisibleStringVariant(tlv.String()), nil

	case tagMMSString:
		return variant.NewMMSStringVariant(tlv.String()), nil

	case tagGeneralizedTime:
		t, err := parseGeneralizedTime(tlv.String())
		if err != nil {
			return nil, err
		}
		return variant.NewGeneralizedTimeVariant(t), nil

	case tagBinaryTime:
		if len(tlv.Value) != 4 && len(tlv.Value) != 6 {
			return nil, fmt.Errorf("%w: binary-time length %d", ErrInvalidPDU, len(tlv.Value))
		}
		return variant.NewBinaryTimeVariantFromBytes(tlv.Value), nil

	case tagUTCTime:
		if len(tlv.Value) != 8 {
			return nil, fmt.Errorf("%w: utc-time length %d", ErrInvalidPDU, len(tlv.Value))
		}
		return variant.NewUTCTimeVariantFromBytes(tlv.Value), nil

	case tagAccessFailure:
		return variant.NewDataAccessErrorVariant(tlv.Uint()), nil
	}

	return nil, fmt.Errorf("%w: data 0x%02x", ErrUnexpectedTag, tlv.Tag)
}

// decodeBitString: первый октет - количество неиспользуемых бит последнего октета
func decodeBitString(value []byte) (*variant.Variant, error) {
	if len(value) < 1 {
		return nil, fmt.Errorf("%w: bit-string without padding octet", ErrInvalidPDU)
	}

	padding := int(value[0])
	if padding > 7 || (len(value) == 1 && padding != 0) {
		return nil, fmt.Errorf("%w: bit-string padding %d", ErrInvalidPDU, padding)
	}

	return variant.NewBitStringVariant(8*(len(value)-1)-padding, value[1:]), nil
}

func parseGeneralizedTime(s string) (time.Time, error) {
	for _, layout := range []string{generalizedTimeLayout, "20060102150405Z", "20060102150405.000", "20060102150405"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: generalized-time %q", ErrInvalidPDU, s)
}

// AccessResult результат доступа к одной переменной
type AccessResult struct {
	Success bool
	Value   *variant.Variant
	Error   DataAccessError
}

func (r AccessResult) String() string {
	if r.Success {
		return r.Value.String()
	}
	return "error(" + r.Error.String() + ")"
}

// SuccessResult создаёт успешный результат доступа
func SuccessResult(value *variant.Variant) AccessResult {
	return AccessResult{Success: true, Value: value, Error: DataAccessSuccess}
}

// FailureResult создаёт результат доступа с ошибкой
func FailureResult(err DataAccessError) AccessResult {
	return AccessResult{Error: err}
}

// ResultFromValue превращает значение DataAccessError в failure, остальные в success
func ResultFromValue(value *variant.Variant) AccessResult {
	if value == nil {
		return FailureResult(ObjectNonExistent)
	}
	if value.Type() == variant.DataAccessError {
		return FailureResult(DataAccessError(value.AccessError()))
	}
	return SuccessResult(value)
}

func (r AccessResult) node() *ber.Node {
	if !r.Success {
		return ber.Unsigned(tagAccessFailure, uint64(r.Error))
	}
	return DataNode(r.Value)
}

func decodeAccessResult(tlv ber.TLV) (AccessResult, error) {
	if tlv.Tag == tagAccessFailure {
		return AccessResult{Error: DataAccessError(tlv.Uint())}, nil
	}

	value, err := DecodeData(tlv)
	if err != nil {
		return AccessResult{}, err
	}
	return AccessResult{Success: true, Value: value, Error: DataAccessSuccess}, nil
}

func decodeListOfAccessResult(tlv ber.TLV) ([]AccessResult, error) {
	children, err := tlv.Children()
	if err != nil {
		return nil, err
	}

	results := make([]AccessResult, 0, len(children))
	for _, child := range children {
		result, err := decodeAccessResult(child)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func listOfAccessResultNode(tag uint32, results []AccessResult) *ber.Node {
	list := ber.Constructed(tag)
	for _, result := range results {
		list.Add(result.node())
	}
	return list
}
