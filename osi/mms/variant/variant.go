package variant

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrTypeMismatch возвращается Update при несовпадении типов или размеров
var ErrTypeMismatch = errors.New("variant: type mismatch")

// Type представляет тип значения в MMS Data
type Type int

const (
	Array Type = iota
	Structure
	Boolean
	BitString
	Integer
	Unsigned
	// Float32 - IEEE 754 single precision floating-point (32-bit)
	Float32
	// Float64 - IEEE 754 double precision floating-point (64-bit)
	Float64
	OctetString
	VisibleString
	GeneralizedTime
	// BinaryTime - 4 байта миллисекунд от полуночи, опционально 2 байта дней от 1984-01-01
	BinaryTime
	MMSString
	// UTCTime - UTC time согласно ISO/IEC 9506-2 (8 байт: 4 байта секунды + 3 байта доля секунды + 1 байт качество)
	UTCTime
	// DataAccessError - код ошибки доступа вместо значения в результате чтения
	DataAccessError
)

// Int32 сохранён для совместимости: целые значения хранятся с типом Integer
const Int32 = Integer

// String возвращает строковое представление Type
func (t Type) String() string {
	switch t {
	case Array:
		return "array"
	case Structure:
		return "structure"
	case Boolean:
		return "boolean"
	case BitString:
		return "bit-string"
	case Integer:
		return "integer"
	case Unsigned:
		return "unsigned"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case OctetString:
		return "octet-string"
	case VisibleString:
		return "visible-string"
	case GeneralizedTime:
		return "generalized-time"
	case BinaryTime:
		return "binary-time"
	case MMSString:
		return "mms-string"
	case UTCTime:
		return "utc-time"
	case DataAccessError:
		return "data-access-error"
	default:
		var b strings.Builder
		b.WriteString("unknown(")
		b.WriteString(strconv.Itoa(int(t)))
		b.WriteByte(')')
		return b.String()
	}
}

// bitString хранит биты и их количество
type bitString struct {
	size int
	bits []byte
}

// Variant представляет типизированное значение MMS Data.
// Составные значения (array, structure) хранят элементы как []*Variant,
// utc-time и binary-time хранятся в виде исходных октетов.
type Variant struct {
	typ   Type
	value interface{}
}

// Type возвращает тип значения Variant
func (v *Variant) Type() Type {
	return v.typ
}

// NewBoolVariant создаёт boolean значение
func NewBoolVariant(value bool) *Variant {
	return &Variant{typ: Boolean, value: value}
}

// NewIntegerVariant создаёт целое значение со знаком
func NewIntegerVariant(value int64) *Variant {
	return &Variant{typ: Integer, value: value}
}

// NewInt32Variant создаёт новый Variant с int32 значением
func NewInt32Variant(value int32) *Variant {
	return NewIntegerVariant(int64(value))
}

// NewUnsignedVariant создаёт беззнаковое значение
func NewUnsignedVariant(value uint64) *Variant {
	return &Variant{typ: Unsigned, value: value}
}

// NewFloat32Variant создаёт новый Variant с float32 значением
func NewFloat32Variant(value float32) *Variant {
	return &Variant{typ: Float32, value: value}
}

// NewFloat64Variant создаёт значение двойной точности
func NewFloat64Variant(value float64) *Variant {
	return &Variant{typ: Float64, value: value}
}

// NewBitStringVariant создаёт битовую строку из size бит.
// Бит 0 - старший бит первого октета.
func NewBitStringVariant(size int, bits []byte) *Variant {
	b := make([]byte, (size+7)/8)
	copy(b, bits)
	return &Variant{typ: BitString, value: &bitString{size: size, bits: b}}
}

// NewOctetStringVariant создаёт строку октетов
func NewOctetStringVariant(value []byte) *Variant {
	return &Variant{typ: OctetString, value: append([]byte{}, value...)}
}

// NewVisibleStringVariant создаёт visible-string
func NewVisibleStringVariant(value string) *Variant {
	return &Variant{typ: VisibleString, value: value}
}

// NewMMSStringVariant создаёт MMSString (UTF-8)
func NewMMSStringVariant(value string) *Variant {
	return &Variant{typ: MMSString, value: value}
}

// NewGeneralizedTimeVariant создаёт generalized-time
func NewGeneralizedTimeVariant(value time.Time) *Variant {
	return &Variant{typ: GeneralizedTime, value: value.UTC()}
}

// NewUTCTimeVariant создаёт новый Variant с time.Time значением и нулевым качеством времени
func NewUTCTimeVariant(value time.Time) *Variant {
	return NewUTCTimeVariantWithQuality(value, 0)
}

// NewUTCTimeVariantWithQuality создаёт utc-time с заданным октетом качества
func NewUTCTimeVariantWithQuality(value time.Time, quality byte) *Variant {
	raw := make([]byte, 8)
	EncodeUTCTime(raw, value)
	raw[7] = quality
	return &Variant{typ: UTCTime, value: raw}
}

// NewUTCTimeVariantFromBytes создаёт utc-time из 8 октетов
func NewUTCTimeVariantFromBytes(raw []byte) *Variant {
	b := make([]byte, 8)
	copy(b, raw)
	return &Variant{typ: UTCTime, value: b}
}

// NewBinaryTimeVariant создаёт binary-time. Короткая форма (4 октета)
// содержит только время суток.
func NewBinaryTimeVariant(value time.Time, withDate bool) *Variant {
	size := 4
	if withDate {
		size = 6
	}
	raw := make([]byte, size)
	EncodeBinaryTime(raw, value)
	return &Variant{typ: BinaryTime, value: raw}
}

// NewBinaryTimeVariantFromBytes создаёт binary-time из 4 или 6 октетов
func NewBinaryTimeVariantFromBytes(raw []byte) *Variant {
	return &Variant{typ: BinaryTime, value: append([]byte{}, raw...)}
}

// NewDataAccessErrorVariant создаёт значение, сообщающее об ошибке доступа
func NewDataAccessErrorVariant(code uint32) *Variant {
	return &Variant{typ: DataAccessError, value: code}
}

// NewArrayVariant создаёт массив из элементов
func NewArrayVariant(elements ...*Variant) *Variant {
	return &Variant{typ: Array, value: elements}
}

// NewStructureVariant создаёт структуру из компонентов
func NewStructureVariant(components ...*Variant) *Variant {
	return &Variant{typ: Structure, value: components}
}

// NewEmptyArrayVariant создаёт массив из size пустых элементов
func NewEmptyArrayVariant(size int) *Variant {
	return NewArrayVariant(make([]*Variant, size)...)
}

// NewEmptyStructureVariant создаёт структуру из size пустых компонентов
func NewEmptyStructureVariant(size int) *Variant {
	return NewStructureVariant(make([]*Variant, size)...)
}

// Bool возвращает значение как bool
func (v *Variant) Bool() bool {
	if v == nil {
		return false
	}
	val, _ := v.value.(bool)
	return val
}

// Int64 возвращает целое значение, для unsigned и float выполняет преобразование
func (v *Variant) Int64() int64 {
	if v == nil {
		return 0
	}

	switch val := v.value.(type) {
	case int64:
		return val
	case uint64:
		return int64(val)
	case float32:
		return int64(val)
	case float64:
		return int64(val)
	case uint32:
		return int64(val)
	default:
		return 0
	}
}

// Int32 возвращает значение как int32
// Если тип не совпадает, пытается преобразовать значение к int32
// Возвращает 0 если преобразование невозможно
func (v *Variant) Int32() int32 {
	return int32(v.Int64())
}

// Uint64 возвращает значение как uint64
func (v *Variant) Uint64() uint64 {
	if v == nil {
		return 0
	}
	if val, ok := v.value.(uint64); ok {
		return val
	}
	return uint64(v.Int64())
}

// Uint32 возвращает значение как uint32
func (v *Variant) Uint32() uint32 {
	return uint32(v.Uint64())
}

// Float32 возвращает значение как float32
// Если тип не совпадает, пытается преобразовать значение к float32
// Возвращает 0.0 если преобразование невозможно
func (v *Variant) Float32() float32 {
	return float32(v.Float64())
}

// Float64 возвращает значение как float64
func (v *Variant) Float64() float64 {
	if v == nil {
		return 0.0
	}

	switch val := v.value.(type) {
	case float32:
		return float64(val)
	case float64:
		return val
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return 0.0
	}
}

// Text возвращает значение visible-string или MMSString
func (v *Variant) Text() string {
	if v == nil {
		return ""
	}
	val, _ := v.value.(string)
	return val
}

// Bytes возвращает октеты octet-string, utc-time или binary-time и биты bit-string
func (v *Variant) Bytes() []byte {
	if v == nil {
		return nil
	}

	switch val := v.value.(type) {
	case []byte:
		return val
	case *bitString:
		return val.bits
	default:
		return nil
	}
}

// BitSize возвращает количество бит bit-string
func (v *Variant) BitSize() int {
	if v == nil || v.typ != BitString {
		return 0
	}
	return v.value.(*bitString).size
}

// Bit возвращает бит с номером n
func (v *Variant) Bit(n int) bool {
	if v == nil || v.typ != BitString || n < 0 || n >= v.BitSize() {
		return false
	}
	bits := v.value.(*bitString).bits
	return bits[n/8]&(0x80>>(n%8)) != 0
}

// SetBit устанавливает бит с номером n
func (v *Variant) SetBit(n int, value bool) {
	if v == nil || v.typ != BitString || n < 0 || n >= v.BitSize() {
		return
	}
	bits := v.value.(*bitString).bits
	if value {
		bits[n/8] |= 0x80 >> (n % 8)
	} else {
		bits[n/8] &^= 0x80 >> (n % 8)
	}
}

// BitStringUint интерпретирует биты как целое, бит 0 - младший
func (v *Variant) BitStringUint() uint32 {
	var value uint32
	for i := 0; i < v.BitSize() && i < 32; i++ {
		if v.Bit(i) {
			value |= 1 << i
		}
	}
	return value
}

// SetBitStringUint записывает целое в биты, бит 0 - младший
func (v *Variant) SetBitStringUint(value uint32) {
	for i := 0; i < v.BitSize() && i < 32; i++ {
		v.SetBit(i, value&(1<<i) != 0)
	}
}

// Time возвращает значение как time.Time
// Если тип не совпадает, возвращает нулевое время
func (v *Variant) Time() time.Time {
	if v == nil {
		return time.Time{}
	}

	switch v.typ {
	case UTCTime:
		return DecodeUTCTime(v.value.([]byte))
	case BinaryTime:
		return DecodeBinaryTime(v.value.([]byte))
	case GeneralizedTime:
		return v.value.(time.Time)
	default:
		return time.Time{}
	}
}

// TimeQuality возвращает октет качества utc-time
func (v *Variant) TimeQuality() byte {
	if v == nil || v.typ != UTCTime {
		return 0
	}
	return v.value.([]byte)[7]
}

// SetTime записывает время в utc-time, binary-time или generalized-time
func (v *Variant) SetTime(t time.Time) {
	switch v.typ {
	case UTCTime:
		EncodeUTCTime(v.value.([]byte), t)
	case BinaryTime:
		EncodeBinaryTime(v.value.([]byte), t)
	case GeneralizedTime:
		v.value = t.UTC()
	}
}

// SetTimeQuality задаёт октет качества utc-time
func (v *Variant) SetTimeQuality(quality byte) {
	if v.typ == UTCTime {
		v.value.([]byte)[7] = quality
	}
}

// AccessError возвращает код ошибки доступа
func (v *Variant) AccessError() uint32 {
	if v == nil {
		return 0
	}
	val, _ := v.value.(uint32)
	return val
}

// Len возвращает количество элементов массива или структуры
func (v *Variant) Len() int {
	if v == nil {
		return 0
	}
	elements, _ := v.value.([]*Variant)
	return len(elements)
}

// Element возвращает элемент массива или компонент структуры
func (v *Variant) Element(i int) *Variant {
	if v == nil {
		return nil
	}
	elements, _ := v.value.([]*Variant)
	if i < 0 || i >= len(elements) {
		return nil
	}
	return elements[i]
}

// SetElement заменяет элемент составного значения
func (v *Variant) SetElement(i int, element *Variant) {
	elements, _ := v.value.([]*Variant)
	if i >= 0 && i < len(elements) {
		elements[i] = element
	}
}

// Elements возвращает элементы составного значения
func (v *Variant) Elements() []*Variant {
	if v == nil {
		return nil
	}
	elements, _ := v.value.([]*Variant)
	return elements
}

// SetBool меняет значение boolean
func (v *Variant) SetBool(value bool) {
	if v.typ == Boolean {
		v.value = value
	}
}

// SetInt меняет значение integer или unsigned
func (v *Variant) SetInt(value int64) {
	switch v.typ {
	case Integer:
		v.value = value
	case Unsigned:
		v.value = uint64(value)
	}
}

// SetFloat меняет значение float32 или float64
func (v *Variant) SetFloat(value float64) {
	switch v.typ {
	case Float32:
		v.value = float32(value)
	case Float64:
		v.value = value
	}
}

// SetText меняет значение visible-string или MMSString
func (v *Variant) SetText(value string) {
	if v.typ == VisibleString || v.typ == MMSString {
		v.value = value
	}
}

// Equal сравнивает типы и значения рекурсивно
func (v *Variant) Equal(other *Variant) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.typ != other.typ {
		return false
	}

	switch v.typ {
	case Array, Structure:
		a, b := v.Elements(), other.Elements()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case BitString:
		return v.BitSize() == other.BitSize() && bytes.Equal(v.Bytes(), other.Bytes())
	case OctetString, UTCTime, BinaryTime:
		return bytes.Equal(v.Bytes(), other.Bytes())
	case GeneralizedTime:
		return v.Time().Equal(other.Time())
	default:
		return v.value == other.value
	}
}

// Clone возвращает глубокую копию
func (v *Variant) Clone() *Variant {
	if v == nil {
		return nil
	}

	switch val := v.value.(type) {
	case []*Variant:
		elements := make([]*Variant, len(val))
		for i, e := range val {
			elements[i] = e.Clone()
		}
		return &Variant{typ: v.typ, value: elements}
	case []byte:
		return &Variant{typ: v.typ, value: append([]byte{}, val...)}
	case *bitString:
		return &Variant{typ: v.typ, value: &bitString{size: val.size, bits: append([]byte{}, val.bits...)}}
	default:
		return &Variant{typ: v.typ, value: v.value}
	}
}

// Update копирует значение src в v на месте. Типы должны совпадать,
// для составных значений и bit-string также количество элементов.
// Ссылки на v и его элементы остаются действительными.
func (v *Variant) Update(src *Variant) error {
	if v == nil || src == nil || v.typ != src.typ {
		return ErrTypeMismatch
	}

	switch val := v.value.(type) {
	case []*Variant:
		srcElements := src.Elements()
		if len(val) != len(srcElements) {
			return ErrTypeMismatch
		}
		for i := range val {
			if val[i] == nil {
				val[i] = srcElements[i].Clone()
				continue
			}
			if err := val[i].Update(srcElements[i]); err != nil {
				return err
			}
		}
	case *bitString:
		srcBits := src.value.(*bitString)
		if val.size != srcBits.size {
			return ErrTypeMismatch
		}
		copy(val.bits, srcBits.bits)
	case []byte:
		srcBytes := src.value.([]byte)
		if v.typ == OctetString || len(val) != len(srcBytes) {
			v.value = append([]byte{}, srcBytes...)
		} else {
			copy(val, srcBytes)
		}
	default:
		v.value = src.value
	}

	return nil
}

// String возвращает строковое представление Variant в формате "тип(значение)"
// Например: "float32(4.2)"
func (v *Variant) String() string {
	if v == nil {
		return "<nil>"
	}

	var b strings.Builder
	v.writeTo(&b)
	return b.String()
}

func (v *Variant) writeTo(b *strings.Builder) {
	if v == nil {
		b.WriteString("<nil>")
		return
	}

	b.WriteString(v.typ.String())
	b.WriteByte('(')

	switch v.typ {
	case Array, Structure:
		for i, e := range v.Elements() {
			if i > 0 {
				b.WriteString(", ")
			}
			e.writeTo(b)
		}
	case Boolean:
		b.WriteString(strconv.FormatBool(v.Bool()))
	case Integer:
		b.WriteString(strconv.FormatInt(v.Int64(), 10))
	case Unsigned:
		b.WriteString(strconv.FormatUint(v.Uint64(), 10))
	case Float32:
		b.WriteString(strconv.FormatFloat(float64(v.Float32()), 'g', -1, 32))
	case Float64:
		b.WriteString(strconv.FormatFloat(v.Float64(), 'g', -1, 64))
	case BitString:
		for i := 0; i < v.BitSize(); i++ {
			if v.Bit(i) {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	case OctetString:
		b.WriteString(hex.EncodeToString(v.Bytes()))
	case VisibleString, MMSString:
		b.WriteString(strconv.Quote(v.Text()))
	case UTCTime, BinaryTime, GeneralizedTime:
		b.WriteString(v.Time().Format(time.RFC3339Nano))
	case DataAccessError:
		b.WriteString(strconv.FormatUint(uint64(v.AccessError()), 10))
	default:
		b.WriteString("<unknown>")
	}

	b.WriteByte(')')
}

// EncodeUTCTime записывает секунды и долю секунды (24 бита) в первые 7 октетов raw
func EncodeUTCTime(raw []byte, t time.Time) {
	binary.BigEndian.PutUint32(raw[0:4], uint32(t.Unix()))
	fraction := (uint64(t.Nanosecond()) << 24) / uint64(time.Second)
	raw[4] = byte(fraction >> 16)
	raw[5] = byte(fraction >> 8)
	raw[6] = byte(fraction)
}

// DecodeUTCTime преобразует 8 октетов utc-time во время UTC
func DecodeUTCTime(raw []byte) time.Time {
	if len(raw) < 7 {
		return time.Time{}
	}
	seconds := binary.BigEndian.Uint32(raw[0:4])
	fraction := uint64(raw[4])<<16 | uint64(raw[5])<<8 | uint64(raw[6])
	nanos := (fraction * uint64(time.Second)) >> 24
	return time.Unix(int64(seconds), int64(nanos)).UTC()
}

var binaryTimeEpoch = time.Date(1984, time.January, 1, 0, 0, 0, 0, time.UTC)

// EncodeBinaryTime записывает миллисекунды от полуночи и, для 6 октетов,
// количество дней от 1984-01-01
func EncodeBinaryTime(raw []byte, t time.Time) {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	binary.BigEndian.PutUint32(raw[0:4], uint32(t.Sub(midnight).Milliseconds()))
	if len(raw) >= 6 {
		days := midnight.Sub(binaryTimeEpoch).Hours() / 24
		binary.BigEndian.PutUint16(raw[4:6], uint16(days))
	}
}

// DecodeBinaryTime преобразует binary-time во время UTC.
// Короткая форма возвращает время суток от 1984-01-01.
func DecodeBinaryTime(raw []byte) time.Time {
	if len(raw) < 4 {
		return time.Time{}
	}
	t := binaryTimeEpoch.Add(time.Duration(binary.BigEndian.Uint32(raw[0:4])) * time.Millisecond)
	if len(raw) >= 6 {
		t = t.AddDate(0, 0, int(binary.BigEndian.Uint16(raw[4:6])))
	}
	return t
}
