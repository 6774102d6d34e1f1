package ber

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Errors
var (
	ErrBufferOverflow    = errors.New("buffer overflow")
	ErrInvalidLength     = errors.New("invalid length")
	ErrInvalidIndefinite = errors.New("invalid indefinite length")
	ErrMaxDepthExceeded  = errors.New("maximum depth exceeded")
	ErrInvalidTag        = errors.New("invalid tag")
)

// ItuObjectIdentifier represents an ITU-T Object Identifier
type ItuObjectIdentifier struct {
	Arc      [10]uint32
	ArcCount int
}

// String returns the dotted form of the identifier
func (oid *ItuObjectIdentifier) String() string {
	parts := make([]string, oid.ArcCount)
	for i := 0; i < oid.ArcCount; i++ {
		parts[i] = strconv.FormatUint(uint64(oid.Arc[i]), 10)
	}
	return strings.Join(parts, ".")
}

// Decoder functions

const maxDepth = 50

// DecodeLength decodes a BER length field from the buffer.
// Returns the position of the first content byte and the content length.
func DecodeLength(buffer []byte, bufPos, maxBufPos int) (newPos int, length int, err error) {
	return decodeLength(buffer, bufPos, maxBufPos, 0)
}

func decodeLength(buffer []byte, bufPos, maxBufPos, depth int) (int, int, error) {
	if bufPos >= maxBufPos || bufPos >= len(buffer) {
		return -1, 0, ErrBufferOverflow
	}

	len1 := buffer[bufPos]
	bufPos++

	length := 0

	if len1&0x80 == 0 {
		length = int(len1)
	} else {
		lenLength := int(len1 & 0x7f)

		if lenLength == 0 {
			indefLength, err := getIndefiniteLength(buffer, bufPos, maxBufPos, depth)
			if err != nil {
				return -1, 0, err
			}
			length = indefLength
		} else {
			if lenLength > 4 {
				return -1, 0, ErrInvalidLength
			}
			for i := 0; i < lenLength; i++ {
				if bufPos >= maxBufPos {
					return -1, 0, ErrBufferOverflow
				}
				length = (length << 8) | int(buffer[bufPos])
				bufPos++
			}
		}
	}

	if length < 0 {
		return -1, 0, ErrInvalidLength
	}

	if bufPos+length > maxBufPos {
		return -1, 0, ErrBufferOverflow
	}

	return bufPos, length, nil
}

func getIndefiniteLength(buffer []byte, bufPos, maxBufPos, depth int) (int, error) {
	depth++
	if depth > maxDepth {
		return -1, ErrMaxDepthExceeded
	}

	length := 0
	for bufPos < maxBufPos {
		if bufPos+1 < maxBufPos && buffer[bufPos] == 0 && buffer[bufPos+1] == 0 {
			return length + 2, nil
		}

		length++

		if buffer[bufPos]&0x1f == 0x1f {
			bufPos++
			length++
		}
		bufPos++

		newBufPos, subLength, err := decodeLength(buffer, bufPos, maxBufPos, depth)
		if err != nil {
			return -1, err
		}

		length += subLength + (newBufPos - bufPos)
		bufPos = newBufPos + subLength
	}

	return -1, ErrInvalidIndefinite
}

// DecodeTag decodes the identifier octets at bufPos. Multi-byte tag numbers
// are returned as the raw identifier octets packed into one value,
// e.g. bf 48 becomes 0xbf48.
func DecodeTag(buffer []byte, bufPos, maxBufPos int) (tag uint32, newPos int, err error) {
	if bufPos >= maxBufPos || bufPos >= len(buffer) {
		return 0, -1, ErrBufferOverflow
	}

	tag = uint32(buffer[bufPos])
	bufPos++

	if tag&0x1f != 0x1f {
		return tag, bufPos, nil
	}

	for i := 0; ; i++ {
		if i == 3 {
			return 0, -1, ErrInvalidTag
		}
		if bufPos >= maxBufPos {
			return 0, -1, ErrBufferOverflow
		}
		b := buffer[bufPos]
		bufPos++
		tag = (tag << 8) | uint32(b)
		if b&0x80 == 0 {
			break
		}
	}

	return tag, bufPos, nil
}

// IsConstructed reports whether the constructed bit is set in a (possibly
// multi-byte) tag returned by DecodeTag
func IsConstructed(tag uint32) bool {
	for tag > 0xff {
		tag >>= 8
	}
	return tag&uint32(FormConstructed) != 0
}

// DecodeString decodes a BER string from the buffer
func DecodeString(buffer []byte, strlen, bufPos, maxBufPos int) (string, error) {
	if strlen < 0 || bufPos+strlen > maxBufPos || bufPos+strlen > len(buffer) {
		return "", ErrBufferOverflow
	}
	return string(buffer[bufPos : bufPos+strlen]), nil
}

// DecodeUint32 decodes a BER unsigned 32-bit integer from the buffer
func DecodeUint32(buffer []byte, intLen, bufPos int) uint32 {
	value := uint32(0)
	for i := 0; i < intLen; i++ {
		value = (value << 8) | uint32(buffer[bufPos+i])
	}
	return value
}

// DecodeInt32 decodes a BER signed 32-bit integer from the buffer
func DecodeInt32(buffer []byte, intLen, bufPos int) int32 {
	return int32(DecodeInt64(buffer, intLen, bufPos))
}

// DecodeInt64 decodes a BER signed integer of up to 8 bytes from the buffer
func DecodeInt64(buffer []byte, intLen, bufPos int) int64 {
	if intLen == 0 {
		return 0
	}

	var value int64
	if buffer[bufPos]&0x80 != 0 {
		value = -1
	}

	for i := 0; i < intLen; i++ {
		value = (value << 8) | int64(buffer[bufPos+i])
	}

	return value
}

// DecodeFloat decodes an MMS floating point value (exponent width byte
// followed by an IEEE 754 single in network order)
func DecodeFloat(buffer []byte, bufPos int) float32 {
	bufPos++ // exponent width
	return math.Float32frombits(binary.BigEndian.Uint32(buffer[bufPos : bufPos+4]))
}

// DecodeDouble decodes an MMS floating point value of double precision
func DecodeDouble(buffer []byte, bufPos int) float64 {
	bufPos++ // exponent width
	return math.Float64frombits(binary.BigEndian.Uint64(buffer[bufPos : bufPos+8]))
}

// DecodeBoolean decodes a BER boolean from the buffer
func DecodeBoolean(buffer []byte, bufPos int) bool {
	return buffer[bufPos] != 0
}

// DecodeOID decodes a BER Object Identifier from the buffer
func DecodeOID(buffer []byte, bufPos, length int, oid *ItuObjectIdentifier) {
	startPos := bufPos
	currentArc := 0

	for i := range oid.Arc {
		oid.Arc[i] = 0
	}

	if length > 0 {
		first := uint32(buffer[bufPos])
		switch {
		case first < 40:
			oid.Arc[0], oid.Arc[1] = 0, first
		case first < 80:
			oid.Arc[0], oid.Arc[1] = 1, first-40
		default:
			oid.Arc[0], oid.Arc[1] = 2, first-80
		}
		currentArc = 2
		bufPos++
	}

	for bufPos-startPos < length && currentArc < len(oid.Arc) {
		oid.Arc[currentArc] = (oid.Arc[currentArc] << 7) + uint32(buffer[bufPos]&0x7f)

		if buffer[bufPos] < 0x80 {
			currentArc++
		}

		bufPos++
	}

	oid.ArcCount = currentArc
}

// Encoder functions

// EncodeLength encodes a length value in BER format
// Returns the new buffer position
func EncodeLength(length uint32, buffer []byte, bufPos int) int {
	switch {
	case length < 128:
		buffer[bufPos] = byte(length)
		return bufPos + 1
	case length < 256:
		buffer[bufPos] = 0x81
		buffer[bufPos+1] = byte(length)
		return bufPos + 2
	case length < 65536:
		buffer[bufPos] = 0x82
		buffer[bufPos+1] = byte(length >> 8)
		buffer[bufPos+2] = byte(length)
		return bufPos + 3
	case length < 1<<24:
		buffer[bufPos] = 0x83
		buffer[bufPos+1] = byte(length >> 16)
		buffer[bufPos+2] = byte(length >> 8)
		buffer[bufPos+3] = byte(length)
		return bufPos + 4
	default:
		buffer[bufPos] = 0x84
		binary.BigEndian.PutUint32(buffer[bufPos+1:], length)
		return bufPos + 5
	}
}

// EncodeTag writes identifier octets produced by DecodeTag back to the buffer
func EncodeTag(tag uint32, buffer []byte, bufPos int) int {
	size := DetermineTagSize(tag)
	for i := size - 1; i >= 0; i-- {
		buffer[bufPos] = byte(tag >> (8 * i))
		bufPos++
	}
	return bufPos
}

// EncodeTL encodes a Tag and Length in BER format
func EncodeTL(tag byte, length uint32, buffer []byte, bufPos int) int {
	buffer[bufPos] = tag
	return EncodeLength(length, buffer, bufPos+1)
}

// EncodeBoolean encodes a boolean value with tag in BER format
func EncodeBoolean(tag byte, value bool, buffer []byte, bufPos int) int {
	buffer[bufPos] = tag
	buffer[bufPos+1] = 1
	if value {
		buffer[bufPos+2] = 0x01
	} else {
		buffer[bufPos+2] = 0x00
	}
	return bufPos + 3
}

// EncodeStringWithTag encodes a string with tag in BER format
func EncodeStringWithTag(tag byte, str string, buffer []byte, bufPos int) int {
	bufPos = EncodeTL(tag, uint32(len(str)), buffer, bufPos)
	return bufPos + copy(buffer[bufPos:], str)
}

// EncodeOctetString encodes an octet string with tag in BER format
func EncodeOctetString(tag byte, octetString []byte, buffer []byte, bufPos int) int {
	bufPos = EncodeTL(tag, uint32(len(octetString)), buffer, bufPos)
	return bufPos + copy(buffer[bufPos:], octetString)
}

// EncodeBitString encodes a bit string with tag in BER format.
// Unused trailing bits of the last octet are cleared.
func EncodeBitString(tag byte, bitStringSize int, bitString []byte, buffer []byte, bufPos int) int {
	byteSize := (bitStringSize + 7) / 8
	padding := byteSize*8 - bitStringSize

	bufPos = EncodeTL(tag, uint32(byteSize+1), buffer, bufPos)

	buffer[bufPos] = byte(padding)
	bufPos++

	bufPos += copy(buffer[bufPos:bufPos+byteSize], bitString)

	if byteSize > 0 {
		buffer[bufPos-1] &= ^byte((1 << padding) - 1)
	}

	return bufPos
}

// EncodeUnsigned returns the minimal BER content octets of an unsigned value.
// A leading zero octet is inserted when the high bit would read as a sign.
func EncodeUnsigned[T constraints.Unsigned](value T) []byte {
	var raw [9]byte
	binary.BigEndian.PutUint64(raw[1:], uint64(value))
	start := 0
	for start < 8 && raw[start] == 0 && raw[start+1]&0x80 == 0 {
		start++
	}
	return append([]byte(nil), raw[start:]...)
}

// EncodeSigned returns the minimal two's complement content octets of a signed value
func EncodeSigned[T constraints.Signed](value T) []byte {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(int64(value)))
	start := 0
	for start < 7 {
		if raw[start] == 0x00 && raw[start+1]&0x80 == 0 {
			start++
			continue
		}
		if raw[start] == 0xff && raw[start+1]&0x80 != 0 {
			start++
			continue
		}
		break
	}
	return append([]byte(nil), raw[start:]...)
}

// UnsignedSize returns the number of content octets EncodeUnsigned produces
func UnsignedSize[T constraints.Unsigned](value T) int {
	return len(EncodeUnsigned(value))
}

// EncodeUInt32 encodes the content octets of an unsigned 32-bit integer
func EncodeUInt32(value uint32, buffer []byte, bufPos int) int {
	return bufPos + copy(buffer[bufPos:], EncodeUnsigned(value))
}

// EncodeInt32 encodes the content octets of a signed 32-bit integer
func EncodeInt32(value int32, buffer []byte, bufPos int) int {
	return bufPos + copy(buffer[bufPos:], EncodeSigned(value))
}

// EncodeInt64 encodes the content octets of a signed 64-bit integer
func EncodeInt64(value int64, buffer []byte, bufPos int) int {
	return bufPos + copy(buffer[bufPos:], EncodeSigned(value))
}

// EncodeUInt32WithTL encodes an unsigned 32-bit integer with tag and length in BER format
func EncodeUInt32WithTL(tag byte, value uint32, buffer []byte, bufPos int) int {
	content := EncodeUnsigned(value)
	bufPos = EncodeTL(tag, uint32(len(content)), buffer, bufPos)
	return bufPos + copy(buffer[bufPos:], content)
}

// EncodeFloat encodes an MMS single precision floating point content
// (exponent width 8 followed by the value in network order)
func EncodeFloat(value float32, buffer []byte, bufPos int) int {
	buffer[bufPos] = 8
	binary.BigEndian.PutUint32(buffer[bufPos+1:], math.Float32bits(value))
	return bufPos + 5
}

// EncodeDouble encodes an MMS double precision floating point content
func EncodeDouble(value float64, buffer []byte, bufPos int) int {
	buffer[bufPos] = 11
	binary.BigEndian.PutUint64(buffer[bufPos+1:], math.Float64bits(value))
	return bufPos + 9
}

// Size determination functions

// UInt32DetermineEncodedSize determines the encoded size of an unsigned 32-bit integer
func UInt32DetermineEncodedSize(value uint32) int {
	return UnsignedSize(value)
}

// Int32DetermineEncodedSize determines the encoded size of a signed 32-bit integer
func Int32DetermineEncodedSize(value int32) int {
	return len(EncodeSigned(value))
}

// DetermineLengthSize determines the size needed to encode a length value
func DetermineLengthSize(length uint32) int {
	switch {
	case length < 128:
		return 1
	case length < 256:
		return 2
	case length < 65536:
		return 3
	case length < 1<<24:
		return 4
	default:
		return 5
	}
}

// DetermineTagSize returns the number of identifier octets of a tag
func DetermineTagSize(tag uint32) int {
	switch {
	case tag > 0xffffff:
		return 4
	case tag > 0xffff:
		return 3
	case tag > 0xff:
		return 2
	default:
		return 1
	}
}

// DetermineEncodedStringSize determines the encoded size of a string
func DetermineEncodedStringSize(str string) int {
	return 1 + DetermineLengthSize(uint32(len(str))) + len(str)
}

// DetermineEncodedBitStringSize determines the encoded size of a bit string
func DetermineEncodedBitStringSize(bitStringSize int) int {
	byteSize := (bitStringSize + 7) / 8
	return 1 + DetermineLengthSize(uint32(byteSize+1)) + 1 + byteSize
}

// EncodeOIDToBuffer encodes a dotted OID string to a buffer
func EncodeOIDToBuffer(oidString string, buffer []byte, maxBufLen int) (int, error) {
	fields := strings.FieldsFunc(oidString, func(r rune) bool {
		return r == '.' || r == ',' || r == ' '
	})
	if len(fields) < 2 {
		return 0, errors.New("invalid OID format")
	}

	arcs := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid OID: %q", f)
		}
		arcs[i] = v
	}

	encoded := []byte{byte(arcs[0]*40 + arcs[1])}

	for _, arc := range arcs[2:] {
		var group []byte
		group = append(group, byte(arc&0x7f))
		for arc >>= 7; arc > 0; arc >>= 7 {
			group = append([]byte{byte(arc&0x7f) | 0x80}, group...)
		}
		encoded = append(encoded, group...)
	}

	if len(encoded) > maxBufLen || len(encoded) > len(buffer) {
		return 0, ErrBufferOverflow
	}

	return copy(buffer, encoded), nil
}
