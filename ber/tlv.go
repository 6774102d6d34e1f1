package ber

// TLV is a decoded tag-length-value element. Value aliases the source buffer.
type TLV struct {
	Tag   uint32
	Value []byte
}

// Constructed reports whether the element carries nested elements
func (t TLV) Constructed() bool {
	return IsConstructed(t.Tag)
}

// Uint decodes the value as an unsigned integer
func (t TLV) Uint() uint32 {
	return DecodeUint32(t.Value, len(t.Value), 0)
}

// Int decodes the value as a signed integer
func (t TLV) Int() int64 {
	return DecodeInt64(t.Value, len(t.Value), 0)
}

// Bool decodes the value as a boolean
func (t TLV) Bool() bool {
	return len(t.Value) > 0 && t.Value[0] != 0
}

// String returns the value octets as a string
func (t TLV) String() string {
	return string(t.Value)
}

// Children decodes the value as a sequence of elements
func (t TLV) Children() ([]TLV, error) {
	return ParseAll(t.Value)
}

// ParseTLV decodes one element starting at pos. maxPos bounds the element.
func ParseTLV(buffer []byte, pos, maxPos int) (TLV, int, error) {
	if maxPos > len(buffer) {
		maxPos = len(buffer)
	}

	tag, pos, err := DecodeTag(buffer, pos, maxPos)
	if err != nil {
		return TLV{}, -1, err
	}

	pos, length, err := DecodeLength(buffer, pos, maxPos)
	if err != nil {
		return TLV{}, -1, err
	}

	return TLV{Tag: tag, Value: buffer[pos : pos+length]}, pos + length, nil
}

// ParseAll decodes consecutive elements until the end of buffer
func ParseAll(buffer []byte) ([]TLV, error) {
	var elements []TLV

	pos := 0
	for pos < len(buffer) {
		element, next, err := ParseTLV(buffer, pos, len(buffer))
		if err != nil {
			return nil, err
		}
		elements = append(elements, element)
		pos = next
	}

	return elements, nil
}
