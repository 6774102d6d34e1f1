package ber

import "golang.org/x/exp/constraints"

// EncodeBitmaskFromOffsets sets bit n of a size-octet mask for every offset n.
// Bit 0 is the most significant bit of the first octet, as in BER bit strings.
// Offsets beyond the mask are ignored.
func EncodeBitmaskFromOffsets[T constraints.Unsigned](offsets []T, size int) []byte {
	mask := make([]byte, size)
	for _, offset := range offsets {
		n := int(offset)
		if n/8 >= size {
			continue
		}
		mask[n/8] |= 0x80 >> (n % 8)
	}
	return mask
}

// DecodeBitmaskOffsets returns the offsets of all bits set in mask in ascending order
func DecodeBitmaskOffsets[T constraints.Unsigned](mask []byte) []T {
	var offsets []T
	for i, octet := range mask {
		for bit := 0; bit < 8; bit++ {
			if octet&(0x80>>bit) != 0 {
				offsets = append(offsets, T(i*8+bit))
			}
		}
	}
	return offsets
}
