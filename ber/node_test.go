package ber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeEncode(t *testing.T) {
	tests := []struct {
		name string
		node *Node
		want []byte
	}{
		{
			name: "primitive",
			node: Unsigned(0x80, 5),
			want: []byte{0x80, 0x01, 0x05},
		},
		{
			name: "object name",
			node: Constructed(0xa1, String(0x1a, "LD"), String(0x1a, "LN$ST")),
			want: []byte{0xa1, 0x0b, 0x1a, 0x02, 'L', 'D', 0x1a, 0x05, 'L', 'N', '$', 'S', 'T'},
		},
		{
			name: "long tag",
			node: Constructed(0xbf48, Empty(0x80)),
			want: []byte{0xbf, 0x48, 0x02, 0x80, 0x00},
		},
		{
			name: "raw child",
			node: Constructed(0x30, Raw([]byte{0x83, 0x01, 0x01}), Bool(0x83, false)),
			want: []byte{0x30, 0x06, 0x83, 0x01, 0x01, 0x83, 0x01, 0x00},
		},
		{
			name: "bit string",
			node: Bits(0x84, 10, []byte{0xff, 0xff}),
			want: []byte{0x84, 0x03, 0x06, 0xff, 0xc0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, len(tt.want), tt.node.Size())
			assert.Equal(t, tt.want, tt.node.Encode())
		})
	}
}

func TestNodeLongContent(t *testing.T) {
	node := Constructed(0x30)
	for i := 0; i < 100; i++ {
		node.Add(Signed(0x85, int64(i)))
	}
	node.Add(nil)

	encoded := node.Encode()
	require.Len(t, encoded, 4+300)
	assert.Equal(t, []byte{0x30, 0x82, 0x01, 0x2c}, encoded[:4])

	elements, err := ParseAll(encoded)
	require.NoError(t, err)
	require.Len(t, elements, 1)

	children, err := elements[0].Children()
	require.NoError(t, err)
	require.Len(t, children, 100)
	assert.Equal(t, int64(99), children[99].Int())
}

func TestByteBuffer(t *testing.T) {
	buf := NewByteBuffer(4)

	require.NoError(t, buf.Append(0x01, 0x02))
	require.NoError(t, buf.AppendByte(0x03))
	assert.ErrorIs(t, buf.Append(0x04, 0x05), ErrBufferOverflow)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf.Bytes())
	assert.Equal(t, 1, buf.Free())

	assert.ErrorIs(t, Unsigned(0x80, 1000).EncodeTo(buf), ErrBufferOverflow)

	buf.Reset()
	require.NoError(t, Unsigned(0x80, 1000).EncodeTo(buf))
	assert.Equal(t, []byte{0x80, 0x02, 0x03, 0xe8}, buf.Bytes())
}

func TestDump(t *testing.T) {
	out, err := Dump([]byte{0xa1, 0x05, 0x1a, 0x03, 'a', 'b', 'c'})
	require.NoError(t, err)
	assert.Contains(t, out, "[ctx 1] {1}")
	assert.Contains(t, out, "61 62 63")
}
