package variant

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	tests := []struct {
		name  string
		value *Variant
		want  string
	}{
		{name: "float32", value: NewFloat32Variant(4.2), want: "float32(4.2)"},
		{name: "integer", value: NewInt32Variant(-7), want: "integer(-7)"},
		{name: "unsigned", value: NewUnsignedVariant(7), want: "unsigned(7)"},
		{name: "boolean", value: NewBoolVariant(true), want: "boolean(true)"},
		{name: "bit-string", value: NewBitStringVariant(13, []byte{0xa0, 0x08}), want: "bit-string(1010000000001)"},
		{name: "visible-string", value: NewVisibleStringVariant("LLN0"), want: `visible-string("LLN0")`},
		{name: "octet-string", value: NewOctetStringVariant([]byte{0xde, 0xad}), want: "octet-string(dead)"},
		{
			name:  "структура",
			value: NewStructureVariant(NewBoolVariant(false), NewArrayVariant(NewInt32Variant(1))),
			want:  "structure(boolean(false), array(integer(1)))",
		},
		{name: "nil", value: nil, want: "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.String())
		})
	}
}

func TestUTCTime(t *testing.T) {
	raw := []byte{0x69, 0x5b, 0x76, 0x07, 0x27, 0x6c, 0x8b, 0x80}

	v := NewUTCTimeVariantFromBytes(raw)
	assert.Equal(t, time.Date(2026, 1, 5, 8, 27, 51, 153999984, time.UTC), v.Time())
	assert.Equal(t, byte(0x80), v.TimeQuality())

	ts := time.Date(2024, 3, 1, 12, 0, 0, 500000000, time.UTC)
	v = NewUTCTimeVariantWithQuality(ts, 0x0a)
	assert.Equal(t, []byte{0x65, 0xe1, 0xc3, 0x40, 0x80, 0x00, 0x00, 0x0a}, v.Bytes())
	assert.Equal(t, ts, v.Time())
}

func TestBinaryTime(t *testing.T) {
	ts := time.Date(1984, 1, 3, 1, 0, 0, 0, time.UTC)

	v := NewBinaryTimeVariant(ts, true)
	assert.Equal(t, []byte{0x00, 0x36, 0xee, 0x80, 0x00, 0x02}, v.Bytes())
	assert.Equal(t, ts, v.Time())

	short := NewBinaryTimeVariant(ts, false)
	assert.Len(t, short.Bytes(), 4)
	assert.Equal(t, time.Date(1984, 1, 1, 1, 0, 0, 0, time.UTC), short.Time())
}

func TestBitString(t *testing.T) {
	v := NewBitStringVariant(13, nil)
	v.SetBit(1, true)
	v.SetBit(12, true)
	v.SetBit(13, true)

	assert.True(t, v.Bit(1))
	assert.True(t, v.Bit(12))
	assert.False(t, v.Bit(13))
	assert.Equal(t, []byte{0x40, 0x08}, v.Bytes())

	v.SetBitStringUint(0x3)
	assert.True(t, v.Bit(0))
	assert.True(t, v.Bit(1))
	assert.Equal(t, uint32(0x3), v.BitStringUint())
}

func TestEqualAndClone(t *testing.T) {
	original := NewStructureVariant(
		NewFloat32Variant(1.5),
		NewBitStringVariant(13, []byte{0x00, 0x00}),
		NewUTCTimeVariant(time.Unix(1700000000, 0)),
	)

	clone := original.Clone()
	require.True(t, original.Equal(clone))

	clone.Element(0).SetFloat(2.5)
	clone.Element(1).SetBit(0, true)

	assert.False(t, original.Equal(clone))
	assert.Equal(t, float32(1.5), original.Element(0).Float32())
	assert.False(t, original.Element(1).Bit(0))

	assert.False(t, NewInt32Variant(1).Equal(NewUnsignedVariant(1)))
	assert.True(t, (*Variant)(nil).Equal(nil))
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name    string
		dst     *Variant
		src     *Variant
		wantErr bool
	}{
		{
			name: "структура",
			dst:  NewStructureVariant(NewInt32Variant(0), NewVisibleStringVariant("")),
			src:  NewStructureVariant(NewInt32Variant(5), NewVisibleStringVariant("on")),
		},
		{
			name:    "разные типы",
			dst:     NewInt32Variant(0),
			src:     NewBoolVariant(true),
			wantErr: true,
		},
		{
			name:    "разный размер структуры",
			dst:     NewStructureVariant(NewInt32Variant(0)),
			src:     NewStructureVariant(NewInt32Variant(0), NewInt32Variant(1)),
			wantErr: true,
		},
		{
			name:    "разный размер bit-string",
			dst:     NewBitStringVariant(2, nil),
			src:     NewBitStringVariant(13, nil),
			wantErr: true,
		},
		{
			name: "octet-string другой длины",
			dst:  NewOctetStringVariant([]byte{1}),
			src:  NewOctetStringVariant([]byte{1, 2, 3}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dst.Update(tt.src)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTypeMismatch)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.dst.Equal(tt.src))
		})
	}
}

func TestUpdateKeepsReferences(t *testing.T) {
	dst := NewStructureVariant(NewInt32Variant(0))
	element := dst.Element(0)

	require.NoError(t, dst.Update(NewStructureVariant(NewInt32Variant(42))))
	assert.Equal(t, int32(42), element.Int32())
}
