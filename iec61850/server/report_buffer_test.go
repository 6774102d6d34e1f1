package server

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportBufferEnqueue(t *testing.T) {
	b := NewReportBuffer(100)
	now := time.Unix(1700000000, 0)

	first, ok := b.Enqueue(bytes.Repeat([]byte{1}, 30), now)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, first.EntryID)

	second, ok := b.Enqueue(bytes.Repeat([]byte{2}, 30), now)
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 2}, second.EntryID)

	assert.Equal(t, 60, b.Used())
	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 2, b.Pending())
	assert.Equal(t, second.EntryID, b.LastEntryID())

	entry, data, ok := b.NextToTransmit()
	require.True(t, ok)
	assert.Equal(t, first.EntryID, entry.EntryID)
	assert.Equal(t, bytes.Repeat([]byte{1}, 30), data)
	b.MarkTransmitted()

	entry, data, ok = b.NextToTransmit()
	require.True(t, ok)
	assert.Equal(t, second.EntryID, entry.EntryID)
	assert.Equal(t, bytes.Repeat([]byte{2}, 30), data)
	b.MarkTransmitted()

	_, _, ok = b.NextToTransmit()
	assert.False(t, ok)
	assert.Zero(t, b.Pending())
}

func TestReportBufferEviction(t *testing.T) {
	tests := []struct {
		name         string
		size         int
		entries      []int
		transmitted  int
		wantCount    int
		wantOverflow bool
	}{
		{
			name:      "всё помещается",
			size:      100,
			entries:   []int{20, 20, 20},
			wantCount: 3,
		},
		{
			name:         "вытеснение непереданных",
			size:         100,
			entries:      []int{40, 40, 40},
			wantCount:    2,
			wantOverflow: true,
		},
		{
			name:        "вытеснение переданных",
			size:        100,
			entries:     []int{40, 40, 40},
			transmitted: 1,
			wantCount:   2,
		},
		{
			name:         "запись вытесняет несколько старых",
			size:         100,
			entries:      []int{30, 30, 30, 90},
			wantCount:    1,
			wantOverflow: true,
		},
		{
			name:      "ровно весь буфер",
			size:      64,
			entries:   []int{64},
			wantCount: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewReportBuffer(tt.size)
			for i, n := range tt.entries {
				_, ok := b.Enqueue(bytes.Repeat([]byte{byte(i + 1)}, n), time.Now())
				require.True(t, ok)
				assert.LessOrEqual(t, b.Used(), b.Size())
				if i+1 == tt.transmitted {
					for j := 0; j < tt.transmitted; j++ {
						b.MarkTransmitted()
					}
				}
			}

			assert.Equal(t, tt.wantCount, b.Count())
			assert.Equal(t, tt.wantOverflow, b.Overflow())

			// самая новая запись всегда доступна последней
			last := tt.entries[len(tt.entries)-1]
			var data []byte
			for {
				_, d, ok := b.NextToTransmit()
				if !ok {
					break
				}
				data = d
				b.MarkTransmitted()
			}
			assert.Equal(t, bytes.Repeat([]byte{byte(len(tt.entries))}, last), data)
		})
	}
}

func TestReportBufferOversize(t *testing.T) {
	b := NewReportBuffer(50)
	_, ok := b.Enqueue(bytes.Repeat([]byte{1}, 20), time.Now())
	require.True(t, ok)

	_, ok = b.Enqueue(bytes.Repeat([]byte{2}, 51), time.Now())
	assert.False(t, ok)

	_, ok = b.Enqueue(nil, time.Now())
	assert.False(t, ok)

	assert.Equal(t, 1, b.Count())
	assert.Equal(t, 20, b.Used())
	assert.False(t, b.Overflow())
}

func TestReportBufferSetNextAfter(t *testing.T) {
	b := NewReportBuffer(1000)
	var ids [][]byte
	for i := 0; i < 5; i++ {
		entry, ok := b.Enqueue([]byte{byte(i)}, time.Now())
		require.True(t, ok)
		ids = append(ids, entry.EntryID)
	}
	for b.Pending() > 0 {
		b.MarkTransmitted()
	}

	require.True(t, b.SetNextAfter(ids[2]))
	assert.Equal(t, 2, b.Pending())
	_, data, ok := b.NextToTransmit()
	require.True(t, ok)
	assert.Equal(t, []byte{3}, data)

	assert.False(t, b.SetNextAfter([]byte{0, 0, 0, 0, 0, 0, 0, 99}))

	b.ResetTransmission()
	assert.Equal(t, 5, b.Pending())

	b.Purge()
	assert.Zero(t, b.Count())
	assert.Zero(t, b.Used())
	assert.Zero(t, b.Pending())
	assert.Equal(t, make([]byte, 8), b.LastEntryID())

	entry, ok := b.Enqueue([]byte{9}, time.Now())
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 6}, entry.EntryID)
}
