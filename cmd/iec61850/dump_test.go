package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/internal/capture"
	"github.com/careychow/libIEC61850-sub000/logger"
)

const connectionRequest = "0300001611e00000000100c0010dc2020001c1020001"

func TestDecodeHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "слитно", in: "0300000b", want: []byte{3, 0, 0, 0x0b}},
		{name: "с пробелами", in: "03 00 00 0b", want: []byte{3, 0, 0, 0x0b}},
		{name: "через двоеточие", in: "03:00:00:0b", want: []byte{3, 0, 0, 0x0b}},
		{name: "нечётная длина", in: "030", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeHex(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadHexPackets(t *testing.T) {
	in := strings.NewReader("# connection request\n" + connectionRequest + "\n\n03 00 00 07 02 f0 80\n")

	packets, err := readHexPackets(in)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Len(t, packets[0], 22)
	assert.Equal(t, []byte{3, 0, 0, 7, 2, 0xf0, 0x80}, packets[1])
}

func TestSplitTPKT(t *testing.T) {
	first := []byte{3, 0, 0, 7, 2, 0xf0, 0x80}
	second := []byte{3, 0, 0, 8, 2, 0xf0, 0x80, 0x01}

	tests := []struct {
		name    string
		payload []byte
		want    [][]byte
	}{
		{name: "один", payload: first, want: [][]byte{first}},
		{name: "два подряд", payload: append(append([]byte{}, first...), second...), want: [][]byte{first, second}},
		{name: "обрезанный", payload: second[:5], want: nil},
		{name: "не TPKT", payload: []byte{0x16, 0x03, 0x01, 0x00, 0x05}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitTPKT(tt.payload))
		})
	}
}

func TestDumpPacket(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		contains []string
	}{
		{
			name:     "запрос соединения COTP",
			in:       connectionRequest,
			contains: []string{"TPKT    version 3, length 22", "CR", "tpdu-size 13", "src-tsap 00 01"},
		},
		{
			name:     "данные без пользовательской части",
			in:       "0300000702f080",
			contains: []string{"DT", "last unit true"},
		},
		{
			name:     "неверная версия TPKT",
			in:       "0400000702f080",
			contains: []string{"TPKT:"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := decodeHex(tt.in)
			require.NoError(t, err)

			out := dumpPacket(data, false)
			for _, s := range tt.contains {
				assert.Contains(t, out, s)
			}
		})
	}
}

func TestReadPcapPackets(t *testing.T) {
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf, capture.WithLogger(logger.Nop()), capture.WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	require.NoError(t, err)

	request, err := decodeHex(connectionRequest)
	require.NoError(t, err)
	data := []byte{3, 0, 0, 7, 2, 0xf0, 0x80}

	tap := w.Tap(false)
	tap(true, request)
	tap(false, append(append([]byte{}, data...), data...))

	packets, err := readPcapPackets(&buf)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{request, data, data}, packets)
}
