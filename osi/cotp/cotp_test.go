package cotp

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseHexString парсит hex строку в []byte
func parseHexString(s string) []byte {
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return data
}

// pipeBuffer хранит отправленные байты для последующего чтения
type pipeBuffer struct {
	bytes.Buffer
}

func (p *pipeBuffer) Close() error { return nil }

const dataTpdu = "02 f0 80 0e 86 05 06 13 01 00 16 01 02 14 02 00 02 34 02 00 01 c1 74 31 72 a0 03 80 01 01 a2 6b 83 04 00 00 00 01 a5 12 30 07 80 01 00 81 02 51 01 30 07 80 01 00 81 02 51 01 61 4f 30 4d 02 01 01 a0 48 61 46 a1 07 06 05 28 ca 22 02 03 a2 03 02 01 00 a3 05 a1 03 02 01 00 be 2f 28 2d 02 01 03 a0 28 a9 26 80 03 00 fd e8 81 01 05 82 01 05 83 01 0a a4 16 80 01 01 81 03 05 f1 00 82 0c 03 ee 1c 00 00 00 02 00 00 40 ed 18"

func TestParseTPKT(t *testing.T) {
	tests := []struct {
		name    string
		hexStr  string
		want    *TPKT
		wantErr bool
	}{
		{
			name:   "Packet1_ConnectionConfirm",
			hexStr: "03 00 00 16 11 d0 00 01 00 01 00 c0 01 0d c2 02 00 01 c1 02 00 01",
			want: &TPKT{
				Version: 0x03,
				Length:  22,
				Data:    parseHexString("11 d0 00 01 00 01 00 c0 01 0d c2 02 00 01 c1 02 00 01"),
			},
		},
		{
			name:   "Packet2_DataTPDU",
			hexStr: "03 00 00 8f " + dataTpdu,
			want: &TPKT{
				Version: 0x03,
				Length:  143,
				Data:    parseHexString(dataTpdu),
			},
		},
		{
			name:    "неверная версия",
			hexStr:  "02 00 00 07 02 f0 80",
			wantErr: true,
		},
		{
			name:    "длина не совпадает",
			hexStr:  "03 00 00 10 02 f0 80",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTPKT(parseHexString(tt.hexStr))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCOTP(t *testing.T) {
	tests := []struct {
		name   string
		hexStr string
		want   *COTP
	}{
		{
			name:   "Packet1_ConnectionConfirm",
			hexStr: "11 d0 00 01 00 01 00 c0 01 0d c2 02 00 01 c1 02 00 01",
			want: &COTP{
				Length:   0x11,
				Type:     COTPTypeConnectionConfirm,
				DestRef:  0x0001,
				SrcRef:   0x0001,
				TpduSize: 0x0d,
				DstTSAP:  parseHexString("00 01"),
				SrcTSAP:  parseHexString("00 01"),
				Data:     []byte{},
			},
		},
		{
			name:   "Packet2_DataTPDU",
			hexStr: dataTpdu,
			want: &COTP{
				Length:         0x02,
				Type:           COTPTypeData,
				Flags:          0x80,
				IsLastDataUnit: true,
				Data:           parseHexString(dataTpdu)[3:],
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCOTP(parseHexString(tt.hexStr))
			require.NoError(t, err)

			assert.Equal(t, tt.want.Length, got.Length)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Flags, got.Flags)
			assert.Equal(t, tt.want.IsLastDataUnit, got.IsLastDataUnit)
			assert.Equal(t, tt.want.DestRef, got.DestRef)
			assert.Equal(t, tt.want.SrcRef, got.SrcRef)
			assert.Equal(t, tt.want.Class, got.Class)
			assert.Equal(t, tt.want.TpduSize, got.TpduSize)
			assert.Equal(t, tt.want.DstTSAP, got.DstTSAP)
			assert.Equal(t, tt.want.SrcTSAP, got.SrcTSAP)
			assert.Equal(t, tt.want.Data, got.Data)
		})
	}
}

func TestSetTpduSize(t *testing.T) {
	c := NewConnection(&pipeBuffer{}, WithLogger(logger.Nop()), WithMaxTpduSize(MaxTpduSizeLimit))

	for x := 1; x <= MaxTpduSizeLimit; x++ {
		c.SetTpduSize(x)
		s := c.GetTpduSize()

		require.Equal(t, 0, s&(s-1), "x=%d: %d не степень двойки", x, s)
		if x < MinTpduSize {
			require.Equal(t, MinTpduSize, s, "x=%d", x)
			continue
		}
		require.LessOrEqual(t, s, x)
		require.Greater(t, 2*s, x)
	}

	c = NewConnection(&pipeBuffer{}, WithLogger(logger.Nop()))
	c.SetTpduSize(MaxTpduSizeLimit)
	assert.Equal(t, DefaultMaxTpduSize, c.GetTpduSize())

	c = NewConnection(&pipeBuffer{}, WithLogger(logger.Nop()), WithMaxTpduSize(3))
	assert.Equal(t, MinTpduSize, c.GetTpduSize())
	c.SetTpduSize(0)
	assert.Equal(t, MinTpduSize, c.GetTpduSize())
}

func TestTpduSizeOptionFloor(t *testing.T) {
	wire := &pipeBuffer{}
	// CR с опцией размера TPDU 2^1
	wire.Write(parseHexString("03 00 00 0e 09 e0 00 00 00 01 00 c0 01 01"))

	c := NewConnection(wire, WithLogger(logger.Nop()))
	indication, err := c.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndicationConnect, indication)
	assert.Equal(t, MinTpduSize, c.GetTpduSize())

	out := &pipeBuffer{}
	c.conn = out
	require.NoError(t, c.SendDataMessage(make([]byte, 300)))

	receiver := NewConnection(out, WithLogger(logger.Nop()))
	indication, err = receiver.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndicationData, indication)
	assert.Len(t, receiver.GetPayload(), 300)
}

func TestMalformedFrames(t *testing.T) {
	tests := []struct {
		name    string
		hexStr  string
		wantErr error
	}{
		{name: "CR с нулевым LI", hexStr: "03 00 00 06 00 e0", wantErr: ErrInvalidTpdu},
		{name: "CC с нулевым LI", hexStr: "03 00 00 06 00 d0", wantErr: ErrInvalidTpdu},
		{name: "CR с коротким LI", hexStr: "03 00 00 0a 05 e0 00 00 00 01", wantErr: ErrInvalidTpdu},
		{name: "CR с LI 1", hexStr: "03 00 00 07 01 e0 00", wantErr: ErrInvalidTpdu},
		{name: "DT с нулевым LI", hexStr: "03 00 00 06 00 f0", wantErr: ErrInvalidTpdu},
		{name: "DT с длинным заголовком", hexStr: "03 00 00 08 03 f0 80 00", wantErr: ErrInvalidTpdu},
		{name: "LI больше пакета", hexStr: "03 00 00 07 20 f0 80", wantErr: ErrInvalidTpdu},
		{name: "DR с нулевым LI", hexStr: "03 00 00 06 00 80", wantErr: ErrInvalidTpdu},
		{name: "TPKT неверная версия", hexStr: "04 00 00 07 02 f0 80", wantErr: ErrInvalidTpkt},
		{name: "TPKT только заголовок", hexStr: "03 00 00 04", wantErr: ErrInvalidTpkt},
		{name: "TPKT нулевая длина", hexStr: "03 00 00 00", wantErr: ErrInvalidTpkt},
		{name: "обрыв внутри пакета", hexStr: "03 00 00 10 02 f0", wantErr: ErrSocketClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := &pipeBuffer{}
			wire.Write(parseHexString(tt.hexStr))

			c := NewConnection(wire, WithLogger(logger.Nop()))
			indication, err := c.ReadMessage(context.Background())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, IndicationError, indication)
		})
	}
}

func TestConnectionHandshake(t *testing.T) {
	toServer := &pipeBuffer{}
	toClient := &pipeBuffer{}

	client := NewConnection(toServer, WithLogger(logger.Nop()))
	server := NewConnection(toServer, WithLogger(logger.Nop()), WithMaxTpduSize(1024))

	require.NoError(t, client.SendConnectionRequestMessage(&IsoConnectionParameters{
		RemoteTSelector: TSelector{Value: []byte{0x00, 0x01}},
		LocalTSelector:  TSelector{Value: []byte{0x00, 0x02}},
	}))

	tpkt, err := ParseTPKT(toServer.Bytes())
	require.NoError(t, err)
	cr, err := ParseCOTP(tpkt.Data)
	require.NoError(t, err)
	assert.Equal(t, COTPTypeConnectionRequest, cr.Type)
	assert.Equal(t, byte(13), cr.TpduSize)
	assert.Equal(t, []byte{0x00, 0x02}, cr.SrcTSAP)

	indication, err := server.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndicationConnect, indication)
	assert.Equal(t, 1024, server.GetTpduSize())
	assert.Equal(t, 1, server.GetRemoteRef())

	server.conn = toClient
	require.NoError(t, server.SendConnectionResponseMessage())

	client.conn = toClient
	indication, err = client.ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndicationConnect, indication)
	assert.Equal(t, 1024, client.GetTpduSize())
}

func TestFragmentation(t *testing.T) {
	tests := []struct {
		name     string
		tpduSize int
		size     int
	}{
		{name: "пустое сообщение", tpduSize: 1024, size: 0},
		{name: "один фрагмент", tpduSize: 1024, size: 1021},
		{name: "два фрагмента", tpduSize: 1024, size: 1022},
		{name: "много фрагментов", tpduSize: 128, size: 5000},
		{name: "MMS PDU", tpduSize: 8192, size: 65000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := &pipeBuffer{}
			fragments := 0

			sender := NewConnection(wire, WithLogger(logger.Nop()), WithTap(func(outgoing bool, tpkt []byte) {
				if outgoing {
					fragments++
				}
			}))
			sender.SetTpduSize(tt.tpduSize)

			payload := make([]byte, tt.size)
			for i := range payload {
				payload[i] = byte(i)
			}

			require.NoError(t, sender.SendDataMessage(payload))

			want := 1
			if tt.size > 0 {
				want = (tt.size + tt.tpduSize - 4) / (tt.tpduSize - 3)
			}
			assert.Equal(t, want, fragments)

			receiver := NewConnection(wire, WithLogger(logger.Nop()))
			indication, err := receiver.ReadMessage(context.Background())
			require.NoError(t, err)
			assert.Equal(t, IndicationData, indication)
			assert.Equal(t, payload, receiver.GetPayload())
		})
	}
}

func TestReassemblyOverflow(t *testing.T) {
	wire := &pipeBuffer{}

	sender := NewConnection(wire, WithLogger(logger.Nop()))
	sender.SetTpduSize(128)
	require.NoError(t, sender.SendDataMessage(make([]byte, 1000)))

	receiver := NewConnection(wire, WithLogger(logger.Nop()), WithPayloadBufferSize(500))
	indication, err := receiver.ReadMessage(context.Background())
	assert.ErrorIs(t, err, ErrPayloadOverflow)
	assert.Equal(t, IndicationError, indication)
}

func TestDisconnect(t *testing.T) {
	wire := &pipeBuffer{}

	require.NoError(t, NewConnection(wire, WithLogger(logger.Nop())).SendDisconnectRequestMessage())

	indication, err := NewConnection(wire, WithLogger(logger.Nop())).ReadMessage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IndicationDisconnect, indication)
}

func TestReadClosedSocket(t *testing.T) {
	_, err := NewConnection(&pipeBuffer{}, WithLogger(logger.Nop())).ReadMessage(context.Background())
	assert.ErrorIs(t, err, ErrSocketClosed)
}
