package session

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseHexString(s string) []byte {
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		panic(err)
	}
	return data
}

// ACCEPT SPDU из захваченного ответа сервера (без TPKT и COTP)
const acceptSPDU = "0e 86 05 06 13 01 00 16 01 02 14 02 00 02 34 02 00 01 c1 74 " +
	"31 72 a0 03 80 01 01 a2 6b 83 04 00 00 00 01 a5 12 30 07 80 01 00 81 02 51 01 30 07 80 01 00 81 " +
	"02 51 01 61 4f 30 4d 02 01 01 a0 48 61 46 a1 07 06 05 28 ca 22 02 03 a2 03 02 01 00 a3 05 a1 03 " +
	"02 01 00 be 2f 28 2d 02 01 03 a0 28 a9 26 80 03 00 fd e8 81 01 05 82 01 05 83 01 0a a4 16 80 01 " +
	"01 81 03 05 f1 00 82 0c 03 ee 1c 00 00 00 02 00 00 40 ed 18"

func TestParseSessionSPDU_Accept(t *testing.T) {
	spdu, err := ParseSessionSPDU(parseHexString(acceptSPDU))
	require.NoError(t, err)

	assert.Equal(t, SessionSPDUTypeAccept, spdu.Type)
	assert.Equal(t, 0x86, spdu.Length)
	assert.Equal(t, byte(0x00), spdu.ProtocolOptions)
	assert.Equal(t, byte(0x02), spdu.ProtocolVersion)
	assert.Equal(t, uint16(0x0002), spdu.SessionRequirement)
	assert.Equal(t, []byte{0x00, 0x01}, spdu.CalledSessionSelector)
	require.Len(t, spdu.Data, 116)
	assert.Equal(t, []byte{0x31, 0x72, 0xa0, 0x03}, spdu.Data[:4])
	assert.Equal(t, []byte{0x00, 0x40, 0xed, 0x18}, spdu.Data[112:])
}

func TestParseSessionSPDU_Errors(t *testing.T) {
	tests := []struct {
		name    string
		hexStr  string
		wantErr error
	}{
		{
			name:    "нет версии",
			hexStr:  "0d 0b 05 03 13 01 00 14 02 00 02 c1 00",
			wantErr: ErrMissingParameter,
		},
		{
			name:    "версия 1",
			hexStr:  "0d 0e 05 06 13 01 00 16 01 01 14 02 00 02 c1 00",
			wantErr: ErrInvalidVersion,
		},
		{
			name:    "нет требований сеанса",
			hexStr:  "0d 0a 05 06 13 01 00 16 01 02 c1 00",
			wantErr: ErrMissingParameter,
		},
		{
			name:    "неверная длина",
			hexStr:  "0d 20 05 06 13 01 00 16 01 02",
			wantErr: ErrInvalidLength,
		},
		{
			name:    "короткое сообщение",
			hexStr:  "0d",
			wantErr: ErrShortMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSessionSPDU(parseHexString(tt.hexStr))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConnectAccept(t *testing.T) {
	userData := []byte{0x31, 0x02, 0x05, 0x00}

	client := NewSession()
	connect := client.BuildConnectSPDU(userData)

	assert.Equal(t, parseHexString("0d 1a 05 06 13 01 00 16 01 02 14 02 00 02 33 02 00 01 34 02 00 01 c1 04 31 02 05 00"), connect)

	server := NewSession()
	indication, err := server.ParseMessage(connect)
	require.NoError(t, err)
	assert.Equal(t, IndicationConnect, indication)
	assert.Equal(t, userData, server.UserData())

	accept := server.BuildAcceptSPDU([]byte{0x31, 0x00})
	indication, err = client.ParseMessage(accept)
	require.NoError(t, err)
	assert.Equal(t, IndicationConnect, indication)
	assert.Equal(t, []byte{0x31, 0x00}, client.UserData())
}

func TestLongUserData(t *testing.T) {
	userData := make([]byte, 1000)
	userData[999] = 0xaa

	s := NewSession()
	connect := s.BuildConnectSPDU(userData)

	// длина SPDU в форме 0xFF hi lo
	assert.Equal(t, byte(0xff), connect[1])

	spdu, err := ParseSessionSPDU(connect)
	require.NoError(t, err)
	assert.Equal(t, userData, spdu.Data)
}

func TestDataSPDU(t *testing.T) {
	data := BuildDataSPDU([]byte{0x61, 0x00})
	assert.Equal(t, []byte{0x01, 0x00, 0x01, 0x00, 0x61, 0x00}, data)

	s := NewSession()
	indication, err := s.ParseMessage(data)
	require.NoError(t, err)
	assert.Equal(t, IndicationData, indication)
	assert.Equal(t, []byte{0x61, 0x00}, s.UserData())

	_, err = s.ParseMessage([]byte{0x01, 0x00, 0x02, 0x00})
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}

func TestReleaseAndAbort(t *testing.T) {
	tests := []struct {
		name  string
		build func(s *Session) []byte
		want  Indication
	}{
		{name: "FINISH", build: func(s *Session) []byte { return s.BuildFinishSPDU([]byte{0x62, 0x00}) }, want: IndicationFinish},
		{name: "DISCONNECT", build: func(s *Session) []byte { return s.BuildDisconnectSPDU([]byte{0x63, 0x00}) }, want: IndicationDisconnect},
		{name: "ABORT", build: func(s *Session) []byte { return s.BuildAbortSPDU(nil) }, want: IndicationAbort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession()
			indication, err := s.ParseMessage(tt.build(s))
			require.NoError(t, err)
			assert.Equal(t, tt.want, indication)
		})
	}
}
