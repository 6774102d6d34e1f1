package capture

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/logger"
)

type packet struct {
	srcPort, dstPort layers.TCPPort
	seq              uint32
	payload          []byte
}

func readPackets(t *testing.T, data []byte) []packet {
	t.Helper()

	r, err := pcapgo.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	var packets []packet
	for {
		raw, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		decoded := gopacket.NewPacket(raw, layers.LinkTypeEthernet, gopacket.Default)
		tcp, ok := decoded.Layer(layers.LayerTypeTCP).(*layers.TCP)
		require.True(t, ok, "нет TCP уровня")
		packets = append(packets, packet{
			srcPort: tcp.SrcPort,
			dstPort: tcp.DstPort,
			seq:     tcp.Seq,
			payload: tcp.Payload,
		})
	}
	return packets
}

func TestWriterTap(t *testing.T) {
	connectRequest := []byte{0x03, 0x00, 0x00, 0x0b, 0x06, 0xe0, 0x00, 0x00, 0x00, 0x01, 0x00}
	connectConfirm := []byte{0x03, 0x00, 0x00, 0x0b, 0x06, 0xd0, 0x00, 0x01, 0x00, 0x01, 0x00}
	data := []byte{0x03, 0x00, 0x00, 0x07, 0x02, 0xf0, 0x80}

	tests := []struct {
		name       string
		serverSide bool
		outgoing   []bool
		fromServer []bool
	}{
		{
			name:       "клиентская сторона",
			serverSide: false,
			outgoing:   []bool{true, false, true},
			fromServer: []bool{false, true, false},
		},
		{
			name:       "серверная сторона",
			serverSide: true,
			outgoing:   []bool{false, true, false},
			fromServer: []bool{false, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			w, err := NewWriter(&out, WithLogger(logger.Nop()), WithClock(func() time.Time { return time.Unix(1700000000, 0) }))
			require.NoError(t, err)

			tap := w.Tap(tt.serverSide)
			payloads := [][]byte{connectRequest, connectConfirm, data}
			for i, p := range payloads {
				tap(tt.outgoing[i], p)
			}

			packets := readPackets(t, out.Bytes())
			require.Len(t, packets, 3)
			for i, p := range packets {
				assert.Equal(t, payloads[i], p.payload)
				if tt.fromServer[i] {
					assert.Equal(t, layers.TCPPort(ServerPort), p.srcPort)
				} else {
					assert.Equal(t, layers.TCPPort(ServerPort), p.dstPort)
				}
			}
			assert.Equal(t, uint32(initialSequence), packets[0].seq)
			assert.Equal(t, uint32(initialSequence), packets[1].seq)
			assert.Equal(t, uint32(initialSequence+len(connectRequest)), packets[2].seq)
		})
	}
}

func TestWriterFlows(t *testing.T) {
	var out bytes.Buffer
	w, err := NewWriter(&out, WithLogger(logger.Nop()))
	require.NoError(t, err)

	a, b := w.Tap(false), w.Tap(false)
	a(true, []byte{0x03, 0x00, 0x00, 0x04})
	b(true, []byte{0x03, 0x00, 0x00, 0x04})

	packets := readPackets(t, out.Bytes())
	require.Len(t, packets, 2)
	assert.Equal(t, layers.TCPPort(firstFlowPort), packets[0].srcPort)
	assert.Equal(t, layers.TCPPort(firstFlowPort+1), packets[1].srcPort)
}
