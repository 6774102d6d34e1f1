// Package capture записывает TPKT пакеты в pcap файл. Каждый пакет
// оборачивается в синтетические заголовки Ethernet/IPv4/TCP с портом 102,
// чтобы запись разбиралась диссектором MMS в Wireshark.
package capture

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
)

// ServerPort порт ISO-on-TCP (RFC 1006)
const ServerPort = 102

const (
	snapLen         = 65535
	firstFlowPort   = 50000
	clientAddress   = "192.168.102.10"
	serverAddress   = "192.168.102.20"
	initialSequence = 1
)

var (
	clientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	serverMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Writer pcap файл, общий для нескольких соединений
type Writer struct {
	mu       sync.Mutex
	pcap     *pcapgo.Writer
	log      logger.Logger
	nextPort uint16
	now      func() time.Time
}

// Option настраивает Writer
type Option func(*Writer)

// WithLogger задаёт логгер ошибок записи
func WithLogger(l logger.Logger) Option {
	return func(w *Writer) {
		w.log = l
	}
}

// WithClock подменяет источник времени пакетов
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter записывает заголовок pcap файла в out
func NewWriter(out io.Writer, opts ...Option) (*Writer, error) {
	w := &Writer{
		pcap:     pcapgo.NewWriter(out),
		log:      logger.NewLogger("capture"),
		nextPort: firstFlowPort,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.pcap.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return w, nil
}

// flow одно TCP соединение записи
type flow struct {
	writer    *Writer
	port      uint16
	clientSeq uint32
	serverSeq uint32
}

// Tap возвращает наблюдателя COTP соединения для отдельного TCP потока.
// serverSide означает, что отправленные пакеты идут от сервера к клиенту.
func (w *Writer) Tap(serverSide bool) cotp.TapFunc {
	w.mu.Lock()
	f := &flow{writer: w, port: w.nextPort, clientSeq: initialSequence, serverSeq: initialSequence}
	w.nextPort++
	w.mu.Unlock()

	return func(outgoing bool, tpkt []byte) {
		fromServer := outgoing == serverSide
		if err := f.write(fromServer, tpkt); err != nil {
			w.log.Warning("capture: %v", err)
		}
	}
}

func (f *flow) write(fromServer bool, payload []byte) error {
	w := f.writer
	w.mu.Lock()
	defer w.mu.Unlock()

	srcIP, dstIP := net.ParseIP(clientAddress).To4(), net.ParseIP(serverAddress).To4()
	srcMAC, dstMAC := clientMAC, serverMAC
	srcPort, dstPort := f.port, uint16(ServerPort)
	seq, ack := f.clientSeq, f.serverSeq
	if fromServer {
		srcIP, dstIP = dstIP, srcIP
		srcMAC, dstMAC = dstMAC, srcMAC
		srcPort, dstPort = dstPort, srcPort
		seq, ack = f.serverSeq, f.clientSeq
	}

	ethernet := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		ACK:     true,
		PSH:     true,
		Seq:     seq,
		Ack:     ack,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("tcp checksum: %w", err)
	}

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buffer, opts, ethernet, ip, tcp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize packet: %w", err)
	}

	if fromServer {
		f.serverSeq += uint32(len(payload))
	} else {
		f.clientSeq += uint32(len(payload))
	}

	data := buffer.Bytes()
	return w.pcap.WritePacket(gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}, data)
}
