package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"github.com/careychow/libIEC61850-sub000/ber"
	"github.com/careychow/libIEC61850-sub000/osi/acse"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/presentation"
	"github.com/careychow/libIEC61850-sub000/osi/session"
)

var (
	dumpFile string
	dumpPcap string
	dumpTree bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump [hex]...",
	Short: "Decode TPKT packets layer by layer",
	Long: `Dump decodes TPKT packets through COTP, session, presentation, ACSE and
MMS and prints every layer. Packets are given as hex arguments, as a text
file with one hex packet per line, or as a pcap file written with --capture
or by Wireshark.

Examples:
  # Decode a COTP connection request
  iec61850 dump 0300001611e00000000100c0010dc2020001c1020001

  # Decode packets from a file
  iec61850 dump -f packets.txt --tree

  # Decode a capture
  iec61850 dump --pcap session.pcap`,

	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFile, "file", "f", "", "Text file with one hex packet per line")
	dumpCmd.Flags().StringVar(&dumpPcap, "pcap", "", "pcap file with ISO-on-TCP traffic")
	dumpCmd.Flags().BoolVar(&dumpTree, "tree", false, "Print the BER tree of ACSE and MMS PDUs")
}

func runDump(cmd *cobra.Command, args []string) error {
	var packets [][]byte
	for _, arg := range args {
		data, err := decodeHex(arg)
		if err != nil {
			return err
		}
		packets = append(packets, data)
	}

	if dumpFile != "" {
		f, err := os.Open(dumpFile)
		if err != nil {
			return err
		}
		defer f.Close()
		fromFile, err := readHexPackets(f)
		if err != nil {
			return fmt.Errorf("%s: %w", dumpFile, err)
		}
		packets = append(packets, fromFile...)
	}

	if dumpPcap != "" {
		f, err := os.Open(dumpPcap)
		if err != nil {
			return err
		}
		defer f.Close()
		fromPcap, err := readPcapPackets(f)
		if err != nil {
			return fmt.Errorf("%s: %w", dumpPcap, err)
		}
		packets = append(packets, fromPcap...)
	}

	if len(packets) == 0 {
		return errors.New("no packets: pass hex arguments, --file or --pcap")
	}

	for i, packet := range packets {
		fmt.Println(titleColor(fmt.Sprintf("#%d (%d bytes)", i+1, len(packet))))
		fmt.Print(dumpPacket(packet, dumpTree))
		fmt.Println()
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return data, nil
}

// readHexPackets читает пакеты по одному на строку, строки с # пропускаются
func readHexPackets(r io.Reader) ([][]byte, error) {
	var packets [][]byte
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		data, err := decodeHex(line)
		if err != nil {
			return nil, err
		}
		packets = append(packets, data)
	}
	return packets, scanner.Err()
}

// readPcapPackets извлекает TPKT пакеты из TCP сегментов. Сегмент может
// содержать несколько TPKT; TPKT, разделённые между сегментами, не
// собираются.
func readPcapPackets(r io.Reader) ([][]byte, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, err
	}

	var packets [][]byte
	for {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			return packets, nil
		}
		if err != nil {
			return nil, err
		}

		packet := gopacket.NewPacket(data, reader.LinkType(), gopacket.NoCopy)
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || len(tcp.Payload) == 0 {
			continue
		}
		packets = append(packets, splitTPKT(tcp.Payload)...)
	}
}

func splitTPKT(payload []byte) [][]byte {
	var packets [][]byte
	for len(payload) >= 4 && payload[0] == 0x03 {
		length := int(payload[2])<<8 | int(payload[3])
		if length < 4 || length > len(payload) {
			break
		}
		packets = append(packets, payload[:length])
		payload = payload[length:]
	}
	return packets
}

// dumpPacket разбирает TPKT по уровням без состояния соединения
func dumpPacket(data []byte, tree bool) string {
	var sb strings.Builder
	fail := func(layer string, err error) string {
		fmt.Fprintf(&sb, "  %s: %s\n", layer, errColor(err))
		return sb.String()
	}

	tpkt, err := cotp.ParseTPKT(data)
	if err != nil {
		return fail("TPKT", err)
	}
	fmt.Fprintf(&sb, "  TPKT    version %d, length %d\n", tpkt.Version, tpkt.Length)

	pdu, err := cotp.ParseCOTP(tpkt.Data)
	if err != nil {
		return fail("COTP", err)
	}
	switch pdu.Type {
	case cotp.COTPTypeData:
		fmt.Fprintf(&sb, "  COTP    %s, last unit %t\n", typeColor(pdu.Type), pdu.IsLastDataUnit)
	default:
		fmt.Fprintf(&sb, "  COTP    %s, dst-ref %d, src-ref %d, class %d, tpdu-size %d, src-tsap % x, dst-tsap % x\n",
			typeColor(pdu.Type), pdu.DestRef, pdu.SrcRef, pdu.Class, pdu.TpduSize, pdu.SrcTSAP, pdu.DstTSAP)
		return sb.String()
	}
	if len(pdu.Data) == 0 {
		return sb.String()
	}

	spdu, err := session.ParseSessionSPDU(pdu.Data)
	if err != nil {
		return fail("Session", err)
	}
	fmt.Fprintf(&sb, "  Session %s", typeColor(spdu.Type))
	if spdu.Type == session.SessionSPDUTypeConnect || spdu.Type == session.SessionSPDUTypeAccept {
		fmt.Fprintf(&sb, ", requirement 0x%04x, calling % x, called % x",
			spdu.SessionRequirement, spdu.CallingSessionSelector, spdu.CalledSessionSelector)
	}
	sb.WriteString("\n")
	if len(spdu.Data) == 0 {
		return sb.String()
	}

	ppdu, err := presentation.ParsePresentationPDU(spdu.Data)
	if err != nil {
		return fail("Presentation", err)
	}
	fmt.Fprintf(&sb, "  Pres    %s, context %d", typeColor(ppdu.Type), ppdu.PresentationContextId)
	if ppdu.Type != presentation.UserData {
		fmt.Fprintf(&sb, ", acse %d, mms %d", ppdu.AcseContextId, ppdu.MmsContextId)
	}
	sb.WriteString("\n")

	payload := ppdu.Data
	if isACSE(payload) {
		apdu, err := acse.ParseACSEPDU(payload)
		if err != nil {
			return fail("ACSE", err)
		}
		fmt.Fprintf(&sb, "  ACSE    %s\n", apdu)
		if tree {
			writeTree(&sb, payload)
		}
		payload = apdu.Data
		if len(payload) == 0 {
			return sb.String()
		}
	}

	mmsPDU, err := mms.ParsePDU(payload)
	if err != nil {
		return fail("MMS", err)
	}
	fmt.Fprintf(&sb, "  MMS     %s\n", refColor(mmsPDU))
	if tree {
		writeTree(&sb, payload)
	}
	return sb.String()
}

// isACSE ACSE APDU имеют теги application 0..4, MMS PDU context-specific
func isACSE(data []byte) bool {
	return len(data) > 0 && data[0] >= byte(acse.AARQ) && data[0] <= byte(acse.ABRT)
}

func writeTree(sb *strings.Builder, data []byte) {
	dump, err := ber.Dump(data)
	if err != nil {
		fmt.Fprintf(sb, "    %s\n", errColor(err))
		return
	}
	for _, line := range strings.Split(strings.TrimRight(dump, "\n"), "\n") {
		fmt.Fprintf(sb, "    %s\n", line)
	}
}
