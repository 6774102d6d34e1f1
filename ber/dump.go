package ber

import (
	"fmt"
	"strings"

	asn1 "github.com/go-asn1-ber/asn1-ber"
)

var classNames = map[asn1.Class]string{
	asn1.ClassUniversal:   "univ",
	asn1.ClassApplication: "appl",
	asn1.ClassContext:     "ctx",
	asn1.ClassPrivate:     "priv",
}

// Dump renders an encoded element as an indented tree, one element per line.
// It is used for debug logging of PDUs.
func Dump(data []byte) (string, error) {
	packet := asn1.DecodePacket(data)
	if packet == nil {
		return "", fmt.Errorf("dump: %w", ErrInvalidLength)
	}

	var sb strings.Builder
	dumpPacket(&sb, packet, 0)
	return sb.String(), nil
}

func dumpPacket(sb *strings.Builder, p *asn1.Packet, indent int) {
	sb.WriteString(strings.Repeat("  ", indent))
	fmt.Fprintf(sb, "[%s %d]", classNames[p.ClassType], p.Tag)

	if p.TagType == asn1.TypeConstructed {
		fmt.Fprintf(sb, " {%d}\n", len(p.Children))
		for _, child := range p.Children {
			dumpPacket(sb, child, indent+1)
		}
		return
	}

	if p.Data != nil {
		fmt.Fprintf(sb, " % x", p.Data.Bytes())
	}
	sb.WriteString("\n")
}
