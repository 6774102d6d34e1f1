package cotp

import (
	"errors"
	"fmt"
)

// COTPType тип TPDU
type COTPType byte

const (
	COTPTypeConnectionRequest COTPType = tpduConnectionRequest
	COTPTypeConnectionConfirm COTPType = tpduConnectionConfirm
	COTPTypeData              COTPType = tpduData
	COTPTypeDisconnectRequest COTPType = tpduDisconnectRequest
	COTPTypeDisconnectConfirm COTPType = tpduDisconnectConfirm
)

func (t COTPType) String() string {
	switch t {
	case COTPTypeConnectionRequest:
		return "CR"
	case COTPTypeConnectionConfirm:
		return "CC"
	case COTPTypeData:
		return "DT"
	case COTPTypeDisconnectRequest:
		return "DR"
	case COTPTypeDisconnectConfirm:
		return "DC"
	}
	return fmt.Sprintf("0x%02x", byte(t))
}

// TPKT заголовок RFC 1006
type TPKT struct {
	Version  byte
	Reserved byte
	Length   uint16
	Data     []byte
}

// COTP разобранный TPDU
type COTP struct {
	Length             byte
	Type               COTPType
	DestRef            uint16
	SrcRef             uint16
	ProtocolClass      byte
	Class              byte
	ExtendedFormats    bool
	NoExplicitFlowCtrl bool
	TpduSize           byte
	DstTSAP            []byte
	SrcTSAP            []byte
	Flags              byte
	IsLastDataUnit     bool
	Data               []byte
}

// ParseTPKT разбирает TPKT заголовок без состояния соединения
func ParseTPKT(data []byte) (*TPKT, error) {
	if len(data) < tpktRFC1006HeaderSize {
		return nil, errors.New("TPKT too short")
	}

	tpkt := &TPKT{
		Version:  data[0],
		Reserved: data[1],
		Length:   uint16(data[2])<<8 | uint16(data[3]),
	}

	if tpkt.Version != 0x03 || tpkt.Reserved != 0x00 {
		return nil, ErrInvalidTpkt
	}

	if int(tpkt.Length) != len(data) {
		return nil, fmt.Errorf("TPKT length %d does not match packet size %d", tpkt.Length, len(data))
	}

	tpkt.Data = data[tpktRFC1006HeaderSize:]
	return tpkt, nil
}

// ParseCOTP разбирает TPDU без состояния соединения
func ParseCOTP(data []byte) (*COTP, error) {
	if len(data) < 2 {
		return nil, errors.New("COTP too short")
	}

	pdu := &COTP{
		Length: data[0],
		Type:   COTPType(data[1]),
	}

	headerEnd := int(pdu.Length) + 1
	if headerEnd > len(data) {
		return nil, fmt.Errorf("COTP length indicator %d exceeds data", pdu.Length)
	}

	switch pdu.Type {
	case COTPTypeData:
		if pdu.Length < 2 {
			return nil, errors.New("DT header too short")
		}
		pdu.Flags = data[2]
		pdu.IsLastDataUnit = pdu.Flags&0x80 != 0

	case COTPTypeConnectionRequest, COTPTypeConnectionConfirm,
		COTPTypeDisconnectRequest, COTPTypeDisconnectConfirm:
		if pdu.Length < 6 {
			return nil, errors.New("connection TPDU header too short")
		}
		pdu.DestRef = uint16(data[2])<<8 | uint16(data[3])
		pdu.SrcRef = uint16(data[4])<<8 | uint16(data[5])
		pdu.ProtocolClass = data[6]

		if pdu.Type == COTPTypeConnectionRequest || pdu.Type == COTPTypeConnectionConfirm {
			pdu.Class = pdu.ProtocolClass >> 4
			pdu.ExtendedFormats = pdu.ProtocolClass&0x02 != 0
			pdu.NoExplicitFlowCtrl = pdu.ProtocolClass&0x01 != 0

			if err := pdu.parseOptions(data[7:headerEnd]); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("unknown TPDU type: 0x%02x", data[1])
	}

	pdu.Data = data[headerEnd:]
	return pdu, nil
}

func (p *COTP) parseOptions(buffer []byte) error {
	for pos := 0; pos < len(buffer); {
		if pos+2 > len(buffer) {
			return errors.New("invalid option: missing type or length")
		}
		optionType, optionLen := buffer[pos], int(buffer[pos+1])
		pos += 2
		if pos+optionLen > len(buffer) {
			return fmt.Errorf("option too long: optionLen=%d", optionLen)
		}

		value := buffer[pos : pos+optionLen]
		switch optionType {
		case 0xc0:
			if optionLen == 1 {
				p.TpduSize = value[0]
			}
		case 0xc1:
			p.SrcTSAP = value
		case 0xc2:
			p.DstTSAP = value
		}
		pos += optionLen
	}
	return nil
}
