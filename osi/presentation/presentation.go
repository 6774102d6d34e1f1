package presentation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// PDUType тип PPDU
type PDUType byte

const (
	CP       PDUType = iota + 1 // CP-type (запрос соединения)
	CPA                         // CPA-PPDU (принятие соединения)
	UserData                    // fully-encoded-data
)

func (t PDUType) String() string {
	switch t {
	case CP:
		return "CP-type"
	case CPA:
		return "CPA-PPDU"
	case UserData:
		return "User-data"
	}
	return fmt.Sprintf("PDUType(%d)", byte(t))
}

var (
	callingPresentationSelector = []byte{0x00, 0x00, 0x00, 0x01}
	calledPresentationSelector  = []byte{0x00, 0x00, 0x00, 0x01}

	asnIDAsAcse = []byte{0x52, 0x01, 0x00, 0x01}       // 2.2.1.0.1
	asnIDMms    = []byte{0x28, 0xca, 0x22, 0x02, 0x01} // 1.0.9506.2.1
	berID       = []byte{0x51, 0x01}                   // 2.1.1 basic-encoding
)

// Errors
var (
	ErrNotPresentation = errors.New("presentation: not a presentation PDU")
	ErrMissingUserData = errors.New("presentation: user data not present")
	ErrUnknownContext  = errors.New("presentation: context is neither ACSE nor MMS")
	ErrContextRejected = errors.New("presentation: context definition rejected")
)

// Тип presentation-data-values
const (
	SingleASN1Type = 0
	OctetAligned   = 1
	Arbitrary      = 2
)

// PresentationPDU разобранный PPDU
type PresentationPDU struct {
	Type                           PDUType
	ModeValue                      int
	CallingPresentationSelector    []byte
	CalledPresentationSelector     []byte
	RespondingPresentationSelector []byte
	AcseContextId                  byte
	MmsContextId                   byte
	ContextResults                 []int // результаты context-definition-result-list
	PresentationContextId          byte  // идентификатор контекста в user-data
	PresentationDataValuesType     int
	Data                           []byte
}

// Presentation согласованные идентификаторы контекстов одной ассоциации
type Presentation struct {
	AcseContextID byte
	MmsContextID  byte

	nextContextID byte
	payload       []byte
}

// NewPresentation создаёт состояние с идентификаторами контекстов,
// которые предлагает клиент (ACSE = 1, MMS = 3)
func NewPresentation() *Presentation {
	return &Presentation{AcseContextID: 1, MmsContextID: 3}
}

// Payload возвращает данные последнего разобранного PPDU
func (p *Presentation) Payload() []byte {
	return p.payload
}

// NextContextID возвращает идентификатор контекста последнего PPDU
func (p *Presentation) NextContextID() byte {
	return p.nextContextID
}

// IsMms сообщает, относятся ли последние данные к контексту MMS
func (p *Presentation) IsMms() bool {
	return p.nextContextID == p.MmsContextID
}

func userDataNode(payload []byte, contextID byte) *ber.Node {
	return ber.Constructed(0x61,
		ber.Constructed(0x30,
			ber.Unsigned(0x02, uint64(contextID)),
			ber.Constructed(0xa0, ber.Raw(payload)),
		),
	)
}

func contextItem(id byte, abstractSyntax []byte) *ber.Node {
	return ber.Constructed(0x30,
		ber.Unsigned(0x02, uint64(id)),
		ber.Primitive(0x06, abstractSyntax),
		ber.Constructed(0x30, ber.Primitive(0x06, berID)),
	)
}

func acceptResult() *ber.Node {
	return ber.Constructed(0x30,
		ber.Primitive(0x80, []byte{0x00}),
		ber.Primitive(0x81, berID),
	)
}

func modeSelector() *ber.Node {
	return ber.Constructed(0xa0, ber.Primitive(0x80, []byte{0x01}))
}

// BuildCPType создаёт CP-type с ACSE данными
func (p *Presentation) BuildCPType(payload []byte) []byte {
	return ber.Constructed(0x31,
		modeSelector(),
		ber.Constructed(0xa2,
			ber.Primitive(0x81, callingPresentationSelector),
			ber.Primitive(0x82, calledPresentationSelector),
			ber.Constructed(0xa4,
				contextItem(p.AcseContextID, asnIDAsAcse),
				contextItem(p.MmsContextID, asnIDMms),
			),
			userDataNode(payload, p.AcseContextID),
		),
	).Encode()
}

// BuildCPAType создаёт CPA-PPDU с ACSE данными
func (p *Presentation) BuildCPAType(payload []byte) []byte {
	return ber.Constructed(0x31,
		modeSelector(),
		ber.Constructed(0xa2,
			ber.Primitive(0x83, calledPresentationSelector),
			ber.Constructed(0xa5, acceptResult(), acceptResult()),
			userDataNode(payload, p.AcseContextID),
		),
	).Encode()
}

// BuildUserData упаковывает MMS PDU в fully-encoded-data
func (p *Presentation) BuildUserData(payload []byte) []byte {
	return userDataNode(payload, p.MmsContextID).Encode()
}

// BuildAcseUserData упаковывает ACSE PDU (RLRQ, RLRE, ABRT) в fully-encoded-data
func (p *Presentation) BuildAcseUserData(payload []byte) []byte {
	return userDataNode(payload, p.AcseContextID).Encode()
}

// ParseConnect разбирает CP-type и запоминает идентификаторы контекстов клиента
func (p *Presentation) ParseConnect(data []byte) error {
	pdu, err := ParsePresentationPDU(data)
	if err != nil {
		return err
	}
	if pdu.Type != CP {
		return fmt.Errorf("%w: expected CP-type, got %s", ErrNotPresentation, pdu.Type)
	}

	p.AcseContextID = pdu.AcseContextId
	p.MmsContextID = pdu.MmsContextId
	p.nextContextID = pdu.PresentationContextId
	p.payload = pdu.Data
	return nil
}

// ParseAccept разбирает CPA-PPDU
func (p *Presentation) ParseAccept(data []byte) error {
	pdu, err := ParsePresentationPDU(data)
	if err != nil {
		return err
	}
	if pdu.Type != CPA {
		return fmt.Errorf("%w: expected CPA-PPDU, got %s", ErrNotPresentation, pdu.Type)
	}
	for _, result := range pdu.ContextResults {
		if result != 0 {
			return ErrContextRejected
		}
	}

	p.nextContextID = pdu.PresentationContextId
	p.payload = pdu.Data
	return nil
}

// ParseUserData разбирает fully-encoded-data
func (p *Presentation) ParseUserData(data []byte) error {
	pdu, err := ParsePresentationPDU(data)
	if err != nil {
		return err
	}
	if pdu.Type != UserData {
		return fmt.Errorf("%w: expected user data, got %s", ErrNotPresentation, pdu.Type)
	}

	p.nextContextID = pdu.PresentationContextId
	p.payload = pdu.Data
	return nil
}

// ParsePresentationPDU разбирает CP-type, CPA-PPDU или fully-encoded-data
func ParsePresentationPDU(data []byte) (*PresentationPDU, error) {
	top, _, err := ber.ParseTLV(data, 0, len(data))
	if err != nil {
		return nil, fmt.Errorf("presentation: %w", err)
	}

	pdu := &PresentationPDU{}

	switch top.Tag {
	case 0x61:
		pdu.Type = UserData
		if err := pdu.parseFullyEncodedData(top.Value); err != nil {
			return nil, err
		}
		return pdu, nil

	case 0x31:
		if err := pdu.parseSet(top.Value); err != nil {
			return nil, err
		}
		return pdu, nil
	}

	return nil, fmt.Errorf("%w: tag 0x%02x", ErrNotPresentation, top.Tag)
}

func (pdu *PresentationPDU) parseSet(value []byte) error {
	elements, err := ber.ParseAll(value)
	if err != nil {
		return fmt.Errorf("presentation: %w", err)
	}

	for _, element := range elements {
		switch element.Tag {
		case 0xa0: // mode-selector
			modes, err := element.Children()
			if err != nil {
				return fmt.Errorf("presentation: mode-selector: %w", err)
			}
			if len(modes) == 0 || modes[0].Tag != 0x80 {
				return fmt.Errorf("%w: mode-value of wrong type", ErrNotPresentation)
			}
			pdu.ModeValue = int(modes[0].Uint())

		case 0xa2: // normal-mode-parameters
			if err := pdu.parseNormalModeParameters(element.Value); err != nil {
				return err
			}
		}
	}

	if pdu.Type == 0 {
		pdu.Type = CP
		if pdu.RespondingPresentationSelector != nil || pdu.ContextResults != nil {
			pdu.Type = CPA
		}
	}

	if pdu.Data == nil {
		return ErrMissingUserData
	}

	return nil
}

func (pdu *PresentationPDU) parseNormalModeParameters(value []byte) error {
	elements, err := ber.ParseAll(value)
	if err != nil {
		return fmt.Errorf("presentation: normal-mode-parameters: %w", err)
	}

	for _, element := range elements {
		switch element.Tag {
		case 0x81:
			pdu.CallingPresentationSelector = element.Value
		case 0x82:
			pdu.CalledPresentationSelector = element.Value
		case 0x83:
			pdu.RespondingPresentationSelector = element.Value
		case 0xa4:
			if err := pdu.parseContextDefinitionList(element.Value); err != nil {
				return err
			}
		case 0xa5:
			if err := pdu.parseContextResultList(element.Value); err != nil {
				return err
			}
		case 0x61:
			if err := pdu.parseFullyEncodedData(element.Value); err != nil {
				return err
			}
		}
	}

	return nil
}

func (pdu *PresentationPDU) parseContextDefinitionList(value []byte) error {
	items, err := ber.ParseAll(value)
	if err != nil {
		return fmt.Errorf("presentation: context definition list: %w", err)
	}

	for _, item := range items {
		if item.Tag != 0x30 {
			continue
		}

		fields, err := item.Children()
		if err != nil {
			return fmt.Errorf("presentation: context definition: %w", err)
		}

		contextID := -1
		isAcse, isMms := false, false

		for _, field := range fields {
			switch field.Tag {
			case 0x02:
				contextID = int(field.Uint())
			case 0x06:
				isAcse = bytes.Equal(field.Value, asnIDAsAcse)
				isMms = bytes.Equal(field.Value, asnIDMms)
			}
		}

		if contextID < 0 {
			return fmt.Errorf("%w: context id not defined", ErrNotPresentation)
		}

		switch {
		case isMms:
			pdu.MmsContextId = byte(contextID)
		case isAcse:
			pdu.AcseContextId = byte(contextID)
		default:
			return ErrUnknownContext
		}
	}

	return nil
}

func (pdu *PresentationPDU) parseContextResultList(value []byte) error {
	items, err := ber.ParseAll(value)
	if err != nil {
		return fmt.Errorf("presentation: context result list: %w", err)
	}

	pdu.ContextResults = make([]int, 0, len(items))
	for _, item := range items {
		fields, err := item.Children()
		if err != nil {
			return fmt.Errorf("presentation: context result: %w", err)
		}
		result := -1
		for _, field := range fields {
			if field.Tag == 0x80 {
				result = int(field.Uint())
			}
		}
		pdu.ContextResults = append(pdu.ContextResults, result)
	}

	return nil
}

func (pdu *PresentationPDU) parseFullyEncodedData(value []byte) error {
	pdvList, _, err := ber.ParseTLV(value, 0, len(value))
	if err != nil {
		return fmt.Errorf("presentation: user data: %w", err)
	}
	if pdvList.Tag != 0x30 {
		return fmt.Errorf("%w: user data parse error", ErrNotPresentation)
	}

	fields, err := pdvList.Children()
	if err != nil {
		return fmt.Errorf("presentation: PDV-list: %w", err)
	}

	for _, field := range fields {
		switch field.Tag {
		case 0x02:
			pdu.PresentationContextId = byte(field.Uint())
		case 0xa0:
			pdu.PresentationDataValuesType = SingleASN1Type
			pdu.Data = field.Value
		case 0x81:
			pdu.PresentationDataValuesType = OctetAligned
			pdu.Data = field.Value
		case 0x82:
			pdu.PresentationDataValuesType = Arbitrary
			pdu.Data = field.Value
		}
	}

	if pdu.Data == nil {
		return ErrMissingUserData
	}

	return nil
}
