package mms

import (
	"fmt"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// PDUType тег верхнего уровня MmsPdu (ISO/IEC 9506-2):
//
//	MmsPdu ::= CHOICE {
//	  confirmed-RequestPDU  [0], confirmed-ResponsePDU [1], confirmed-ErrorPDU [2],
//	  unconfirmed-PDU       [3], rejectPDU             [4],
//	  initiate-RequestPDU   [8], initiate-ResponsePDU  [9], initiate-ErrorPDU [10],
//	  conclude-RequestPDU  [11], conclude-ResponsePDU [12], conclude-ErrorPDU [13]
//	}
type PDUType uint32

const (
	PDUConfirmedRequest  PDUType = 0xa0
	PDUConfirmedResponse PDUType = 0xa1
	PDUConfirmedError    PDUType = 0xa2
	PDUUnconfirmed       PDUType = 0xa3
	PDUReject            PDUType = 0xa4
	PDUInitiateRequest   PDUType = 0xa8
	PDUInitiateResponse  PDUType = 0xa9
	PDUInitiateError     PDUType = 0xaa
	PDUConcludeRequest   PDUType = 0x8b
	PDUConcludeResponse  PDUType = 0x8c
	PDUConcludeError     PDUType = 0xad
)

func (t PDUType) String() string {
	switch t {
	case PDUConfirmedRequest:
		return "confirmed-request"
	case PDUConfirmedResponse:
		return "confirmed-response"
	case PDUConfirmedError:
		return "confirmed-error"
	case PDUUnconfirmed:
		return "unconfirmed"
	case PDUReject:
		return "reject"
	case PDUInitiateRequest:
		return "initiate-request"
	case PDUInitiateResponse:
		return "initiate-response"
	case PDUInitiateError:
		return "initiate-error"
	case PDUConcludeRequest:
		return "conclude-request"
	case PDUConcludeResponse:
		return "conclude-response"
	case PDUConcludeError:
		return "conclude-error"
	}
	return fmt.Sprintf("PDUType(0x%02x)", uint32(t))
}

// Теги ConfirmedServiceRequest / ConfirmedServiceResponse
const (
	serviceStatus                         = 0xa0
	serviceGetNameList                    = 0xa1
	serviceIdentify                       = 0xa2
	serviceRead                           = 0xa4
	serviceWrite                          = 0xa5
	serviceGetVariableAccessAttributes    = 0xa6
	serviceDefineNamedVariableList        = 0xab
	serviceGetNamedVariableListAttributes = 0xac
	serviceDeleteNamedVariableList        = 0xad
	serviceFileOpen                       = 0xbf48
	serviceFileRead                       = 0xbf49
	serviceFileClose                      = 0xbf4a
	serviceFileRename                     = 0xbf4b
	serviceFileDelete                     = 0xbf4c
	serviceFileDirectory                  = 0xbf4d

	// запросы status и identify, ответы без параметров и запросы по FRSM
	// примитивные
	serviceStatusRequest   = 0x80
	serviceIdentifyRequest = 0x82
	serviceDefineNVLDone   = 0x8b
	serviceFileReadRequest = 0x9f49
	serviceFileCloseFRSM   = 0x9f4a
	serviceFileRenameDone  = 0x9f4b
	serviceFileDeleteDone  = 0x9f4c
)

// ServiceName возвращает имя сервиса по тегу элемента
// confirmedServiceRequest/confirmedServiceResponse
func ServiceName(tag uint32) string {
	switch tag {
	case serviceStatus, serviceStatusRequest:
		return "status"
	case serviceGetNameList:
		return "getNameList"
	case serviceIdentify, serviceIdentifyRequest:
		return "identify"
	case serviceRead:
		return "read"
	case serviceWrite:
		return "write"
	case serviceGetVariableAccessAttributes:
		return "getVariableAccessAttributes"
	case serviceDefineNamedVariableList, serviceDefineNVLDone:
		return "defineNamedVariableList"
	case serviceGetNamedVariableListAttributes:
		return "getNamedVariableListAttributes"
	case serviceDeleteNamedVariableList:
		return "deleteNamedVariableList"
	case serviceFileOpen:
		return "fileOpen"
	case serviceFileRead, serviceFileReadRequest:
		return "fileRead"
	case serviceFileCloseFRSM:
		return "fileClose"
	case serviceFileRename, serviceFileRenameDone:
		return "fileRename"
	case serviceFileDelete, serviceFileDeleteDone:
		return "fileDelete"
	case serviceFileDirectory:
		return "fileDirectory"
	}
	return fmt.Sprintf("service(0x%x)", tag)
}

// Service элемент confirmedServiceRequest или confirmedServiceResponse
type Service interface {
	Node() *ber.Node
}

// RejectType тип отвергнутого PDU (rejectReason CHOICE)
type RejectType uint32

const (
	RejectConfirmedRequest  RejectType = 1
	RejectConfirmedResponse RejectType = 2
	RejectConfirmedError    RejectType = 3
	RejectUnconfirmed       RejectType = 4
	RejectPDUError          RejectType = 5
	RejectCancelRequest     RejectType = 6
	RejectCancelResponse    RejectType = 7
	RejectCancelError       RejectType = 8
	RejectConcludeRequest   RejectType = 9
	RejectConcludeResponse  RejectType = 10
	RejectConcludeError     RejectType = 11
)

// Коды причин отказа
const (
	RejectReasonOther                = 0
	RejectReasonUnrecognizedService  = 1
	RejectReasonUnrecognizedModifier = 2
	RejectReasonInvalidInvokeID      = 3
	RejectReasonInvalidArgument      = 4

	RejectReasonUnknownPDUType = 0
	RejectReasonInvalidPDU     = 1
)

// RejectReason причина отказа из rejectPDU
type RejectReason struct {
	Type RejectType
	Code uint32
}

func (r RejectReason) String() string {
	return fmt.Sprintf("RejectReason{Type: %d, Code: %d}", r.Type, r.Code)
}

// Error отображает причину отказа в перечисление Error
func (r RejectReason) Error() Error {
	switch r.Type {
	case RejectConfirmedRequest:
		switch r.Code {
		case RejectReasonUnrecognizedService:
			return ErrorRejectUnrecognizedService
		case RejectReasonUnrecognizedModifier:
			return ErrorRejectUnrecognizedModifier
		case RejectReasonInvalidArgument:
			return ErrorRejectRequestInvalidArgument
		}
	case RejectPDUError:
		switch r.Code {
		case RejectReasonUnknownPDUType:
			return ErrorRejectUnknownPDUType
		case RejectReasonInvalidPDU:
			return ErrorRejectInvalidPDU
		}
	}
	return ErrorRejectOther
}

// PDU декодированный MmsPdu. Для confirmed и unconfirmed PDU Service содержит
// элемент сервиса, для initiate PDU - содержимое PDU.
type PDU struct {
	Type PDUType

	InvokeID    uint32
	HasInvokeID bool

	Service ber.TLV

	ServiceError ServiceError
	Reject       RejectReason

	// Body - содержимое PDU
	Body ber.TLV
}

func (p *PDU) String() string {
	switch p.Type {
	case PDUConfirmedRequest, PDUConfirmedResponse:
		return fmt.Sprintf("%s{InvokeID: %d, Service: %s}", p.Type, p.InvokeID, ServiceName(p.Service.Tag))
	case PDUConfirmedError:
		return fmt.Sprintf("%s{InvokeID: %d, %s}", p.Type, p.InvokeID, p.ServiceError)
	case PDUReject:
		return fmt.Sprintf("%s{InvokeID: %d, %s}", p.Type, p.InvokeID, p.Reject)
	}
	return p.Type.String()
}

// ParsePDU декодирует MmsPdu верхнего уровня
func ParsePDU(buffer []byte) (*PDU, error) {
	if len(buffer) == 0 {
		return nil, fmt.Errorf("%w: empty PDU", ErrInvalidPDU)
	}

	body, _, err := ber.ParseTLV(buffer, 0, len(buffer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	pdu := &PDU{Type: PDUType(body.Tag), Body: body}

	switch pdu.Type {
	case PDUConfirmedRequest, PDUConfirmedResponse:
		fields, err := body.Children()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
		}
		if len(fields) < 2 || fields[0].Tag != uint32(ber.Integer) {
			return nil, fmt.Errorf("%w: %s without invokeID or service", ErrInvalidPDU, pdu.Type)
		}
		pdu.InvokeID = fields[0].Uint()
		pdu.HasInvokeID = true
		// listOfModifier пропускается
		pdu.Service = fields[len(fields)-1]

	case PDUConfirmedError:
		fields, err := body.Children()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
		}
		for _, field := range fields {
			switch field.Tag {
			case 0x80:
				pdu.InvokeID = field.Uint()
				pdu.HasInvokeID = true
			case 0xa2:
				if pdu.ServiceError, err = parseServiceError(field); err != nil {
					return nil, err
				}
			}
		}

	case PDUInitiateError, PDUConcludeError:
		if pdu.ServiceError, err = parseServiceError(body); err != nil {
			return nil, err
		}

	case PDUReject:
		fields, err := body.Children()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
		}
		for _, field := range fields {
			if field.Tag == 0x80 {
				pdu.InvokeID = field.Uint()
				pdu.HasInvokeID = true
				continue
			}
			if field.Tag > 0x80 && field.Tag <= 0x8b {
				pdu.Reject = RejectReason{Type: RejectType(field.Tag - 0x80), Code: field.Uint()}
			}
		}

	case PDUUnconfirmed:
		fields, err := body.Children()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: empty unconfirmed PDU", ErrInvalidPDU)
		}
		pdu.Service = fields[0]

	case PDUInitiateRequest, PDUInitiateResponse:
		pdu.Service = body

	case PDUConcludeRequest, PDUConcludeResponse:

	default:
		return pdu, fmt.Errorf("%w: PDU 0x%02x", ErrUnexpectedTag, body.Tag)
	}

	return pdu, nil
}

// ServiceError ::= SEQUENCE { errorClass [0] CHOICE { vmd-state [0] ... others [12] }, ... }
func parseServiceError(tlv ber.TLV) (ServiceError, error) {
	fields, err := tlv.Children()
	if err != nil {
		return ServiceError{}, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	for _, field := range fields {
		if field.Tag != 0xa0 {
			continue
		}
		classes, err := field.Children()
		if err != nil {
			return ServiceError{}, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
		}
		if len(classes) != 1 || classes[0].Tag < 0x80 || classes[0].Tag > 0x8c {
			return ServiceError{}, fmt.Errorf("%w: error class", ErrInvalidPDU)
		}
		return ServiceError{Class: ErrorClass(classes[0].Tag - 0x80), Code: classes[0].Uint()}, nil
	}
	return ServiceError{}, fmt.Errorf("%w: service error without class", ErrInvalidPDU)
}

func (e ServiceError) node(tag uint32) *ber.Node {
	return ber.Constructed(tag,
		ber.Constructed(0xa0, ber.Unsigned(0x80+uint32(e.Class), uint64(e.Code))),
	)
}

func invokeIDNode(invokeID uint32) *ber.Node {
	return ber.Unsigned(uint32(ber.Integer), uint64(invokeID))
}

// ConfirmedRequestPDU кодирует confirmed-RequestPDU
func ConfirmedRequestPDU(invokeID uint32, service Service) []byte {
	return ber.Constructed(uint32(PDUConfirmedRequest), invokeIDNode(invokeID), service.Node()).Encode()
}

// ConfirmedResponsePDU кодирует confirmed-ResponsePDU
func ConfirmedResponsePDU(invokeID uint32, service Service) []byte {
	return ConfirmedResponseNode(invokeID, service).Encode()
}

// ConfirmedResponseNode строит confirmed-ResponsePDU для оценки его размера
func ConfirmedResponseNode(invokeID uint32, service Service) *ber.Node {
	return ber.Constructed(uint32(PDUConfirmedResponse), invokeIDNode(invokeID), service.Node())
}

// ConfirmedErrorPDU кодирует confirmed-ErrorPDU
func ConfirmedErrorPDU(invokeID uint32, serviceError ServiceError) []byte {
	return ber.Constructed(uint32(PDUConfirmedError),
		ber.Unsigned(0x80, uint64(invokeID)),
		serviceError.node(0xa2),
	).Encode()
}

// RejectPDU кодирует rejectPDU
func RejectPDU(invokeID *uint32, reason RejectReason) []byte {
	pdu := ber.Constructed(uint32(PDUReject))
	if invokeID != nil {
		pdu.Add(ber.Unsigned(0x80, uint64(*invokeID)))
	}
	pdu.Add(ber.Unsigned(0x80+uint32(reason.Type), uint64(reason.Code)))
	return pdu.Encode()
}

// UnconfirmedPDU кодирует unconfirmed-PDU
func UnconfirmedPDU(service Service) []byte {
	return ber.Constructed(uint32(PDUUnconfirmed), service.Node()).Encode()
}

// ConcludeRequestPDU кодирует conclude-RequestPDU
func ConcludeRequestPDU() []byte {
	return ber.Empty(uint32(PDUConcludeRequest)).Encode()
}

// ConcludeResponsePDU кодирует conclude-ResponsePDU
func ConcludeResponsePDU() []byte {
	return ber.Empty(uint32(PDUConcludeResponse)).Encode()
}

// ConcludeErrorPDU кодирует conclude-ErrorPDU
func ConcludeErrorPDU(serviceError ServiceError) []byte {
	return serviceError.node(uint32(PDUConcludeError)).Encode()
}

// InitiateErrorPDU кодирует initiate-ErrorPDU
func InitiateErrorPDU(serviceError ServiceError) []byte {
	return serviceError.node(uint32(PDUInitiateError)).Encode()
}

// simpleService элемент сервиса без параметров либо с одним примитивным значением
type simpleService struct {
	node *ber.Node
}

func (s simpleService) Node() *ber.Node {
	return s.node
}

// NullService возвращает сервис, кодируемый как NULL с заданным тегом
func NullService(tag uint32) Service {
	return simpleService{node: ber.Empty(tag)}
}
