package mms

import (
	"fmt"
	"strings"

	"github.com/careychow/libIEC61850-sub000/ber"
)

// ServiceSupportedBit представляет номер бита в битовой маске ServicesSupportedCalling
type ServiceSupportedBit uint

const (
	Status ServiceSupportedBit = iota
	GetNameList
	Identify
	Rename
	Read
	Write
	GetVariableAccessAttributes
	DefineNamedVariable
	DefineScatteredAccess
	GetScatteredAccessAttributes
	DeleteVariableAccess
	DefineNamedVariableList
	GetNamedVariableListAttributes
	DeleteNamedVariableList
	DefineNamedType
	GetNamedTypeAttributes
	DeleteNamedType
	Input
	Output
	TakeControl
	RelinquishControl
	DefineSemaphore
	DeleteSemaphore
	ReportSemaphoreStatus
	ReportPoolSemaphoreStatus
	ReportSemaphoreEntryStatus
	InitiateDownloadSequence
	DownloadSegment
	TerminateDownloadSequence
	InitiateUploadSequence
	UploadSegment
	TerminateUploadSequence
	RequestDomainDownload
	RequestDomainUpload
	LoadDomainContent
	StoreDomainContent
	ServiceDeleteDomain
	GetDomainAttributes
	CreateProgramInvocation
	DeleteProgramInvocation
	Start
	Stop
	Resume
	Reset
	Kill
	GetProgramInvocationAttributes
	ObtainFile
	DefineEventCondition
	DeleteEventCondition
	GetEventConditionAttributes
	ReportEventConditionStatus
	AlterEventConditionMonitoring
	TriggerEvent
	DefineEventAction
	DeleteEventAction
	GetEventActionAttributes
	ReportActionStatus
	DefineEventEnrollment
	DeleteEventEnrollment
	AlterEventEnrollment
	ReportEventEnrollmentStatus
	GetEventEnrollmentAttributes
	AcknowledgeEventNotification
	GetAlarmSummary
	GetAlarmEnrollmentSummary
	ReadJournal
	WriteJournal
	InitializeJournal
	ReportJournalStatus
	CreateJournal
	DeleteJournal
	GetCapabilityList
	FileOpen
	FileRead
	FileClose
	FileRename
	FileDelete
	FileDirectory
	UnsolicitedStatus
	ServiceInformationReport
	EventNotification
	AttachToEventCondition
	AttachToSemaphore
	Conclude
	Cancel
)

var serviceSupportedNames = [...]string{
	Status:                         "Status",
	GetNameList:                    "GetNameList",
	Identify:                       "Identify",
	Rename:                         "Rename",
	Read:                           "Read",
	Write:                          "Write",
	GetVariableAccessAttributes:    "GetVariableAccessAttributes",
	DefineNamedVariable:            "DefineNamedVariable",
	DefineScatteredAccess:          "DefineScatteredAccess",
	GetScatteredAccessAttributes:   "GetScatteredAccessAttributes",
	DeleteVariableAccess:           "DeleteVariableAccess",
	DefineNamedVariableList:        "DefineNamedVariableList",
	GetNamedVariableListAttributes: "GetNamedVariableListAttributes",
	DeleteNamedVariableList:        "DeleteNamedVariableList",
	DefineNamedType:                "DefineNamedType",
	GetNamedTypeAttributes:         "GetNamedTypeAttributes",
	DeleteNamedType:                "DeleteNamedType",
	Input:                          "Input",
	Output:                         "Output",
	TakeControl:                    "TakeControl",
	RelinquishControl:              "RelinquishControl",
	DefineSemaphore:                "DefineSemaphore",
	DeleteSemaphore:                "DeleteSemaphore",
	ReportSemaphoreStatus:          "ReportSemaphoreStatus",
	ReportPoolSemaphoreStatus:      "ReportPoolSemaphoreStatus",
	ReportSemaphoreEntryStatus:     "ReportSemaphoreEntryStatus",
	InitiateDownloadSequence:       "InitiateDownloadSequence",
	DownloadSegment:                "DownloadSegment",
	TerminateDownloadSequence:      "TerminateDownloadSequence",
	InitiateUploadSequence:         "InitiateUploadSequence",
	UploadSegment:                  "UploadSegment",
	TerminateUploadSequence:        "TerminateUploadSequence",
	RequestDomainDownload:          "RequestDomainDownload",
	RequestDomainUpload:            "RequestDomainUpload",
	LoadDomainContent:              "LoadDomainContent",
	StoreDomainContent:             "StoreDomainContent",
	ServiceDeleteDomain:            "DeleteDomain",
	GetDomainAttributes:            "GetDomainAttributes",
	CreateProgramInvocation:        "CreateProgramInvocation",
	DeleteProgramInvocation:        "DeleteProgramInvocation",
	Start:                          "Start",
	Stop:                           "Stop",
	Resume:                         "Resume",
	Reset:                          "Reset",
	Kill:                           "Kill",
	GetProgramInvocationAttributes: "GetProgramInvocationAttributes",
	ObtainFile:                     "ObtainFile",
	DefineEventCondition:           "DefineEventCondition",
	DeleteEventCondition:           "DeleteEventCondition",
	GetEventConditionAttributes:    "GetEventConditionAttributes",
	ReportEventConditionStatus:     "ReportEventConditionStatus",
	AlterEventConditionMonitoring:  "AlterEventConditionMonitoring",
	TriggerEvent:                   "TriggerEvent",
	DefineEventAction:              "DefineEventAction",
	DeleteEventAction:              "DeleteEventAction",
	GetEventActionAttributes:       "GetEventActionAttributes",
	ReportActionStatus:             "ReportActionStatus",
	DefineEventEnrollment:          "DefineEventEnrollment",
	DeleteEventEnrollment:          "DeleteEventEnrollment",
	AlterEventEnrollment:           "AlterEventEnrollment",
	ReportEventEnrollmentStatus:    "ReportEventEnrollmentStatus",
	GetEventEnrollmentAttributes:   "GetEventEnrollmentAttributes",
	AcknowledgeEventNotification:   "AcknowledgeEventNotification",
	GetAlarmSummary:                "GetAlarmSummary",
	GetAlarmEnrollmentSummary:      "GetAlarmEnrollmentSummary",
	ReadJournal:                    "ReadJournal",
	WriteJournal:                   "WriteJournal",
	InitializeJournal:              "InitializeJournal",
	ReportJournalStatus:            "ReportJournalStatus",
	CreateJournal:                  "CreateJournal",
	DeleteJournal:                  "DeleteJournal",
	GetCapabilityList:              "GetCapabilityList",
	FileOpen:                       "FileOpen",
	FileRead:                       "FileRead",
	FileClose:                      "FileClose",
	FileRename:                     "FileRename",
	FileDelete:                     "FileDelete",
	FileDirectory:                  "FileDirectory",
	UnsolicitedStatus:              "UnsolicitedStatus",
	ServiceInformationReport:       "InformationReport",
	EventNotification:              "EventNotification",
	AttachToEventCondition:         "AttachToEventCondition",
	AttachToSemaphore:              "AttachToSemaphore",
	Conclude:                       "Conclude",
	Cancel:                         "Cancel",
}

func (b ServiceSupportedBit) String() string {
	if int(b) < len(serviceSupportedNames) {
		return serviceSupportedNames[b]
	}
	return fmt.Sprintf("ServiceSupportedBit(%d)", b)
}

// ParameterCBBBit представляет номер бита в битовой маске ProposedParameterCBB
type ParameterCBBBit uint

const (
	Str1 ParameterCBBBit = iota
	Str2
	Vnam
	Valt
	Vadr
	Vsca
	Tpy
	Vlis
	Real
	SpareBit9
	Cei
)

var parameterCBBNames = [...]string{"Str1", "Str2", "Vnam", "Valt", "Vadr", "Vsca", "Tpy", "Vlis", "Real", "SpareBit9", "Cei"}

func (b ParameterCBBBit) String() string {
	if int(b) < len(parameterCBBNames) {
		return parameterCBBNames[b]
	}
	return fmt.Sprintf("ParameterCBBBit(%d)", b)
}

const (
	// servicesSupportedBits - 85 бит данных, 3 бита padding, 11 октетов
	servicesSupportedBits = 85
	// parameterCBBBits - 11 бит данных, 5 бит padding, 2 октета
	parameterCBBBits = 11

	// DefaultMaxServOutstanding максимальное число одновременных запросов
	DefaultMaxServOutstanding = 5
	// DefaultDataStructureNestingLevel максимальная вложенность структур
	DefaultDataStructureNestingLevel = 10
)

// DefaultParameterCBB поддерживаемые параметры: str1, str2, vnam, valt, vlis (f100)
var DefaultParameterCBB = []ParameterCBBBit{Str1, Str2, Vnam, Valt, Vlis}

// DefaultClientServices услуги, заявляемые клиентом (ee1c00000408000079ef18)
var DefaultClientServices = []ServiceSupportedBit{
	Status, GetNameList, Identify, Read, Write, GetVariableAccessAttributes,
	DefineNamedVariableList, GetNamedVariableListAttributes, DeleteNamedVariableList,
	GetDomainAttributes, Kill, ReadJournal, WriteJournal, InitializeJournal,
	ReportJournalStatus, GetCapabilityList, FileOpen, FileRead, FileClose,
	FileDelete, FileDirectory, UnsolicitedStatus, ServiceInformationReport, Conclude, Cancel,
}

// DefaultServerServices услуги, заявляемые сервером
var DefaultServerServices = []ServiceSupportedBit{
	Status, GetNameList, Identify, Read, Write, GetVariableAccessAttributes,
	DefineNamedVariableList, GetNamedVariableListAttributes, DeleteNamedVariableList,
	FileOpen, FileRead, FileClose, FileRename, FileDelete, FileDirectory,
	ServiceInformationReport, Conclude, Cancel,
}

// InitiateRequest содержит параметры MMS Initiate Request PDU:
//
//	Initiate-RequestPDU ::= SEQUENCE {
//	  localDetailCalling                [0] IMPLICIT Integer32 OPTIONAL,
//	  proposedMaxServOutstandingCalling [1] IMPLICIT Integer16,
//	  proposedMaxServOutstandingCalled  [2] IMPLICIT Integer16,
//	  proposedDataStructureNestingLevel [3] IMPLICIT Integer8 OPTIONAL,
//	  mmsInitRequestDetail              [4] IMPLICIT SEQUENCE {
//	    proposedVersionNumber    [0] IMPLICIT Integer16,
//	    proposedParameterCBB     [1] IMPLICIT ParameterSupportOptions,
//	    servicesSupportedCalling [2] IMPLICIT ServiceSupportOptions
//	  }
//	}
type InitiateRequest struct {
	// LocalDetailCalling - максимальный размер PDU (в байтах)
	LocalDetailCalling uint32
	// ProposedMaxServOutstandingCalling - максимальное количество одновременных запросов от клиента
	ProposedMaxServOutstandingCalling uint32
	// ProposedMaxServOutstandingCalled - максимальное количество одновременных запросов к клиенту
	ProposedMaxServOutstandingCalled uint32
	// ProposedDataStructureNestingLevel - максимальный уровень вложенности структур данных
	ProposedDataStructureNestingLevel uint32
	ProposedVersionNumber             uint32
	ProposedParameterCBB              []ParameterCBBBit
	ServicesSupportedCalling          []ServiceSupportedBit
}

// InitiateRequestOption представляет функцию для изменения параметров InitiateRequest
type InitiateRequestOption func(*InitiateRequest)

// DefaultInitiateRequestParams возвращает параметры по умолчанию
func DefaultInitiateRequestParams() *InitiateRequest {
	return &InitiateRequest{
		LocalDetailCalling:                DefaultMaxPduSize,
		ProposedMaxServOutstandingCalling: DefaultMaxServOutstanding,
		ProposedMaxServOutstandingCalled:  DefaultMaxServOutstanding,
		ProposedDataStructureNestingLevel: DefaultDataStructureNestingLevel,
		ProposedVersionNumber:             1,
		ProposedParameterCBB:              DefaultParameterCBB,
		ServicesSupportedCalling:          DefaultClientServices,
	}
}

// WithLocalDetailCalling устанавливает максимальный размер PDU
func WithLocalDetailCalling(size uint32) InitiateRequestOption {
	return func(p *InitiateRequest) {
		p.LocalDetailCalling = size
	}
}

// WithProposedMaxServOutstandingCalling устанавливает макс. одновременные запросы от клиента
func WithProposedMaxServOutstandingCalling(count uint32) InitiateRequestOption {
	return func(p *InitiateRequest) {
		p.ProposedMaxServOutstandingCalling = count
	}
}

// WithProposedMaxServOutstandingCalled устанавливает макс. одновременные запросы к клиенту
func WithProposedMaxServOutstandingCalled(count uint32) InitiateRequestOption {
	return func(p *InitiateRequest) {
		p.ProposedMaxServOutstandingCalled = count
	}
}

// WithProposedDataStructureNestingLevel устанавливает макс. уровень вложенности структур
func WithProposedDataStructureNestingLevel(level uint32) InitiateRequestOption {
	return func(p *InitiateRequest) {
		p.ProposedDataStructureNestingLevel = level
	}
}

// WithServicesSupportedCalling устанавливает поддерживаемые услуги
func WithServicesSupportedCalling(services []ServiceSupportedBit) InitiateRequestOption {
	return func(p *InitiateRequest) {
		p.ServicesSupportedCalling = services
	}
}

// NewInitiateRequest создаёт MMS InitiateRequest с параметрами по умолчанию
func NewInitiateRequest(opts ...InitiateRequestOption) *InitiateRequest {
	params := DefaultInitiateRequestParams()
	for _, opt := range opts {
		opt(params)
	}
	return params
}

func (r *InitiateRequest) String() string {
	return fmt.Sprintf("InitiateRequest{LocalDetailCalling:%d ProposedMaxServOutstandingCalling:%d ProposedMaxServOutstandingCalled:%d ProposedDataStructureNestingLevel:%d ProposedVersionNumber:%d ProposedParameterCBB:%s ServicesSupportedCalling:%s}",
		r.LocalDetailCalling, r.ProposedMaxServOutstandingCalling, r.ProposedMaxServOutstandingCalled,
		r.ProposedDataStructureNestingLevel, r.ProposedVersionNumber,
		joinBits(r.ProposedParameterCBB), joinBits(r.ServicesSupportedCalling))
}

// Bytes кодирует InitiateRequest в BER
func (r *InitiateRequest) Bytes() []byte {
	return initiateNode(uint32(PDUInitiateRequest), initiateParams{
		localDetail:    r.LocalDetailCalling,
		maxCalling:     r.ProposedMaxServOutstandingCalling,
		maxCalled:      r.ProposedMaxServOutstandingCalled,
		nestingLevel:   r.ProposedDataStructureNestingLevel,
		version:        r.ProposedVersionNumber,
		parameterCBB:   r.ProposedParameterCBB,
		servicesBitmap: r.ServicesSupportedCalling,
	}).Encode()
}

// ParseInitiateRequest декодирует MMS Initiate Request PDU
func ParseInitiateRequest(buffer []byte) (*InitiateRequest, error) {
	p, err := parseInitiate(buffer, uint32(PDUInitiateRequest))
	if err != nil {
		return nil, err
	}
	return &InitiateRequest{
		LocalDetailCalling:                p.localDetail,
		ProposedMaxServOutstandingCalling: p.maxCalling,
		ProposedMaxServOutstandingCalled:  p.maxCalled,
		ProposedDataStructureNestingLevel: p.nestingLevel,
		ProposedVersionNumber:             p.version,
		ProposedParameterCBB:              p.parameterCBB,
		ServicesSupportedCalling:          p.servicesBitmap,
	}, nil
}

// InitiateResponse содержит параметры из MMS Initiate Response PDU
type InitiateResponse struct {
	// LocalDetailCalled - максимальный размер PDU, согласованный сервером
	LocalDetailCalled                   uint32
	NegotiatedMaxServOutstandingCalling uint32
	NegotiatedMaxServOutstandingCalled  uint32
	NegotiatedDataStructureNestingLevel uint32
	NegotiatedVersionNumber             uint32
	NegotiatedParameterCBB              []ParameterCBBBit
	ServicesSupportedCalled             []ServiceSupportedBit
}

// NegotiateInitiate формирует ответ сервера на запрос: размеры и счётчики
// ограничиваются возможностями сервера, параметры и услуги берутся серверные
func NegotiateInitiate(request *InitiateRequest, maxPduSize uint32, services []ServiceSupportedBit) *InitiateResponse {
	response := &InitiateResponse{
		LocalDetailCalled:                   maxPduSize,
		NegotiatedMaxServOutstandingCalling: min(request.ProposedMaxServOutstandingCalling, DefaultMaxServOutstanding),
		NegotiatedMaxServOutstandingCalled:  min(request.ProposedMaxServOutstandingCalled, DefaultMaxServOutstanding),
		NegotiatedDataStructureNestingLevel: DefaultDataStructureNestingLevel,
		NegotiatedVersionNumber:             1,
		NegotiatedParameterCBB:              DefaultParameterCBB,
		ServicesSupportedCalled:             services,
	}
	if request.LocalDetailCalling > 0 && request.LocalDetailCalling < maxPduSize {
		response.LocalDetailCalled = request.LocalDetailCalling
	}
	if request.ProposedDataStructureNestingLevel > 0 && request.ProposedDataStructureNestingLevel < DefaultDataStructureNestingLevel {
		response.NegotiatedDataStructureNestingLevel = request.ProposedDataStructureNestingLevel
	}
	return response
}

func (r *InitiateResponse) String() string {
	return fmt.Sprintf("InitiateResponse{LocalDetailCalled:%d NegotiatedMaxServOutstandingCalling:%d NegotiatedMaxServOutstandingCalled:%d NegotiatedDataStructureNestingLevel:%d NegotiatedVersionNumber:%d NegotiatedParameterCBB:%s ServicesSupportedCalled:%s}",
		r.LocalDetailCalled, r.NegotiatedMaxServOutstandingCalling, r.NegotiatedMaxServOutstandingCalled,
		r.NegotiatedDataStructureNestingLevel, r.NegotiatedVersionNumber,
		joinBits(r.NegotiatedParameterCBB), joinBits(r.ServicesSupportedCalled))
}

// Bytes кодирует InitiateResponse в BER
func (r *InitiateResponse) Bytes() []byte {
	return initiateNode(uint32(PDUInitiateResponse), initiateParams{
		localDetail:    r.LocalDetailCalled,
		maxCalling:     r.NegotiatedMaxServOutstandingCalling,
		maxCalled:      r.NegotiatedMaxServOutstandingCalled,
		nestingLevel:   r.NegotiatedDataStructureNestingLevel,
		version:        r.NegotiatedVersionNumber,
		parameterCBB:   r.NegotiatedParameterCBB,
		servicesBitmap: r.ServicesSupportedCalled,
	}).Encode()
}

// ParseInitiateResponse парсит BER-кодированный MMS Initiate Response PDU
func ParseInitiateResponse(buffer []byte) (*InitiateResponse, error) {
	p, err := parseInitiate(buffer, uint32(PDUInitiateResponse))
	if err != nil {
		return nil, err
	}
	return &InitiateResponse{
		LocalDetailCalled:                   p.localDetail,
		NegotiatedMaxServOutstandingCalling: p.maxCalling,
		NegotiatedMaxServOutstandingCalled:  p.maxCalled,
		NegotiatedDataStructureNestingLevel: p.nestingLevel,
		NegotiatedVersionNumber:             p.version,
		NegotiatedParameterCBB:              p.parameterCBB,
		ServicesSupportedCalled:             p.servicesBitmap,
	}, nil
}

// initiateParams общая часть запроса и ответа: у обоих PDU одинаковые теги
type initiateParams struct {
	localDetail    uint32
	maxCalling     uint32
	maxCalled      uint32
	nestingLevel   uint32
	version        uint32
	parameterCBB   []ParameterCBBBit
	servicesBitmap []ServiceSupportedBit
}

func initiateNode(tag uint32, p initiateParams) *ber.Node {
	pdu := ber.Constructed(tag)
	if p.localDetail > 0 {
		pdu.Add(ber.Unsigned(0x80, uint64(p.localDetail)))
	}
	pdu.Add(
		ber.Unsigned(0x81, uint64(p.maxCalling)),
		ber.Unsigned(0x82, uint64(p.maxCalled)),
	)
	if p.nestingLevel > 0 {
		pdu.Add(ber.Unsigned(0x83, uint64(p.nestingLevel)))
	}
	pdu.Add(ber.Constructed(0xa4,
		ber.Unsigned(0x80, uint64(p.version)),
		ber.Bits(0x81, parameterCBBBits, ber.EncodeBitmaskFromOffsets(p.parameterCBB, (parameterCBBBits+7)/8)),
		ber.Bits(0x82, servicesSupportedBits, ber.EncodeBitmaskFromOffsets(p.servicesBitmap, (servicesSupportedBits+7)/8)),
	))
	return pdu
}

func parseInitiate(buffer []byte, tag uint32) (initiateParams, error) {
	var p initiateParams

	if len(buffer) == 0 {
		return p, fmt.Errorf("%w: empty buffer", ErrInvalidPDU)
	}

	pdu, _, err := ber.ParseTLV(buffer, 0, len(buffer))
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}
	if pdu.Tag != tag {
		return p, fmt.Errorf("%w: expected 0x%02x, got 0x%02x", ErrUnexpectedTag, tag, pdu.Tag)
	}

	fields, err := pdu.Children()
	if err != nil {
		return p, fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	var hasDetail bool
	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			p.localDetail = field.Uint()
		case 0x81:
			p.maxCalling = field.Uint()
		case 0x82:
			p.maxCalled = field.Uint()
		case 0x83:
			p.nestingLevel = field.Uint()
		case 0xa4:
			if err := p.parseDetail(field); err != nil {
				return p, err
			}
			hasDetail = true
		}
	}

	if !hasDetail {
		return p, fmt.Errorf("%w: initiate PDU without detail", ErrInvalidPDU)
	}
	return p, nil
}

func (p *initiateParams) parseDetail(detail ber.TLV) error {
	fields, err := detail.Children()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPDU, err)
	}

	for _, field := range fields {
		switch field.Tag {
		case 0x80:
			p.version = field.Uint()
		case 0x81:
			if len(field.Value) > 0 {
				p.parameterCBB = limitBits(ber.DecodeBitmaskOffsets[ParameterCBBBit](field.Value[1:]), parameterCBBBits)
			}
		case 0x82:
			if len(field.Value) > 0 {
				p.servicesBitmap = limitBits(ber.DecodeBitmaskOffsets[ServiceSupportedBit](field.Value[1:]), servicesSupportedBits)
			}
		}
	}
	return nil
}

// limitBits отбрасывает биты заполнения
func limitBits[T ~uint](bits []T, size int) []T {
	result := bits[:0]
	for _, b := range bits {
		if int(b) < size {
			result = append(result, b)
		}
	}
	return result
}

func joinBits[T fmt.Stringer](bits []T) string {
	names := make([]string, len(bits))
	for i, bit := range bits {
		names[i] = bit.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Supports сообщает, заявлена ли услуга в ответе
func (r *InitiateResponse) Supports(service ServiceSupportedBit) bool {
	for _, s := range r.ServicesSupportedCalled {
		if s == service {
			return true
		}
	}
	return false
}
