package model

import (
	"fmt"
	"strconv"
	"strings"
)

// AttributeType базовый тип атрибута данных (IEC 61850-7-2)
type AttributeType int

const (
	Boolean AttributeType = iota
	Int8
	Int16
	Int32
	Int64
	Int128
	Int8U
	Int16U
	Int24U
	Int32U
	Float32
	Float64
	Enumerated
	OctetString64
	OctetString6
	OctetString8
	VisibleString32
	VisibleString64
	VisibleString65
	VisibleString129
	VisibleString255
	UnicodeString255
	Timestamp
	QualityType
	Check
	CodedEnum
	GenericBitString
	Constructed
	EntryTime
	PhyComAddr
)

var attributeTypeNames = [...]string{
	Boolean:          "BOOLEAN",
	Int8:             "INT8",
	Int16:            "INT16",
	Int32:            "INT32",
	Int64:            "INT64",
	Int128:           "INT128",
	Int8U:            "INT8U",
	Int16U:           "INT16U",
	Int24U:           "INT24U",
	Int32U:           "INT32U",
	Float32:          "FLOAT32",
	Float64:          "FLOAT64",
	Enumerated:       "ENUMERATED",
	OctetString64:    "OCTET_STRING_64",
	OctetString6:     "OCTET_STRING_6",
	OctetString8:     "OCTET_STRING_8",
	VisibleString32:  "VISIBLE_STRING_32",
	VisibleString64:  "VISIBLE_STRING_64",
	VisibleString65:  "VISIBLE_STRING_65",
	VisibleString129: "VISIBLE_STRING_129",
	VisibleString255: "VISIBLE_STRING_255",
	UnicodeString255: "UNICODE_STRING_255",
	Timestamp:        "TIMESTAMP",
	QualityType:      "QUALITY",
	Check:            "CHECK",
	CodedEnum:        "CODEDENUM",
	GenericBitString: "GENERIC_BITSTRING",
	Constructed:      "CONSTRUCTED",
	EntryTime:        "ENTRY_TIME",
	PhyComAddr:       "PHYCOMADDR",
}

func (t AttributeType) String() string {
	if t >= 0 && int(t) < len(attributeTypeNames) {
		return attributeTypeNames[t]
	}
	return fmt.Sprintf("AttributeType(%d)", int(t))
}

func (t AttributeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *AttributeType) UnmarshalText(text []byte) error {
	name := strings.ToUpper(string(text))
	for i, n := range attributeTypeNames {
		if n == name {
			*t = AttributeType(i)
			return nil
		}
	}
	return fmt.Errorf("%w: attribute type %q", ErrInvalidModel, text)
}

// TriggerOptions условия включения атрибута в отчёт
type TriggerOptions uint8

const (
	TriggerDataChanged    TriggerOptions = 1
	TriggerQualityChanged TriggerOptions = 2
	TriggerDataUpdate     TriggerOptions = 4
	TriggerIntegrity      TriggerOptions = 8
	TriggerGI             TriggerOptions = 16

	TriggerNone TriggerOptions = 0
)

var triggerNames = []flagName{
	{uint32(TriggerDataChanged), "dchg"},
	{uint32(TriggerQualityChanged), "qchg"},
	{uint32(TriggerDataUpdate), "dupd"},
	{uint32(TriggerIntegrity), "period"},
	{uint32(TriggerGI), "gi"},
}

func (t TriggerOptions) String() string {
	return formatFlags(uint32(t), triggerNames)
}

func (t TriggerOptions) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText принимает "dchg|qchg" или число
func (t *TriggerOptions) UnmarshalText(text []byte) error {
	v, err := parseFlags(string(text), triggerNames)
	*t = TriggerOptions(v)
	return err
}

// OptionFields необязательные поля отчёта (OptFlds)
type OptionFields uint16

const (
	OptSequenceNumber     OptionFields = 1
	OptReportTimestamp    OptionFields = 2
	OptReasonForInclusion OptionFields = 4
	OptDataSet            OptionFields = 8
	OptDataReference      OptionFields = 16
	OptBufferOverflow     OptionFields = 32
	OptEntryID            OptionFields = 64
	OptConfRevision       OptionFields = 128
	OptSegmentation       OptionFields = 256
)

var optionNames = []flagName{
	{uint32(OptSequenceNumber), "seqNum"},
	{uint32(OptReportTimestamp), "timeStamp"},
	{uint32(OptReasonForInclusion), "reasonCode"},
	{uint32(OptDataSet), "dataSet"},
	{uint32(OptDataReference), "dataRef"},
	{uint32(OptBufferOverflow), "bufOvfl"},
	{uint32(OptEntryID), "entryID"},
	{uint32(OptConfRevision), "configRef"},
	{uint32(OptSegmentation), "segmentation"},
}

func (o OptionFields) String() string {
	return formatFlags(uint32(o), optionNames)
}

func (o OptionFields) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText принимает "seqNum|dataSet" или число
func (o *OptionFields) UnmarshalText(text []byte) error {
	v, err := parseFlags(string(text), optionNames)
	*o = OptionFields(v)
	return err
}

// ControlModel модель управления ctlModel
type ControlModel int

const (
	StatusOnly ControlModel = iota
	DirectNormal
	SboNormal
	DirectEnhanced
	SboEnhanced
)

var controlModelNames = [...]string{
	StatusOnly:     "status-only",
	DirectNormal:   "direct-with-normal-security",
	SboNormal:      "sbo-with-normal-security",
	DirectEnhanced: "direct-with-enhanced-security",
	SboEnhanced:    "sbo-with-enhanced-security",
}

func (m ControlModel) String() string {
	if m >= 0 && int(m) < len(controlModelNames) {
		return controlModelNames[m]
	}
	return fmt.Sprintf("ControlModel(%d)", int(m))
}

// IsSBO сообщает, требует ли модель выбора перед управлением
func (m ControlModel) IsSBO() bool {
	return m == SboNormal || m == SboEnhanced
}

// IsEnhanced сообщает, посылается ли CommandTermination
func (m ControlModel) IsEnhanced() bool {
	return m == DirectEnhanced || m == SboEnhanced
}

func (m ControlModel) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText принимает имя модели, короткое имя ("sbo-normal") или число
func (m *ControlModel) UnmarshalText(text []byte) error {
	s := string(text)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < len(controlModelNames) {
		*m = ControlModel(n)
		return nil
	}
	for i, name := range controlModelNames {
		if s == name || s == strings.TrimSuffix(strings.Replace(name, "-with-", "-", 1), "-security") {
			*m = ControlModel(i)
			return nil
		}
	}
	return fmt.Errorf("%w: control model %q", ErrInvalidModel, text)
}

// CDCOptions необязательные атрибуты шаблонов CDC
type CDCOptions uint32

const (
	// CDCOptionOrigin добавляет origin и ctlNum к атрибутам состояния
	CDCOptionOrigin CDCOptions = 1 << iota
	// CDCOptionSubstitution добавляет subEna, subVal, subQ, subID
	CDCOptionSubstitution
	// CDCOptionBlocking добавляет blkEna
	CDCOptionBlocking
	// CDCOptionDescription добавляет d
	CDCOptionDescription
	// CDCOptionTimeActivated добавляет operTm в Oper
	CDCOptionTimeActivated
	// CDCOptionCancel добавляет Cancel
	CDCOptionCancel
	// CDCOptionIntegerMagnitude использует mag.i вместо mag.f
	CDCOptionIntegerMagnitude
	// CDCOptionSboTimeout добавляет sboTimeout и sboClass
	CDCOptionSboTimeout
)

var cdcOptionNames = []flagName{
	{uint32(CDCOptionOrigin), "origin"},
	{uint32(CDCOptionSubstitution), "subst"},
	{uint32(CDCOptionBlocking), "blkEna"},
	{uint32(CDCOptionDescription), "d"},
	{uint32(CDCOptionTimeActivated), "operTm"},
	{uint32(CDCOptionCancel), "cancel"},
	{uint32(CDCOptionIntegerMagnitude), "integer"},
	{uint32(CDCOptionSboTimeout), "sboTimeout"},
}

func (o CDCOptions) String() string {
	return formatFlags(uint32(o), cdcOptionNames)
}

func (o CDCOptions) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *CDCOptions) UnmarshalText(text []byte) error {
	v, err := parseFlags(string(text), cdcOptionNames)
	*o = CDCOptions(v)
	return err
}

type flagName struct {
	flag uint32
	name string
}

func formatFlags(v uint32, names []flagName) string {
	var parts []string
	for _, f := range names {
		if v&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

func parseFlags(s string, names []flagName) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return uint32(n), nil
	}

	var v uint32
next:
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		for _, f := range names {
			if strings.EqualFold(f.name, part) {
				v |= f.flag
				continue next
			}
		}
		return 0, fmt.Errorf("%w: unknown flag %q", ErrInvalidModel, part)
	}
	return v, nil
}
