package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// RCBElement маска элементов RCB для SetRCBValues
type RCBElement uint32

const (
	RCBRptID RCBElement = 1 << iota
	RCBRptEna
	RCBResv
	RCBDatSet
	RCBOptFlds
	RCBBufTm
	RCBTrgOps
	RCBIntgPd
	RCBGI
	RCBPurgeBuf
	RCBEntryID
	RCBResvTms
)

// ReportControlBlock значения элементов блока управления отчётами
type ReportControlBlock struct {
	// Reference ссылка вида "LD/LN.RP.name" или "LD/LN.BR.name"
	Reference string
	Buffered  bool

	RptID       string
	RptEna      bool
	Resv        bool
	DatSet      string
	ConfRev     uint32
	OptFlds     model.OptionFields
	BufTm       uint32
	SqNum       uint16
	TrgOps      model.TriggerOptions
	IntgPd      uint32
	GI          bool
	PurgeBuf    bool
	EntryID     []byte
	TimeOfEntry time.Time
	ResvTms     int16
	Owner       []byte
}

var (
	urcbElements = []string{"RptID", "RptEna", "Resv", "DatSet", "ConfRev", "OptFlds",
		"BufTm", "SqNum", "TrgOps", "IntgPd", "GI", "Owner"}
	brcbElements = []string{"RptID", "RptEna", "DatSet", "ConfRev", "OptFlds", "BufTm",
		"SqNum", "TrgOps", "IntgPd", "GI", "PurgeBuf", "EntryID", "TimeOfEntry", "ResvTms", "Owner"}
)

// rcbName переводит ссылку "LD/LN.RP.name" в имя MMS переменной
func rcbName(reference string) (domainID, itemID string, buffered bool, err error) {
	domainID, itemID, ok := strings.Cut(reference, "/")
	itemID = strings.ReplaceAll(itemID, ".", "$")
	parts := strings.Split(itemID, "$")
	if !ok || domainID == "" || len(parts) != 3 {
		return "", "", false, fmt.Errorf("%w: %q", ErrorObjectReferenceInvalid, reference)
	}

	switch model.ParseFunctionalConstraint(parts[1]) {
	case model.FCRP:
	case model.FCBR:
		buffered = true
	default:
		return "", "", false, fmt.Errorf("%w: %q is not a report control block", ErrorObjectReferenceInvalid, reference)
	}
	return domainID, itemID, buffered, nil
}

// GetRCBValues читает все элементы RCB одним запросом
func (c *Connection) GetRCBValues(ctx context.Context, reference string) (*ReportControlBlock, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	domainID, itemID, buffered, err := rcbName(reference)
	if err != nil {
		return nil, err
	}

	value, err := conn.ReadVariable(ctx, domainID, itemID)
	if err != nil {
		return nil, wrap(err)
	}
	if value.Type() == variant.DataAccessError {
		code := mms.DataAccessError(value.AccessError())
		return nil, fmt.Errorf("%w: %s: %w", FromDataAccessError(code), reference, code)
	}

	rcb := &ReportControlBlock{Reference: reference, Buffered: buffered}
	if err := rcb.update(value); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrorUnexpectedValue, reference, err)
	}
	return rcb, nil
}

func (rcb *ReportControlBlock) update(value *variant.Variant) error {
	names := urcbElements
	if rcb.Buffered {
		names = brcbElements
	}
	if value.Type() != variant.Structure || value.Len() < len(names)-2 || value.Len() > len(names) {
		return fmt.Errorf("unexpected structure %s", value.Type())
	}

	for i, element := range value.Elements() {
		if err := rcb.set(names[i], element); err != nil {
			return err
		}
	}
	return nil
}

var errElementType = errors.New("unexpected element type")

var rcbElementTypes = map[string]variant.Type{
	"RptID": variant.VisibleString, "DatSet": variant.VisibleString,
	"RptEna": variant.Boolean, "Resv": variant.Boolean, "GI": variant.Boolean, "PurgeBuf": variant.Boolean,
	"OptFlds": variant.BitString, "TrgOps": variant.BitString,
	"ConfRev": variant.Unsigned, "BufTm": variant.Unsigned, "SqNum": variant.Unsigned, "IntgPd": variant.Unsigned,
	"EntryID": variant.OctetString, "Owner": variant.OctetString,
	"TimeOfEntry": variant.BinaryTime, "ResvTms": variant.Integer,
}

func (rcb *ReportControlBlock) set(name string, v *variant.Variant) error {
	if v.Type() != rcbElementTypes[name] {
		return fmt.Errorf("%w: %s is %s", errElementType, name, v.Type())
	}

	switch name {
	case "RptID":
		rcb.RptID = v.Text()
	case "RptEna":
		rcb.RptEna = v.Bool()
	case "Resv":
		rcb.Resv = v.Bool()
	case "DatSet":
		rcb.DatSet = v.Text()
	case "ConfRev":
		rcb.ConfRev = v.Uint32()
	case "OptFlds":
		rcb.OptFlds = model.OptionFieldsFromBits(v.BitStringUint())
	case "BufTm":
		rcb.BufTm = v.Uint32()
	case "SqNum":
		rcb.SqNum = uint16(v.Uint64())
	case "TrgOps":
		rcb.TrgOps = model.TriggerOptionsFromBits(v.BitStringUint())
	case "IntgPd":
		rcb.IntgPd = v.Uint32()
	case "GI":
		rcb.GI = v.Bool()
	case "PurgeBuf":
		rcb.PurgeBuf = v.Bool()
	case "EntryID":
		rcb.EntryID = append([]byte(nil), v.Bytes()...)
	case "TimeOfEntry":
		rcb.TimeOfEntry = v.Time()
	case "ResvTms":
		rcb.ResvTms = int16(v.Int64())
	case "Owner":
		rcb.Owner = append([]byte(nil), v.Bytes()...)
	}
	return nil
}

// rcbWrite элемент RCB для записи
type rcbWrite struct {
	element RCBElement
	name    string
	value   func(rcb *ReportControlBlock) *variant.Variant
}

// rcbWrites задаёт порядок записи: резервирование до настройки, RptEna и
// GI последними
var rcbWrites = []rcbWrite{
	{RCBResv, "Resv", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewBoolVariant(rcb.Resv) }},
	{RCBResvTms, "ResvTms", func(rcb *ReportControlBlock) *variant.Variant {
		return variant.NewIntegerVariant(int64(rcb.ResvTms))
	}},
	{RCBRptID, "RptID", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewVisibleStringVariant(rcb.RptID) }},
	{RCBDatSet, "DatSet", func(rcb *ReportControlBlock) *variant.Variant {
		return variant.NewVisibleStringVariant(model.DataSetReferenceToMms(rcb.DatSet))
	}},
	{RCBOptFlds, "OptFlds", func(rcb *ReportControlBlock) *variant.Variant {
		v := variant.NewBitStringVariant(10, nil)
		v.SetBitStringUint(rcb.OptFlds.Bits())
		return v
	}},
	{RCBBufTm, "BufTm", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewUnsignedVariant(uint64(rcb.BufTm)) }},
	{RCBTrgOps, "TrgOps", func(rcb *ReportControlBlock) *variant.Variant {
		v := variant.NewBitStringVariant(6, nil)
		v.SetBitStringUint(rcb.TrgOps.Bits())
		return v
	}},
	{RCBIntgPd, "IntgPd", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewUnsignedVariant(uint64(rcb.IntgPd)) }},
	{RCBPurgeBuf, "PurgeBuf", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewBoolVariant(rcb.PurgeBuf) }},
	{RCBEntryID, "EntryID", func(rcb *ReportControlBlock) *variant.Variant {
		id := make([]byte, 8)
		copy(id, rcb.EntryID)
		return variant.NewOctetStringVariant(id)
	}},
	{RCBRptEna, "RptEna", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewBoolVariant(rcb.RptEna) }},
	{RCBGI, "GI", func(rcb *ReportControlBlock) *variant.Variant { return variant.NewBoolVariant(rcb.GI) }},
}

// SetRCBValues записывает элементы RCB, отмеченные в mask. При
// singleRequest все элементы передаются одним запросом записи, иначе
// каждый отдельным, и запись прекращается на первой ошибке.
func (c *Connection) SetRCBValues(ctx context.Context, rcb *ReportControlBlock, mask RCBElement, singleRequest bool) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	domainID, itemID, buffered, err := rcbName(rcb.Reference)
	if err != nil {
		return err
	}

	var (
		itemIDs []string
		values  []*variant.Variant
	)
	for _, w := range rcbWrites {
		if mask&w.element == 0 {
			continue
		}
		switch w.element {
		case RCBResv:
			if buffered {
				return fmt.Errorf("%w: Resv in buffered %s", ErrorInvalidArgument, rcb.Reference)
			}
		case RCBPurgeBuf, RCBEntryID, RCBResvTms:
			if !buffered {
				return fmt.Errorf("%w: %s in unbuffered %s", ErrorInvalidArgument, w.name, rcb.Reference)
			}
		}
		itemIDs = append(itemIDs, itemID+"$"+w.name)
		values = append(values, w.value(rcb))
	}
	if len(itemIDs) == 0 {
		return nil
	}

	if singleRequest {
		results, err := conn.WriteMultipleVariables(ctx, domainID, itemIDs, values)
		if err != nil {
			return wrap(err)
		}
		for i, result := range results {
			if result != mms.DataAccessSuccess {
				return fmt.Errorf("%w: %s: %w", FromDataAccessError(result), itemIDs[i], result)
			}
		}
		return nil
	}

	for i := range itemIDs {
		if err := conn.WriteVariable(ctx, domainID, itemIDs[i], values[i]); err != nil {
			return fmt.Errorf("%s: %w", itemIDs[i], wrap(err))
		}
	}
	return nil
}
