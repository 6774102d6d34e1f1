package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

const reportListName = "RPT"

// ReasonForInclusion причина включения элемента набора данных в отчёт
type ReasonForInclusion int

const (
	ReasonNotIncluded ReasonForInclusion = iota
	ReasonDataChange
	ReasonQualityChange
	ReasonDataUpdate
	ReasonIntegrity
	ReasonGI
	ReasonUnknown
)

func (r ReasonForInclusion) String() string {
	switch r {
	case ReasonNotIncluded:
		return "not-included"
	case ReasonDataChange:
		return "data-change"
	case ReasonQualityChange:
		return "quality-change"
	case ReasonDataUpdate:
		return "data-update"
	case ReasonIntegrity:
		return "integrity"
	case ReasonGI:
		return "GI"
	}
	return "unknown"
}

func reasonFromBits(bits uint32) ReasonForInclusion {
	trgOps := model.TriggerOptionsFromBits(bits)
	switch {
	case trgOps&model.TriggerDataChanged != 0:
		return ReasonDataChange
	case trgOps&model.TriggerQualityChanged != 0:
		return ReasonQualityChange
	case trgOps&model.TriggerDataUpdate != 0:
		return ReasonDataUpdate
	case trgOps&model.TriggerIntegrity != 0:
		return ReasonIntegrity
	case trgOps&model.TriggerGI != 0:
		return ReasonGI
	}
	return ReasonUnknown
}

// Report отчёт, полученный от RCB. Срезы Values, DataReferences и Reasons
// индексируются номером элемента набора данных; для невключённых
// элементов значение nil и причина ReasonNotIncluded.
type Report struct {
	// RcbReference ссылка RCB, для которого установлен обработчик
	RcbReference string
	RptID        string
	OptFlds      model.OptionFields

	SeqNum      uint16
	Timestamp   time.Time
	DataSet     string
	BufOverflow bool
	EntryID     []byte
	ConfRev     uint32

	Values         []*variant.Variant
	DataReferences []string
	Reasons        []ReasonForInclusion
}

// HasSeqNum сообщает, передан ли номер последовательности
func (r *Report) HasSeqNum() bool {
	return r.OptFlds&model.OptSequenceNumber != 0
}

// HasTimestamp сообщает, передано ли время формирования отчёта
func (r *Report) HasTimestamp() bool {
	return r.OptFlds&model.OptReportTimestamp != 0
}

// Included сообщает, включён ли элемент набора данных в отчёт
func (r *Report) Included(index int) bool {
	return index >= 0 && index < len(r.Values) && r.Values[index] != nil
}

// ReportHandler вызывается для каждого отчёта установленного RCB
type ReportHandler func(report *Report)

type reportSubscription struct {
	rcbReference string
	rptID        string
	handler      ReportHandler
}

var errReportFormat = errors.New("malformed report")

// parseReport разбирает значения отчёта в порядке, заданном OptFlds
func parseReport(values []*variant.Variant) (*Report, error) {
	next := func(t variant.Type) (*variant.Variant, error) {
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: missing %s", errReportFormat, t)
		}
		v := values[0]
		values = values[1:]
		if v.Type() != t {
			return nil, fmt.Errorf("%w: %s instead of %s", errReportFormat, v.Type(), t)
		}
		return v, nil
	}

	rptID, err := next(variant.VisibleString)
	if err != nil {
		return nil, err
	}
	optFlds, err := next(variant.BitString)
	if err != nil {
		return nil, err
	}
	report := &Report{RptID: rptID.Text(), OptFlds: model.OptionFieldsFromBits(optFlds.BitStringUint())}
	opts := report.OptFlds

	if opts&model.OptSequenceNumber != 0 {
		v, err := next(variant.Unsigned)
		if err != nil {
			return nil, err
		}
		report.SeqNum = uint16(v.Uint64())
	}
	if opts&model.OptReportTimestamp != 0 {
		v, err := next(variant.BinaryTime)
		if err != nil {
			return nil, err
		}
		report.Timestamp = v.Time()
	}
	if opts&model.OptDataSet != 0 {
		v, err := next(variant.VisibleString)
		if err != nil {
			return nil, err
		}
		report.DataSet = v.Text()
	}
	if opts&model.OptBufferOverflow != 0 {
		v, err := next(variant.Boolean)
		if err != nil {
			return nil, err
		}
		report.BufOverflow = v.Bool()
	}
	if opts&model.OptEntryID != 0 {
		v, err := next(variant.OctetString)
		if err != nil {
			return nil, err
		}
		report.EntryID = append([]byte(nil), v.Bytes()...)
	}
	if opts&model.OptConfRevision != 0 {
		v, err := next(variant.Unsigned)
		if err != nil {
			return nil, err
		}
		report.ConfRev = v.Uint32()
	}
	if opts&model.OptSegmentation != 0 {
		if _, err := next(variant.Unsigned); err != nil {
			return nil, err
		}
		if _, err := next(variant.Boolean); err != nil {
			return nil, err
		}
	}

	inclusion, err := next(variant.BitString)
	if err != nil {
		return nil, err
	}
	size := inclusion.BitSize()
	var included []int
	for i := 0; i < size; i++ {
		if inclusion.Bit(i) {
			included = append(included, i)
		}
	}

	report.Values = make([]*variant.Variant, size)
	report.Reasons = make([]ReasonForInclusion, size)

	if opts&model.OptDataReference != 0 {
		report.DataReferences = make([]string, size)
		for _, i := range included {
			v, err := next(variant.VisibleString)
			if err != nil {
				return nil, err
			}
			report.DataReferences[i] = v.Text()
		}
	}

	if len(values) < len(included) {
		return nil, fmt.Errorf("%w: %d values for %d included elements", errReportFormat, len(values), len(included))
	}
	for _, i := range included {
		report.Values[i] = values[0]
		report.Reasons[i] = ReasonUnknown
		values = values[1:]
	}

	if opts&model.OptReasonForInclusion != 0 {
		for _, i := range included {
			v, err := next(variant.BitString)
			if err != nil {
				return nil, err
			}
			report.Reasons[i] = reasonFromBits(v.BitStringUint())
		}
	}
	return report, nil
}

// InstallReportHandler устанавливает обработчик отчётов RCB. Отчёт
// сопоставляется по RptID; пустой rptID означает идентификатор по
// умолчанию "LD/LN$RP$name". Прежний обработчик RCB заменяется.
func (c *Connection) InstallReportHandler(rcbReference, rptID string, handler ReportHandler) error {
	domainID, itemID, _, err := rcbName(rcbReference)
	if err != nil {
		return err
	}
	if rptID == "" {
		rptID = domainID + "/" + itemID
	}

	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()

	c.removeSubscription(rcbReference)
	c.reports = append(c.reports, &reportSubscription{
		rcbReference: rcbReference,
		rptID:        rptID,
		handler:      handler,
	})
	return nil
}

// UninstallReportHandler удаляет обработчик отчётов RCB
func (c *Connection) UninstallReportHandler(rcbReference string) {
	c.reportsMu.Lock()
	defer c.reportsMu.Unlock()

	c.removeSubscription(rcbReference)
}

func (c *Connection) removeSubscription(rcbReference string) {
	for i, s := range c.reports {
		if s.rcbReference == rcbReference {
			c.reports = append(c.reports[:i], c.reports[i+1:]...)
			return
		}
	}
}

func (c *Connection) handleReport(values []*variant.Variant) {
	report, err := parseReport(values)
	if err != nil {
		c.log.Warning("report: %v", err)
		return
	}

	c.reportsMu.Lock()
	var subscription *reportSubscription
	for _, s := range c.reports {
		if s.rptID == report.RptID {
			subscription = s
			break
		}
	}
	c.reportsMu.Unlock()

	if subscription == nil {
		c.log.Debug("report %s without handler", report.RptID)
		return
	}
	report.RcbReference = subscription.rcbReference
	subscription.handler(report)
}

// EnableReporting проверяет набор данных RCB, задаёт опции запуска, если
// trgOps не пустые, включает RCB и устанавливает обработчик отчётов.
// Пустой dataSet отключает проверку.
func (c *Connection) EnableReporting(ctx context.Context, rcbReference, dataSet string, trgOps model.TriggerOptions, handler ReportHandler) error {
	rcb, err := c.GetRCBValues(ctx, rcbReference)
	if err != nil {
		return err
	}
	if dataSet != "" && rcb.DatSet != model.DataSetReferenceToMms(dataSet) {
		return fmt.Errorf("%w: %s has %q", ErrorDataSetMismatch, rcbReference, rcb.DatSet)
	}

	if err := c.InstallReportHandler(rcbReference, rcb.RptID, handler); err != nil {
		return err
	}

	mask := RCBRptEna
	if trgOps != model.TriggerNone {
		rcb.TrgOps = trgOps
		mask |= RCBTrgOps
	}
	rcb.RptEna = true
	if err := c.SetRCBValues(ctx, rcb, mask, false); err != nil {
		c.UninstallReportHandler(rcbReference)
		return err
	}
	return nil
}

// DisableReporting выключает RCB и удаляет обработчик отчётов
func (c *Connection) DisableReporting(ctx context.Context, rcbReference string) error {
	rcb := &ReportControlBlock{Reference: rcbReference}
	if err := c.SetRCBValues(ctx, rcb, RCBRptEna, false); err != nil {
		return err
	}
	c.UninstallReportHandler(rcbReference)
	return nil
}

// TriggerGI запрашивает общий опрос включённого RCB
func (c *Connection) TriggerGI(ctx context.Context, rcbReference string) error {
	rcb := &ReportControlBlock{Reference: rcbReference, GI: true}
	return c.SetRCBValues(ctx, rcb, RCBGI, false)
}

// ReserveRCB резервирует небуферизованный RCB за соединением
func (c *Connection) ReserveRCB(ctx context.Context, rcbReference string) error {
	rcb := &ReportControlBlock{Reference: rcbReference, Resv: true}
	return c.SetRCBValues(ctx, rcb, RCBResv, false)
}

// ReleaseRCB снимает резервирование небуферизованного RCB
func (c *Connection) ReleaseRCB(ctx context.Context, rcbReference string) error {
	rcb := &ReportControlBlock{Reference: rcbReference}
	return c.SetRCBValues(ctx, rcb, RCBResv, false)
}
