package server

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// ReportListName имя vmd-specific списка, которым передаются отчёты
const ReportListName = "RPT"

// reportEntry содержимое отчёта без полей заголовка
type reportEntry struct {
	timeOfEntry time.Time
	inclusion   *variant.Variant
	values      []*variant.Variant
	reasons     []*variant.Variant
}

func newReportEntry(timeOfEntry time.Time, size int) *reportEntry {
	return &reportEntry{
		timeOfEntry: timeOfEntry,
		inclusion:   variant.NewBitStringVariant(size, nil),
	}
}

func (e *reportEntry) add(index int, value *variant.Variant, reason model.TriggerOptions) {
	e.inclusion.SetBit(index, true)
	e.values = append(e.values, value.Clone())

	r := variant.NewBitStringVariant(6, nil)
	r.SetBitStringUint(reason.Bits())
	e.reasons = append(e.reasons, r)
}

func (e *reportEntry) encode() []byte {
	return mms.EncodeData(variant.NewStructureVariant(
		e.inclusion,
		variant.NewArrayVariant(e.values...),
		variant.NewArrayVariant(e.reasons...),
	))
}

func decodeReportEntry(data []byte, timeOfEntry time.Time) (*reportEntry, error) {
	v, err := mms.ParseData(data)
	if err != nil {
		return nil, err
	}
	if v.Type() != variant.Structure || v.Len() != 3 {
		return nil, fmt.Errorf("unexpected buffered entry %s", v)
	}
	return &reportEntry{
		timeOfEntry: timeOfEntry,
		inclusion:   v.Element(0),
		values:      v.Element(1).Elements(),
		reasons:     v.Element(2).Elements(),
	}, nil
}

// ReportControl блок управления отчётами. Значения атрибутов RCB хранятся
// в кэше сервера, состояние защищено mu внутри блокировки модели.
//
// Изменения элементов набора данных копируются в теневые значения и
// отправляются по истечении BufTm. BRCB помещает отчёты в ReportBuffer
// и передаёт по одной записи за обработку; после отключения клиента
// буферизация продолжается до смены набора данных или опций.
type ReportControl struct {
	server   *Server
	rcb      *model.ReportControlBlock
	domain   string
	itemID   string
	buffered bool
	log      logger.Logger

	mu    sync.Mutex
	value *variant.Variant
	spec  *mms.TypeSpecification

	enabled    bool
	buffering  bool
	reserved   bool
	owner      *mms.ServerConnection
	resvExpiry time.Time

	dataSet *dataSet
	trgOps  model.TriggerOptions
	bufTm   time.Duration
	intgPd  time.Duration

	inclusion     []model.TriggerOptions
	shadow        []*variant.Variant
	triggered     bool
	timeOfEntry   time.Time
	reportTime    time.Time
	nextIntegrity time.Time
	gi            bool

	sqNum  uint32
	outbox [][]*variant.Variant
	buffer *ReportBuffer
}

func newReportControl(s *Server, rcb *model.ReportControlBlock) (*ReportControl, error) {
	domainID := rcb.Node().Device().Name
	itemID := rcb.ItemID()

	value := s.mms.GetValueFromCache(domainID, itemID)
	var spec *mms.TypeSpecification
	if domain := s.mms.Device().Domain(domainID); domain != nil {
		spec = domain.Variable(itemID)
	}
	if value == nil || spec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReference, rcb.Reference())
	}

	rc := &ReportControl{
		server:   s,
		rcb:      rcb,
		domain:   domainID,
		itemID:   itemID,
		buffered: rcb.Buffered,
		log:      s.log,
		value:    value,
		spec:     spec,
	}
	if rcb.Buffered {
		size := rcb.BufferSize
		if size <= 0 {
			size = model.DefaultReportBufferSize
		}
		rc.buffer = NewReportBuffer(size)
	}
	return rc, nil
}

// Reference возвращает ссылку на RCB
func (rc *ReportControl) Reference() string {
	return rc.rcb.Reference()
}

// Enabled сообщает, включён ли RCB клиентом
func (rc *ReportControl) Enabled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.enabled
}

// Owner возвращает соединение, включившее или зарезервировавшее RCB
func (rc *ReportControl) Owner() *mms.ServerConnection {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.owner
}

// BufferedEntries возвращает количество записей буфера BRCB
func (rc *ReportControl) BufferedEntries() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.buffer == nil {
		return 0
	}
	return rc.buffer.Count()
}

func (rc *ReportControl) element(name string) *variant.Variant {
	return rc.value.Element(rc.spec.ComponentIndex(name))
}

func (rc *ReportControl) schedule(at time.Time) {
	rc.server.scheduler.Schedule(rc, at)
}

func (rc *ReportControl) active() bool {
	return rc.enabled || rc.buffering
}

func (rc *ReportControl) integrityEnabled() bool {
	return rc.trgOps&model.TriggerIntegrity != 0 && rc.intgPd > 0
}

// write обрабатывает запись элемента RCB клиентом
func (rc *ReportControl) write(conn *mms.ServerConnection, element string, value *variant.Variant, now time.Time) mms.DataAccessError {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	switch element {
	case "RptEna":
		if value.Bool() {
			return rc.enable(conn, now)
		}
		return rc.disable(conn)

	case "GI":
		if !rc.enabled || rc.owner != conn {
			return mms.TemporarilyUnavailable
		}
		if value.Bool() && rc.trgOps&model.TriggerGI != 0 {
			rc.gi = true
			rc.element("GI").SetBool(true)
			rc.schedule(now)
		}
		return mms.DataAccessSuccess
	}

	if rc.enabled || (rc.reserved && rc.owner != conn) {
		return mms.TemporarilyUnavailable
	}

	target := rc.element(element)
	if target == nil {
		return mms.ObjectValueInvalid
	}

	switch element {
	case "Resv":
		if value.Bool() {
			rc.reserve(conn)
		} else {
			rc.release()
		}
		return mms.DataAccessSuccess

	case "ResvTms":
		switch n := value.Int64(); {
		case n > 0:
			rc.reserve(conn)
		case n == 0:
			rc.release()
		}

	case "DatSet":
		if value.Text() != target.Text() {
			if value.Text() != "" {
				if _, ok := rc.server.resolveDataSet(conn, value.Text()); !ok {
					return mms.ObjectValueInvalid
				}
			}
			rc.stopBuffering()
			confRev := rc.element("ConfRev")
			confRev.SetInt(int64(confRev.Uint64() + 1))
		}

	case "TrgOps", "BufTm", "IntgPd":
		rc.stopBuffering()

	case "PurgeBuf":
		if value.Bool() {
			rc.purge()
		}
		return mms.DataAccessSuccess

	case "EntryID":
		if id := value.Bytes(); !bytes.Equal(id, make([]byte, len(id))) {
			if !rc.buffer.SetNextAfter(id) {
				return mms.ObjectValueInvalid
			}
		} else {
			rc.buffer.ResetTransmission()
		}

	case "SqNum", "ConfRev", "Owner", "TimeOfEntry":
		return mms.ObjectAccessDenied
	}

	if err := target.Update(value); err != nil {
		return mms.TypeInconsistent
	}
	return mms.DataAccessSuccess
}

func (rc *ReportControl) enable(conn *mms.ServerConnection, now time.Time) mms.DataAccessError {
	if rc.enabled || (rc.reserved && rc.owner != conn) {
		return mms.TemporarilyUnavailable
	}

	if !rc.buffering {
		ds, ok := rc.server.resolveDataSet(conn, rc.element("DatSet").Text())
		if !ok {
			return mms.ObjectAttributeInconsistent
		}
		rc.dataSet = ds
		rc.inclusion = make([]model.TriggerOptions, len(ds.members))
		rc.shadow = make([]*variant.Variant, len(ds.members))
		for i, m := range ds.members {
			rc.shadow[i] = m.value.Clone()
		}
		rc.trgOps = model.TriggerOptionsFromBits(rc.element("TrgOps").BitStringUint())
		rc.bufTm = time.Duration(rc.element("BufTm").Uint64()) * time.Millisecond
		rc.intgPd = time.Duration(rc.element("IntgPd").Uint64()) * time.Millisecond
		rc.server.observe(rc, ds.members)
	}

	rc.enabled = true
	rc.buffering = rc.buffered
	rc.setOwner(conn)
	if !rc.buffered {
		rc.reserved = true
		rc.element("Resv").SetBool(true)
		rc.sqNum = 0
		rc.element("SqNum").SetInt(0)
	}
	rc.element("RptEna").SetBool(true)

	if rc.integrityEnabled() {
		rc.nextIntegrity = now.Add(rc.intgPd)
		rc.schedule(rc.nextIntegrity)
	}
	if rc.buffered && rc.buffer.Pending() > 0 {
		rc.schedule(now)
	}

	rc.log.Info("%s enabled by %s", rc.rcb.Reference(), conn.ID())
	return mms.DataAccessSuccess
}

func (rc *ReportControl) disable(conn *mms.ServerConnection) mms.DataAccessError {
	if (rc.enabled || rc.reserved) && rc.owner != conn {
		return mms.TemporarilyUnavailable
	}

	if rc.enabled {
		rc.log.Info("%s disabled by %s", rc.rcb.Reference(), conn.ID())
	}
	rc.enabled = false
	rc.element("RptEna").SetBool(false)
	rc.release()
	if !rc.buffered {
		rc.stopBuffering()
	}
	return mms.DataAccessSuccess
}

func (rc *ReportControl) reserve(conn *mms.ServerConnection) {
	rc.reserved = true
	rc.resvExpiry = time.Time{}
	rc.setOwner(conn)
	if e := rc.element("Resv"); e != nil {
		e.SetBool(true)
	}
}

func (rc *ReportControl) release() {
	rc.reserved = false
	rc.resvExpiry = time.Time{}
	rc.setOwner(nil)
	if e := rc.element("Resv"); e != nil {
		e.SetBool(false)
	}
	if e := rc.element("ResvTms"); e != nil {
		e.SetInt(0)
	}
}

func (rc *ReportControl) setOwner(conn *mms.ServerConnection) {
	rc.owner = conn
	var address []byte
	if conn != nil {
		address = ownerAddress(conn.PeerAddress())
	}
	rc.element("Owner").Update(variant.NewOctetStringVariant(address))
}

func ownerAddress(peer string) []byte {
	host := peer
	if h, _, err := net.SplitHostPort(peer); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// stopBuffering отвязывает набор данных и очищает накопленные отчёты
func (rc *ReportControl) stopBuffering() {
	if rc.dataSet != nil {
		rc.server.unobserve(rc, rc.dataSet.members)
		rc.dataSet = nil
	}
	rc.buffering = false
	rc.inclusion = nil
	rc.shadow = nil
	rc.purge()
}

func (rc *ReportControl) purge() {
	if rc.buffer != nil {
		rc.buffer.Purge()
	}
	for i := range rc.inclusion {
		rc.inclusion[i] = model.TriggerNone
	}
	rc.triggered = false
	rc.outbox = nil
}

// connectionClosed отключает RCB клиента. Резервирование BRCB с ResvTms
// сохраняется ResvTms секунд.
func (rc *ReportControl) connectionClosed(conn *mms.ServerConnection, now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.dataSet != nil && rc.dataSet.owner == conn {
		rc.enabled = false
		rc.element("RptEna").SetBool(false)
		rc.stopBuffering()
	}
	if rc.owner != conn {
		return
	}

	if rc.enabled {
		rc.log.Info("%s disabled on connection close", rc.rcb.Reference())
		rc.enabled = false
		rc.element("RptEna").SetBool(false)
		if !rc.buffered {
			rc.stopBuffering()
		}
	}

	if resvTms := rc.element("ResvTms"); rc.reserved && resvTms != nil && resvTms.Int64() > 0 {
		rc.owner = nil
		rc.resvExpiry = now.Add(time.Duration(resvTms.Int64()) * time.Second)
		rc.schedule(rc.resvExpiry)
		return
	}
	rc.release()
}

// usesDataSet сообщает, связан ли активный RCB с набором данных ref
func (rc *ReportControl) usesDataSet(conn *mms.ServerConnection, ref string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.active() || rc.dataSet == nil || rc.dataSet.reference != ref {
		return false
	}
	return rc.dataSet.owner == nil || rc.dataSet.owner == conn
}

// valueUpdated отмечает изменение элемента набора данных. Повторное
// изменение элемента до отправки сначала отправляет накопленный отчёт.
func (rc *ReportControl) valueUpdated(index int, reason model.TriggerOptions, now time.Time) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.active() || index >= len(rc.inclusion) {
		return
	}
	reason &= rc.trgOps
	if reason == model.TriggerNone {
		return
	}

	if rc.inclusion[index] != model.TriggerNone {
		rc.flush()
	}

	rc.inclusion[index] = reason
	rc.shadow[index] = rc.dataSet.members[index].value.Clone()

	if !rc.triggered {
		rc.triggered = true
		rc.timeOfEntry = now
		rc.reportTime = now.Add(rc.bufTm)
	}
	rc.schedule(rc.reportTime)
}

// flush формирует отчёт из накопленных изменений
func (rc *ReportControl) flush() {
	if !rc.triggered {
		return
	}

	entry := newReportEntry(rc.timeOfEntry, len(rc.inclusion))
	for i, reason := range rc.inclusion {
		if reason != model.TriggerNone {
			entry.add(i, rc.shadow[i], reason)
			rc.inclusion[i] = model.TriggerNone
		}
	}
	rc.triggered = false
	rc.emit(entry)
}

// snapshot формирует отчёт GI или integrity со всеми элементами набора
func (rc *ReportControl) snapshot(now time.Time, reason model.TriggerOptions) *reportEntry {
	entry := newReportEntry(now, len(rc.dataSet.members))
	for i, m := range rc.dataSet.members {
		entry.add(i, m.value, reason)
		rc.inclusion[i] = model.TriggerNone
	}
	rc.triggered = false
	return entry
}

func (rc *ReportControl) emit(entry *reportEntry) {
	if rc.buffered {
		data := entry.encode()
		if _, ok := rc.buffer.Enqueue(data, entry.timeOfEntry); !ok {
			rc.log.Warning("%s: report entry of %d bytes does not fit into buffer of %d bytes",
				rc.rcb.Reference(), len(data), rc.buffer.Size())
		}
		return
	}
	if rc.enabled {
		rc.outbox = append(rc.outbox, rc.report(entry, nil, false))
	}
}

// report собирает значения information report в порядке: RptID, OptFlds,
// SqNum, TimeOfEntry, DatSet, BufOvfl, EntryID, ConfRev, inclusion,
// ссылки на данные, значения, причины включения
func (rc *ReportControl) report(entry *reportEntry, entryID []byte, overflow bool) []*variant.Variant {
	opts := model.OptionFieldsFromBits(rc.element("OptFlds").BitStringUint())
	opts &^= model.OptSegmentation
	if !rc.buffered {
		opts &^= model.OptBufferOverflow | model.OptEntryID
	}

	optFlds := variant.NewBitStringVariant(10, nil)
	optFlds.SetBitStringUint(opts.Bits())

	rptID := rc.element("RptID").Text()
	if rptID == "" {
		rptID = rc.domain + "/" + rc.itemID
	}

	values := []*variant.Variant{variant.NewVisibleStringVariant(rptID), optFlds}
	if opts&model.OptSequenceNumber != 0 {
		values = append(values, variant.NewUnsignedVariant(uint64(rc.sqNum)))
	}
	if opts&model.OptReportTimestamp != 0 {
		values = append(values, variant.NewBinaryTimeVariant(entry.timeOfEntry, true))
	}
	if opts&model.OptDataSet != 0 {
		values = append(values, rc.element("DatSet").Clone())
	}
	if opts&model.OptBufferOverflow != 0 {
		values = append(values, variant.NewBoolVariant(overflow))
	}
	if opts&model.OptEntryID != 0 {
		values = append(values, variant.NewOctetStringVariant(entryID))
	}
	if opts&model.OptConfRevision != 0 {
		values = append(values, rc.element("ConfRev").Clone())
	}

	values = append(values, entry.inclusion.Clone())
	if opts&model.OptDataReference != 0 {
		for i, m := range rc.dataSet.members {
			if entry.inclusion.Bit(i) {
				values = append(values, variant.NewVisibleStringVariant(m.reference()))
			}
		}
	}
	values = append(values, entry.values...)
	if opts&model.OptReasonForInclusion != 0 {
		values = append(values, entry.reasons...)
	}

	rc.nextSqNum()
	return values
}

func (rc *ReportControl) nextSqNum() {
	if rc.buffered {
		rc.sqNum = (rc.sqNum + 1) & 0xffff
	} else {
		rc.sqNum = (rc.sqNum + 1) & 0xff
	}
	rc.element("SqNum").SetInt(int64(rc.sqNum))
}

// nextBuffered формирует отчёт из следующей непереданной записи буфера
func (rc *ReportControl) nextBuffered() []*variant.Variant {
	stored, data, ok := rc.buffer.NextToTransmit()
	if !ok {
		return nil
	}
	rc.buffer.MarkTransmitted()

	entry, err := decodeReportEntry(data, stored.TimeOfEntry)
	if err != nil {
		rc.log.Error("%s: %v", rc.rcb.Reference(), err)
		return nil
	}

	overflow := rc.buffer.Overflow()
	rc.buffer.ClearOverflow()
	rc.element("EntryID").Update(variant.NewOctetStringVariant(stored.EntryID))
	rc.element("TimeOfEntry").SetTime(stored.TimeOfEntry)

	return rc.report(entry, stored.EntryID, overflow)
}

// tick обрабатывает GI, integrity и BufTm в этом порядке и передаёт
// готовые отчёты вне блокировок
func (rc *ReportControl) tick(now time.Time) time.Time {
	rc.server.mms.LockModel()
	rc.mu.Lock()

	if rc.reserved && rc.owner == nil && !rc.resvExpiry.IsZero() && !now.Before(rc.resvExpiry) {
		rc.release()
	}

	if rc.active() && rc.dataSet != nil {
		if rc.gi {
			rc.gi = false
			rc.element("GI").SetBool(false)
			rc.emit(rc.snapshot(now, model.TriggerGI))
		}
		if rc.integrityEnabled() && !now.Before(rc.nextIntegrity) {
			rc.nextIntegrity = now.Add(rc.intgPd)
			rc.emit(rc.snapshot(now, model.TriggerIntegrity))
		}
		if rc.triggered && !now.Before(rc.reportTime) {
			rc.flush()
		}
	}

	var reports [][]*variant.Variant
	conn := rc.owner
	if rc.enabled {
		if rc.buffered {
			if report := rc.nextBuffered(); report != nil {
				reports = append(reports, report)
			}
		} else {
			reports = rc.outbox
		}
	}
	rc.outbox = nil
	next := rc.deadline(now)

	rc.mu.Unlock()
	rc.server.mms.UnlockModel()

	for _, report := range reports {
		if err := conn.SendInformationReportVMDSpecific(ReportListName, report); err != nil {
			rc.log.Warning("%s: report to %s: %v", rc.rcb.Reference(), conn.ID(), err)
		}
	}
	return next
}

func (rc *ReportControl) deadline(now time.Time) time.Time {
	var next time.Time
	earliest := func(t time.Time) {
		if !t.IsZero() && (next.IsZero() || t.Before(next)) {
			next = t
		}
	}

	if rc.gi || len(rc.outbox) > 0 || (rc.enabled && rc.buffered && rc.buffer.Pending() > 0) {
		earliest(now)
	}
	if rc.triggered {
		earliest(rc.reportTime)
	}
	if rc.active() && rc.integrityEnabled() {
		earliest(rc.nextIntegrity)
	}
	if rc.reserved && rc.owner == nil {
		earliest(rc.resvExpiry)
	}
	return next
}
