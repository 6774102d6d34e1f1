package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// DefaultSelectTimeout время действия выбора SBO без атрибута sboTimeout
const DefaultSelectTimeout = 15 * time.Second

// LastApplErrorName имя vmd-specific переменной отчёта об ошибке управления
const LastApplErrorName = "LastApplError"

// ControlState состояние объекта управления
type ControlState int

const (
	StateUnselected ControlState = iota
	StateReady
	StateWaitForActivationTime
	StatePerformTest
	StateWaitForExecution
	StateOperate
)

var controlStateNames = [...]string{
	"unselected", "ready", "wait-for-activation-time",
	"perform-test", "wait-for-execution", "operate",
}

func (s ControlState) String() string {
	if s >= 0 && int(s) < len(controlStateNames) {
		return controlStateNames[s]
	}
	return fmt.Sprintf("ControlState(%d)", int(s))
}

// ControlAction параметры команды, передаваемые обработчикам. Обработчик
// может задать AddCause, который попадёт в LastApplError при отказе.
type ControlAction struct {
	object *ControlObject
	conn   *mms.ServerConnection

	CtlVal    *variant.Variant
	CtlNum    int
	OrCat     model.Originator
	OrIdent   []byte
	Test      bool
	Interlock bool
	Synchro   bool
	OperTime  time.Time
	Select    bool
	AddCause  model.AddCause
}

// Object возвращает объект управления команды
func (a *ControlAction) Object() *ControlObject {
	return a.object
}

// Connection возвращает соединение клиента, отправившего команду
func (a *ControlAction) Connection() *mms.ServerConnection {
	return a.conn
}

// ControlHandler выполняет команду. Вызывается вне блокировки модели.
type ControlHandler interface {
	Operate(action *ControlAction) bool
}

// CheckHandler проверяет допустимость команды при выборе и управлении.
// Вызывается под блокировкой модели: методы Update* вызывать нельзя.
type CheckHandler interface {
	Check(action *ControlAction) bool
}

// WaitForExecutionHandler ожидает условий выполнения команды (синхронизация).
// Вызывается вне блокировки модели.
type WaitForExecutionHandler interface {
	WaitForExecution(action *ControlAction) bool
}

// ControlHandlerFunc адаптер функции к ControlHandler
type ControlHandlerFunc func(action *ControlAction) bool

func (f ControlHandlerFunc) Operate(action *ControlAction) bool { return f(action) }

// CheckHandlerFunc адаптер функции к CheckHandler
type CheckHandlerFunc func(action *ControlAction) bool

func (f CheckHandlerFunc) Check(action *ControlAction) bool { return f(action) }

// WaitForExecutionHandlerFunc адаптер функции к WaitForExecutionHandler
type WaitForExecutionHandlerFunc func(action *ControlAction) bool

func (f WaitForExecutionHandlerFunc) WaitForExecution(action *ControlAction) bool { return f(action) }

// ControlObject объект управления с состоянием выбора и выполнения команды
type ControlObject struct {
	server *Server
	ref    model.ObjectReference
	domain string
	// name "LN$DO" без FC
	name string
	// objectName "LD/LN$CO$DO" для LastApplError
	objectName    string
	operItem      string
	ctlModel      model.ControlModel
	timeActivated bool
	log           logger.Logger

	mu         sync.Mutex
	state      ControlState
	selectTime time.Time
	conn       *mms.ServerConnection
	ctlVal     *variant.Variant
	origin     *variant.Variant
	ctlNum     *variant.Variant
	invokeID   uint32
	action     *ControlAction

	operateTime time.Time
	pending     bool

	onControl ControlHandler
	onCheck   CheckHandler
	onWait    WaitForExecutionHandler
}

func newControlObject(s *Server, ref model.ObjectReference) *ControlObject {
	name := controlName(ref)
	co := ref.WithFC(model.FCCO)

	c := &ControlObject{
		server:     s,
		ref:        ref,
		domain:     ref.DomainID(),
		name:       name,
		objectName: ref.DomainID() + "/" + co.ItemID(),
		operItem:   co.Child("Oper").ItemID(),
		log:        s.log,
	}

	cf := ref.WithFC(model.FCCF)
	if v := s.lookup(c.domain, cf.Child("ctlModel").ItemID(), -1); v != nil {
		c.ctlModel = model.ControlModel(v.Int64())
	}
	if domain := s.mms.Device().Domain(c.domain); domain != nil {
		if spec := domain.Variable(c.operItem); spec != nil {
			c.timeActivated = spec.ComponentIndex("operTm") >= 0
		}
	}

	if c.ctlModel.IsSBO() {
		c.state = StateUnselected
	} else {
		c.state = StateReady
	}
	return c
}

// Reference возвращает ссылку объекта "LD/LN.DO"
func (c *ControlObject) Reference() model.ObjectReference {
	return c.ref
}

// ControlModel возвращает модель управления объекта
func (c *ControlObject) ControlModel() model.ControlModel {
	c.server.mms.LockModel()
	defer c.server.mms.UnlockModel()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncControlModel()
	return c.ctlModel
}

// State возвращает текущее состояние объекта
func (c *ControlObject) State() ControlState {
	c.server.mms.LockModel()
	defer c.server.mms.UnlockModel()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncControlModel()
	c.checkSelectTimeout(time.Now())
	return c.state
}

// SetControlHandler задаёт обработчик выполнения команды. Без обработчика
// команда считается выполненной.
func (c *ControlObject) SetControlHandler(h ControlHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onControl = h
}

// SetCheckHandler задаёт обработчик проверок выбора и управления
func (c *ControlObject) SetCheckHandler(h CheckHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onCheck = h
}

// SetWaitForExecutionHandler задаёт обработчик ожидания выполнения
func (c *ControlObject) SetWaitForExecutionHandler(h WaitForExecutionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onWait = h
}

func (c *ControlObject) cf(name string) *variant.Variant {
	return c.server.lookup(c.domain, c.ref.WithFC(model.FCCF).Child(name).ItemID(), -1)
}

func (c *ControlObject) selectTimeout() time.Duration {
	if v := c.cf("sboTimeout"); v != nil && v.Uint64() > 0 {
		return time.Duration(v.Uint64()) * time.Millisecond
	}
	return DefaultSelectTimeout
}

// syncControlModel применяет новое значение ctlModel[CF]. Смена модели
// откладывается, пока выполняется команда, и снимает текущий выбор.
func (c *ControlObject) syncControlModel() {
	v := c.cf("ctlModel")
	if v == nil {
		return
	}
	m := model.ControlModel(v.Int64())
	if m == c.ctlModel {
		return
	}
	if c.pending || c.action != nil || c.state != StateReady && c.state != StateUnselected {
		return
	}

	c.log.Info("%s: control model %s -> %s", c.objectName, c.ctlModel, m)
	c.ctlModel = m
	c.conn = nil
	if m.IsSBO() {
		c.state = StateUnselected
	} else {
		c.state = StateReady
	}
}

func (c *ControlObject) operateOnce() bool {
	v := c.cf("sboClass")
	return v == nil || v.Int64() != model.SboClassOperateMany
}

// checkSelectTimeout снимает просроченный выбор
func (c *ControlObject) checkSelectTimeout(now time.Time) {
	if !c.ctlModel.IsSBO() || c.state != StateReady {
		return
	}
	if now.Sub(c.selectTime) > c.selectTimeout() {
		c.log.Debug("%s: select timeout", c.objectName)
		c.unselect()
	}
}

func (c *ControlObject) selectBy(conn *mms.ServerConnection, now time.Time) {
	c.selectTime = now
	c.conn = conn
	c.state = StateReady
}

func (c *ControlObject) unselect() {
	c.state = StateUnselected
	c.conn = nil
}

// abort возвращает объект в исходное состояние после выполнения или отказа
func (c *ControlObject) abort() {
	c.pending = false
	c.action = nil
	if c.ctlModel.IsSBO() && c.operateOnce() {
		c.unselect()
		return
	}
	c.state = StateReady
}

func (c *ControlObject) check(action *ControlAction) bool {
	if c.onCheck == nil {
		return true
	}
	return c.onCheck.Check(action)
}

// selectByRead выбирает объект SBO с обычной безопасностью чтением SBO.
// Возвращает ссылку объекта при успехе и пустую строку при отказе.
func (c *ControlObject) selectByRead(conn *mms.ServerConnection) *variant.Variant {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncControlModel()
	if c.ctlModel != model.SboNormal {
		return nil
	}

	now := time.Now()
	c.checkSelectTimeout(now)
	if c.state != StateUnselected {
		return variant.NewVisibleStringVariant("")
	}

	if !c.check(&ControlAction{object: c, conn: conn, Select: true}) {
		return variant.NewVisibleStringVariant("")
	}
	c.selectBy(conn, now)
	c.log.Info("%s selected by %s", c.objectName, conn.ID())
	return variant.NewVisibleStringVariant(c.objectName + "$SBO")
}

// operParams параметры структуры Oper, SBOw или Cancel
type operParams struct {
	ctlVal *variant.Variant
	operTm *variant.Variant
	origin *variant.Variant
	ctlNum *variant.Variant
	test   *variant.Variant
	check  *variant.Variant
}

func (c *ControlObject) params(varName string, value *variant.Variant) operParams {
	var p operParams
	domain := c.server.mms.Device().Domain(c.domain)
	if domain == nil {
		return p
	}
	spec := domain.Variable(c.ref.WithFC(model.FCCO).Child(varName).ItemID())
	if spec == nil {
		return p
	}

	get := func(name string) *variant.Variant {
		return value.Element(spec.ComponentIndex(name))
	}
	p.ctlVal = get("ctlVal")
	p.operTm = get("operTm")
	p.origin = get("origin")
	p.ctlNum = get("ctlNum")
	p.test = get("Test")
	p.check = get("Check")
	return p
}

func (c *ControlObject) newAction(conn *mms.ServerConnection, p operParams) *ControlAction {
	a := &ControlAction{
		object: c,
		conn:   conn,
		CtlVal: p.ctlVal.Clone(),
	}
	if p.ctlNum != nil {
		a.CtlNum = int(p.ctlNum.Int64())
	}
	if p.origin != nil {
		a.OrCat = model.Originator(p.origin.Element(0).Int64())
		a.OrIdent = p.origin.Element(1).Bytes()
	}
	if p.test != nil {
		a.Test = p.test.Bool()
	}
	if p.check != nil {
		a.Synchro = p.check.Bit(0)
		a.Interlock = p.check.Bit(1)
	}
	if p.operTm != nil {
		a.OperTime = p.operTm.Time()
	}
	return a
}

// write обрабатывает запись SBOw, Oper и Cancel. Вызывается под
// блокировкой модели.
func (c *ControlObject) write(conn *mms.ServerConnection, varName string, value *variant.Variant) mms.DataAccessError {
	p := c.params(varName, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.syncControlModel()
	if c.ctlModel == model.StatusOnly {
		return mms.ObjectAccessDenied
	}

	now := time.Now()
	switch varName {
	case "SBOw":
		return c.selectWithValue(conn, p, now)
	case "Oper":
		return c.operate(conn, p, value, now)
	case "Cancel":
		return c.cancel(conn, p)
	}
	return mms.ObjectAccessDenied
}

func (c *ControlObject) selectWithValue(conn *mms.ServerConnection, p operParams, now time.Time) mms.DataAccessError {
	if c.ctlModel != model.SboEnhanced {
		return mms.ObjectAccessDenied
	}
	if p.ctlVal == nil || p.ctlNum == nil || p.origin == nil {
		return mms.ObjectValueInvalid
	}

	c.checkSelectTimeout(now)
	if c.state != StateUnselected {
		cause := model.AddCauseObjectAlreadySelected
		if c.conn != conn {
			cause = model.AddCauseLockedByOtherClient
		}
		c.sendLastApplError(conn, "SBOw", model.ControlErrorNone, cause, p.ctlNum, p.origin)
		return mms.TemporarilyUnavailable
	}

	action := c.newAction(conn, p)
	action.Select = true
	if !c.check(action) {
		c.sendLastApplError(conn, "SBOw", model.ControlErrorNone, causeOr(action, model.AddCauseSelectFailed), p.ctlNum, p.origin)
		return mms.ObjectAccessDenied
	}

	c.selectBy(conn, now)
	c.updateParams(p)
	c.log.Info("%s selected with value by %s", c.objectName, conn.ID())
	return mms.DataAccessSuccess
}

func (c *ControlObject) updateParams(p operParams) {
	c.ctlVal = p.ctlVal.Clone()
	c.ctlNum = p.ctlNum.Clone()
	c.origin = p.origin.Clone()
}

func (c *ControlObject) operate(conn *mms.ServerConnection, p operParams, value *variant.Variant, now time.Time) mms.DataAccessError {
	if p.ctlVal == nil || p.test == nil || p.ctlNum == nil || p.origin == nil || p.check == nil {
		return mms.ObjectValueInvalid
	}

	c.checkSelectTimeout(now)

	switch c.state {
	case StateUnselected:
		c.sendLastApplError(conn, "Oper", model.ControlErrorNone, model.AddCauseObjectNotSelected, p.ctlNum, p.origin)
		return mms.ObjectAccessDenied
	case StateReady:
	default:
		c.sendLastApplError(conn, "Oper", model.ControlErrorNone, model.AddCauseCommandAlreadyInExecution, p.ctlNum, p.origin)
		return mms.TemporarilyUnavailable
	}

	if c.ctlModel.IsSBO() {
		if c.conn != conn {
			return mms.TemporarilyUnavailable
		}
		if c.ctlModel == model.SboEnhanced && !(p.ctlVal.Equal(c.ctlVal) && p.origin.Equal(c.origin)) {
			c.sendLastApplError(conn, "Oper", model.ControlErrorNone, model.AddCauseInconsistentParameters, p.ctlNum, p.origin)
			return mms.TypeInconsistent
		}
	}

	c.updateParams(p)
	action := c.newAction(conn, p)

	if oper := c.server.lookup(c.domain, c.operItem, -1); oper != nil {
		if err := oper.Update(value); err != nil {
			c.log.Warning("%s: %v", c.objectName, err)
		}
	}

	if c.timeActivated && !action.OperTime.IsZero() && action.OperTime.Unix() != 0 {
		c.conn = conn
		c.action = action
		c.operateTime = action.OperTime
		c.pending = true
		c.state = StateWaitForActivationTime
		c.server.scheduler.Schedule(c, c.operateTime)
		c.log.Info("%s: time activated operate at %s", c.objectName, c.operateTime)
		return mms.DataAccessSuccess
	}

	c.state = StatePerformTest
	if !c.check(action) {
		c.abort()
		return mms.TemporarilyUnavailable
	}

	c.conn = conn
	c.action = action
	c.invokeID = conn.LastInvokeID()
	go c.execute(action, c.invokeID, false)
	return mms.DataAccessNoResponse
}

func (c *ControlObject) cancel(conn *mms.ServerConnection, p operParams) mms.DataAccessError {
	if p.ctlNum == nil || p.origin == nil {
		return mms.TypeInconsistent
	}

	if c.ctlModel.IsSBO() && c.state != StateUnselected {
		if c.conn != conn {
			c.sendLastApplError(conn, "Cancel", model.ControlErrorNone, model.AddCauseLockedByOtherClient, p.ctlNum, p.origin)
			return mms.TemporarilyUnavailable
		}
		c.server.scheduler.Cancel(c)
		c.pending = false
		c.action = nil
		c.unselect()
		return mms.DataAccessSuccess
	}

	if c.pending {
		c.server.scheduler.Cancel(c)
		c.abort()
		return mms.DataAccessSuccess
	}
	return mms.ObjectAccessDenied
}

// tick запускает команду с отложенным временем выполнения
func (c *ControlObject) tick(now time.Time) time.Time {
	c.server.mms.LockModel()
	c.mu.Lock()

	if !c.pending || c.state != StateWaitForActivationTime {
		c.mu.Unlock()
		c.server.mms.UnlockModel()
		return time.Time{}
	}
	if now.Before(c.operateTime) {
		next := c.operateTime
		c.mu.Unlock()
		c.server.mms.UnlockModel()
		return next
	}

	action := c.action
	c.pending = false
	c.state = StatePerformTest
	ok := c.check(action)
	var lastApplError *variant.Variant
	if !ok {
		lastApplError = c.lastApplError("Oper", model.ControlErrorNone, causeOr(action, model.AddCauseBlockedByInterlocking),
			c.ctlNum, c.origin)
		c.abort()
	}

	c.mu.Unlock()
	c.server.mms.UnlockModel()

	if ok {
		go c.execute(action, 0, true)
	} else {
		c.send(action.conn, lastApplError)
	}
	return time.Time{}
}

// execute выполняет команду после успешной проверки. Для команд без
// отложенного времени отправляет отложенный ответ на запись invokeID.
func (c *ControlObject) execute(action *ControlAction, invokeID uint32, timeActivated bool) {
	c.mu.Lock()
	c.state = StateWaitForExecution
	wait, control := c.onWait, c.onControl
	c.mu.Unlock()

	if wait != nil && !wait.WaitForExecution(action) {
		if timeActivated {
			c.sendLastApplErrorUnlocked(action, model.ControlErrorNone, causeOr(action, model.AddCauseBlockedBySynchrocheck))
		} else if err := action.conn.SendWriteResponse(invokeID, mms.ObjectAccessDenied); err != nil {
			c.log.Warning("%s: write response: %v", c.objectName, err)
		}
		c.finish()
		return
	}

	if timeActivated {
		c.sendCommandTermination(action, true)
	} else if err := action.conn.SendWriteResponse(invokeID, mms.DataAccessSuccess); err != nil {
		c.log.Warning("%s: write response: %v", c.objectName, err)
	}

	c.mu.Lock()
	c.state = StateOperate
	c.mu.Unlock()

	ok := true
	if control != nil {
		ok = control.Operate(action)
	} else {
		c.log.Warning("%s: no control handler, operate reported as successful", c.objectName)
	}
	c.log.Info("%s: operate ctlVal=%s result=%t", c.objectName, action.CtlVal, ok)

	if c.ctlModel.IsEnhanced() {
		if ok {
			if !timeActivated {
				c.sendCommandTermination(action, false)
			}
		} else {
			c.sendNegativeCommandTermination(action)
		}
	}
	c.finish()
}

func (c *ControlObject) finish() {
	c.server.mms.LockModel()
	defer c.server.mms.UnlockModel()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abort()
}

// connectionClosed снимает выбор и отменяет отложенную команду соединения
func (c *ControlObject) connectionClosed(conn *mms.ServerConnection) {
	c.server.mms.LockModel()
	defer c.server.mms.UnlockModel()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	switch c.state {
	case StateWaitForActivationTime:
		c.server.scheduler.Cancel(c)
		c.abort()
	case StateReady:
		if c.ctlModel.IsSBO() {
			c.unselect()
		}
	}
	if c.state != StateWaitForExecution && c.state != StateOperate {
		c.conn = nil
	}
}

func causeOr(action *ControlAction, cause model.AddCause) model.AddCause {
	if action != nil && action.AddCause != model.AddCauseUnknown {
		return action.AddCause
	}
	return cause
}

// lastApplError строит значение LastApplError
func (c *ControlObject) lastApplError(varName string, code model.ControlError, cause model.AddCause,
	ctlNum, origin *variant.Variant,
) *variant.Variant {
	if origin == nil {
		origin = variant.NewStructureVariant(variant.NewIntegerVariant(0), variant.NewOctetStringVariant(nil))
	}
	if ctlNum == nil {
		ctlNum = variant.NewUnsignedVariant(0)
	}
	return variant.NewStructureVariant(
		variant.NewVisibleStringVariant(c.objectName+"$"+varName),
		variant.NewIntegerVariant(int64(code)),
		origin.Clone(),
		ctlNum.Clone(),
		variant.NewIntegerVariant(int64(cause)),
	)
}

func (c *ControlObject) sendLastApplError(conn *mms.ServerConnection, varName string, code model.ControlError,
	cause model.AddCause, ctlNum, origin *variant.Variant,
) {
	c.send(conn, c.lastApplError(varName, code, cause, ctlNum, origin))
}

func (c *ControlObject) sendLastApplErrorUnlocked(action *ControlAction, code model.ControlError, cause model.AddCause) {
	c.mu.Lock()
	value := c.lastApplError("Oper", code, cause, c.ctlNum, c.origin)
	c.mu.Unlock()

	c.send(action.conn, value)
}

func (c *ControlObject) send(conn *mms.ServerConnection, lastApplError *variant.Variant) {
	if conn == nil {
		return
	}
	c.log.Debug("%s: %s", c.objectName, lastApplError)
	if err := conn.SendInformationReportSingleVariableVMDSpecific(LastApplErrorName, lastApplError); err != nil {
		c.log.Warning("%s: LastApplError: %v", c.objectName, err)
	}
}

// operValue возвращает копию Oper из кэша. resetOperTm обнуляет operTm
// в кэше после отправки CommandTermination отложенной команды.
func (c *ControlObject) operValue(resetOperTm bool) *variant.Variant {
	c.server.mms.LockModel()
	defer c.server.mms.UnlockModel()

	oper := c.server.lookup(c.domain, c.operItem, -1)
	if oper == nil {
		return nil
	}
	value := oper.Clone()
	if resetOperTm {
		if domain := c.server.mms.Device().Domain(c.domain); domain != nil {
			if spec := domain.Variable(c.operItem); spec != nil {
				if operTm := oper.Element(spec.ComponentIndex("operTm")); operTm != nil {
					operTm.SetTime(time.Unix(0, 0))
				}
			}
		}
	}
	return value
}

func (c *ControlObject) sendCommandTermination(action *ControlAction, resetOperTm bool) {
	oper := c.operValue(resetOperTm)
	if oper == nil || !c.ctlModel.IsEnhanced() && !resetOperTm {
		return
	}

	variables := []mms.VariableSpec{{Name: mms.DomainName(c.domain, c.operItem)}}
	if err := action.conn.SendInformationReportListOfVariables(variables, []*variant.Variant{oper}); err != nil {
		c.log.Warning("%s: CommandTermination: %v", c.objectName, err)
	}
}

func (c *ControlObject) sendNegativeCommandTermination(action *ControlAction) {
	oper := c.operValue(false)
	if oper == nil {
		return
	}

	c.mu.Lock()
	lastApplError := c.lastApplError("Oper", model.ControlErrorUnknown, causeOr(action, model.AddCauseSelectFailed), c.ctlNum, c.origin)
	c.mu.Unlock()

	variables := []mms.VariableSpec{
		{Name: mms.VMDName(LastApplErrorName)},
		{Name: mms.DomainName(c.domain, c.operItem)},
	}
	if err := action.conn.SendInformationReportListOfVariables(variables, []*variant.Variant{lastApplError, oper}); err != nil {
		c.log.Warning("%s: CommandTermination: %v", c.objectName, err)
	}
}
