package client

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

const lastApplErrorName = "LastApplError"

// LastApplError отказ сервера в выполнении команды управления
type LastApplError struct {
	// ControlObject имя "LD/LN$CO$DO$Oper" переменной, запись которой
	// была отклонена
	ControlObject string
	Error         model.ControlError
	CtlNum        uint8
	AddCause      model.AddCause
}

func parseLastApplError(value *variant.Variant) (LastApplError, bool) {
	if value.Type() != variant.Structure || value.Len() != 5 {
		return LastApplError{}, false
	}
	cntrlObj, code, ctlNum, cause := value.Element(0), value.Element(1), value.Element(3), value.Element(4)
	if cntrlObj.Type() != variant.VisibleString {
		return LastApplError{}, false
	}
	return LastApplError{
		ControlObject: cntrlObj.Text(),
		Error:         model.ControlError(code.Int64()),
		CtlNum:        uint8(ctlNum.Uint64()),
		AddCause:      model.AddCause(cause.Int64()),
	}, true
}

// CommandTermination завершение команды усиленной безопасности. Для
// отрицательного завершения Error содержит причину.
type CommandTermination struct {
	Positive bool
	Error    LastApplError
}

// CommandTerminationHandler вызывается при получении CommandTermination
type CommandTerminationHandler func(control *ControlObject, termination CommandTermination)

func (c *Connection) handleLastApplError(value *variant.Variant) {
	lastApplError, ok := parseLastApplError(value)
	if !ok {
		c.log.Warning("LastApplError: unexpected value %s", value)
		return
	}
	c.log.Debug("LastApplError %s: %s, %s", lastApplError.ControlObject, lastApplError.Error, lastApplError.AddCause)

	c.controlsMu.Lock()
	defer c.controlsMu.Unlock()

	c.lastApplError = lastApplError
	for _, control := range c.controls {
		if strings.HasPrefix(lastApplError.ControlObject, control.objectName+"$") {
			control.setLastApplError(lastApplError)
		}
	}
}

func (c *Connection) handleCommandTermination(domainID, itemID string) {
	c.controlsMu.Lock()
	var control *ControlObject
	for _, co := range c.controls {
		if co.domainID == domainID && co.operItem == itemID {
			control = co
			break
		}
	}
	c.controlsMu.Unlock()

	if control == nil {
		return
	}
	control.terminate()
}

// ControlObject клиентский объект управления "LD/LN.DO". Создаётся
// NewControlObject; после использования освобождается Close.
type ControlObject struct {
	conn      *Connection
	reference string
	domainID  string
	// objectName "LD/LN$CO$DO"
	objectName string
	operItem   string
	itemID     string

	ctlModel   model.ControlModel
	hasCancel  bool
	hasOperTm  bool
	operSpec   *mms.TypeSpecification
	cancelSpec *mms.TypeSpecification

	mu            sync.Mutex
	ctlNum        uint8
	orCat         model.Originator
	orIdent       []byte
	test          bool
	interlock     bool
	synchro       bool
	lastCtlVal    *variant.Variant
	lastOperTm    time.Time
	lastApplError LastApplError
	errorPending  bool
	onTermination CommandTerminationHandler
}

// NewControlObject читает модель управления и структуру Oper объекта
// "LD/LN.DO" и регистрирует его для приёма LastApplError и
// CommandTermination
func (c *Connection) NewControlObject(ctx context.Context, reference string) (*ControlObject, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	ref, err := objectName(reference, model.FCCO)
	if err != nil {
		return nil, err
	}
	if len(ref.Path) != 1 {
		return nil, fmt.Errorf("%w: %q is not a data object", ErrorObjectReferenceInvalid, reference)
	}

	ctlModel, err := c.ReadInt(ctx, reference+".ctlModel", model.FCCF)
	if err != nil {
		return nil, err
	}

	spec, err := conn.GetVariableAccessAttributes(ctx, ref.DomainID(), ref.ItemID())
	if err != nil {
		return nil, wrap(err)
	}
	operSpec := spec.Component("Oper")
	if operSpec == nil {
		return nil, fmt.Errorf("%w: %s has no Oper", ErrorServiceNotSupported, reference)
	}

	control := &ControlObject{
		conn:       c,
		reference:  reference,
		domainID:   ref.DomainID(),
		objectName: ref.DomainID() + "/" + ref.ItemID(),
		operItem:   ref.Child("Oper").ItemID(),
		itemID:     ref.ItemID(),
		ctlModel:   model.ControlModel(ctlModel),
		operSpec:   operSpec,
		cancelSpec: spec.Component("Cancel"),
		hasOperTm:  operSpec.Component("operTm") != nil,
		orCat:      model.OriginatorRemoteControl,
	}
	control.hasCancel = control.cancelSpec != nil

	c.controlsMu.Lock()
	c.controls = append(c.controls, control)
	c.controlsMu.Unlock()
	return control, nil
}

// Reference возвращает ссылку объекта "LD/LN.DO"
func (co *ControlObject) Reference() string {
	return co.reference
}

// ControlModel возвращает модель управления, прочитанную при создании
func (co *ControlObject) ControlModel() model.ControlModel {
	return co.ctlModel
}

// HasTimeActivatedMode сообщает, поддерживает ли объект отложенные команды
func (co *ControlObject) HasTimeActivatedMode() bool {
	return co.hasOperTm
}

// CtlValType возвращает ожидаемый тип ctlVal
func (co *ControlObject) CtlValType() variant.Type {
	return co.operSpec.Component("ctlVal").Default().Type()
}

// SetOrigin задаёт orIdent и orCat следующих команд
func (co *ControlObject) SetOrigin(orIdent string, orCat model.Originator) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.orIdent = []byte(orIdent)
	co.orCat = orCat
}

// SetTestMode задаёт атрибут Test следующих команд
func (co *ControlObject) SetTestMode(test bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.test = test
}

// EnableInterlockCheck включает бит проверки блокировок в Check
func (co *ControlObject) EnableInterlockCheck(enable bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.interlock = enable
}

// EnableSynchroCheck включает бит проверки синхронизма в Check
func (co *ControlObject) EnableSynchroCheck(enable bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.synchro = enable
}

// SetCommandTerminationHandler задаёт обработчик CommandTermination
func (co *ControlObject) SetCommandTerminationHandler(h CommandTerminationHandler) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.onTermination = h
}

// LastApplError возвращает последний LastApplError этого объекта
func (co *ControlObject) LastApplError() LastApplError {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.lastApplError
}

// CtlNum возвращает номер следующей команды
func (co *ControlObject) CtlNum() uint8 {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.ctlNum
}

func (co *ControlObject) setLastApplError(e LastApplError) {
	co.mu.Lock()
	defer co.mu.Unlock()
	co.lastApplError = e
	co.errorPending = true
}

func (co *ControlObject) terminate() {
	co.mu.Lock()
	termination := CommandTermination{Positive: !co.errorPending}
	if co.errorPending {
		termination.Error = co.lastApplError
		co.errorPending = false
	}
	handler := co.onTermination
	co.mu.Unlock()

	if handler != nil {
		handler(co, termination)
	}
}

// build заполняет структуру Oper, SBOw или Cancel по спецификации spec.
// Вызывается под co.mu.
func (co *ControlObject) build(spec *mms.TypeSpecification, ctlVal *variant.Variant, operTm time.Time) (*variant.Variant, error) {
	value := spec.Default()
	set := func(name string, v *variant.Variant) {
		if i := spec.ComponentIndex(name); i >= 0 {
			value.SetElement(i, v)
		}
	}

	if !spec.Component("ctlVal").Matches(ctlVal) {
		return nil, fmt.Errorf("%w: ctlVal %s", ErrorTypeInconsistent, ctlVal.Type())
	}
	set("ctlVal", ctlVal.Clone())

	if co.hasOperTm {
		if operTm.IsZero() {
			operTm = time.Unix(0, 0)
		}
		set("operTm", variant.NewUTCTimeVariant(operTm))
	}
	set("origin", variant.NewStructureVariant(
		variant.NewIntegerVariant(int64(co.orCat)),
		variant.NewOctetStringVariant(co.orIdent),
	))
	set("ctlNum", variant.NewUnsignedVariant(uint64(co.ctlNum)))
	set("T", variant.NewUTCTimeVariant(time.Now()))
	set("Test", variant.NewBoolVariant(co.test))

	if i := spec.ComponentIndex("Check"); i >= 0 {
		check := variant.NewBitStringVariant(2, nil)
		check.SetBit(0, co.synchro)
		check.SetBit(1, co.interlock)
		value.SetElement(i, check)
	}
	return value, nil
}

func (co *ControlObject) write(ctx context.Context, varName string, value *variant.Variant) error {
	conn, err := co.conn.connected()
	if err != nil {
		return err
	}
	err = conn.WriteVariable(ctx, co.domainID, co.itemID+"$"+varName, value)
	if err != nil {
		return fmt.Errorf("%s %s: %w", co.reference, varName, wrap(err))
	}
	return nil
}

// Operate выполняет команду. Нулевое operTime означает немедленное
// выполнение; иначе команда отложенная, если объект это поддерживает.
func (co *ControlObject) Operate(ctx context.Context, ctlVal *variant.Variant, operTime time.Time) error {
	co.mu.Lock()
	value, err := co.build(co.operSpec, ctlVal, operTime)
	if err == nil {
		co.lastCtlVal = ctlVal.Clone()
		co.lastOperTm = operTime
		co.errorPending = false
		co.ctlNum++
	}
	co.mu.Unlock()
	if err != nil {
		return err
	}
	return co.write(ctx, "Oper", value)
}

// Select выбирает объект с обычной безопасностью чтением SBO
func (co *ControlObject) Select(ctx context.Context) error {
	if co.ctlModel != model.SboNormal {
		return fmt.Errorf("%w: %s is %s", ErrorServiceNotSupported, co.reference, co.ctlModel)
	}
	selected, err := co.conn.ReadString(ctx, co.reference+".SBO", model.FCCO)
	if err != nil {
		return err
	}
	if selected == "" {
		return fmt.Errorf("%w: %s not selected", ErrorAccessDenied, co.reference)
	}
	return nil
}

// SelectWithValue выбирает объект с усиленной безопасностью записью SBOw
func (co *ControlObject) SelectWithValue(ctx context.Context, ctlVal *variant.Variant) error {
	if co.ctlModel != model.SboEnhanced {
		return fmt.Errorf("%w: %s is %s", ErrorServiceNotSupported, co.reference, co.ctlModel)
	}

	co.mu.Lock()
	value, err := co.build(co.operSpec, ctlVal, time.Time{})
	if err == nil {
		co.lastCtlVal = ctlVal.Clone()
		co.lastOperTm = time.Time{}
		co.errorPending = false
		co.ctlNum++
	}
	co.mu.Unlock()
	if err != nil {
		return err
	}
	return co.write(ctx, "SBOw", value)
}

// Cancel отменяет выбор или отложенную команду параметрами последней
// команды Operate
func (co *ControlObject) Cancel(ctx context.Context) error {
	if !co.hasCancel {
		return fmt.Errorf("%w: %s has no Cancel", ErrorServiceNotSupported, co.reference)
	}

	co.mu.Lock()
	ctlVal := co.lastCtlVal
	if ctlVal == nil {
		ctlVal = co.cancelSpec.Component("ctlVal").Default()
	}
	value, err := co.build(co.cancelSpec, ctlVal, co.lastOperTm)
	if err == nil && co.ctlNum > 0 {
		// Cancel повторяет ctlNum отменяемой команды
		value.SetElement(co.cancelSpec.ComponentIndex("ctlNum"), variant.NewUnsignedVariant(uint64(co.ctlNum-1)))
	}
	co.mu.Unlock()
	if err != nil {
		return err
	}
	return co.write(ctx, "Cancel", value)
}

// Close снимает регистрацию объекта в соединении
func (co *ControlObject) Close() {
	c := co.conn
	c.controlsMu.Lock()
	defer c.controlsMu.Unlock()
	for i, control := range c.controls {
		if control == co {
			c.controls = append(c.controls[:i], c.controls[i+1:]...)
			return
		}
	}
}
