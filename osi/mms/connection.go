package mms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careychow/libIEC61850-sub000/ber"
	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

const (
	// OutstandingCalls ёмкость таблицы запросов, ожидающих ответа
	OutstandingCalls = 10
	// DefaultRequestTimeout время ожидания ответа по умолчанию
	DefaultRequestTimeout = 5000 * time.Millisecond

	responsePollInterval = 10 * time.Millisecond
)

// ConnectionState состояние MMS соединения клиента
type ConnectionState int32

const (
	ConnectionIdle ConnectionState = iota
	ConnectionConnecting
	ConnectionAssociated
	ConnectionAssociationFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionIdle:
		return "idle"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionAssociated:
		return "associated"
	case ConnectionAssociationFailed:
		return "association failed"
	case ConnectionClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnectionState(%d)", int32(s))
}

// InformationReportHandler получает значения из information report.
// Для отчёта по именованному списку isVariableList = true и name - имя списка,
// иначе обработчик вызывается для каждой переменной отчёта.
// Вызывается синхронно из принимающей горутины.
type InformationReportHandler func(domainID, name string, values []*variant.Variant, isVariableList bool)

// ConnectionLostHandler вызывается при потере соединения, не инициированной клиентом
type ConnectionLostHandler func(err error)

type connectionOptions struct {
	logger         logger.Logger
	requestTimeout time.Duration
	initiate       *InitiateRequest
	isoOptions     []iso.ClientOption
	onReport       InformationReportHandler
	onLost         ConnectionLostHandler
}

// ConnectionOption настраивает Connection
type ConnectionOption func(*connectionOptions)

// WithLogger задаёт логгер соединения
func WithLogger(l logger.Logger) ConnectionOption {
	return func(o *connectionOptions) {
		o.logger = l
	}
}

// WithRequestTimeout задаёт время ожидания ответа на запрос
func WithRequestTimeout(timeout time.Duration) ConnectionOption {
	return func(o *connectionOptions) {
		o.requestTimeout = timeout
	}
}

// WithInitiateRequest задаёт параметры initiate-RequestPDU
func WithInitiateRequest(request *InitiateRequest) ConnectionOption {
	return func(o *connectionOptions) {
		o.initiate = request
	}
}

// WithIsoOptions передаёт опции ISO соединению
func WithIsoOptions(opts ...iso.ClientOption) ConnectionOption {
	return func(o *connectionOptions) {
		o.isoOptions = append(o.isoOptions, opts...)
	}
}

// WithInformationReportHandler задаёт обработчик information report
func WithInformationReportHandler(h InformationReportHandler) ConnectionOption {
	return func(o *connectionOptions) {
		o.onReport = h
	}
}

// WithConnectionLostHandler задаёт обработчик потери соединения
func WithConnectionLostHandler(h ConnectionLostHandler) ConnectionOption {
	return func(o *connectionOptions) {
		o.onLost = h
	}
}

// Connection клиентское MMS соединение. Подтверждаемые запросы можно
// отправлять из нескольких горутин: ответы сопоставляются по invokeID.
// Принятый ответ занимает единственный слот до releaseResponse, и пока слот
// занят, следующий ответ не принимается.
type Connection struct {
	options connectionOptions
	log     logger.Logger
	iso     *iso.ClientConnection

	state            atomic.Int32
	localClose       atomic.Bool
	initiateResponse *InitiateResponse

	invokeMu     sync.Mutex
	lastInvokeID uint32

	outstandingMu sync.Mutex
	outstanding   [OutstandingCalls]uint32

	responseMu       sync.Mutex
	responseInvokeID uint32
	response         *PDU
	responseSlot     chan struct{}

	concluded chan *PDU
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnection создаёт неподключенное соединение
func NewConnection(opts ...ConnectionOption) *Connection {
	options := connectionOptions{
		logger:         logger.NewLogger("mms"),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.initiate == nil {
		options.initiate = DefaultInitiateRequestParams()
	}

	return &Connection{
		options:      options,
		log:          options.logger,
		responseSlot: make(chan struct{}, 1),
		concluded:    make(chan *PDU, 1),
		closed:       make(chan struct{}),
	}
}

// State возвращает состояние соединения
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// InitiateResponse возвращает параметры, согласованные при установлении ассоциации
func (c *Connection) InitiateResponse() *InitiateResponse {
	return c.initiateResponse
}

// RequestTimeout возвращает время ожидания ответа
func (c *Connection) RequestTimeout() time.Duration {
	return c.options.requestTimeout
}

// Connect устанавливает TCP соединение и MMS ассоциацию
func (c *Connection) Connect(ctx context.Context, params *iso.ConnectionParameters) error {
	if params == nil {
		params = iso.NewConnectionParameters("localhost", iso.DefaultTCPPort)
	}

	conn, err := iso.Dial(ctx, params)
	if err != nil {
		c.state.Store(int32(ConnectionAssociationFailed))
		return fmt.Errorf("%w: %w", ErrorConnectionRejected, err)
	}
	return c.ConnectTransport(ctx, conn, params)
}

// ConnectTransport устанавливает MMS ассоциацию поверх готового транспорта
func (c *Connection) ConnectTransport(ctx context.Context, conn io.ReadWriteCloser, params *iso.ConnectionParameters) error {
	if !c.state.CompareAndSwap(int32(ConnectionIdle), int32(ConnectionConnecting)) {
		conn.Close()
		return fmt.Errorf("%w: connection is %s", ErrorInvalidArguments, c.State())
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.requestTimeout)
		defer cancel()
	}

	isoOptions := append([]iso.ClientOption{iso.WithClientLogger(c.log)}, c.options.isoOptions...)
	isoOptions = append(isoOptions,
		iso.WithIndicationHandler(c.handleMessage),
		iso.WithCloseHandler(c.handleClose),
	)
	c.iso = iso.NewClientConnection(isoOptions...)

	payload, err := c.iso.Associate(ctx, conn, params, c.options.initiate.Bytes())
	if err != nil {
		c.state.Store(int32(ConnectionAssociationFailed))
		c.markClosed()
		return fmt.Errorf("%w: %w", ErrorConnectionRejected, err)
	}

	response, err := ParseInitiateResponse(payload)
	if err != nil {
		c.state.Store(int32(ConnectionAssociationFailed))
		c.localClose.Store(true)
		c.iso.Abort()
		return fmt.Errorf("%w: %w", ErrorConnectionRejected, err)
	}

	c.initiateResponse = response
	c.state.Store(int32(ConnectionAssociated))
	c.log.Info("associated: %s", response)
	return nil
}

// Conclude выполняет обмен conclude-RequestPDU/conclude-ResponsePDU и
// освобождает ассоциацию
func (c *Connection) Conclude(ctx context.Context) error {
	if c.State() != ConnectionAssociated {
		return ErrorConnectionLost
	}

	if err := c.iso.SendMessage(ConcludeRequestPDU()); err != nil {
		return fmt.Errorf("%w: %w", ErrorConnectionLost, err)
	}

	timer := time.NewTimer(c.options.requestTimeout)
	defer timer.Stop()

	select {
	case pdu := <-c.concluded:
		if pdu.Type != PDUConcludeResponse {
			return ErrorConcludeRejected
		}
	case <-c.closed:
		return ErrorConnectionLost
	case <-timer.C:
		return ErrorServiceTimeout
	case <-ctx.Done():
		return ctx.Err()
	}

	c.localClose.Store(true)
	if err := c.iso.Release(ctx); err != nil {
		c.log.Warning("release after conclude: %v", err)
		return c.iso.Close()
	}
	return nil
}

// Abort прерывает ассоциацию без согласования
func (c *Connection) Abort() error {
	if c.iso == nil {
		return nil
	}
	c.localClose.Store(true)
	return c.iso.Abort()
}

// Close закрывает транспортное соединение
func (c *Connection) Close() error {
	if c.iso == nil {
		return nil
	}
	c.localClose.Store(true)
	err := c.iso.Close()
	<-c.iso.Done()
	return err
}

// Done закрывается после закрытия соединения
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

func (c *Connection) markClosed() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

func (c *Connection) handleClose(err error) {
	wasAssociated := c.state.Swap(int32(ConnectionClosed)) == int32(ConnectionAssociated)
	c.markClosed()

	if wasAssociated && !c.localClose.Load() {
		c.log.Warning("connection lost: %v", err)
		if c.options.onLost != nil {
			c.options.onLost(err)
		}
	}
}

func (c *Connection) nextInvokeID() uint32 {
	c.invokeMu.Lock()
	defer c.invokeMu.Unlock()

	c.lastInvokeID++
	return c.lastInvokeID
}

func (c *Connection) addToOutstandingCalls(invokeID uint32) bool {
	c.outstandingMu.Lock()
	defer c.outstandingMu.Unlock()

	for i := range c.outstanding {
		if c.outstanding[i] == 0 {
			c.outstanding[i] = invokeID
			return true
		}
	}
	return false
}

func (c *Connection) checkForOutstandingCall(invokeID uint32) bool {
	c.outstandingMu.Lock()
	defer c.outstandingMu.Unlock()

	for _, id := range c.outstanding {
		if id == invokeID {
			return true
		}
	}
	return false
}

func (c *Connection) removeFromOutstandingCalls(invokeID uint32) {
	c.outstandingMu.Lock()
	defer c.outstandingMu.Unlock()

	for i := range c.outstanding {
		if c.outstanding[i] == invokeID {
			c.outstanding[i] = 0
			return
		}
	}
}

func (c *Connection) handleMessage(payload []byte) {
	if len(payload) == 0 {
		return
	}

	message := append([]byte(nil), payload...)
	pdu, err := ParsePDU(message)
	if err != nil {
		c.log.Warning("malformed PDU from server: %v", err)
		return
	}

	switch pdu.Type {
	case PDUUnconfirmed:
		c.handleUnconfirmed(pdu)

	case PDUConfirmedResponse, PDUConfirmedError, PDUReject:
		if !pdu.HasInvokeID {
			c.log.Warning("%s without invokeID", pdu)
			return
		}
		c.storeResponse(pdu)

	case PDUConcludeResponse, PDUConcludeError:
		select {
		case c.concluded <- pdu:
		default:
			c.log.Warning("unexpected %s", pdu.Type)
		}

	default:
		c.log.Warning("unexpected %s from server", pdu.Type)
	}
}

// storeResponse ждёт освобождения слота ответа и помещает в него pdu
func (c *Connection) storeResponse(pdu *PDU) {
	select {
	case c.responseSlot <- struct{}{}:
	case <-c.closed:
		return
	}

	c.responseMu.Lock()
	defer c.responseMu.Unlock()

	if !c.checkForOutstandingCall(pdu.InvokeID) {
		c.log.Warning("unexpected response with invokeID %d", pdu.InvokeID)
		<-c.responseSlot
		return
	}

	c.response = pdu
	c.responseInvokeID = pdu.InvokeID
}

func (c *Connection) takeResponse(invokeID uint32) *PDU {
	c.responseMu.Lock()
	defer c.responseMu.Unlock()

	if c.responseInvokeID == invokeID {
		return c.response
	}
	return nil
}

func (c *Connection) releaseResponse() {
	c.responseMu.Lock()
	c.response = nil
	c.responseInvokeID = 0
	c.responseMu.Unlock()

	<-c.responseSlot
}

// abandon снимает запрос с ожидания. Ответ, пришедший после таймаута,
// освобождает слот.
func (c *Connection) abandon(invokeID uint32) {
	c.responseMu.Lock()
	defer c.responseMu.Unlock()

	c.removeFromOutstandingCalls(invokeID)
	if c.responseInvokeID == invokeID {
		c.response = nil
		c.responseInvokeID = 0
		<-c.responseSlot
	}
}

func (c *Connection) sendRequestAndWaitForResponse(ctx context.Context, invokeID uint32, request []byte) (*PDU, error) {
	if c.State() != ConnectionAssociated {
		return nil, ErrorConnectionLost
	}
	if !c.addToOutstandingCalls(invokeID) {
		return nil, ErrorOutstandingCallLimit
	}

	if err := c.iso.SendMessage(request); err != nil {
		c.abandon(invokeID)
		return nil, fmt.Errorf("%w: %w", ErrorConnectionLost, err)
	}

	deadline := time.Now().Add(c.options.requestTimeout)
	ticker := time.NewTicker(responsePollInterval)
	defer ticker.Stop()

	for {
		if pdu := c.takeResponse(invokeID); pdu != nil {
			c.removeFromOutstandingCalls(invokeID)
			return pdu, nil
		}

		select {
		case <-ticker.C:
		case <-c.closed:
			c.abandon(invokeID)
			return nil, ErrorConnectionLost
		case <-ctx.Done():
			c.abandon(invokeID)
			return nil, ctx.Err()
		}

		if time.Now().After(deadline) {
			c.abandon(invokeID)
			return nil, ErrorServiceTimeout
		}
	}
}

// call отправляет подтверждаемый запрос и передаёт элемент ответа decode.
// confirmed-error и reject возвращаются как Error.
func (c *Connection) call(ctx context.Context, request Service, decode func(service ber.TLV) error) error {
	invokeID := c.nextInvokeID()

	pdu, err := c.sendRequestAndWaitForResponse(ctx, invokeID, ConfirmedRequestPDU(invokeID, request))
	if err != nil {
		return err
	}
	defer c.releaseResponse()

	switch pdu.Type {
	case PDUConfirmedError:
		c.log.Debug("invokeID %d: %s", invokeID, pdu.ServiceError)
		return pdu.ServiceError.Error()
	case PDUReject:
		c.log.Debug("invokeID %d: %s", invokeID, pdu.Reject)
		return pdu.Reject.Error()
	}

	if err := decode(pdu.Service); err != nil {
		c.log.Debug("invokeID %d: %v", invokeID, err)
		return fmt.Errorf("%w: %w", ErrorParsingResponse, err)
	}
	return nil
}

func expectNull(tag uint32) func(ber.TLV) error {
	return func(service ber.TLV) error {
		if service.Tag != tag {
			return fmt.Errorf("%w: expected 0x%x, got 0x%x", ErrUnexpectedTag, tag, service.Tag)
		}
		return nil
	}
}

func (c *Connection) handleUnconfirmed(pdu *PDU) {
	if c.options.onReport == nil {
		return
	}

	report, err := ParseInformationReport(pdu.Service)
	if err != nil {
		c.log.Warning("information report: %v", err)
		return
	}

	values := report.Values()
	if report.Specification.IsNamedList() {
		name := report.Specification.ListName
		c.options.onReport(name.DomainID, name.ItemID, values, true)
		return
	}

	variables := report.Specification.Variables
	if len(variables) != len(values) {
		c.log.Warning("information report with %d variables and %d results", len(variables), len(values))
		return
	}
	for i, v := range variables {
		c.options.onReport(v.Name.DomainID, v.Name.ItemID, values[i:i+1], false)
	}
}

func (c *Connection) getNameList(ctx context.Context, class ObjectClass, scope ObjectScope, domainID string) ([]string, error) {
	var names []string
	continueAfter := ""

	for {
		request := &GetNameListRequest{Class: class, Scope: scope, DomainID: domainID, ContinueAfter: continueAfter}

		var response *GetNameListResponse
		err := c.call(ctx, request, func(service ber.TLV) (err error) {
			response, err = ParseGetNameListResponse(service)
			return err
		})
		if err != nil {
			return nil, err
		}

		names = append(names, response.Identifiers...)
		if !response.MoreFollows || len(response.Identifiers) == 0 {
			return names, nil
		}
		continueAfter = response.Identifiers[len(response.Identifiers)-1]
	}
}

// GetDomainNames возвращает имена доменов (логических устройств)
func (c *Connection) GetDomainNames(ctx context.Context) ([]string, error) {
	return c.getNameList(ctx, ClassDomain, ScopeVMD, "")
}

// GetDomainVariableNames возвращает имена переменных домена
func (c *Connection) GetDomainVariableNames(ctx context.Context, domainID string) ([]string, error) {
	return c.getNameList(ctx, ClassNamedVariable, ScopeDomain, domainID)
}

// GetDomainVariableListNames возвращает имена именованных списков домена
func (c *Connection) GetDomainVariableListNames(ctx context.Context, domainID string) ([]string, error) {
	return c.getNameList(ctx, ClassNamedVariableList, ScopeDomain, domainID)
}

// GetVariableListNamesAssociationSpecific возвращает имена списков ассоциации
func (c *Connection) GetVariableListNamesAssociationSpecific(ctx context.Context) ([]string, error) {
	return c.getNameList(ctx, ClassNamedVariableList, ScopeAssociation, "")
}

func (c *Connection) read(ctx context.Context, request *ReadRequest) ([]AccessResult, error) {
	var response *ReadResponse
	err := c.call(ctx, request, func(service ber.TLV) (err error) {
		response, err = ParseReadResponse(service)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response.Results, nil
}

func resultValues(results []AccessResult) []*variant.Variant {
	values := make([]*variant.Variant, len(results))
	for i, result := range results {
		if result.Success {
			values[i] = result.Value
			continue
		}
		values[i] = variant.NewDataAccessErrorVariant(uint32(result.Error))
	}
	return values
}

func (c *Connection) readSingle(ctx context.Context, request *ReadRequest) (*variant.Variant, error) {
	results, err := c.read(ctx, request)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("%w: %d results for one variable", ErrorParsingResponse, len(results))
	}
	return resultValues(results)[0], nil
}

// ReadVariable читает domain-specific переменную. Ошибка доступа сервера
// возвращается значением типа DataAccessError.
func (c *Connection) ReadVariable(ctx context.Context, domainID, itemID string) (*variant.Variant, error) {
	return c.readSingle(ctx, NewReadRequest(domainID, itemID))
}

// ReadArrayElements читает count элементов массива, начиная с start.
// При count = 0 читается один элемент.
func (c *Connection) ReadArrayElements(ctx context.Context, domainID, itemID string, start, count int) (*variant.Variant, error) {
	return c.readSingle(ctx, NewReadRequestWithAccess(domainID, itemID, &AlternateAccess{Index: start, Count: count}))
}

// ReadMultipleVariables читает несколько переменных домена одним запросом
func (c *Connection) ReadMultipleVariables(ctx context.Context, domainID string, itemIDs ...string) ([]*variant.Variant, error) {
	results, err := c.read(ctx, NewReadMultipleRequest(domainID, itemIDs...))
	if err != nil {
		return nil, err
	}
	return resultValues(results), nil
}

// ReadNamedVariableListValues читает значения domain-specific именованного списка
func (c *Connection) ReadNamedVariableListValues(ctx context.Context, domainID, listName string, specificationWithResult bool) ([]*variant.Variant, error) {
	results, err := c.read(ctx, NewReadNamedVariableListRequest(DomainName(domainID, listName), specificationWithResult))
	if err != nil {
		return nil, err
	}
	return resultValues(results), nil
}

// ReadNamedVariableListValuesAssociationSpecific читает значения списка ассоциации
func (c *Connection) ReadNamedVariableListValuesAssociationSpecific(ctx context.Context, listName string, specificationWithResult bool) ([]*variant.Variant, error) {
	results, err := c.read(ctx, NewReadNamedVariableListRequest(AssociationName(listName), specificationWithResult))
	if err != nil {
		return nil, err
	}
	return resultValues(results), nil
}

// ReadNamedVariableListDirectory возвращает состав именованного списка
func (c *Connection) ReadNamedVariableListDirectory(ctx context.Context, name ObjectName) ([]VariableSpec, bool, error) {
	var response *GetNamedVariableListAttributesResponse
	err := c.call(ctx, &GetNamedVariableListAttributesRequest{Name: name}, func(service ber.TLV) (err error) {
		response, err = ParseGetNamedVariableListAttributesResponse(service)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return response.Variables, response.Deletable, nil
}

// DefineNamedVariableList создаёт именованный список переменных
func (c *Connection) DefineNamedVariableList(ctx context.Context, name ObjectName, variables []VariableSpec) error {
	request := &DefineNamedVariableListRequest{Name: name, Variables: variables}
	return c.call(ctx, request, expectNull(serviceDefineNVLDone))
}

// DeleteNamedVariableList удаляет именованный список. Возвращает true,
// если список удалён.
func (c *Connection) DeleteNamedVariableList(ctx context.Context, name ObjectName) (bool, error) {
	request := &DeleteNamedVariableListRequest{Scope: DeleteSpecific, Names: []ObjectName{name}}

	var response *DeleteNamedVariableListResponse
	err := c.call(ctx, request, func(service ber.TLV) (err error) {
		response, err = ParseDeleteNamedVariableListResponse(service)
		return err
	})
	if err != nil {
		return false, err
	}
	return response.Deleted > 0, nil
}

// GetVariableAccessAttributes возвращает спецификацию типа переменной
func (c *Connection) GetVariableAccessAttributes(ctx context.Context, domainID, itemID string) (*TypeSpecification, error) {
	var response *VariableAccessAttributesResponse
	err := c.call(ctx, NewGetVariableAccessAttributesRequest(domainID, itemID), func(service ber.TLV) (err error) {
		response, err = ParseGetVariableAccessAttributesResponse(service)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response.TypeSpecification, nil
}

// Identify запрашивает производителя, модель и версию сервера
func (c *Connection) Identify(ctx context.Context) (*IdentifyResponse, error) {
	var response *IdentifyResponse
	err := c.call(ctx, IdentifyRequest, func(service ber.TLV) (err error) {
		response, err = ParseIdentifyResponse(service)
		return err
	})
	return response, err
}

// GetServerStatus запрашивает логическое и физическое состояние сервера
func (c *Connection) GetServerStatus(ctx context.Context, extendedDerivation bool) (*StatusResponse, error) {
	var response *StatusResponse
	err := c.call(ctx, &StatusRequest{ExtendedDerivation: extendedDerivation}, func(service ber.TLV) (err error) {
		response, err = ParseStatusResponse(service)
		return err
	})
	return response, err
}

func (c *Connection) write(ctx context.Context, request *WriteRequest) ([]DataAccessError, error) {
	var response *WriteResponse
	err := c.call(ctx, request, func(service ber.TLV) (err error) {
		response, err = ParseWriteResponse(service)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(response.Results) != len(request.Values) {
		return nil, fmt.Errorf("%w: %d results for %d values", ErrorParsingResponse, len(response.Results), len(request.Values))
	}
	return response.Results, nil
}

// WriteVariable записывает значение domain-specific переменной
func (c *Connection) WriteVariable(ctx context.Context, domainID, itemID string, value *variant.Variant) error {
	results, err := c.write(ctx, NewWriteRequest(domainID, itemID, value))
	if err != nil {
		return err
	}
	if results[0] != DataAccessSuccess {
		return ErrorFromDataAccess(results[0])
	}
	return nil
}

// WriteArrayElements записывает элементы массива, начиная с start
func (c *Connection) WriteArrayElements(ctx context.Context, domainID, itemID string, start, count int, value *variant.Variant) error {
	results, err := c.write(ctx, NewWriteRequestWithAccess(domainID, itemID, &AlternateAccess{Index: start, Count: count}, value))
	if err != nil {
		return err
	}
	if results[0] != DataAccessSuccess {
		return ErrorFromDataAccess(results[0])
	}
	return nil
}

// WriteMultipleVariables записывает несколько переменных домена и
// возвращает результат по каждой
func (c *Connection) WriteMultipleVariables(ctx context.Context, domainID string, itemIDs []string, values []*variant.Variant) ([]DataAccessError, error) {
	if len(itemIDs) != len(values) {
		return nil, ErrorInvalidArguments
	}
	return c.write(ctx, NewWriteMultipleRequest(domainID, itemIDs, values))
}

// WriteNamedVariableList записывает значения переменных именованного списка
func (c *Connection) WriteNamedVariableList(ctx context.Context, name ObjectName, values []*variant.Variant) ([]DataAccessError, error) {
	return c.write(ctx, NewWriteNamedVariableListRequest(name, values))
}

// FileOpen открывает файл на сервере
func (c *Connection) FileOpen(ctx context.Context, fileName string, initialPosition uint32) (*FileOpenResponse, error) {
	var response *FileOpenResponse
	err := c.call(ctx, &FileOpenRequest{FileName: fileName, InitialPosition: initialPosition}, func(service ber.TLV) (err error) {
		response, err = ParseFileOpenResponse(service)
		return err
	})
	return response, err
}

// FileRead читает очередной блок открытого файла
func (c *Connection) FileRead(ctx context.Context, frsmID int32) (*FileReadResponse, error) {
	var response *FileReadResponse
	err := c.call(ctx, &FileReadRequest{FrsmID: frsmID}, func(service ber.TLV) (err error) {
		response, err = ParseFileReadResponse(service)
		return err
	})
	return response, err
}

// FileClose закрывает открытый файл
func (c *Connection) FileClose(ctx context.Context, frsmID int32) error {
	return c.call(ctx, &FileCloseRequest{FrsmID: frsmID}, expectNull(serviceFileCloseFRSM))
}

// FileDelete удаляет файл на сервере
func (c *Connection) FileDelete(ctx context.Context, fileName string) error {
	return c.call(ctx, &FileDeleteRequest{FileName: fileName}, expectNull(serviceFileDeleteDone))
}

// FileRename переименовывает файл на сервере
func (c *Connection) FileRename(ctx context.Context, currentFileName, newFileName string) error {
	request := &FileRenameRequest{CurrentFileName: currentFileName, NewFileName: newFileName}
	return c.call(ctx, request, expectNull(serviceFileRenameDone))
}

// GetFileDirectory запрашивает одну страницу каталога файлов
func (c *Connection) GetFileDirectory(ctx context.Context, fileSpecification, continueAfter string) (*FileDirectoryResponse, error) {
	var response *FileDirectoryResponse
	request := &FileDirectoryRequest{FileSpecification: fileSpecification, ContinueAfter: continueAfter}
	err := c.call(ctx, request, func(service ber.TLV) (err error) {
		response, err = ParseFileDirectoryResponse(service)
		return err
	})
	return response, err
}

// ErrStopped возвращается GetFile, если обработчик прервал чтение
var ErrStopped = errors.New("mms: file transfer stopped by handler")

// GetFile читает файл целиком, передавая блоки handler. Если handler
// возвращает false, чтение прекращается и файл закрывается.
func (c *Connection) GetFile(ctx context.Context, fileName string, handler func(data []byte) bool) error {
	open, err := c.FileOpen(ctx, fileName, 0)
	if err != nil {
		return err
	}

	for {
		block, err := c.FileRead(ctx, open.FrsmID)
		if err != nil {
			c.FileClose(ctx, open.FrsmID)
			return err
		}
		if !handler(block.Data) {
			c.FileClose(ctx, open.FrsmID)
			return ErrStopped
		}
		if !block.MoreFollows {
			break
		}
	}

	return c.FileClose(ctx, open.FrsmID)
}
