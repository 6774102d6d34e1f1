package client

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/iso"
	"github.com/careychow/libIEC61850-sub000/osi/mms"
	"github.com/careychow/libIEC61850-sub000/osi/mms/variant"
)

// State состояние соединения клиента
type State int32

const (
	StateIdle State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ConnectionClosedHandler вызывается, когда сервер закрыл соединение или
// оно было потеряно
type ConnectionClosedHandler func(c *Connection)

type options struct {
	logger         logger.Logger
	requestTimeout time.Duration
	mmsOptions     []mms.ConnectionOption
	onClosed       ConnectionClosedHandler
}

// Option настраивает Connection
type Option func(*options)

// WithLogger задаёт логгер клиента и MMS соединения
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithRequestTimeout задаёт время ожидания ответа сервера
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = timeout
	}
}

// WithMmsOptions передаёт опции MMS соединению
func WithMmsOptions(opts ...mms.ConnectionOption) Option {
	return func(o *options) {
		o.mmsOptions = append(o.mmsOptions, opts...)
	}
}

// WithConnectionClosedHandler задаёт обработчик закрытия соединения
func WithConnectionClosedHandler(h ConnectionClosedHandler) Option {
	return func(o *options) {
		o.onClosed = h
	}
}

// Connection соединение клиента IEC 61850 (IedConnection). Ссылки на
// объекты модели отображаются на имена MMS домена и переменной.
//
// Обработчики отчётов и завершения команд вызываются из принимающей
// горутины MMS соединения и не должны выполнять запросы к серверу.
type Connection struct {
	options options
	log     logger.Logger

	state atomic.Int32

	mu  sync.Mutex
	mms *mms.Connection

	// devices кэш имён переменных логических устройств для просмотра модели
	devices []*logicalDevice

	reportsMu sync.Mutex
	reports   []*reportSubscription

	controlsMu    sync.Mutex
	controls      []*ControlObject
	lastApplError LastApplError
}

// NewConnection создаёт неподключенное соединение
func NewConnection(opts ...Option) *Connection {
	o := options{
		logger:         logger.NewLogger("iec61850"),
		requestTimeout: mms.DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Connection{options: o, log: o.logger}
}

// State возвращает состояние соединения
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Connect устанавливает соединение с сервером. params = nil означает
// localhost:102 с параметрами по умолчанию.
func (c *Connection) Connect(ctx context.Context, params *iso.ConnectionParameters) error {
	if c.State() == StateConnected {
		return ErrorAlreadyConnected
	}

	conn := c.newMms()
	if err := conn.Connect(ctx, params); err != nil {
		return wrap(err)
	}
	return c.associated(conn)
}

// ConnectTransport устанавливает ассоциацию поверх готового транспорта
func (c *Connection) ConnectTransport(ctx context.Context, rwc io.ReadWriteCloser, params *iso.ConnectionParameters) error {
	if c.State() == StateConnected {
		rwc.Close()
		return ErrorAlreadyConnected
	}

	conn := c.newMms()
	if err := conn.ConnectTransport(ctx, rwc, params); err != nil {
		return wrap(err)
	}
	return c.associated(conn)
}

func (c *Connection) newMms() *mms.Connection {
	opts := append([]mms.ConnectionOption{
		mms.WithLogger(c.log),
		mms.WithRequestTimeout(c.options.requestTimeout),
	}, c.options.mmsOptions...)
	opts = append(opts,
		mms.WithInformationReportHandler(c.handleInformationReport),
		mms.WithConnectionLostHandler(c.handleConnectionLost),
	)
	return mms.NewConnection(opts...)
}

func (c *Connection) associated(conn *mms.Connection) error {
	c.mu.Lock()
	c.mms = conn
	c.devices = nil
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))
	return nil
}

// MmsConnection возвращает MMS соединение или nil до подключения
func (c *Connection) MmsConnection() *mms.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mms
}

// connected возвращает MMS соединение, если ассоциация установлена
func (c *Connection) connected() (*mms.Connection, error) {
	if c.State() != StateConnected {
		return nil, ErrorNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mms == nil {
		return nil, ErrorNotConnected
	}
	return c.mms, nil
}

// Abort прерывает ассоциацию без согласования
func (c *Connection) Abort() error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	c.state.Store(int32(StateClosed))
	return wrap(conn.Abort())
}

// Release выполняет conclude и освобождает ассоциацию
func (c *Connection) Release(ctx context.Context) error {
	conn, err := c.connected()
	if err != nil {
		return err
	}
	if err := conn.Conclude(ctx); err != nil {
		return wrap(err)
	}
	c.state.Store(int32(StateClosed))
	return nil
}

// Close закрывает транспортное соединение
func (c *Connection) Close() error {
	c.state.CompareAndSwap(int32(StateConnected), int32(StateClosed))

	c.mu.Lock()
	conn := c.mms
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Identify запрашивает производителя, модель и версию сервера
func (c *Connection) Identify(ctx context.Context) (*mms.IdentifyResponse, error) {
	conn, err := c.connected()
	if err != nil {
		return nil, err
	}
	response, err := conn.Identify(ctx)
	return response, wrap(err)
}

// LastApplError возвращает последнюю ошибку управления, полученную от сервера
func (c *Connection) LastApplError() LastApplError {
	c.controlsMu.Lock()
	defer c.controlsMu.Unlock()
	return c.lastApplError
}

func (c *Connection) handleConnectionLost(err error) {
	c.state.Store(int32(StateClosed))
	c.log.Warning("connection closed: %v", err)
	if c.options.onClosed != nil {
		c.options.onClosed(c)
	}
}

// handleInformationReport разбирает отчёты RCB ("RPT"), LastApplError и
// CommandTermination
func (c *Connection) handleInformationReport(domainID, name string, values []*variant.Variant, isVariableList bool) {
	switch {
	case domainID == "" && isVariableList && name == reportListName:
		c.handleReport(values)
	case domainID == "" && !isVariableList && name == lastApplErrorName:
		if len(values) == 1 {
			c.handleLastApplError(values[0])
		}
	case domainID != "" && !isVariableList:
		c.handleCommandTermination(domainID, name)
	default:
		c.log.Debug("unexpected information report %s/%s", domainID, name)
	}
}
