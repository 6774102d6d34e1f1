package iso

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/acse"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
	"github.com/careychow/libIEC61850-sub000/osi/presentation"
	"github.com/careychow/libIEC61850-sub000/osi/session"
)

// DefaultMaxConnections число одновременных клиентов по умолчанию
const DefaultMaxConnections = 5

// ErrServerClosed возвращается Serve после остановки сервера
var ErrServerClosed = errors.New("iso: server closed")

// ConnectionEvent событие жизненного цикла соединения
type ConnectionEvent int

const (
	ConnectionOpened ConnectionEvent = iota
	ConnectionClosed
)

func (e ConnectionEvent) String() string {
	if e == ConnectionOpened {
		return "opened"
	}
	return "closed"
}

// MessageHandler обрабатывает MMS сообщение клиента и возвращает ответ.
// Пустой ответ ничего не отправляет. При установлении ассоциации
// обработчик получает MMS initiate-request.
type MessageHandler func(conn *ServerConnection, request []byte) []byte

// ConnectionHandler уведомляется об открытии и закрытии ассоциаций
type ConnectionHandler func(conn *ServerConnection, event ConnectionEvent)

type serverOptions struct {
	logger         logger.Logger
	maxConnections int
	authenticator  acse.Authenticator
	cotpOptions    []cotp.ConnectionOption
	onConnection   ConnectionHandler
}

// ServerOption настраивает Server
type ServerOption func(*serverOptions)

// WithServerLogger задаёт логгер сервера
func WithServerLogger(l logger.Logger) ServerOption {
	return func(o *serverOptions) {
		o.logger = l
	}
}

// WithMaxConnections ограничивает число одновременных клиентов
func WithMaxConnections(n int) ServerOption {
	return func(o *serverOptions) {
		o.maxConnections = n
	}
}

// WithAuthenticator задаёт проверку AARQ
func WithAuthenticator(a acse.Authenticator) ServerOption {
	return func(o *serverOptions) {
		o.authenticator = a
	}
}

// WithServerCotpOptions передаёт опции транспортному уровню каждого соединения
func WithServerCotpOptions(opts ...cotp.ConnectionOption) ServerOption {
	return func(o *serverOptions) {
		o.cotpOptions = append(o.cotpOptions, opts...)
	}
}

// WithConnectionHandler задаёт обработчик событий соединений
func WithConnectionHandler(h ConnectionHandler) ServerOption {
	return func(o *serverOptions) {
		o.onConnection = h
	}
}

// Server принимает TCP соединения и обслуживает каждое в своей горутине
type Server struct {
	options serverOptions
	handler MessageHandler
	log     logger.Logger

	mu          sync.Mutex
	listener    net.Listener
	connections map[xid.ID]*ServerConnection
	wg          sync.WaitGroup
	closed      atomic.Bool
}

// NewServer создаёт сервер с обработчиком MMS сообщений
func NewServer(handler MessageHandler, opts ...ServerOption) *Server {
	options := serverOptions{
		logger:         logger.NewLogger("iso-server"),
		maxConnections: DefaultMaxConnections,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		options:     options,
		handler:     handler,
		log:         options.logger,
		connections: make(map[xid.ID]*ServerConnection),
	}
}

// ListenAndServe слушает address и обслуживает соединения до отмены ctx
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("iso: listen %s: %w", address, err)
	}
	return s.Serve(ctx, l)
}

// Addr возвращает адрес слушающего сокета
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve принимает соединения с l до отмены ctx или Close
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	s.log.Info("listening on %s", l.Addr())

	for {
		conn, err := l.Accept()
		if err != nil {
			if s.closed.Load() {
				s.wg.Wait()
				return ErrServerClosed
			}
			return fmt.Errorf("iso: accept: %w", err)
		}

		s.ServeConn(conn)
	}
}

// ServeConn обслуживает уже установленное соединение
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	if s.closed.Load() || len(s.connections) >= s.options.maxConnections {
		s.mu.Unlock()
		s.log.Warning("connection from %s rejected: limit %d reached", conn.RemoteAddr(), s.options.maxConnections)
		conn.Close()
		return
	}

	c := newServerConnection(s, conn)
	s.connections[c.ID] = c
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		c.serve()
		s.removeConnection(c)
	}()
}

func (s *Server) removeConnection(c *ServerConnection) {
	s.mu.Lock()
	delete(s.connections, c.ID)
	s.mu.Unlock()

	s.log.Info("connection %s from %s closed", c.ID, c.PeerAddress)
}

// Connections возвращает снимок активных соединений
func (s *Server) Connections() []*ServerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*ServerConnection, 0, len(s.connections))
	for _, c := range s.connections {
		result = append(result, c)
	}
	return result
}

// Close останавливает приём и закрывает все соединения
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for _, c := range s.connections {
		c.Close()
	}
	s.mu.Unlock()

	return err
}

// ServerConnection серверная сторона одной ассоциации
type ServerConnection struct {
	ID          xid.ID
	PeerAddress string

	server       *Server
	conn         net.Conn
	cotp         *cotp.Connection
	session      *session.Session
	presentation *presentation.Presentation
	acse         *acse.Connection
	log          logger.Logger

	associated atomic.Bool
	sendMu     sync.Mutex
	closeOnce  sync.Once
}

func newServerConnection(s *Server, conn net.Conn) *ServerConnection {
	opts := append([]cotp.ConnectionOption{cotp.WithLogger(s.log)}, s.options.cotpOptions...)

	var acseOpts []acse.Option
	if s.options.authenticator != nil {
		acseOpts = append(acseOpts, acse.WithAuthenticator(s.options.authenticator))
	}

	return &ServerConnection{
		ID:           xid.New(),
		PeerAddress:  conn.RemoteAddr().String(),
		server:       s,
		conn:         conn,
		cotp:         cotp.NewConnection(conn, opts...),
		session:      session.NewSession(),
		presentation: presentation.NewPresentation(),
		acse:         acse.NewConnection(acseOpts...),
		log:          s.log,
	}
}

// SecurityToken возвращает токен, выданный аутентификатором
func (c *ServerConnection) SecurityToken() any {
	return c.acse.SecurityToken
}

// Authentication возвращает параметры аутентификации клиента
func (c *ServerConnection) Authentication() *acse.AuthenticationParameter {
	return c.acse.Authentication
}

// IsAssociated сообщает, установлена ли ассоциация
func (c *ServerConnection) IsAssociated() bool {
	return c.associated.Load()
}

// SendMessage отправляет MMS PDU, не являющийся ответом (information report)
func (c *ServerConnection) SendMessage(payload []byte) error {
	if !c.IsAssociated() {
		return ErrNotAssociated
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.cotp.SendDataMessage(session.BuildDataSPDU(c.presentation.BuildUserData(payload)))
}

// Close закрывает транспортное соединение
func (c *ServerConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *ServerConnection) serve() {
	c.log.Info("connection %s from %s accepted", c.ID, c.PeerAddress)

	err := c.serveLoop()
	if err != nil && !errors.Is(err, cotp.ErrSocketClosed) && !c.server.closed.Load() {
		c.log.Warning("connection %s: %v", c.ID, err)
	}

	c.Close()

	if c.associated.Swap(false) && c.server.options.onConnection != nil {
		c.server.options.onConnection(c, ConnectionClosed)
	}
}

func (c *ServerConnection) serveLoop() error {
	ctx := context.Background()

	for {
		indication, err := c.cotp.ReadMessage(ctx)
		if err != nil {
			return err
		}

		switch indication {
		case cotp.IndicationConnect:
			if err := c.cotp.SendConnectionResponseMessage(); err != nil {
				return err
			}

		case cotp.IndicationData:
			done, err := c.handleSessionMessage(c.cotp.GetPayload())
			c.cotp.ResetPayload()
			if err != nil || done {
				return err
			}

		case cotp.IndicationDisconnect:
			return nil

		default:
			return fmt.Errorf("%w: COTP %s", ErrUnexpectedMessage, indication)
		}
	}
}

func (c *ServerConnection) handleSessionMessage(message []byte) (bool, error) {
	indication, err := c.session.ParseMessage(message)
	if err != nil {
		return true, err
	}

	switch indication {
	case session.IndicationConnect:
		return c.handleConnect()

	case session.IndicationData:
		if !c.IsAssociated() {
			return true, ErrNotAssociated
		}
		if err := c.presentation.ParseUserData(c.session.UserData()); err != nil {
			return true, err
		}
		if !c.presentation.IsMms() {
			c.log.Warning("unknown presentation context %d", c.presentation.NextContextID())
			return false, nil
		}

		response := c.server.handler(c, c.presentation.Payload())
		if len(response) > 0 {
			if err := c.SendMessage(response); err != nil {
				return true, err
			}
		}
		return false, nil

	case session.IndicationFinish:
		return true, c.handleRelease()

	case session.IndicationAbort:
		c.log.Debug("connection %s aborted by peer", c.ID)
		return true, nil
	}

	return true, fmt.Errorf("%w: session indication %d", ErrUnexpectedMessage, indication)
}

func (c *ServerConnection) handleConnect() (bool, error) {
	if err := c.presentation.ParseConnect(c.session.UserData()); err != nil {
		return true, err
	}

	acseIndication, err := c.acse.ParseMessage(c.presentation.Payload())
	if acseIndication != acse.IndicationAssociate {
		c.log.Warning("association from %s refused: %v", c.PeerAddress, err)
		c.sendAssociateResponse(c.acse.CreateAssociateFailedMessage())
		return true, nil
	}

	c.associated.Store(true)

	initiateResponse := c.server.handler(c, c.acse.UserData)
	if len(initiateResponse) == 0 {
		c.associated.Store(false)
		c.log.Warning("association from %s refused by application", c.PeerAddress)
		c.sendAssociateResponse(c.acse.CreateAssociateFailedMessage())
		return true, nil
	}

	if err := c.sendAssociateResponse(c.acse.CreateAssociateResponseMessage(acse.ResultAccept, initiateResponse)); err != nil {
		return true, err
	}

	if c.server.options.onConnection != nil {
		c.server.options.onConnection(c, ConnectionOpened)
	}
	return false, nil
}

func (c *ServerConnection) sendAssociateResponse(aare []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	cpa := c.presentation.BuildCPAType(aare)
	return c.cotp.SendDataMessage(c.session.BuildAcceptSPDU(cpa))
}

func (c *ServerConnection) handleRelease() error {
	if err := c.presentation.ParseUserData(c.session.UserData()); err != nil {
		return err
	}
	if indication, err := c.acse.ParseMessage(c.presentation.Payload()); indication != acse.IndicationReleaseRequest {
		return fmt.Errorf("%w: FINISH without release request: %v", ErrUnexpectedMessage, err)
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	rlre := c.acse.CreateReleaseResponseMessage()
	return c.cotp.SendDataMessage(c.session.BuildDisconnectSPDU(c.presentation.BuildAcseUserData(rlre)))
}
