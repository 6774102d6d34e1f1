package iso

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/acse"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
	"github.com/careychow/libIEC61850-sub000/osi/presentation"
	"github.com/careychow/libIEC61850-sub000/osi/session"
)

// ClientState состояние клиентского ISO соединения
type ClientState int32

const (
	ClientStateIdle ClientState = iota
	ClientStateAssociated
	ClientStateError
	ClientStateClosed
)

func (s ClientState) String() string {
	switch s {
	case ClientStateIdle:
		return "idle"
	case ClientStateAssociated:
		return "associated"
	case ClientStateError:
		return "error"
	case ClientStateClosed:
		return "closed"
	}
	return fmt.Sprintf("ClientState(%d)", int32(s))
}

// IndicationHandler получает каждое принятое MMS сообщение.
// Срез действителен только до возврата из обработчика.
type IndicationHandler func(payload []byte)

// CloseHandler вызывается один раз при закрытии соединения
type CloseHandler func(err error)

type clientOptions struct {
	logger      logger.Logger
	cotpOptions []cotp.ConnectionOption
	onMessage   IndicationHandler
	onClose     CloseHandler
}

// ClientOption настраивает ClientConnection
type ClientOption func(*clientOptions)

// WithClientLogger задаёт логгер соединения
func WithClientLogger(l logger.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = l
		o.cotpOptions = append(o.cotpOptions, cotp.WithLogger(l))
	}
}

// WithClientCotpOptions передаёт опции транспортному уровню
func WithClientCotpOptions(opts ...cotp.ConnectionOption) ClientOption {
	return func(o *clientOptions) {
		o.cotpOptions = append(o.cotpOptions, opts...)
	}
}

// WithIndicationHandler задаёт обработчик входящих MMS сообщений
func WithIndicationHandler(h IndicationHandler) ClientOption {
	return func(o *clientOptions) {
		o.onMessage = h
	}
}

// WithCloseHandler задаёт обработчик закрытия соединения
func WithCloseHandler(h CloseHandler) ClientOption {
	return func(o *clientOptions) {
		o.onClose = h
	}
}

// ClientConnection клиентская сторона стека COTP/Session/Presentation/ACSE.
// После установления ассоциации принимающая горутина передаёт MMS сообщения
// обработчику синхронно: следующее сообщение читается только после
// возврата из обработчика.
type ClientConnection struct {
	options clientOptions
	log     logger.Logger

	conn         io.ReadWriteCloser
	cotp         *cotp.Connection
	session      *session.Session
	presentation *presentation.Presentation
	acse         *acse.Connection

	state     atomic.Int32
	sendMu    sync.Mutex
	closeOnce sync.Once
	released  chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewClientConnection создаёт неассоциированное соединение
func NewClientConnection(opts ...ClientOption) *ClientConnection {
	options := clientOptions{logger: logger.NewLogger("iso")}
	for _, opt := range opts {
		opt(&options)
	}

	return &ClientConnection{
		options:  options,
		log:      options.logger,
		released: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State возвращает текущее состояние
func (c *ClientConnection) State() ClientState {
	return ClientState(c.state.Load())
}

// Done закрывается после остановки принимающей горутины
func (c *ClientConnection) Done() <-chan struct{} {
	return c.done
}

// Associate выполняет COTP CR/CC и обмен CONNECT/ACCEPT с AARQ/AARE.
// payload передаётся в user-information AARQ, возвращается user-information AARE.
// При успехе запускается принимающая горутина.
func (c *ClientConnection) Associate(ctx context.Context, conn io.ReadWriteCloser, params *ConnectionParameters, payload []byte) ([]byte, error) {
	if params == nil {
		params = NewConnectionParameters("localhost", DefaultTCPPort)
	}

	c.conn = conn
	c.cotp = cotp.NewConnection(conn, c.options.cotpOptions...)
	c.session = session.NewSession()
	c.presentation = presentation.NewPresentation()
	c.acse = acse.NewConnection()

	response, err := c.associate(ctx, params, payload)
	if err != nil {
		c.state.Store(int32(ClientStateError))
		c.conn.Close()
		close(c.done)
		return nil, err
	}

	c.state.Store(int32(ClientStateAssociated))

	receiveCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.receive(receiveCtx)

	return response, nil
}

func (c *ClientConnection) associate(ctx context.Context, params *ConnectionParameters, payload []byte) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if d, ok := c.conn.(interface{ SetDeadline(t time.Time) error }); ok {
			d.SetDeadline(deadline)
			defer d.SetDeadline(time.Time{})
		}
	}

	err := c.cotp.SendConnectionRequestMessage(&cotp.IsoConnectionParameters{
		RemoteTSelector: params.RemoteTSelector,
		LocalTSelector:  params.LocalTSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("iso: send COTP CR: %w", err)
	}

	indication, err := c.cotp.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("iso: read COTP CC: %w", err)
	}
	if indication != cotp.IndicationConnect {
		return nil, fmt.Errorf("%w: COTP %s instead of CONNECT", ErrAssociationFailed, indication)
	}

	aarq := c.acse.CreateAssociateRequestMessage(params.Association, payload)
	cp := c.presentation.BuildCPType(aarq)
	if err := c.cotp.SendDataMessage(c.session.BuildConnectSPDU(cp)); err != nil {
		return nil, fmt.Errorf("iso: send CONNECT: %w", err)
	}

	indication, err = c.cotp.ReadMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("iso: read ACCEPT: %w", err)
	}
	if indication != cotp.IndicationData {
		return nil, fmt.Errorf("%w: COTP %s instead of DATA", ErrAssociationFailed, indication)
	}
	defer c.cotp.ResetPayload()

	sessionIndication, err := c.session.ParseMessage(c.cotp.GetPayload())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssociationFailed, err)
	}
	if sessionIndication != session.IndicationConnect {
		return nil, fmt.Errorf("%w: no session accept", ErrAssociationFailed)
	}

	if err := c.presentation.ParseAccept(c.session.UserData()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAssociationFailed, err)
	}

	acseIndication, err := c.acse.ParseMessage(c.presentation.Payload())
	if acseIndication != acse.IndicationAssociate {
		if err == nil {
			err = fmt.Errorf("ACSE %s", acseIndication)
		}
		return nil, fmt.Errorf("%w: %w", ErrAssociationFailed, err)
	}

	c.log.Debug("association established, TPDU size %d", c.cotp.GetTpduSize())

	return append([]byte(nil), c.acse.UserData...), nil
}

// SendMessage упаковывает MMS PDU в DATA SPDU и отправляет
func (c *ClientConnection) SendMessage(payload []byte) error {
	if c.State() != ClientStateAssociated {
		return ErrNotAssociated
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	message := session.BuildDataSPDU(c.presentation.BuildUserData(payload))
	if err := c.cotp.SendDataMessage(message); err != nil {
		return fmt.Errorf("iso: send: %w", err)
	}
	return nil
}

// Release отправляет FINISH с RLRQ и ждёт DISCONNECT с RLRE
func (c *ClientConnection) Release(ctx context.Context) error {
	if c.State() != ClientStateAssociated {
		return ErrNotAssociated
	}

	c.sendMu.Lock()
	rlrq := c.acse.CreateReleaseRequestMessage()
	err := c.cotp.SendDataMessage(c.session.BuildFinishSPDU(c.presentation.BuildAcseUserData(rlrq)))
	c.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("iso: send release request: %w", err)
	}

	select {
	case <-c.released:
		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Abort отправляет ABORT с ABRT и закрывает соединение
func (c *ClientConnection) Abort() error {
	if c.State() == ClientStateAssociated {
		c.sendMu.Lock()
		abrt := c.acse.CreateAbortMessage(false)
		err := c.cotp.SendDataMessage(c.session.BuildAbortSPDU(c.presentation.BuildAcseUserData(abrt)))
		c.sendMu.Unlock()
		if err != nil {
			c.log.Warning("send abort: %v", err)
		}
	}
	return c.Close()
}

// Close закрывает транспортное соединение. Остановку приёма можно
// дождаться через Done.
func (c *ClientConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *ClientConnection) receive(ctx context.Context) {
	err := c.receiveLoop(ctx)

	c.state.Store(int32(ClientStateClosed))
	c.closeOnce.Do(func() {
		c.conn.Close()
	})

	if err != nil {
		c.log.Debug("receive stopped: %v", err)
	}
	if c.options.onClose != nil {
		c.options.onClose(err)
	}
	close(c.done)
}

func (c *ClientConnection) receiveLoop(ctx context.Context) error {
	for {
		indication, err := c.cotp.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch indication {
		case cotp.IndicationData:
		case cotp.IndicationDisconnect:
			return ErrConnectionClosed
		default:
			return fmt.Errorf("%w: COTP %s", ErrUnexpectedMessage, indication)
		}

		done, err := c.handleSessionMessage(c.cotp.GetPayload())
		c.cotp.ResetPayload()
		if err != nil || done {
			return err
		}
	}
}

func (c *ClientConnection) handleSessionMessage(message []byte) (bool, error) {
	sessionIndication, err := c.session.ParseMessage(message)
	if err != nil {
		return true, err
	}

	switch sessionIndication {
	case session.IndicationData:
		if err := c.presentation.ParseUserData(c.session.UserData()); err != nil {
			return true, err
		}
		if !c.presentation.IsMms() {
			c.log.Warning("user data in unexpected presentation context %d", c.presentation.NextContextID())
			return false, nil
		}
		if c.options.onMessage != nil {
			c.options.onMessage(c.presentation.Payload())
		}
		return false, nil

	case session.IndicationDisconnect:
		if err := c.presentation.ParseUserData(c.session.UserData()); err == nil {
			if indication, _ := c.acse.ParseMessage(c.presentation.Payload()); indication != acse.IndicationReleaseResponse {
				c.log.Warning("DISCONNECT without release response: %s", indication)
			}
		}
		close(c.released)
		return true, nil

	case session.IndicationAbort:
		return true, ErrConnectionClosed
	}

	return true, fmt.Errorf("%w: session indication %d", ErrUnexpectedMessage, sessionIndication)
}
