package iso

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/careychow/libIEC61850-sub000/osi/acse"
	"github.com/careychow/libIEC61850-sub000/osi/cotp"
)

// DefaultTCPPort стандартный порт ISO-on-TCP (RFC1006)
const DefaultTCPPort = 102

// DefaultConnectTimeout время ожидания установления соединения по умолчанию
const DefaultConnectTimeout = 10 * time.Second

// Errors
var (
	ErrNotAssociated     = errors.New("iso: connection not associated")
	ErrAssociationFailed = errors.New("iso: association failed")
	ErrConnectionClosed  = errors.New("iso: connection closed")
	ErrUnexpectedMessage = errors.New("iso: unexpected message")
)

// ConnectionParameters адресация и аутентификация ISO ассоциации
type ConnectionParameters struct {
	Hostname        string
	TCPPort         int
	RemoteTSelector cotp.TSelector
	LocalTSelector  cotp.TSelector
	Association     *acse.AssociationParameters
	ConnectTimeout  time.Duration
}

// NewConnectionParameters создаёт параметры с селекторами и AP title по умолчанию
func NewConnectionParameters(hostname string, port int) *ConnectionParameters {
	if port <= 0 {
		port = DefaultTCPPort
	}
	return &ConnectionParameters{
		Hostname:        hostname,
		TCPPort:         port,
		RemoteTSelector: cotp.TSelector{Value: []byte{0, 1}},
		LocalTSelector:  cotp.TSelector{Value: []byte{0, 1}},
		Association:     acse.DefaultAssociationParameters(),
		ConnectTimeout:  DefaultConnectTimeout,
	}
}

// SetPassword включает парольную аутентификацию ACSE
func (p *ConnectionParameters) SetPassword(password string) {
	if p.Association == nil {
		p.Association = acse.DefaultAssociationParameters()
	}
	p.Association.Authentication = acse.NewPasswordAuthentication(password)
}

// Address возвращает адрес в форме host:port
func (p *ConnectionParameters) Address() string {
	return net.JoinHostPort(p.Hostname, strconv.Itoa(p.TCPPort))
}

// Dial устанавливает TCP соединение с сервером
func Dial(ctx context.Context, params *ConnectionParameters) (net.Conn, error) {
	timeout := params.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", params.Address())
	if err != nil {
		return nil, fmt.Errorf("iso: dial %s: %w", params.Address(), err)
	}
	return conn, nil
}
