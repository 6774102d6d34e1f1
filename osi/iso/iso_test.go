package iso

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/logger"
	"github.com/careychow/libIEC61850-sub000/osi/acse"
)

var (
	initiateRequest  = []byte{0xa8, 0x03, 0x80, 0x01, 0x05}
	initiateResponse = []byte{0xa9, 0x03, 0x80, 0x01, 0x05}
)

func echoHandler(_ *ServerConnection, request []byte) []byte {
	if len(request) > 0 && request[0] == 0xa8 {
		return initiateResponse
	}
	response := append([]byte(nil), request...)
	response[0] = 0xa1
	return response
}

func startServer(t *testing.T, opts ...ServerOption) (*Server, func() net.Conn) {
	t.Helper()

	opts = append([]ServerOption{WithServerLogger(logger.Nop())}, opts...)
	server := NewServer(echoHandler, opts...)
	t.Cleanup(func() { server.Close() })

	return server, func() net.Conn {
		clientSide, serverSide := net.Pipe()
		server.ServeConn(serverSide)
		return clientSide
	}
}

func TestAssociateAndExchange(t *testing.T) {
	events := make(chan ConnectionEvent, 2)
	_, dial := startServer(t, WithConnectionHandler(func(_ *ServerConnection, event ConnectionEvent) {
		events <- event
	}))

	received := make(chan []byte, 1)
	client := NewClientConnection(
		WithClientLogger(logger.Nop()),
		WithIndicationHandler(func(payload []byte) {
			received <- append([]byte(nil), payload...)
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	response, err := client.Associate(ctx, dial(), nil, initiateRequest)
	require.NoError(t, err)
	assert.Equal(t, initiateResponse, response)
	assert.Equal(t, ClientStateAssociated, client.State())
	assert.Equal(t, ConnectionOpened, <-events)

	request := []byte{0xa0, 0x03, 0x02, 0x01, 0x01}
	require.NoError(t, client.SendMessage(request))

	select {
	case payload := <-received:
		assert.Equal(t, []byte{0xa1, 0x03, 0x02, 0x01, 0x01}, payload)
	case <-ctx.Done():
		t.Fatal("no response")
	}

	require.NoError(t, client.Release(ctx))
	<-client.Done()
	assert.Equal(t, ClientStateClosed, client.State())
	assert.Equal(t, ConnectionClosed, <-events)
}

func TestAssociateLargeMessage(t *testing.T) {
	_, dial := startServer(t)

	received := make(chan []byte, 1)
	client := NewClientConnection(
		WithClientLogger(logger.Nop()),
		WithIndicationHandler(func(payload []byte) {
			received <- append([]byte(nil), payload...)
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Associate(ctx, dial(), nil, initiateRequest)
	require.NoError(t, err)
	defer client.Close()

	request := make([]byte, 20000)
	request[0], request[1], request[2], request[3] = 0xa0, 0x82, 0x4e, 0x1c
	for i := 4; i < len(request); i++ {
		request[i] = byte(i)
	}
	require.NoError(t, client.SendMessage(request))

	payload := <-received
	require.Len(t, payload, len(request))
	assert.Equal(t, byte(0xa1), payload[0])
	assert.Equal(t, request[1:], payload[1:])
}

func TestAssociateAuthentication(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{name: "верный пароль", password: "secret"},
		{name: "неверный пароль", password: "wrong", wantErr: true},
		{name: "без пароля", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, dial := startServer(t, WithAuthenticator(&acse.PasswordAuthenticator{Password: []byte("secret")}))

			params := NewConnectionParameters("localhost", 0)
			if tt.password != "" {
				params.SetPassword(tt.password)
			}

			client := NewClientConnection(WithClientLogger(logger.Nop()))
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := client.Associate(ctx, dial(), params, initiateRequest)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrAssociationFailed)
				assert.Equal(t, ClientStateError, client.State())
				return
			}
			require.NoError(t, err)
			client.Abort()
		})
	}
}

func TestMaxConnections(t *testing.T) {
	server, dial := startServer(t, WithMaxConnections(1))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first := NewClientConnection(WithClientLogger(logger.Nop()))
	_, err := first.Associate(ctx, dial(), nil, initiateRequest)
	require.NoError(t, err)
	defer first.Close()
	assert.Len(t, server.Connections(), 1)

	second := NewClientConnection(WithClientLogger(logger.Nop()))
	_, err = second.Associate(ctx, dial(), nil, initiateRequest)
	assert.Error(t, err)
}

func TestServerListen(t *testing.T) {
	server := NewServer(echoHandler, WithServerLogger(logger.Nop()))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx, l) }()

	tcpAddr := l.Addr().(*net.TCPAddr)
	params := NewConnectionParameters("127.0.0.1", tcpAddr.Port)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	conn, err := Dial(dialCtx, params)
	require.NoError(t, err)

	client := NewClientConnection(WithClientLogger(logger.Nop()))
	response, err := client.Associate(dialCtx, conn, params, initiateRequest)
	require.NoError(t, err)
	assert.Equal(t, initiateResponse, response)

	cancel()
	assert.ErrorIs(t, <-serveErr, ErrServerClosed)
	<-client.Done()
}

func TestMalformedFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "CR с нулевым LI", frame: []byte{0x03, 0x00, 0x00, 0x06, 0x00, 0xe0}},
		{name: "CR с коротким LI", frame: []byte{0x03, 0x00, 0x00, 0x08, 0x03, 0xe0, 0x00, 0x00}},
		{name: "DT с нулевым LI", frame: []byte{0x03, 0x00, 0x00, 0x06, 0x00, 0xf0}},
		{name: "неверная версия TPKT", frame: []byte{0x04, 0x00, 0x00, 0x07, 0x02, 0xf0, 0x80}},
		{name: "TPKT без TPDU", frame: []byte{0x03, 0x00, 0x00, 0x04}},
		{name: "неизвестный TPDU", frame: []byte{0x03, 0x00, 0x00, 0x07, 0x02, 0x10, 0x80}},
		{name: "мусор вместо SPDU", frame: []byte{0x03, 0x00, 0x00, 0x08, 0x02, 0xf0, 0x80, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, dial := startServer(t)

			conn := dial()
			defer conn.Close()
			require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

			go conn.Write(tt.frame)

			_, err := conn.Read(make([]byte, 64))
			assert.Error(t, err)
			assert.Eventually(t, func() bool { return len(server.Connections()) == 0 }, 5*time.Second, 10*time.Millisecond)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			client := NewClientConnection(WithClientLogger(logger.Nop()))
			response, err := client.Associate(ctx, dial(), nil, initiateRequest)
			require.NoError(t, err)
			assert.Equal(t, initiateResponse, response)
			client.Close()
		})
	}
}
