package mms

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/logger"
)

func TestInvokeIDUnique(t *testing.T) {
	c := NewConnection(WithLogger(logger.Nop()))

	const workers, perWorker = 8, 100
	ids := make(chan uint32, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- c.nextInvokeID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint32]bool)
	for id := range ids {
		assert.False(t, seen[id], "invokeID %d выдан дважды", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestOutstandingCalls(t *testing.T) {
	c := NewConnection(WithLogger(logger.Nop()))

	for i := uint32(1); i <= OutstandingCalls; i++ {
		require.True(t, c.addToOutstandingCalls(i))
	}
	assert.False(t, c.addToOutstandingCalls(OutstandingCalls+1))
	assert.True(t, c.checkForOutstandingCall(3))

	c.removeFromOutstandingCalls(3)
	assert.False(t, c.checkForOutstandingCall(3))
	assert.True(t, c.addToOutstandingCalls(OutstandingCalls+1))
}

func TestConnectionNotAssociated(t *testing.T) {
	c := NewConnection(WithLogger(logger.Nop()))
	assert.Equal(t, ConnectionIdle, c.State())

	_, err := c.Identify(context.Background())
	assert.ErrorIs(t, err, ErrorConnectionLost)
}

func TestConnectionLost(t *testing.T) {
	lost := make(chan error, 1)
	server, client := startTestServerWithClient(t, []ConnectionOption{
		WithConnectionLostHandler(func(err error) { lost <- err }),
	})

	require.NoError(t, server.Close())

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("connection lost handler not called")
	}
	assert.Equal(t, ConnectionClosed, client.State())

	_, err := client.GetDomainNames(context.Background())
	assert.ErrorIs(t, err, ErrorConnectionLost)
}

func TestConnectTransportRejected(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	// сервер закрывает транспорт, не отвечая на запрос соединения
	go func() {
		buf := make([]byte, 1024)
		serverSide.Read(buf)
		serverSide.Close()
	}()

	c := NewConnection(WithLogger(logger.Nop()), WithRequestTimeout(time.Second))
	err := c.ConnectTransport(context.Background(), clientSide, nil)
	assert.ErrorIs(t, err, ErrorConnectionRejected)
	assert.Equal(t, ConnectionAssociationFailed, c.State())
}
