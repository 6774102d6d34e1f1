package libiec61850

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careychow/libIEC61850-sub000/iec61850/client"
	"github.com/careychow/libIEC61850-sub000/iec61850/model"
	"github.com/careychow/libIEC61850-sub000/iec61850/server"
	"github.com/careychow/libIEC61850-sub000/logger"
)

func TestDialServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, err := NewServer(afero.NewOsFs(), "iec61850/model/testdata/simple.yaml", server.WithLogger(logger.Nop()))
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(serveCtx, l) }()
	defer func() {
		stop()
		<-done
		srv.Close()
	}()

	port := l.Addr().(*net.TCPAddr).Port
	c, err := Dial(ctx, "127.0.0.1", port, client.WithLogger(logger.Nop()))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, client.StateConnected, c.State())
	vendor, err := c.ReadString(ctx, "GenericIO/LLN0.NamPlt.vendor", model.FCDC)
	require.NoError(t, err)
	assert.Equal(t, "libiec61850.com", vendor)

	require.NoError(t, c.Release(ctx))
}

func TestNewServerMissingModel(t *testing.T) {
	_, err := NewServer(afero.NewMemMapFs(), "missing.yaml")
	assert.Error(t, err)
}
