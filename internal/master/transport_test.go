//go:build !windows

package master

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"picomasterd/internal/wire"
)

func TestTransportRespondsToPingAndVersion(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "picomasterd.sock")
	c := newRunningCenter(t)
	transport := NewTransport(sock, c, testLogger, "1.2.3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx)
	defer transport.Close()

	waitForSocket(t, sock)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteJSON(conn, wire.MasterRequest{Type: wire.ReqPing}))
	resp := readUntil(t, conn, wire.RespPong)

	require.NoError(t, wire.WriteJSON(conn, wire.MasterRequest{Type: wire.ReqVersion}))
	resp = readUntil(t, conn, wire.RespVersion)
	assert.Equal(t, "1.2.3", resp.Version)
}

// readUntil skips over unsolicited heartbeat Pong frames, which may
// interleave with the real response on the same connection.
func readUntil(t *testing.T, conn net.Conn, want wire.ResponseType) wire.MasterResponse {
	for i := 0; i < 10; i++ {
		var resp wire.MasterResponse
		require.NoError(t, wire.ReadJSON(conn, &resp))
		if resp.Type == want {
			return resp
		}
	}
	t.Fatalf("never observed a %s response", want)
	return wire.MasterResponse{}
}

func TestTransportReportsUnknownService(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "picomasterd.sock")
	c := newRunningCenter(t, "web")
	transport := NewTransport(sock, c, testLogger, "dev")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go transport.Serve(ctx)
	defer transport.Close()

	waitForSocket(t, sock)

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, wire.WriteJSON(conn, wire.MasterRequest{Type: wire.ReqStatus, Name: "missing"}))
	resp := readUntil(t, conn, wire.RespErrorUnknownService)
	assert.Equal(t, wire.RespErrorUnknownService, resp.Type)
}

func waitForSocket(t *testing.T, path string) {
	deadline := time.After(2 * time.Second)
	for {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return
		}
		select {
		case <-deadline:
			t.Fatalf("socket %s never became ready", path)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
