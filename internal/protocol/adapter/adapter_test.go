package adapter

import (
	"context"
	"io"
	"testing"
	"time"

	"lumen-core/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip 验证适配器监听、拨号、双向读写与关闭
func roundTrip(t *testing.T, a Adapter) {
	t.Helper()
	require.NoError(t, a.Listen("127.0.0.1:0"))
	require.NotEmpty(t, a.Addr())

	type acceptResult struct {
		conn io.ReadWriteCloser
		err  error
	}
	accepted := make(chan acceptResult, 1)
	go func() {
		conn, _, err := a.Accept()
		accepted <- acceptResult{conn: conn, err: err}
	}()

	clientConn, err := a.Dial(a.Addr())
	require.NoError(t, err)
	defer clientConn.Close()

	var serverConn io.ReadWriteCloser
	select {
	case r := <-accepted:
		require.NoError(t, r.err)
		serverConn = r.conn
	case <-time.After(5 * time.Second):
		t.Fatal("accept timed out")
	}
	defer serverConn.Close()

	// 客户端到服务端
	_, err = clientConn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(serverConn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	// 服务端到客户端
	_, err = serverConn.Write([]byte("pong"))
	require.NoError(t, err)
	_, err = io.ReadFull(clientConn, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))
}

func TestTCPAdapter_RoundTrip(t *testing.T) {
	a := NewTCPAdapter(context.Background())
	defer a.Close()
	assert.Equal(t, "tcp", a.Name())
	roundTrip(t, a)
}

func TestWebSocketAdapter_RoundTrip(t *testing.T) {
	a := NewWebSocketAdapter(context.Background())
	defer a.Close()
	assert.Equal(t, "websocket", a.Name())
	roundTrip(t, a)
}

func TestKCPAdapter_RoundTrip(t *testing.T) {
	a := NewKCPAdapter(context.Background())
	defer a.Close()
	assert.Equal(t, "kcp", a.Name())
	roundTrip(t, a)
}

func TestQUICAdapter_RoundTrip(t *testing.T) {
	a := NewQUICAdapter(context.Background())
	defer a.Close()
	assert.Equal(t, "quic", a.Name())
	roundTrip(t, a)
}

func TestTCPAdapter_AcceptAfterClose(t *testing.T) {
	a := NewTCPAdapter(context.Background())
	require.NoError(t, a.Listen("127.0.0.1:0"))
	require.NoError(t, a.Close())

	_, _, err := a.Accept()
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)
}

func TestTCPAdapter_DialUnreachable(t *testing.T) {
	a := NewTCPAdapter(context.Background())
	defer a.Close()

	// 未监听的端口
	_, err := a.Dial("127.0.0.1:1")
	require.Error(t, err)
}
