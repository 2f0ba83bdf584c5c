package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	stderrors "errors"

	"lumen-core/internal/client"
	"lumen-core/internal/config"
	"lumen-core/internal/errors"
	"lumen-core/internal/identity"
	"lumen-core/internal/packet"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testServiceEcho  = uint32(1)
	testServiceAdmin = uint32(100)
)

// startTestServer 启动单TCP监听的测试服务端，注册回显与管理两个服务
func startTestServer(t *testing.T, mutate func(cfg *config.ServerConfig)) (*Server, string) {
	t.Helper()

	cfg := config.Default().Server
	cfg.Listeners = []config.ListenerConfig{{Protocol: "tcp", Addr: "127.0.0.1:0"}}
	cfg.HeartbeatInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(&cfg, context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { srv.CloseWithError() })

	require.NoError(t, srv.Register(testServiceEcho, packet.ModeSecondary,
		echoService{}))
	require.NoError(t, srv.Register(testServiceAdmin, packet.ModePrimary,
		adminService{}))

	require.NoError(t, srv.Start())
	addrs := srv.Addrs()
	require.Len(t, addrs, 1)
	return srv, addrs[0]
}

type echoService struct{}

func (echoService) HandlePayload(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error) {
	return payload, nil
}

type adminService struct{}

func (adminService) HandlePayload(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("admin:%s", payload)), nil
}

func dialTestClient(t *testing.T, addr string, nodeClass bool) (*client.Client, *identity.KeyPair) {
	t.Helper()
	keys, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	c, err := client.Dial(&client.Config{Addr: addr, NodeClass: nodeClass}, keys, context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseWithError() })
	return c, keys
}

func nextFrame(t *testing.T, c *client.Client) *packet.ServicePayload {
	t.Helper()
	type result struct {
		frame *packet.ServicePayload
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := c.Next()
		ch <- result{frame: frame, err: err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.frame
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestServer_EchoRoundTrip(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	c, _ := dialTestClient(t, addr, false)
	require.NotEqual(t, uuid.Nil, c.SessionID)
	require.NotEmpty(t, c.Token)
	assert.Equal(t, 1, srv.Registry().Count())

	require.NoError(t, c.Send(testServiceEcho, []byte("hello")))
	frame := nextFrame(t, c)
	assert.Equal(t, testServiceEcho, frame.ServiceID)
	assert.Equal(t, []byte("hello"), frame.Payload)
}

func TestServer_AccessControl(t *testing.T) {
	_, addr := startTestServer(t, nil)

	// Secondary 会话：管理服务的帧被丢弃，连接保持可用
	secondary, _ := dialTestClient(t, addr, false)
	require.NoError(t, secondary.Send(testServiceAdmin, []byte("op")))
	require.NoError(t, secondary.Send(testServiceEcho, []byte("still-alive")))

	frame := nextFrame(t, secondary)
	assert.Equal(t, testServiceEcho, frame.ServiceID)
	assert.Equal(t, []byte("still-alive"), frame.Payload)

	// Primary 会话两个服务都可达
	primary, _ := dialTestClient(t, addr, true)
	require.NoError(t, primary.Send(testServiceAdmin, []byte("op")))
	frame = nextFrame(t, primary)
	assert.Equal(t, testServiceAdmin, frame.ServiceID)
	assert.Equal(t, []byte("admin:op"), frame.Payload)
}

func TestServer_UnknownServiceKeepsConnection(t *testing.T) {
	_, addr := startTestServer(t, nil)

	c, _ := dialTestClient(t, addr, false)
	require.NoError(t, c.Send(9999, []byte("x")))
	require.NoError(t, c.Send(testServiceEcho, []byte("ok")))

	frame := nextFrame(t, c)
	assert.Equal(t, []byte("ok"), frame.Payload)
}

func TestServer_RejoinSameSession(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	c1, keys := dialTestClient(t, addr, false)
	sessionID, accessToken := c1.SessionID, c1.Token

	require.NoError(t, c1.Send(testServiceEcho, []byte("one")))
	nextFrame(t, c1)

	c1.CloseWithError()

	// 等服务端完成解绑
	sess, ok := srv.Registry().Lookup(sessionID)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sess.ActiveConn() == nil
	}, 5*time.Second, 10*time.Millisecond)

	c2, err := client.Rejoin(&client.Config{Addr: addr}, keys, sessionID, accessToken, context.Background())
	require.NoError(t, err)
	defer c2.CloseWithError()

	// 恢复到同一会话，注册表不新增
	assert.Equal(t, sessionID, c2.SessionID)
	assert.Equal(t, 1, srv.Registry().Count())

	require.NoError(t, c2.Send(testServiceEcho, []byte("two")))
	frame := nextFrame(t, c2)
	assert.Equal(t, []byte("two"), frame.Payload)
}

func TestServer_RejoinFlushesBacklog(t *testing.T) {
	srv, addr := startTestServer(t, nil)

	c1, keys := dialTestClient(t, addr, false)
	sessionID, accessToken := c1.SessionID, c1.Token
	c1.CloseWithError()

	sess, ok := srv.Registry().Lookup(sessionID)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sess.ActiveConn() == nil
	}, 5*time.Second, 10*time.Millisecond)

	// 重连间隙内推送的帧进入积压
	require.NoError(t, srv.Mux().Push(sessionID, testServiceEcho, []byte("queued-1")))
	require.NoError(t, srv.Mux().Push(sessionID, testServiceEcho, []byte("queued-2")))

	c2, err := client.Rejoin(&client.Config{Addr: addr}, keys, sessionID, accessToken, context.Background())
	require.NoError(t, err)
	defer c2.CloseWithError()

	// 新连接接管后按序收到积压帧
	assert.Equal(t, []byte("queued-1"), nextFrame(t, c2).Payload)
	assert.Equal(t, []byte("queued-2"), nextFrame(t, c2).Payload)
}

func TestServer_RejoinReplacesActiveConn(t *testing.T) {
	_, addr := startTestServer(t, nil)

	c1, keys := dialTestClient(t, addr, false)
	sessionID, accessToken := c1.SessionID, c1.Token

	// 原连接仍在时恢复会话，旧连接被退役
	c2, err := client.Rejoin(&client.Config{Addr: addr}, keys, sessionID, accessToken, context.Background())
	require.NoError(t, err)
	defer c2.CloseWithError()

	_, err = c1.Next()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrConnectionClosed))

	require.NoError(t, c2.Send(testServiceEcho, []byte("takeover")))
	assert.Equal(t, []byte("takeover"), nextFrame(t, c2).Payload)
}

func TestServer_RejoinAfterEviction(t *testing.T) {
	srv, addr := startTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Registry.IdleWindow = 50 * time.Millisecond
	})

	c1, keys := dialTestClient(t, addr, false)
	sessionID, accessToken := c1.SessionID, c1.Token
	c1.CloseWithError()

	// 闲置窗口过后会话被驱逐
	require.Eventually(t, func() bool {
		_, ok := srv.Registry().Lookup(sessionID)
		return !ok
	}, 5*time.Second, 10*time.Millisecond)

	_, err := client.Rejoin(&client.Config{Addr: addr}, keys, sessionID, accessToken, context.Background())
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestServer_RejoinExpiredToken(t *testing.T) {
	_, addr := startTestServer(t, func(cfg *config.ServerConfig) {
		cfg.Token.TTL = time.Second
	})

	c1, keys := dialTestClient(t, addr, false)
	sessionID, accessToken := c1.SessionID, c1.Token
	c1.CloseWithError()

	// 令牌过期后恢复被拒；过期前的恢复可能成功，关掉重试
	require.Eventually(t, func() bool {
		c, err := client.Rejoin(&client.Config{Addr: addr}, keys, sessionID, accessToken, context.Background())
		if err == nil {
			c.CloseWithError()
			return false
		}
		return stderrors.Is(err, errors.ErrTokenExpired)
	}, 5*time.Second, 200*time.Millisecond)
}

func TestServer_PingPong(t *testing.T) {
	_, addr := startTestServer(t, nil)

	c, _ := dialTestClient(t, addr, false)
	require.NoError(t, c.Ping())

	// Pong 由 Next 透明吞掉，后续数据帧正常到达
	require.NoError(t, c.Send(testServiceEcho, []byte("after-ping")))
	frame := nextFrame(t, c)
	assert.Equal(t, []byte("after-ping"), frame.Payload)
}
