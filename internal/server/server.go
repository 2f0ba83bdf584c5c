package server

import (
	"context"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lumen-core/internal/config"
	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"
	"lumen-core/internal/packet"
	"lumen-core/internal/protocol/adapter"
	"lumen-core/internal/protocol/handshake"
	"lumen-core/internal/protocol/mux"
	"lumen-core/internal/session"
	"lumen-core/internal/stream"
	"lumen-core/internal/token"
	"lumen-core/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Server 节点会话层服务端
// 每个监听适配器一个接受循环，每条连接一个驱动协程：
// 握手认证 → 注册表挂载 → 多路分发，连接关闭必然触发注册表解绑
type Server struct {
	dispose.Dispose
	cfg      *config.ServerConfig
	codec    *packet.Codec
	registry *session.Registry
	issuer   *token.TokenIssuer
	mux      *mux.Multiplexer
	adapters []adapter.Adapter
	limiter  *rate.Limiter
}

// New 创建服务端
func New(cfg *config.ServerConfig, parentCtx context.Context) (*Server, error) {
	if cfg == nil {
		cfg = &config.Default().Server
	}

	s := &Server{
		cfg:   cfg,
		codec: packet.NewCodec(cfg.MaxFrameSize),
	}
	s.SetCtx(parentCtx, s.onClose)

	s.registry = session.NewRegistry(&cfg.Registry, s.Ctx())
	issuer, err := token.NewTokenIssuer(&cfg.Token, s.Ctx())
	if err != nil {
		return nil, err
	}
	s.issuer = issuer
	s.mux = mux.NewMultiplexer(s.registry, cfg.BacklogSize, s.Ctx())
	// 会话驱逐时连带丢弃其出站积压
	s.registry.OnEvict(s.mux.DropBacklog)

	if cfg.HandshakeRate > 0 {
		burst := cfg.HandshakeBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.HandshakeRate), burst)
	}
	return s, nil
}

func (s *Server) onClose() error {
	for _, a := range s.adapters {
		_ = a.Close()
	}
	return nil
}

// Registry 会话注册表
func (s *Server) Registry() *session.Registry { return s.registry }

// Mux 多路复用器
func (s *Server) Mux() *mux.Multiplexer { return s.mux }

// Issuer 令牌签发器
func (s *Server) Issuer() *token.TokenIssuer { return s.issuer }

// Addrs 各监听适配器的实际地址，Start 之后可用
func (s *Server) Addrs() []string {
	addrs := make([]string, 0, len(s.adapters))
	for _, a := range s.adapters {
		addrs = append(addrs, a.Addr())
	}
	return addrs
}

// Register 注册服务处理器，启动前一次性配置
func (s *Server) Register(serviceID uint32, minMode packet.AccessMode, handler mux.Handler) error {
	return s.mux.Register(serviceID, minMode, handler)
}

// Start 启动全部监听适配器
func (s *Server) Start() error {
	g := &errgroup.Group{}
	for _, lc := range s.cfg.Listeners {
		lc := lc
		a, err := s.newAdapter(lc.Protocol)
		if err != nil {
			return err
		}
		s.adapters = append(s.adapters, a)
		g.Go(func() error {
			if err := a.Listen(lc.Addr); err != nil {
				return err
			}
			go s.serveAdapter(a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	utils.Infof("server started with %d listener(s)", len(s.adapters))
	return nil
}

// Run 启动并阻塞至收到退出信号
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		utils.Infof("received signal %v, shutting down", sig)
	case <-s.Ctx().Done():
	}

	return s.CloseWithError()
}

func (s *Server) newAdapter(protocol string) (adapter.Adapter, error) {
	switch protocol {
	case "tcp":
		return adapter.NewTCPAdapter(s.Ctx()), nil
	case "websocket":
		return adapter.NewWebSocketAdapter(s.Ctx()), nil
	case "quic":
		return adapter.NewQUICAdapter(s.Ctx()), nil
	case "kcp":
		return adapter.NewKCPAdapter(s.Ctx()), nil
	default:
		return nil, errors.NewTransportError(protocol, "unsupported protocol", nil)
	}
}

// serveAdapter 适配器接受循环
func (s *Server) serveAdapter(a adapter.Adapter) {
	for {
		conn, addr, err := a.Accept()
		if err != nil {
			if !s.IsClosed() {
				utils.Warnf("%s accept stopped: %v", a.Name(), err)
			}
			return
		}

		// 握手限速：超额连接直接拒绝，避免签名校验被打爆
		if s.limiter != nil && !s.limiter.Allow() {
			utils.Warnf("%s connection from %v rejected by handshake rate limit", a.Name(), addr)
			_ = conn.Close()
			continue
		}

		go s.handleConnection(conn, addr, a.Name())
	}
}

// handleConnection 驱动单条连接：握手、挂载、分发循环、清理
func (s *Server) handleConnection(raw io.ReadWriteCloser, addr net.Addr, protocol string) {
	connID := uuid.NewString()
	fs := stream.NewFrameStream(raw, s.codec, s.Ctx())
	log := utils.WithConn(connID).WithField("protocol", protocol)

	machine := handshake.NewMachine(connID, s.registry, s.issuer, &s.cfg.Handshake)
	result, err := machine.Run(fs)
	if err != nil {
		log.Debugf("handshake failed: %v", err)
		_ = fs.CloseWithError()
		return
	}

	conn := NewConnection(connID, fs, addr, protocol, s.Ctx())
	sess := result.Session
	s.registry.Attach(sess, conn)
	s.mux.FlushBacklog(sess)

	defer func() {
		s.registry.Detach(connID)
		_ = conn.CloseWithError()
		log.Debug("connection closed")
	}()

	if s.cfg.HeartbeatInterval > 0 {
		go s.heartbeatLoop(conn)
	}

	s.dispatchLoop(conn, sess, log)
}

// dispatchLoop 已认证连接的帧分发循环
// 帧级错误（UnknownService/AccessDenied/Backpressure）丢帧不断连，
// 致命错误与传输错误终止连接
func (s *Server) dispatchLoop(conn *Connection, sess *session.Session, log *logrus.Entry) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !conn.IsClosed() && !s.IsClosed() {
				log.Debugf("read failed: %v", err)
			}
			return
		}

		switch f := frame.(type) {
		case *packet.ServicePayload:
			if err := s.mux.Dispatch(sess, f); err != nil {
				if errors.IsFatal(err) {
					log.Warnf("dispatch fatal error: %v", err)
					_ = conn.CloseWithReason(packet.ReasonProtocolViolation)
					return
				}
				log.Debugf("frame dropped: %v", err)
			}

		case *packet.Ping:
			if err := conn.WriteFrame(&packet.Pong{}); err != nil {
				return
			}

		case *packet.Pong:
			// 心跳响应只刷新活跃时间，ReadFrame 已处理

		case *packet.Close:
			log.Debugf("peer closed connection: reason=0x%02x", byte(f.Reason))
			return

		default:
			// 认证后的握手/恢复帧属于协议违规
			log.Warnf("protocol violation: unexpected frame type 0x%02x", byte(frame.Type()))
			_ = conn.CloseWithReason(packet.ReasonProtocolViolation)
			return
		}
	}
}

// heartbeatLoop 周期性心跳与空闲超时检测
func (s *Server) heartbeatLoop(conn *Connection) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Ctx().Done():
			return
		case <-ticker.C:
			if s.cfg.IdleTimeout > 0 && conn.IdleSince() > s.cfg.IdleTimeout {
				utils.WithConn(conn.ID()).Info("closing idle connection")
				_ = conn.CloseWithReason(packet.ReasonNormal)
				return
			}
			if err := conn.WriteFrame(&packet.Ping{}); err != nil {
				return
			}
		}
	}
}
