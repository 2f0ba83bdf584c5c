package handshake

import (
	"time"

	"lumen-core/internal/errors"
	"lumen-core/internal/identity"
	"lumen-core/internal/packet"
	"lumen-core/internal/session"
	"lumen-core/internal/stream"
	"lumen-core/internal/token"
	"lumen-core/internal/utils"

	"github.com/google/uuid"
)

// State 握手状态
type State int32

const (
	StateIdle State = iota
	StateAwaitingHandshake
	StateRejoining
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateRejoining:
		return "rejoining"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	// DefaultTimeout 握手阶段连接空闲超时
	DefaultTimeout = 10 * time.Second
)

// Config 握手配置
type Config struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Result 握手成功的结果
type Result struct {
	Session *session.Session
	Token   string
	Resumed bool
}

// Machine 单条连接的握手状态机
// Idle → AwaitingHandshake → (Rejoining) → Authenticated，
// 任意状态可达 Closed；认证前收到任何非握手帧视为协议违规
type Machine struct {
	connID   string
	registry *session.Registry
	issuer   *token.TokenIssuer
	timeout  time.Duration

	state State
	nonce []byte
}

// NewMachine 创建握手状态机
func NewMachine(connID string, registry *session.Registry, issuer *token.TokenIssuer, config *Config) *Machine {
	timeout := DefaultTimeout
	if config != nil && config.Timeout > 0 {
		timeout = config.Timeout
	}
	return &Machine{
		connID:   connID,
		registry: registry,
		issuer:   issuer,
		timeout:  timeout,
		state:    StateIdle,
	}
}

// State 当前状态
func (m *Machine) State() State {
	return m.state
}

// Run 驱动握手：下发挑战，等待握手或恢复请求，产出已认证会话
// 失败时向对端发送终止信号并返回致命错误，调用方负责关闭连接
func (m *Machine) Run(fs *stream.FrameStream) (*Result, error) {
	nonce, err := identity.NewNonce()
	if err != nil {
		m.state = StateClosed
		return nil, errors.WrapError(err, "challenge nonce")
	}
	m.nonce = nonce
	m.state = StateAwaitingHandshake

	if err := fs.WriteFrame(&packet.Challenge{Nonce: nonce}); err != nil {
		m.state = StateClosed
		return nil, err
	}

	frame, err := m.readWithTimeout(fs)
	if err != nil {
		m.state = StateClosed
		if err == errors.ErrHandshakeTimeout {
			_ = fs.WriteFrame(&packet.Close{Reason: packet.ReasonHandshakeTimeout})
		}
		return nil, err
	}

	switch f := frame.(type) {
	case *packet.HandshakeRequest:
		return m.handleHandshake(fs, f)
	case *packet.JoinRequest:
		return m.handleJoin(fs, f)
	case *packet.Close:
		m.state = StateClosed
		return nil, errors.ErrConnectionClosed
	default:
		m.state = StateClosed
		_ = fs.WriteFrame(&packet.Close{Reason: packet.ReasonProtocolViolation})
		return nil, errors.WrapError(errors.ErrProtocolViolation,
			"unexpected frame before authentication")
	}
}

// handleHandshake 完整签名握手路径
func (m *Machine) handleHandshake(fs *stream.FrameStream, req *packet.HandshakeRequest) (*Result, error) {
	nodeID, err := identity.NewNodeIdentity(req.Identity)
	if err != nil {
		m.state = StateClosed
		_ = fs.WriteFrame(&packet.Close{Reason: packet.ReasonProtocolViolation})
		return nil, errors.WrapError(errors.ErrProtocolViolation, "bad identity")
	}

	if !nodeID.VerifyNonce(m.nonce, req.Signature) {
		m.state = StateClosed
		_ = fs.WriteFrame(&packet.HandshakeResponse{Status: packet.StatusInvalidSignature})
		_ = fs.WriteFrame(&packet.Close{Reason: packet.ReasonInvalidSignature})
		utils.WithConn(m.connID).Warn("handshake signature verification failed")
		return nil, errors.ErrInvalidSignature
	}

	mode := packet.ModeSecondary
	if req.NodeClass() {
		mode = packet.ModePrimary
	}

	sess := m.registry.Create(nodeID, mode)
	accessToken, err := m.issuer.Issue(sess.ID, nodeID.FingerprintHex())
	if err != nil {
		m.state = StateClosed
		return nil, errors.WrapError(err, "issue access token")
	}

	if err := fs.WriteFrame(&packet.HandshakeResponse{
		Status:    packet.StatusOK,
		SessionID: sess.ID,
		Token:     []byte(accessToken),
	}); err != nil {
		m.state = StateClosed
		return nil, err
	}

	m.state = StateAuthenticated
	utils.WithConn(m.connID).
		WithField("session_id", sess.ID.String()).
		WithField("mode", mode.String()).
		WithField("retry", req.Retry()).
		Info("handshake completed")

	return &Result{Session: sess, Token: accessToken}, nil
}

// handleJoin 令牌恢复路径，跳过签名校验
func (m *Machine) handleJoin(fs *stream.FrameStream, req *packet.JoinRequest) (*Result, error) {
	m.state = StateRejoining

	claims, err := m.issuer.Validate(string(req.Token))
	if err != nil {
		return nil, m.rejectJoin(fs, err)
	}

	// 令牌声明的会话必须与请求一致
	if claims.SessionID != req.SessionID.String() {
		return nil, m.rejectJoin(fs, errors.ErrTokenMismatch)
	}

	sessID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, m.rejectJoin(fs, errors.ErrTokenMismatch)
	}

	sess, err := m.registry.Resume(sessID, claims.Fingerprint)
	if err != nil {
		return nil, m.rejectJoin(fs, err)
	}

	if err := fs.WriteFrame(&packet.JoinResponse{
		Status:       packet.StatusOK,
		LastSequence: sess.LastAccepted(),
	}); err != nil {
		m.state = StateClosed
		return nil, err
	}

	m.state = StateAuthenticated
	utils.WithConn(m.connID).
		WithField("session_id", sess.ID.String()).
		Info("session resumed")

	return &Result{Session: sess, Resumed: true}, nil
}

// rejectJoin 拒绝恢复请求，只关闭本连接，不影响既有会话
func (m *Machine) rejectJoin(fs *stream.FrameStream, cause error) error {
	status := packet.StatusTokenMismatch
	switch cause {
	case errors.ErrTokenExpired:
		status = packet.StatusTokenExpired
	case errors.ErrSessionNotFound:
		status = packet.StatusSessionNotFound
	}

	m.state = StateClosed
	_ = fs.WriteFrame(&packet.JoinResponse{Status: status})
	_ = fs.WriteFrame(&packet.Close{Reason: packet.ReasonNormal})
	utils.WithConn(m.connID).Debugf("join rejected: %v", cause)
	return cause
}

// readWithTimeout 带握手超时的帧读取
func (m *Machine) readWithTimeout(fs *stream.FrameStream) (packet.Frame, error) {
	type readResult struct {
		frame packet.Frame
		err   error
	}
	ch := make(chan readResult, 1)
	go func() {
		frame, err := fs.ReadFrame()
		ch <- readResult{frame: frame, err: err}
	}()

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-time.After(m.timeout):
		return nil, errors.ErrHandshakeTimeout
	}
}
