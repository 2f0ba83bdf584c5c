package client

import (
	"context"
	"fmt"
	"io"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"
	"lumen-core/internal/identity"
	"lumen-core/internal/packet"
	"lumen-core/internal/protocol/adapter"
	"lumen-core/internal/stream"
	"lumen-core/internal/utils"

	"github.com/google/uuid"
)

// Config 客户端配置
type Config struct {
	Protocol     string `yaml:"protocol"`
	Addr         string `yaml:"addr"`
	MaxFrameSize int    `yaml:"max_frame_size"`
	// NodeClass 以节点身份（Primary 模式）接入
	NodeClass bool `yaml:"node_class"`
	// ServiceID 握手时声明要接入的服务
	ServiceID uint32 `yaml:"service_id"`
}

// Client 会话层客户端
// 完整握手或凭令牌恢复会话，之后通过 Send/Next 收发服务数据帧
type Client struct {
	dispose.Dispose
	cfg   *Config
	keys  *identity.KeyPair
	codec *packet.Codec
	fs    *stream.FrameStream

	SessionID uuid.UUID
	Token     string
	sess      *sessionState
}

type sessionState struct {
	outSeq uint64
}

// Dial 建立连接并完成签名握手
func Dial(cfg *Config, keys *identity.KeyPair, parentCtx context.Context) (*Client, error) {
	c, err := connect(cfg, keys, parentCtx)
	if err != nil {
		return nil, err
	}

	if err := c.doHandshake(false); err != nil {
		_ = c.CloseWithError()
		return nil, err
	}
	return c, nil
}

// Rejoin 建立新连接并凭令牌恢复既有会话
func Rejoin(cfg *Config, keys *identity.KeyPair, sessionID uuid.UUID, accessToken string, parentCtx context.Context) (*Client, error) {
	c, err := connect(cfg, keys, parentCtx)
	if err != nil {
		return nil, err
	}

	if err := c.doJoin(sessionID, accessToken); err != nil {
		_ = c.CloseWithError()
		return nil, err
	}
	return c, nil
}

func connect(cfg *Config, keys *identity.KeyPair, parentCtx context.Context) (*Client, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, fmt.Errorf("client addr is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("client key pair is required")
	}

	c := &Client{
		cfg:   cfg,
		keys:  keys,
		codec: packet.NewCodec(cfg.MaxFrameSize),
	}
	c.SetCtx(parentCtx, c.onClose)

	raw, err := c.dialRaw()
	if err != nil {
		_ = c.CloseWithError()
		return nil, err
	}
	c.fs = stream.NewFrameStream(raw, c.codec, c.Ctx())
	return c, nil
}

func (c *Client) onClose() error {
	if c.fs != nil {
		return c.fs.CloseWithError()
	}
	return nil
}

func (c *Client) dialRaw() (io.ReadWriteCloser, error) {
	protocol := c.cfg.Protocol
	if protocol == "" {
		protocol = "tcp"
	}

	var a adapter.Adapter
	switch protocol {
	case "tcp":
		a = adapter.NewTCPAdapter(c.Ctx())
	case "websocket":
		a = adapter.NewWebSocketAdapter(c.Ctx())
	case "quic":
		a = adapter.NewQUICAdapter(c.Ctx())
	case "kcp":
		a = adapter.NewKCPAdapter(c.Ctx())
	default:
		return nil, errors.NewTransportError(protocol, "unsupported protocol", nil)
	}
	return a.Dial(c.cfg.Addr)
}

// doHandshake 完整签名握手
func (c *Client) doHandshake(retry bool) error {
	challenge, err := c.readChallenge()
	if err != nil {
		return err
	}

	flags := byte(0)
	if retry {
		flags |= packet.FlagRetry
	}
	if c.cfg.NodeClass {
		flags |= packet.FlagNodeClass
	}

	req := &packet.HandshakeRequest{
		Identity:  c.keys.Identity().Bytes(),
		Signature: c.keys.SignNonce(challenge.Nonce),
		ServiceID: c.cfg.ServiceID,
		Flags:     flags,
	}
	if err := c.fs.WriteFrame(req); err != nil {
		return err
	}

	frame, err := c.fs.ReadFrame()
	if err != nil {
		return err
	}
	resp, ok := frame.(*packet.HandshakeResponse)
	if !ok {
		return errors.WrapError(errors.ErrProtocolViolation, "expected handshake response")
	}
	if resp.Status != packet.StatusOK {
		return errors.WrapError(errors.ErrInvalidSignature,
			fmt.Sprintf("handshake rejected with status 0x%02x", byte(resp.Status)))
	}

	c.SessionID = resp.SessionID
	c.Token = string(resp.Token)
	c.sess = &sessionState{}
	utils.WithSession(c.SessionID.String()).Debug("client handshake completed")
	return nil
}

// doJoin 凭令牌恢复会话
func (c *Client) doJoin(sessionID uuid.UUID, accessToken string) error {
	// 恢复路径不使用挑战，但服务端总会先下发
	if _, err := c.readChallenge(); err != nil {
		return err
	}

	req := &packet.JoinRequest{
		SessionID: sessionID,
		Token:     []byte(accessToken),
	}
	if err := c.fs.WriteFrame(req); err != nil {
		return err
	}

	frame, err := c.fs.ReadFrame()
	if err != nil {
		return err
	}
	resp, ok := frame.(*packet.JoinResponse)
	if !ok {
		return errors.WrapError(errors.ErrProtocolViolation, "expected join response")
	}

	switch resp.Status {
	case packet.StatusOK:
	case packet.StatusTokenExpired:
		return errors.ErrTokenExpired
	case packet.StatusSessionNotFound:
		return errors.ErrSessionNotFound
	default:
		return errors.ErrTokenMismatch
	}

	c.SessionID = sessionID
	c.Token = accessToken
	// 从服务端已接受的序号之后继续编号
	c.sess = &sessionState{outSeq: resp.LastSequence}
	utils.WithSession(c.SessionID.String()).Debug("client rejoined session")
	return nil
}

func (c *Client) readChallenge() (*packet.Challenge, error) {
	frame, err := c.fs.ReadFrame()
	if err != nil {
		return nil, err
	}
	challenge, ok := frame.(*packet.Challenge)
	if !ok {
		return nil, errors.WrapError(errors.ErrProtocolViolation, "expected challenge")
	}
	return challenge, nil
}

// Send 发送服务数据帧
func (c *Client) Send(serviceID uint32, payload []byte) error {
	if c.sess == nil {
		return errors.ErrNotAuthenticated
	}
	c.sess.outSeq++
	return c.fs.WriteFrame(&packet.ServicePayload{
		ServiceID: serviceID,
		Sequence:  c.sess.outSeq,
		Payload:   payload,
	})
}

// Next 读取下一个服务数据帧
// 透明应答心跳；收到终止信号时返回 ErrConnectionClosed
func (c *Client) Next() (*packet.ServicePayload, error) {
	for {
		frame, err := c.fs.ReadFrame()
		if err != nil {
			return nil, err
		}

		switch f := frame.(type) {
		case *packet.ServicePayload:
			return f, nil
		case *packet.Ping:
			if err := c.fs.WriteFrame(&packet.Pong{}); err != nil {
				return nil, err
			}
		case *packet.Pong:
			// 忽略
		case *packet.Close:
			return nil, errors.WrapError(errors.ErrConnectionClosed,
				fmt.Sprintf("peer closed: reason=0x%02x", byte(f.Reason)))
		default:
			return nil, errors.WrapError(errors.ErrProtocolViolation, "unexpected frame")
		}
	}
}

// Ping 主动发送心跳
func (c *Client) Ping() error {
	return c.fs.WriteFrame(&packet.Ping{})
}
