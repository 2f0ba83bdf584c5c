package packet

import (
	"github.com/google/uuid"
)

// Network 网络魔数，携带在握手请求帧头部，用于快速拒绝异构网络的连接
var Network = [6]byte{'L', 'U', 'M', 'E', 'N', '1'}

// FrameType 帧类型
type FrameType byte

const (
	FrameChallenge         FrameType = 0x01 // 服务端下发连接挑战随机数 Server->Client
	FrameHandshakeRequest  FrameType = 0x02 // 握手请求 Client->Server
	FrameHandshakeResponse FrameType = 0x03 // 握手响应 Server->Client
	FrameJoinRequest       FrameType = 0x04 // 凭令牌恢复会话 Client->Server
	FrameJoinResponse      FrameType = 0x05 // 恢复会话响应 Server->Client
	FrameServicePayload    FrameType = 0x06 // 服务数据帧，双向
	FramePing              FrameType = 0x07 // 心跳请求，双向
	FramePong              FrameType = 0x08 // 心跳响应，双向
	FrameClose             FrameType = 0x80 // 连接终止信号，携带原因码，双向
)

// Status 握手/恢复响应状态码
type Status byte

const (
	StatusOK               Status = 0x00
	StatusInvalidSignature Status = 0x01
	StatusTokenExpired     Status = 0x02
	StatusTokenMismatch    Status = 0x03
	StatusSessionNotFound  Status = 0x04
)

// CloseReason 连接终止原因码
type CloseReason byte

const (
	ReasonNormal            CloseReason = 0x00
	ReasonProtocolViolation CloseReason = 0x01
	ReasonInvalidSignature  CloseReason = 0x02
	ReasonHandshakeTimeout  CloseReason = 0x03
	ReasonReplaced          CloseReason = 0x04 // 会话被新连接接管，旧连接退役
	ReasonShutdown          CloseReason = 0x05
	ReasonUnknown           CloseReason = 0xFF
)

// AccessMode 会话访问模式，会话生命周期内不可变
type AccessMode byte

const (
	// ModeSecondary 客户端连接，仅可访问 Secondary 级服务
	ModeSecondary AccessMode = 0
	// ModePrimary 节点间连接，可访问全部服务
	ModePrimary AccessMode = 1
)

func (m AccessMode) String() string {
	if m == ModePrimary {
		return "primary"
	}
	return "secondary"
}

// 握手请求标志位
const (
	// FlagRetry 客户端重试标志
	FlagRetry byte = 1 << 0
	// FlagNodeClass 节点间连接（Primary 模式）
	FlagNodeClass byte = 1 << 1
)

// Frame 线路帧的统一接口
type Frame interface {
	Type() FrameType
}

// Challenge 服务端在接受连接后立即下发的挑战随机数
type Challenge struct {
	Nonce []byte
}

func (*Challenge) Type() FrameType { return FrameChallenge }

// HandshakeRequest 握手请求
type HandshakeRequest struct {
	Identity  []byte // ed25519 公钥
	Signature []byte // 对挑战随机数的占有证明签名
	ServiceID uint32 // 请求接入的服务
	Flags     byte
}

func (*HandshakeRequest) Type() FrameType { return FrameHandshakeRequest }

// Retry 返回重试标志
func (r *HandshakeRequest) Retry() bool { return r.Flags&FlagRetry != 0 }

// NodeClass 返回是否节点间连接
func (r *HandshakeRequest) NodeClass() bool { return r.Flags&FlagNodeClass != 0 }

// HandshakeResponse 握手响应
type HandshakeResponse struct {
	Status    Status
	SessionID uuid.UUID
	Token     []byte
}

func (*HandshakeResponse) Type() FrameType { return FrameHandshakeResponse }

// JoinRequest 凭会话ID和令牌恢复会话
type JoinRequest struct {
	SessionID uuid.UUID
	Token     []byte
}

func (*JoinRequest) Type() FrameType { return FrameJoinRequest }

// JoinResponse 恢复会话响应
// LastSequence 为服务端已接受的最大入站序号，客户端从该值之后
// 继续编号，避免重连后的帧被当作过期帧丢弃
type JoinResponse struct {
	Status       Status
	LastSequence uint64
}

func (*JoinResponse) Type() FrameType { return FrameJoinResponse }

// ServicePayload 服务数据帧
// Sequence 为会话级单调递增序号，重连重叠窗口内用于丢弃过期帧
type ServicePayload struct {
	ServiceID uint32
	Sequence  uint64
	Payload   []byte
}

func (*ServicePayload) Type() FrameType { return FrameServicePayload }

// Ping 心跳请求
type Ping struct{}

func (*Ping) Type() FrameType { return FramePing }

// Pong 心跳响应
type Pong struct{}

func (*Pong) Type() FrameType { return FramePong }

// Close 连接终止信号
type Close struct {
	Reason CloseReason
}

func (*Close) Type() FrameType { return FrameClose }
