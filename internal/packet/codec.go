package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"lumen-core/internal/errors"
	"lumen-core/internal/identity"

	"github.com/google/uuid"
)

const (
	// LengthPrefixSize 长度前缀字节数
	LengthPrefixSize = 4
	// DefaultMaxFrameSize 默认最大帧大小（DoS防护上限）
	DefaultMaxFrameSize = 1 << 20
	// MinFrameSize 帧体至少包含1字节类型标签
	MinFrameSize = 1
)

// Codec 帧编解码器，无状态
// 线路格式: [4字节大端长度][1字节类型][帧体]，长度覆盖类型字节与帧体
type Codec struct {
	MaxFrameSize int
}

// NewCodec 创建编解码器，maxFrameSize<=0 时使用默认上限
func NewCodec(maxFrameSize int) *Codec {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Codec{MaxFrameSize: maxFrameSize}
}

// Encode 编码帧为自定界字节串
func (c *Codec) Encode(frame Frame) ([]byte, error) {
	body, err := c.encodeBody(frame)
	if err != nil {
		return nil, err
	}

	frameLen := 1 + len(body)
	if frameLen > c.MaxFrameSize {
		return nil, errors.NewFrameError(frameName(frame.Type()), "encoded frame too large", errors.ErrFrameTooLarge)
	}

	buf := make([]byte, LengthPrefixSize+frameLen)
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(frameLen))
	buf[LengthPrefixSize] = byte(frame.Type())
	copy(buf[LengthPrefixSize+1:], body)
	return buf, nil
}

// Decode 解码一个完整帧体（不含长度前缀）
// 未知类型标签或截断的帧体返回 ErrMalformedFrame，从不panic
func (c *Codec) Decode(data []byte) (Frame, error) {
	if len(data) < MinFrameSize {
		return nil, errors.NewFrameError("unknown", "empty frame", errors.ErrMalformedFrame)
	}
	if len(data) > c.MaxFrameSize {
		return nil, errors.NewFrameError("unknown", "frame exceeds size bound", errors.ErrFrameTooLarge)
	}

	frameType := FrameType(data[0])
	body := data[1:]

	switch frameType {
	case FrameChallenge:
		return decodeChallenge(body)
	case FrameHandshakeRequest:
		return decodeHandshakeRequest(body)
	case FrameHandshakeResponse:
		return decodeHandshakeResponse(body)
	case FrameJoinRequest:
		return decodeJoinRequest(body)
	case FrameJoinResponse:
		return decodeJoinResponse(body)
	case FrameServicePayload:
		return decodeServicePayload(body)
	case FramePing:
		return &Ping{}, nil
	case FramePong:
		return &Pong{}, nil
	case FrameClose:
		return decodeClose(body)
	default:
		return nil, errors.NewFrameError("unknown",
			fmt.Sprintf("unknown frame tag 0x%02x", data[0]), errors.ErrMalformedFrame)
	}
}

func (c *Codec) encodeBody(frame Frame) ([]byte, error) {
	switch f := frame.(type) {
	case *Challenge:
		if len(f.Nonce) != identity.NonceSize {
			return nil, errors.NewFrameError("challenge", "invalid nonce length", errors.ErrMalformedFrame)
		}
		return f.Nonce, nil

	case *HandshakeRequest:
		if len(f.Identity) != identity.PublicKeySize {
			return nil, errors.NewFrameError("handshake_request", "invalid identity length", errors.ErrMalformedFrame)
		}
		if len(f.Signature) != identity.SignatureSize {
			return nil, errors.NewFrameError("handshake_request", "invalid signature length", errors.ErrMalformedFrame)
		}
		buf := &bytes.Buffer{}
		buf.Write(Network[:])
		buf.Write(f.Identity)
		buf.Write(f.Signature)
		_ = binary.Write(buf, binary.BigEndian, f.ServiceID)
		buf.WriteByte(f.Flags)
		return buf.Bytes(), nil

	case *HandshakeResponse:
		buf := &bytes.Buffer{}
		buf.WriteByte(byte(f.Status))
		buf.Write(f.SessionID[:])
		_ = binary.Write(buf, binary.BigEndian, uint16(len(f.Token)))
		buf.Write(f.Token)
		return buf.Bytes(), nil

	case *JoinRequest:
		buf := &bytes.Buffer{}
		buf.Write(f.SessionID[:])
		_ = binary.Write(buf, binary.BigEndian, uint16(len(f.Token)))
		buf.Write(f.Token)
		return buf.Bytes(), nil

	case *JoinResponse:
		buf := &bytes.Buffer{}
		buf.WriteByte(byte(f.Status))
		_ = binary.Write(buf, binary.BigEndian, f.LastSequence)
		return buf.Bytes(), nil

	case *ServicePayload:
		buf := &bytes.Buffer{}
		_ = binary.Write(buf, binary.BigEndian, f.ServiceID)
		_ = binary.Write(buf, binary.BigEndian, f.Sequence)
		buf.Write(f.Payload)
		return buf.Bytes(), nil

	case *Ping, *Pong:
		return nil, nil

	case *Close:
		return []byte{byte(f.Reason)}, nil

	default:
		return nil, errors.NewFrameError("unknown", "unsupported frame type", errors.ErrMalformedFrame)
	}
}

func decodeChallenge(body []byte) (*Challenge, error) {
	if len(body) != identity.NonceSize {
		return nil, errors.NewFrameError("challenge", "invalid nonce length", errors.ErrMalformedFrame)
	}
	nonce := make([]byte, identity.NonceSize)
	copy(nonce, body)
	return &Challenge{Nonce: nonce}, nil
}

func decodeHandshakeRequest(body []byte) (*HandshakeRequest, error) {
	expected := len(Network) + identity.PublicKeySize + identity.SignatureSize + 4 + 1
	if len(body) != expected {
		return nil, errors.NewFrameError("handshake_request", "truncated body", errors.ErrMalformedFrame)
	}
	if !bytes.Equal(body[:len(Network)], Network[:]) {
		return nil, errors.NewFrameError("handshake_request", "network magic mismatch", errors.ErrInvalidNetwork)
	}
	offset := len(Network)

	pub := make([]byte, identity.PublicKeySize)
	copy(pub, body[offset:offset+identity.PublicKeySize])
	offset += identity.PublicKeySize

	sig := make([]byte, identity.SignatureSize)
	copy(sig, body[offset:offset+identity.SignatureSize])
	offset += identity.SignatureSize

	serviceID := binary.BigEndian.Uint32(body[offset : offset+4])
	offset += 4

	return &HandshakeRequest{
		Identity:  pub,
		Signature: sig,
		ServiceID: serviceID,
		Flags:     body[offset],
	}, nil
}

func decodeHandshakeResponse(body []byte) (*HandshakeResponse, error) {
	const fixed = 1 + 16 + 2
	if len(body) < fixed {
		return nil, errors.NewFrameError("handshake_response", "truncated body", errors.ErrMalformedFrame)
	}
	status := Status(body[0])

	var sessionID uuid.UUID
	copy(sessionID[:], body[1:17])

	tokenLen := int(binary.BigEndian.Uint16(body[17:19]))
	if len(body) != fixed+tokenLen {
		return nil, errors.NewFrameError("handshake_response", "token length mismatch", errors.ErrMalformedFrame)
	}
	token := make([]byte, tokenLen)
	copy(token, body[fixed:])

	return &HandshakeResponse{Status: status, SessionID: sessionID, Token: token}, nil
}

func decodeJoinRequest(body []byte) (*JoinRequest, error) {
	const fixed = 16 + 2
	if len(body) < fixed {
		return nil, errors.NewFrameError("join_request", "truncated body", errors.ErrMalformedFrame)
	}
	var sessionID uuid.UUID
	copy(sessionID[:], body[:16])

	tokenLen := int(binary.BigEndian.Uint16(body[16:18]))
	if len(body) != fixed+tokenLen {
		return nil, errors.NewFrameError("join_request", "token length mismatch", errors.ErrMalformedFrame)
	}
	token := make([]byte, tokenLen)
	copy(token, body[fixed:])

	return &JoinRequest{SessionID: sessionID, Token: token}, nil
}

func decodeJoinResponse(body []byte) (*JoinResponse, error) {
	if len(body) != 1+8 {
		return nil, errors.NewFrameError("join_response", "invalid body length", errors.ErrMalformedFrame)
	}
	return &JoinResponse{
		Status:       Status(body[0]),
		LastSequence: binary.BigEndian.Uint64(body[1:9]),
	}, nil
}

func decodeServicePayload(body []byte) (*ServicePayload, error) {
	const fixed = 4 + 8
	if len(body) < fixed {
		return nil, errors.NewFrameError("service_payload", "truncated body", errors.ErrMalformedFrame)
	}
	payload := make([]byte, len(body)-fixed)
	copy(payload, body[fixed:])
	return &ServicePayload{
		ServiceID: binary.BigEndian.Uint32(body[:4]),
		Sequence:  binary.BigEndian.Uint64(body[4:12]),
		Payload:   payload,
	}, nil
}

func decodeClose(body []byte) (*Close, error) {
	if len(body) != 1 {
		return nil, errors.NewFrameError("close", "invalid body length", errors.ErrMalformedFrame)
	}
	return &Close{Reason: CloseReason(body[0])}, nil
}

func frameName(t FrameType) string {
	switch t {
	case FrameChallenge:
		return "challenge"
	case FrameHandshakeRequest:
		return "handshake_request"
	case FrameHandshakeResponse:
		return "handshake_response"
	case FrameJoinRequest:
		return "join_request"
	case FrameJoinResponse:
		return "join_response"
	case FrameServicePayload:
		return "service_payload"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}
