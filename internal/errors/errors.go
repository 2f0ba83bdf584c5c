package errors

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	ErrInvalidSignature  = errors.New("invalid handshake signature")
	ErrMalformedFrame    = errors.New("malformed frame")
	ErrFrameTooLarge     = errors.New("frame exceeds maximum size")
	ErrUnknownService    = errors.New("unknown service id")
	ErrAccessDenied      = errors.New("access denied for service")
	ErrTokenExpired      = errors.New("access token expired")
	ErrTokenMismatch     = errors.New("access token does not match session")
	ErrBackpressure      = errors.New("outbound backlog full")
	ErrSessionNotFound   = errors.New("session not found")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrHandshakeTimeout  = errors.New("handshake timed out")
	ErrInvalidNetwork    = errors.New("invalid network magic")
	ErrStreamClosed      = errors.New("stream is closed")
	ErrReaderNil         = errors.New("reader is nil")
	ErrWriterNil         = errors.New("writer is nil")
	ErrNotAuthenticated  = errors.New("connection not authenticated")
)

// FrameError 帧编解码相关错误
type FrameError struct {
	Kind    string
	Message string
	Cause   error
}

func (e *FrameError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("frame error [%s]: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("frame error [%s]: %s", e.Kind, e.Message)
}

func (e *FrameError) Unwrap() error {
	return e.Cause
}

// NewFrameError 创建帧错误
func NewFrameError(kind, message string, cause error) *FrameError {
	return &FrameError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// HandshakeError 握手相关错误，携带导致连接关闭的原因码
type HandshakeError struct {
	Reason  byte
	Message string
	Cause   error
}

func (e *HandshakeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("handshake error [reason=0x%02x]: %s: %v", e.Reason, e.Message, e.Cause)
	}
	return fmt.Sprintf("handshake error [reason=0x%02x]: %s", e.Reason, e.Message)
}

func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// NewHandshakeError 创建握手错误
func NewHandshakeError(reason byte, message string, cause error) *HandshakeError {
	return &HandshakeError{
		Reason:  reason,
		Message: message,
		Cause:   cause,
	}
}

// TransportError 传输层错误，连接级致命
type TransportError struct {
	Protocol string
	Message  string
	Cause    error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport error [%s]: %s: %v", e.Protocol, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport error [%s]: %s", e.Protocol, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError 创建传输层错误
func NewTransportError(protocol, message string, cause error) *TransportError {
	return &TransportError{
		Protocol: protocol,
		Message:  message,
		Cause:    cause,
	}
}

// WrapError 包装错误并附加上下文信息
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsFatal 判断错误是否为连接级致命错误
// 签名无效/帧格式错误/协议违规/传输层错误会导致连接关闭，
// UnknownService/AccessDenied/Backpressure 等帧级错误不会
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrMalformedFrame) ||
		errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrInvalidNetwork) ||
		errors.Is(err, ErrHandshakeTimeout) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}
