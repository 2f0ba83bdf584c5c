package server

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/packet"
	"lumen-core/internal/stream"
)

// Connection 服务端持有的单条原始连接
// 整个生命周期由本层独占，认证后反向关联到唯一会话；
// 实现 session.Conn（退役能力）与 mux.FrameWriter（出站写能力）
type Connection struct {
	dispose.Dispose
	id         string
	fs         *stream.FrameStream
	remoteAddr net.Addr
	protocol   string
	lastActive atomic.Int64
}

// NewConnection 创建连接包装
func NewConnection(id string, fs *stream.FrameStream, remoteAddr net.Addr, protocol string, parentCtx context.Context) *Connection {
	c := &Connection{
		id:         id,
		fs:         fs,
		remoteAddr: remoteAddr,
		protocol:   protocol,
	}
	c.lastActive.Store(time.Now().UnixNano())
	c.SetCtx(parentCtx, c.onClose)
	return c
}

func (c *Connection) onClose() error {
	return c.fs.CloseWithError()
}

// ID 连接标识
func (c *Connection) ID() string { return c.id }

// RemoteAddr 远端地址
func (c *Connection) RemoteAddr() net.Addr { return c.remoteAddr }

// Protocol 底层传输协议名称
func (c *Connection) Protocol() string { return c.protocol }

// WriteFrame 写出一个帧（实现 mux.FrameWriter）
func (c *Connection) WriteFrame(frame packet.Frame) error {
	return c.fs.WriteFrame(frame)
}

// ReadFrame 读取下一个帧
func (c *Connection) ReadFrame() (packet.Frame, error) {
	frame, err := c.fs.ReadFrame()
	if err == nil {
		c.Touch()
	}
	return frame, err
}

// CloseWithReason 发送终止信号并关闭连接（实现 session.Conn）
func (c *Connection) CloseWithReason(reason packet.CloseReason) error {
	if !c.IsClosed() {
		// 尽力通知对端，失败不影响关闭
		_ = c.fs.WriteFrame(&packet.Close{Reason: reason})
	}
	return c.CloseWithError()
}

// Touch 更新活跃时间
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// IdleSince 距最近一次活动的时长
func (c *Connection) IdleSince() time.Duration {
	return time.Since(time.Unix(0, c.lastActive.Load()))
}
