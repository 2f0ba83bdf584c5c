package adapter

import (
	"io"
	"net"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"
)

const (
	// acceptBacklog 等待上层取走的连接队列长度
	acceptBacklog = 100
)

// Adapter 传输适配器统一接口
// 会话层只消费字节管道，不关心底层协议的可靠性与拥塞语义
type Adapter interface {
	// Name 协议名称（tcp/websocket/quic/kcp）
	Name() string
	// Listen 启动监听
	Listen(addr string) error
	// Accept 取出下一条已接受的连接，阻塞直到有连接或适配器关闭
	Accept() (io.ReadWriteCloser, net.Addr, error)
	// Dial 建立到远端的连接
	Dial(addr string) (io.ReadWriteCloser, error)
	// Addr 监听地址
	Addr() string
	// Close 关闭适配器
	Close() error
}

// acceptedConn 已接受连接及其远端地址
type acceptedConn struct {
	conn io.ReadWriteCloser
	addr net.Addr
}

// BaseAdapter 适配器基类，提供接受队列和生命周期管理
type BaseAdapter struct {
	dispose.Dispose
	name     string
	addr     string
	connChan chan acceptedConn
}

func newBaseAdapter(name string) BaseAdapter {
	return BaseAdapter{
		name:     name,
		connChan: make(chan acceptedConn, acceptBacklog),
	}
}

// Name 协议名称
func (b *BaseAdapter) Name() string { return b.name }

// Addr 监听地址
func (b *BaseAdapter) Addr() string { return b.addr }

// SetAddr 设置监听地址
func (b *BaseAdapter) SetAddr(addr string) { b.addr = addr }

// deliver 将接受的连接送入队列，适配器已关闭时直接关掉连接
func (b *BaseAdapter) deliver(conn io.ReadWriteCloser, addr net.Addr) {
	select {
	case b.connChan <- acceptedConn{conn: conn, addr: addr}:
	case <-b.Ctx().Done():
		_ = conn.Close()
	}
}

// Accept 取出下一条已接受的连接
func (b *BaseAdapter) Accept() (io.ReadWriteCloser, net.Addr, error) {
	select {
	case ac := <-b.connChan:
		return ac.conn, ac.addr, nil
	case <-b.Ctx().Done():
		return nil, nil, errors.ErrConnectionClosed
	}
}

// Close 关闭适配器
func (b *BaseAdapter) Close() error {
	return b.CloseWithError()
}
