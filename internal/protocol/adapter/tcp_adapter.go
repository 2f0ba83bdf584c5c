package adapter

import (
	"context"
	"io"
	"net"
	"time"

	"lumen-core/internal/errors"
	"lumen-core/internal/utils"
)

const (
	// DefaultDialTimeout 默认拨号超时
	DefaultDialTimeout = 10 * time.Second
)

// TCPAdapter TCP协议适配器
type TCPAdapter struct {
	BaseAdapter
	listener net.Listener
}

// NewTCPAdapter 创建TCP适配器
func NewTCPAdapter(parentCtx context.Context) *TCPAdapter {
	a := &TCPAdapter{BaseAdapter: newBaseAdapter("tcp")}
	a.SetCtx(parentCtx, a.onClose)
	return a
}

func (a *TCPAdapter) onClose() error {
	if a.listener != nil {
		return a.listener.Close()
	}
	return nil
}

// Listen 启动TCP监听
func (a *TCPAdapter) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewTransportError("tcp", "listen failed", err)
	}
	a.listener = listener
	a.SetAddr(listener.Addr().String())

	go a.acceptLoop()
	utils.Infof("TCP adapter listening on %s", a.Addr())
	return nil
}

func (a *TCPAdapter) acceptLoop() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-a.Ctx().Done():
				return
			default:
				utils.Warnf("TCP accept error: %v", err)
				return
			}
		}
		a.deliver(conn, conn.RemoteAddr())
	}
}

// Dial 建立TCP连接
func (a *TCPAdapter) Dial(addr string) (io.ReadWriteCloser, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
	if err != nil {
		return nil, errors.NewTransportError("tcp", "dial failed", err)
	}
	return conn, nil
}
