package adapter

import (
	"context"
	"io"

	"lumen-core/internal/errors"
	"lumen-core/internal/utils"

	kcp "github.com/xtaci/kcp-go/v5"
)

const (
	// KCPDataShards 前向纠错数据分片
	KCPDataShards = 10
	// KCPParityShards 前向纠错校验分片
	KCPParityShards = 3
)

// KCPAdapter KCP协议适配器，弱网环境下的可靠UDP通道
type KCPAdapter struct {
	BaseAdapter
	listener *kcp.Listener
}

// NewKCPAdapter 创建KCP适配器
func NewKCPAdapter(parentCtx context.Context) *KCPAdapter {
	a := &KCPAdapter{BaseAdapter: newBaseAdapter("kcp")}
	a.SetCtx(parentCtx, a.onClose)
	return a
}

func (a *KCPAdapter) onClose() error {
	if a.listener != nil {
		return a.listener.Close()
	}
	return nil
}

// Listen 启动KCP监听
func (a *KCPAdapter) Listen(addr string) error {
	listener, err := kcp.ListenWithOptions(addr, nil, KCPDataShards, KCPParityShards)
	if err != nil {
		return errors.NewTransportError("kcp", "listen failed", err)
	}
	a.listener = listener
	a.SetAddr(listener.Addr().String())

	go a.acceptLoop()
	utils.Infof("KCP adapter listening on %s", a.Addr())
	return nil
}

func (a *KCPAdapter) acceptLoop() {
	for {
		conn, err := a.listener.AcceptKCP()
		if err != nil {
			select {
			case <-a.Ctx().Done():
				return
			default:
				utils.Warnf("KCP accept error: %v", err)
				return
			}
		}
		go a.acceptConn(conn)
	}
}

// acceptConn 读掉拨号端的1字节探测后投递连接
// KCP 会话在首个数据报到达前对监听端不可见，而本协议由服务端先发，
// 拨号端写入探测字节触发会话建立
func (a *KCPAdapter) acceptConn(conn *kcp.UDPSession) {
	configureKCP(conn)

	probe := make([]byte, 1)
	if _, err := io.ReadFull(conn, probe); err != nil {
		utils.Warnf("KCP session probe read error: %v", err)
		_ = conn.Close()
		return
	}

	a.deliver(conn, conn.RemoteAddr())
}

// Dial 建立KCP连接
func (a *KCPAdapter) Dial(addr string) (io.ReadWriteCloser, error) {
	conn, err := kcp.DialWithOptions(addr, nil, KCPDataShards, KCPParityShards)
	if err != nil {
		return nil, errors.NewTransportError("kcp", "dial failed", err)
	}
	configureKCP(conn)

	// 写入1字节探测触发监听端的会话注册
	if _, err := conn.Write([]byte{0}); err != nil {
		_ = conn.Close()
		return nil, errors.NewTransportError("kcp", "session probe failed", err)
	}
	return conn, nil
}

// configureKCP 低延迟模式参数
func configureKCP(conn *kcp.UDPSession) {
	conn.SetNoDelay(1, 10, 2, 1)
	conn.SetStreamMode(true)
	conn.SetWindowSize(256, 256)
}
