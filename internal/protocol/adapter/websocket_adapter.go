package adapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"lumen-core/internal/errors"
	"lumen-core/internal/utils"

	"github.com/gorilla/websocket"
)

// WebSocketConn WebSocket连接包装器，将消息流适配为字节流
type WebSocketConn struct {
	conn   *websocket.Conn
	buffer []byte
}

// Read 实现io.Reader接口
func (w *WebSocketConn) Read(p []byte) (n int, err error) {
	if len(w.buffer) > 0 {
		n = copy(p, w.buffer)
		w.buffer = w.buffer[n:]
		return n, nil
	}

	t, message, err := w.conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	if t != websocket.BinaryMessage && t != websocket.TextMessage {
		return 0, nil
	}

	n = copy(p, message)
	if n < len(message) {
		w.buffer = message[n:]
	}
	return n, nil
}

// Write 实现io.Writer接口
func (w *WebSocketConn) Write(p []byte) (n int, err error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close 实现io.Closer接口
func (w *WebSocketConn) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// WebSocketAdapter WebSocket协议适配器
type WebSocketAdapter struct {
	BaseAdapter
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewWebSocketAdapter 创建WebSocket适配器
func NewWebSocketAdapter(parentCtx context.Context) *WebSocketAdapter {
	a := &WebSocketAdapter{BaseAdapter: newBaseAdapter("websocket")}
	a.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	a.SetCtx(parentCtx, a.onClose)
	return a
}

func (a *WebSocketAdapter) onClose() error {
	if a.server != nil {
		return a.server.Shutdown(context.Background())
	}
	return nil
}

// Listen 启动WebSocket服务
func (a *WebSocketAdapter) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewTransportError("websocket", "listen failed", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", a.handleWebSocket)
	a.server = &http.Server{Handler: mux}
	a.SetAddr(listener.Addr().String())

	go func() {
		if err := a.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			if !a.IsClosed() {
				utils.Errorf("WebSocket server error: %v", err)
			}
		}
	}()

	utils.Infof("WebSocket adapter listening on %s", a.Addr())
	return nil
}

func (a *WebSocketAdapter) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	a.deliver(&WebSocketConn{conn: conn}, conn.RemoteAddr())
}

// Dial 建立WebSocket连接
func (a *WebSocketAdapter) Dial(addr string) (io.ReadWriteCloser, error) {
	if !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://") {
		addr = "ws://" + addr
	}
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, errors.NewTransportError("websocket",
			fmt.Sprintf("dial %s failed", addr), err)
	}
	return &WebSocketConn{conn: conn}, nil
}
