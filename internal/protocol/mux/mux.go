package mux

import (
	"context"
	"fmt"
	"sync"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"
	"lumen-core/internal/identity"
	"lumen-core/internal/packet"
	"lumen-core/internal/session"
	"lumen-core/internal/utils"

	"github.com/google/uuid"
)

const (
	// DefaultBacklogSize 重连间隙的出站积压上限
	DefaultBacklogSize = 32
)

// Handler 服务处理器接口
// 返回的非空字节串作为回复帧推回会话；处理器也可以在任意时刻
// 通过 Multiplexer.Push 按会话ID异步推送
type Handler interface {
	HandlePayload(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error)
}

// HandlerFunc 函数式处理器适配
type HandlerFunc func(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error)

// HandlePayload 实现 Handler 接口
func (f HandlerFunc) HandlePayload(sessionID uuid.UUID, id *identity.NodeIdentity, payload []byte) ([]byte, error) {
	return f(sessionID, id, payload)
}

// FrameWriter 出站帧写入能力，由连接实现
type FrameWriter interface {
	WriteFrame(frame packet.Frame) error
}

type serviceEntry struct {
	handler Handler
	minMode packet.AccessMode
}

// Multiplexer 帧多路复用器
// 入站：按 (会话, 服务ID) 将帧分发到启动时注册的处理器，经访问控制把关；
// 出站：将服务回复包装为 ServicePayload 写入会话当前活跃连接，
// 重连间隙内积压于有界队列，超限丢弃并报告 Backpressure
type Multiplexer struct {
	dispose.Dispose
	registry *session.Registry

	serviceMu sync.RWMutex
	services  map[uint32]*serviceEntry

	backlogMu   sync.Mutex
	backlogs    map[uuid.UUID][]*packet.ServicePayload
	backlogSize int
}

// NewMultiplexer 创建多路复用器
func NewMultiplexer(registry *session.Registry, backlogSize int, parentCtx context.Context) *Multiplexer {
	if backlogSize <= 0 {
		backlogSize = DefaultBacklogSize
	}
	m := &Multiplexer{
		registry:    registry,
		services:    make(map[uint32]*serviceEntry),
		backlogs:    make(map[uuid.UUID][]*packet.ServicePayload),
		backlogSize: backlogSize,
	}
	m.SetCtx(parentCtx, m.onClose)
	return m
}

func (m *Multiplexer) onClose() error {
	m.backlogMu.Lock()
	m.backlogs = make(map[uuid.UUID][]*packet.ServicePayload)
	m.backlogMu.Unlock()
	return nil
}

// Register 注册服务处理器及其最低访问模式，启动时一次性配置
func (m *Multiplexer) Register(serviceID uint32, minMode packet.AccessMode, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("nil handler for service %d", serviceID)
	}

	m.serviceMu.Lock()
	defer m.serviceMu.Unlock()

	if _, exists := m.services[serviceID]; exists {
		return fmt.Errorf("service %d already registered", serviceID)
	}
	m.services[serviceID] = &serviceEntry{handler: handler, minMode: minMode}
	utils.Infof("service %d registered (min mode: %s)", serviceID, minMode.String())
	return nil
}

// HasService 判断服务是否已注册
func (m *Multiplexer) HasService(serviceID uint32) bool {
	m.serviceMu.RLock()
	defer m.serviceMu.RUnlock()
	_, ok := m.services[serviceID]
	return ok
}

// Dispatch 分发一个已认证连接收到的服务数据帧
// UnknownService/AccessDenied 为帧级错误，帧被丢弃但连接保持可用；
// 过期序号的帧静默丢弃（重连重叠窗口内的重复交付）
func (m *Multiplexer) Dispatch(sess *session.Session, frame *packet.ServicePayload) error {
	m.serviceMu.RLock()
	entry, ok := m.services[frame.ServiceID]
	m.serviceMu.RUnlock()

	if !ok {
		utils.WithSession(sess.ID.String()).
			WithField("service_id", frame.ServiceID).
			Debug("frame for unknown service dropped")
		return errors.ErrUnknownService
	}

	if !Allowed(sess.Mode, entry.minMode) {
		utils.WithSession(sess.ID.String()).
			WithField("service_id", frame.ServiceID).
			WithField("mode", sess.Mode.String()).
			Debug("frame denied by access control")
		return errors.ErrAccessDenied
	}

	// 序号水位在路由与访问检查之后推进，被拒帧不消耗序号
	if frame.Sequence > 0 && !sess.AcceptSequence(frame.Sequence) {
		utils.WithSession(sess.ID.String()).
			WithField("seq", frame.Sequence).
			Debug("stale frame discarded")
		return nil
	}

	reply, err := entry.handler.HandlePayload(sess.ID, sess.Identity, frame.Payload)
	if err != nil {
		return errors.WrapError(err, "service handler failed")
	}
	if reply != nil {
		return m.Push(sess.ID, frame.ServiceID, reply)
	}
	return nil
}

// Push 服务侧出站路径：将数据包装为 ServicePayload 写入会话活跃连接
// 无活跃连接（重连间隙）时进入有界积压，超限返回 ErrBackpressure
func (m *Multiplexer) Push(sessionID uuid.UUID, serviceID uint32, payload []byte) error {
	sess, ok := m.registry.Lookup(sessionID)
	if !ok {
		return errors.ErrSessionNotFound
	}

	frame := &packet.ServicePayload{
		ServiceID: serviceID,
		Sequence:  sess.NextSequence(),
		Payload:   payload,
	}

	if conn := m.writerFor(sess); conn != nil {
		return conn.WriteFrame(frame)
	}
	return m.enqueue(sessionID, frame)
}

// FlushBacklog 新连接接管会话后冲刷积压的出站帧
func (m *Multiplexer) FlushBacklog(sess *session.Session) {
	m.backlogMu.Lock()
	pending := m.backlogs[sess.ID]
	delete(m.backlogs, sess.ID)
	m.backlogMu.Unlock()

	if len(pending) == 0 {
		return
	}

	conn := m.writerFor(sess)
	if conn == nil {
		// 连接又没了，放回积压
		m.backlogMu.Lock()
		m.backlogs[sess.ID] = pending
		m.backlogMu.Unlock()
		return
	}

	for _, frame := range pending {
		if err := conn.WriteFrame(frame); err != nil {
			utils.WithSession(sess.ID.String()).Warnf("backlog flush failed: %v", err)
			return
		}
	}
	utils.WithSession(sess.ID.String()).Debugf("flushed %d backlogged frames", len(pending))
}

// DropBacklog 会话销毁时丢弃积压
func (m *Multiplexer) DropBacklog(sessionID uuid.UUID) {
	m.backlogMu.Lock()
	delete(m.backlogs, sessionID)
	m.backlogMu.Unlock()
}

func (m *Multiplexer) writerFor(sess *session.Session) FrameWriter {
	active := sess.ActiveConn()
	if active == nil {
		return nil
	}
	writer, ok := active.(FrameWriter)
	if !ok {
		return nil
	}
	return writer
}

func (m *Multiplexer) enqueue(sessionID uuid.UUID, frame *packet.ServicePayload) error {
	m.backlogMu.Lock()
	defer m.backlogMu.Unlock()

	pending := m.backlogs[sessionID]
	if len(pending) >= m.backlogSize {
		return errors.ErrBackpressure
	}
	m.backlogs[sessionID] = append(pending, frame)
	return nil
}
