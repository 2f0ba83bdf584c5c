package session

import (
	"sync"
	"sync/atomic"
	"time"

	"lumen-core/internal/identity"
	"lumen-core/internal/packet"

	"github.com/google/uuid"
)

// Conn 会话视角下的连接能力
// 注册表通过该接口退役旧连接，不关心底层传输协议
type Conn interface {
	// ID 连接标识
	ID() string
	// CloseWithReason 发送终止信号并关闭连接
	CloseWithReason(reason packet.CloseReason) error
}

// Session 已认证参与者的逻辑身份，独立于任何单条原始连接
// 身份绑定在创建时固定，访问模式在会话生命周期内不可变
type Session struct {
	ID       uuid.UUID
	Identity *identity.NodeIdentity
	Mode     packet.AccessMode

	CreatedAt time.Time

	mu         sync.Mutex
	active     Conn            // 当前唯一的活跃写连接
	conns      map[string]Conn // 正在背靠该会话的连接（重连重叠窗口内短暂为2）
	evictTimer *time.Timer

	outSeq  atomic.Uint64 // 出站帧序号
	lastSeq atomic.Uint64 // 已接受的最大入站序号
}

func newSession(id *identity.NodeIdentity, mode packet.AccessMode) *Session {
	return &Session{
		ID:        uuid.New(),
		Identity:  id,
		Mode:      mode,
		CreatedAt: time.Now(),
		conns:     make(map[string]Conn),
	}
}

// ActiveConn 返回当前活跃连接，可能为 nil（重连间隙）
func (s *Session) ActiveConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ConnCount 返回当前背靠该会话的连接数
func (s *Session) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// NextSequence 分配下一个出站帧序号
func (s *Session) NextSequence() uint64 {
	return s.outSeq.Add(1)
}

// LastAccepted 已接受的最大入站序号，恢复会话时回传给对端作为续编起点
func (s *Session) LastAccepted() uint64 {
	return s.lastSeq.Load()
}

// AcceptSequence 判断入站序号是否新鲜并推进水位
// 过期或重复的序号返回 false，调用方应丢弃该帧
func (s *Session) AcceptSequence(seq uint64) bool {
	for {
		last := s.lastSeq.Load()
		if seq <= last {
			return false
		}
		if s.lastSeq.CompareAndSwap(last, seq) {
			return true
		}
	}
}

// attach 安装新的活跃连接，原子退役旧连接
// 返回被退役的连接（可能为 nil），由调用方在锁外关闭
func (s *Session) attach(conn Conn) Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	retired := s.active
	if retired != nil && retired.ID() == conn.ID() {
		retired = nil
	}
	if retired != nil {
		delete(s.conns, retired.ID())
	}

	s.conns[conn.ID()] = conn
	s.active = conn

	if s.evictTimer != nil {
		s.evictTimer.Stop()
		s.evictTimer = nil
	}
	return retired
}

// detach 移除连接，返回剩余连接数
func (s *Session) detach(connID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, connID)
	if s.active != nil && s.active.ID() == connID {
		s.active = nil
	}
	return len(s.conns)
}
