package session

import (
	"context"
	"sync"
	"time"

	"lumen-core/internal/core/dispose"
	"lumen-core/internal/errors"
	"lumen-core/internal/identity"
	"lumen-core/internal/packet"
	"lumen-core/internal/utils"

	"github.com/google/uuid"
)

const (
	// DefaultShardCount 默认分片数
	DefaultShardCount = 32
	// DefaultIdleWindow 无连接会话的默认驱逐窗口
	DefaultIdleWindow = 2 * time.Minute
)

// RegistryConfig 注册表配置
type RegistryConfig struct {
	ShardCount int           `yaml:"shard_count"`
	IdleWindow time.Duration `yaml:"idle_window"`
}

type shard struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

type connShard struct {
	mu    sync.RWMutex
	conns map[string]uuid.UUID
}

// Registry 会话注册表
// 分片锁结构，大量连接并发握手时互不串行；
// 会话与连接绑定关系的唯一事实来源，所有变更都经过
// Create/Resume/Attach/Detach 的原子操作
type Registry struct {
	dispose.Dispose
	shardCount uint32
	idleWindow time.Duration
	shards     []*shard
	connShards []*connShard
	onEvict    func(sessionID uuid.UUID)
}

// NewRegistry 创建会话注册表
func NewRegistry(config *RegistryConfig, parentCtx context.Context) *Registry {
	shardCount := DefaultShardCount
	idleWindow := DefaultIdleWindow
	if config != nil {
		if config.ShardCount > 0 {
			shardCount = config.ShardCount
		}
		if config.IdleWindow > 0 {
			idleWindow = config.IdleWindow
		}
	}

	r := &Registry{
		shardCount: uint32(shardCount),
		idleWindow: idleWindow,
		shards:     make([]*shard, shardCount),
		connShards: make([]*connShard, shardCount),
	}
	for i := 0; i < shardCount; i++ {
		r.shards[i] = &shard{sessions: make(map[uuid.UUID]*Session)}
		r.connShards[i] = &connShard{conns: make(map[string]uuid.UUID)}
	}
	r.SetCtx(parentCtx, r.onClose)
	return r
}

func (r *Registry) onClose() error {
	for _, s := range r.shards {
		s.mu.Lock()
		for id, sess := range s.sessions {
			sess.mu.Lock()
			if sess.evictTimer != nil {
				sess.evictTimer.Stop()
				sess.evictTimer = nil
			}
			sess.mu.Unlock()
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}
	return nil
}

func (r *Registry) shardFor(id uuid.UUID) *shard {
	// uuid 本身均匀分布，取前4字节即可
	n := uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3])
	return r.shards[n%r.shardCount]
}

func (r *Registry) connShardFor(connID string) *connShard {
	var n uint32
	for i := 0; i < len(connID); i++ {
		n = n*31 + uint32(connID[i])
	}
	return r.connShards[n%r.shardCount]
}

// OnEvict 注册会话驱逐回调，启动阶段一次性设置
// 持有按会话ID键控状态的组件（如多路复用器的出站积压）借此释放
func (r *Registry) OnEvict(fn func(sessionID uuid.UUID)) {
	r.onEvict = fn
}

// Create 为新认证的身份创建会话
func (r *Registry) Create(id *identity.NodeIdentity, mode packet.AccessMode) *Session {
	sess := newSession(id, mode)
	s := r.shardFor(sess.ID)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	utils.WithSession(sess.ID.String()).WithField("mode", mode.String()).Debug("session created")
	return sess
}

// Lookup 按会话ID查找
func (r *Registry) Lookup(id uuid.UUID) (*Session, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Resume 恢复会话，校验令牌绑定的身份指纹与注册表记录一致
// 会话不存在（含已被闲置驱逐）返回 ErrSessionNotFound，
// 指纹不匹配返回 ErrTokenMismatch
func (r *Registry) Resume(id uuid.UUID, fingerprint string) (*Session, error) {
	sess, ok := r.Lookup(id)
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	if sess.Identity.FingerprintHex() != fingerprint {
		return nil, errors.ErrTokenMismatch
	}
	return sess, nil
}

// Attach 将连接安装为会话的活跃连接
// 已有活跃连接时先原子退役旧连接（发送 Replaced 终止信号并关闭），
// 不存在两条连接同时作为活跃写者的窗口
func (r *Registry) Attach(sess *Session, conn Conn) {
	retired := sess.attach(conn)

	cs := r.connShardFor(conn.ID())
	cs.mu.Lock()
	cs.conns[conn.ID()] = sess.ID
	cs.mu.Unlock()

	if retired != nil {
		r.removeConnIndex(retired.ID())
		if err := retired.CloseWithReason(packet.ReasonReplaced); err != nil {
			utils.WithConn(retired.ID()).Debugf("retired connection close: %v", err)
		}
		utils.WithSession(sess.ID.String()).
			WithField("old_conn", retired.ID()).
			WithField("new_conn", conn.ID()).
			Debug("active connection replaced")
	}
}

// Detach 解除连接与会话的绑定，最后一条连接移除后启动闲置驱逐计时
func (r *Registry) Detach(connID string) {
	cs := r.connShardFor(connID)
	cs.mu.Lock()
	sessID, ok := cs.conns[connID]
	delete(cs.conns, connID)
	cs.mu.Unlock()
	if !ok {
		return
	}

	sess, found := r.Lookup(sessID)
	if !found {
		return
	}

	if sess.detach(connID) == 0 {
		r.scheduleEviction(sess)
	}
}

// SessionForConn 按连接ID反查会话
func (r *Registry) SessionForConn(connID string) (*Session, bool) {
	cs := r.connShardFor(connID)
	cs.mu.RLock()
	sessID, ok := cs.conns[connID]
	cs.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return r.Lookup(sessID)
}

// Count 当前会话总数
func (r *Registry) Count() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.sessions)
		s.mu.RUnlock()
	}
	return total
}

func (r *Registry) removeConnIndex(connID string) {
	cs := r.connShardFor(connID)
	cs.mu.Lock()
	delete(cs.conns, connID)
	cs.mu.Unlock()
}

func (r *Registry) scheduleEviction(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.evictTimer != nil {
		sess.evictTimer.Stop()
	}
	sess.evictTimer = time.AfterFunc(r.idleWindow, func() {
		r.evict(sess.ID)
	})
}

// evict 驱逐闲置会话，计时到期后重新校验连接数
func (r *Registry) evict(id uuid.UUID) {
	s := r.shardFor(id)
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}

	sess.mu.Lock()
	if len(sess.conns) > 0 {
		// 计时窗口内有新连接接入，取消驱逐
		sess.mu.Unlock()
		s.mu.Unlock()
		return
	}
	sess.evictTimer = nil
	sess.mu.Unlock()

	delete(s.sessions, id)
	s.mu.Unlock()

	if r.onEvict != nil {
		r.onEvict(id)
	}
	utils.WithSession(id.String()).Debug("idle session evicted")
}
