package mux

import (
	"lumen-core/internal/packet"
)

// Allowed 访问控制检查，(会话模式, 服务要求) 的纯函数
// Primary 会话可达全部服务，Secondary 会话仅可达 Secondary 级服务
func Allowed(sessionMode, required packet.AccessMode) bool {
	return sessionMode >= required
}
