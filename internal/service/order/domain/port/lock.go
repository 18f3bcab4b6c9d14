// internal/service/order/domain/port/lock.go
package port

import (
	"context"
	"time"
)

// Lease 是对某个资源的限时独占租约。
type Lease interface {
	// Key 返回租约对应的资源键。
	Key() string

	// Release 由持有者显式释放租约。释放一个已过期的租约不算错误。
	Release(ctx context.Context) error
}

// LockManager 是分布式锁的出站端口，必须由跨进程共享的协调存储实现，
// 进程内内存锁在多副本部署下不起作用。
type LockManager interface {
	// Acquire 非阻塞地尝试获取 key 上的租约：拿不到立即返回
	// domain.ErrLockBusy，绝不排队等待。TTL 用于兜底持有者崩溃后
	// 租约无人释放的情况。
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
