// internal/service/order/application/locks.go
package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"umami/internal/pkg/logger"
	"umami/internal/service/order/domain/port"
)

// skuLockKey 规格锁的键名，与 Redis/ZooKeeper 两种实现共用。
func skuLockKey(skuID int64) string {
	return fmt.Sprintf("product_sku:%d:lock", skuID)
}

// acquireAll 按固定顺序获取所有键上的租约：要么全部拿到，要么一个不留。
// 任何一次获取失败都会把此前已持有的租约立刻释放掉，调用方绝不会
// 收到处于部分持有状态的结果。返回的 release 幂等，可以在成功路径
// 提前调用一次，再由 defer 兜底调用。
func acquireAll(ctx context.Context, mgr port.LockManager, keys []string, ttl time.Duration) (func(context.Context), error) {
	// 去重并排序，保证并发请求间的加锁顺序一致
	seen := make(map[string]struct{}, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	sort.Strings(uniq)

	leases := make([]port.Lease, 0, len(uniq))
	releaseAll := func(ctx context.Context) {
		// 反向释放
		for i := len(leases) - 1; i >= 0; i-- {
			if err := leases[i].Release(ctx); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("key", leases[i].Key()).Msg("failed to release lock lease")
			}
		}
	}

	for _, key := range uniq {
		lease, err := mgr.Acquire(ctx, key, ttl)
		if err != nil {
			releaseAll(ctx)
			return nil, err
		}
		leases = append(leases, lease)
	}

	var once sync.Once
	return func(ctx context.Context) {
		once.Do(func() { releaseAll(ctx) })
	}, nil
}
