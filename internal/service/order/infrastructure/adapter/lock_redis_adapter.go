// internal/service/order/infrastructure/adapter/lock_redis_adapter.go
package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"umami/internal/pkg/logger"
	"umami/internal/pkg/redis"
	"umami/internal/service/order/domain"
	"umami/internal/service/order/domain/port"
)

const unlockScriptName = "unlock_lease"

// LockRedisAdapter 是 port.LockManager 接口的 Redis 实现。
// SET NX PX 保证互斥和租约过期；释放用 Lua 比对持有者令牌后删除，
// 防止误删别人在租约过期后重新抢到的锁。
type LockRedisAdapter struct {
	redisClient *redis.Client
}

// NewLockRedisAdapter 创建一个新的锁管理器适配器实例。
// 它在创建时会加载释放锁所需的 Lua 脚本。
func NewLockRedisAdapter(redisClient *redis.Client) (*LockRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(unlockScriptName, unlockScript); err != nil {
		return nil, errors.Wrap(err, "failed to load unlock script")
	}
	return &LockRedisAdapter{redisClient: redisClient}, nil
}

// Acquire 非阻塞抢锁：键已存在立即返回 ErrLockBusy，不排队。
func (a *LockRedisAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (port.Lease, error) {
	token := uuid.NewString()
	ok, err := a.redisClient.GetClient().SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire lock %s", key)
	}
	if !ok {
		return nil, domain.ErrLockBusy
	}
	return &redisLease{client: a.redisClient, key: key, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Key() string {
	return l.key
}

// Release 释放租约。脚本返回 0 说明键已过期或被别的持有者占据，
// 此时什么都不删，也不算错误。
func (l *redisLease) Release(ctx context.Context) error {
	result, err := l.client.RunScript(ctx, unlockScriptName, []string{l.key}, l.token)
	if err != nil {
		return errors.Wrapf(err, "failed to release lock %s", l.key)
	}
	if deleted, ok := result.(int64); ok && deleted == 0 {
		logger.Ctx(ctx).Warn().Str("key", l.key).Msg("lock lease already expired before release")
	}
	return nil
}

var unlockScript = `
-- KEYS[1]: 锁的键
-- ARGV[1]: 持有者令牌

-- 只有令牌匹配才允许删除，令牌不匹配说明租约已过期且被他人持有
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
