// internal/service/order/infrastructure/adapter/lock_zookeeper_adapter.go
package adapter

import (
	"context"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"umami/internal/service/order/domain"
	"umami/internal/service/order/domain/port"
)

const lockRoot = "/umami_locks" // 所有分布式锁的根节点

// LockZookeeperAdapter 是 port.LockManager 接口的 ZooKeeper 实现。
// 每个锁对应根节点下的一个临时节点：创建成功即持有，节点已存在即
// 有人持有。与 Redis 实现不同，这里的过期兜底靠会话失效而不是 TTL
// 参数——持有者进程崩溃后临时节点随会话删除。
type LockZookeeperAdapter struct {
	conn *zk.Conn
}

// NewLockZookeeperAdapter 建立 ZooKeeper 连接并确保锁根节点存在。
func NewLockZookeeperAdapter(servers []string) (*LockZookeeperAdapter, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to zookeeper")
	}

	if _, err := conn.Create(lockRoot, []byte{}, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		conn.Close()
		return nil, errors.Wrap(err, "failed to create lock root node")
	}

	return &LockZookeeperAdapter{conn: conn}, nil
}

// Acquire 非阻塞抢锁：创建临时节点，节点已存在立即返回 ErrLockBusy，
// 不设 watch、不等待。ttl 参数在此实现中不生效，锁的存活期等于会话存活期。
func (a *LockZookeeperAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (port.Lease, error) {
	path := lockRoot + "/" + key
	_, err := a.conn.Create(path, []byte{}, zk.FlagEphemeral, zk.WorldACL(zk.PermAll))
	if err != nil {
		if err == zk.ErrNodeExists {
			return nil, domain.ErrLockBusy
		}
		return nil, errors.Wrapf(err, "failed to acquire lock %s", key)
	}
	return &zkLease{conn: a.conn, key: key, path: path}, nil
}

// Close 关闭 ZooKeeper 连接，会话内持有的全部租约随之失效。
func (a *LockZookeeperAdapter) Close() {
	a.conn.Close()
}

type zkLease struct {
	conn *zk.Conn
	key  string
	path string
}

func (l *zkLease) Key() string {
	return l.key
}

func (l *zkLease) Release(ctx context.Context) error {
	err := l.conn.Delete(l.path, -1)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrapf(err, "failed to release lock %s", l.key)
	}
	return nil
}
