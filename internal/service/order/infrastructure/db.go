// internal/service/order/infrastructure/db.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewMysqlDB 建立 MySQL 连接。
func NewMysqlDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mysql")
	}
	return db, nil
}

// 事务句柄通过 context 传递：Transact 把 *gorm.DB 事务放进 ctx，
// 同一个事务范围内的仓储调用都会取到它，订单写入和台账扣减因此
// 能落在同一个事务里。
type txKey struct{}

func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// session 返回当前应使用的数据库句柄：ctx 里有事务用事务，否则用基础连接。
func session(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
