// internal/service/order/infrastructure/order_repository.go
package infrastructure

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"umami/internal/service/order/domain"
)

const orderNoMaxAttempts = 10

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现。
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Transact 在一个数据库事务内执行 fn，事务句柄通过 ctx 向下传递。
func (r *GormOrderRepository) Transact(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
}

// AllocateOrderNo 生成订单号：时间前缀 + 6 位随机后缀，按唯一性校验重试。
// 并发冲突最终由 order_no 上的唯一索引兜底。
func (r *GormOrderRepository) AllocateOrderNo(ctx context.Context) (string, error) {
	sess := session(ctx, r.db)
	for i := 0; i < orderNoMaxAttempts; i++ {
		no := fmt.Sprintf("%s%06d", time.Now().Format("20060102150405"), rand.Intn(1000000))
		var count int64
		if err := sess.Model(&OrderModel{}).Where("order_no = ?", no).Count(&count).Error; err != nil {
			return "", errors.Wrap(err, "failed to check order no uniqueness")
		}
		if count == 0 {
			return no, nil
		}
	}
	return "", domain.ErrOrderNoExhausted
}

// Create 写入订单头和全部明细。GORM 会把关联的 Items 和订单头
// 放在同一个 INSERT 批次里；配合外层 Transact，要么全部落库要么全无。
func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := ToOrderModel(order)
	if err := session(ctx, r.db).Create(model).Error; err != nil {
		return errors.Wrap(err, "failed to create order")
	}

	// 回填数据库生成的主键
	order.ID = model.ID
	for i := range model.Items {
		order.Items[i].ID = model.Items[i].ID
		order.Items[i].OrderID = model.ID
	}
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	var model OrderModel
	err := session(ctx, r.db).Preload("Items").First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "failed to find order %d", id)
	}
	return ToDomainOrder(&model), nil
}

// UpdateStatus 条件状态更新：WHERE 里带上期望的当前状态，
// 没有命中行即说明状态已被并发方改走，返回 ErrStatusConflict。
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.Status) error {
	res := session(ctx, r.db).Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to update order %d status", id)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStatusConflict
	}
	return nil
}
