// internal/service/order/infrastructure/inventory_ledger.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"umami/internal/service/order/domain"
)

// GormInventoryLedger 是 domain.InventoryLedger 的 GORM 实现。
// 所有计数器变更都是单条带谓词的 UPDATE：库存和销量在同一条语句里
// 同增同减，谓词不满足时零行命中、不做任何修改。
type GormInventoryLedger struct {
	db *gorm.DB
}

func NewGormInventoryLedger(db *gorm.DB) *GormInventoryLedger {
	return &GormInventoryLedger{db: db}
}

// Reserve 扣减规格库存并增加销量，同一事务内镜像更新商品级计数。
// stock >= num 谓词是分布式锁之外的第二道防线：即使锁失效，
// 这里也不可能把库存扣成负数。
func (l *GormInventoryLedger) Reserve(ctx context.Context, line domain.ReservationLine) error {
	sess := session(ctx, l.db)

	res := sess.Model(&ProductSkuModel{}).
		Where("id = ? AND stock >= ?", line.SkuID, line.Num).
		Updates(map[string]interface{}{
			"stock": gorm.Expr("stock - ?", line.Num),
			"sales": gorm.Expr("sales + ?", line.Num),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to reserve stock for sku %d", line.SkuID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientStock
	}

	// 商品级计数是去规范化镜像，带同样的谓词在同一事务内更新；
	// 镜像与规格数据发生背离时这里会零行命中，让整个事务回滚
	res = sess.Model(&ProductModel{}).
		Where("id = ? AND stock >= ?", line.ProductID, line.Num).
		Updates(map[string]interface{}{
			"stock": gorm.Expr("stock - ?", line.Num),
			"sales": gorm.Expr("sales + ?", line.Num),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to reserve stock for product %d", line.ProductID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

// Return 是 Reserve 的逆操作：回补库存、扣回销量。
// sales >= num 谓词防止重复回补把销量扣成负数。
func (l *GormInventoryLedger) Return(ctx context.Context, line domain.ReservationLine) error {
	sess := session(ctx, l.db)

	res := sess.Model(&ProductSkuModel{}).
		Where("id = ? AND sales >= ?", line.SkuID, line.Num).
		Updates(map[string]interface{}{
			"stock": gorm.Expr("stock + ?", line.Num),
			"sales": gorm.Expr("sales - ?", line.Num),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to return stock for sku %d", line.SkuID)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("stock return rejected for sku %d: sales would underflow", line.SkuID)
	}

	res = sess.Model(&ProductModel{}).
		Where("id = ? AND sales >= ?", line.ProductID, line.Num).
		Updates(map[string]interface{}{
			"stock": gorm.Expr("stock + ?", line.Num),
			"sales": gorm.Expr("sales - ?", line.Num),
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to return stock for product %d", line.ProductID)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("stock return rejected for product %d: sales would underflow", line.ProductID)
	}
	return nil
}
