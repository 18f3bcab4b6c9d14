// internal/service/order/infrastructure/catalog.go
package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"umami/internal/service/order/domain"
)

// GormCatalogReader 是 domain.CatalogReader 的 GORM 实现。
type GormCatalogReader struct {
	db *gorm.DB
}

func NewGormCatalogReader(db *gorm.DB) *GormCatalogReader {
	return &GormCatalogReader{db: db}
}

// FindSku 返回规格及其所属商品。商品行缺失时返回 Product 为 nil 的规格，
// 由上层决定如何拒绝，这与规格本身不存在是两种不同的校验失败。
func (r *GormCatalogReader) FindSku(ctx context.Context, skuID int64) (*domain.Sku, error) {
	var model ProductSkuModel
	err := session(ctx, r.db).Preload("Product").First(&model, skuID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSkuNotFound
		}
		return nil, errors.Wrapf(err, "failed to find sku %d", skuID)
	}
	return ToDomainSku(&model), nil
}

// 快照的 JSON 结构，按商品分组，只含下单涉及的规格。
type skuSnapshot struct {
	ID    int64           `json:"id"`
	Title string          `json:"title"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type productSnapshot struct {
	ID     int64         `json:"id"`
	Name   string        `json:"product_name"`
	OnSale bool          `json:"on_sale"`
	Skus   []skuSnapshot `json:"product_skus"`
}

// Snapshot 把下单涉及的商品和规格的当前数据序列化为 JSON 审计快照。
// 在下单事务内、库存扣减之前调用，快照反映的是下单前的数据。
func (r *GormCatalogReader) Snapshot(ctx context.Context, skuIDs []int64) ([]byte, error) {
	var skus []ProductSkuModel
	err := session(ctx, r.db).Preload("Product").Where("id IN ?", skuIDs).Find(&skus).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skus for snapshot")
	}

	byProduct := make(map[int64]*productSnapshot)
	order := make([]int64, 0, len(skus))
	for _, sku := range skus {
		p, ok := byProduct[sku.ProductID]
		if !ok {
			p = &productSnapshot{ID: sku.ProductID}
			if sku.Product != nil {
				p.Name = sku.Product.Name
				p.OnSale = sku.Product.OnSale
			}
			byProduct[sku.ProductID] = p
			order = append(order, sku.ProductID)
		}
		p.Skus = append(p.Skus, skuSnapshot{
			ID:    sku.ID,
			Title: sku.Title,
			Price: sku.Price,
			Stock: sku.Stock,
		})
	}

	snapshots := make([]*productSnapshot, 0, len(order))
	for _, id := range order {
		snapshots = append(snapshots, byProduct[id])
	}
	return json.Marshal(snapshots)
}
