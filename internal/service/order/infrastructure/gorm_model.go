// internal/service/order/infrastructure/gorm_model.go
package infrastructure

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductModel 对应数据库中的 products 表
type ProductModel struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"column:product_name;size:128"`
	OnSale    bool   `gorm:"column:on_sale"`
	Stock     int    `gorm:"not null;default:0"`
	Sales     int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ProductModel) TableName() string {
	return "products"
}

// ProductSkuModel 对应数据库中的 product_skus 表
type ProductSkuModel struct {
	ID        int64           `gorm:"primaryKey"`
	ProductID int64           `gorm:"index;not null"`
	Title     string          `gorm:"size:128"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Stock     int             `gorm:"not null;default:0"`
	Sales     int             `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
	// 关联关系
	Product *ProductModel `gorm:"foreignKey:ProductID"`
}

func (ProductSkuModel) TableName() string {
	return "product_skus"
}

// OrderModel 对应数据库中的 orders 表
type OrderModel struct {
	ID         int64           `gorm:"primaryKey"`
	UserID     int64           `gorm:"index;not null"`
	ShopID     int64           `gorm:"index;not null"`
	OrderNo    string          `gorm:"size:32;uniqueIndex;not null"`
	TotalPrice decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Remark     string          `gorm:"size:255"`
	Status     string          `gorm:"size:16;index;not null"`
	OrderType  string          `gorm:"size:32;not null"`
	TakeTime   *time.Time
	DeskNum    string `gorm:"size:16"`
	OrderInfo  []byte `gorm:"type:json"` // 下单时刻的商品快照，只写一次
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// 关联关系
	Items []OrderItemModel `gorm:"foreignKey:OrderID"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel 对应数据库中的 order_items 表
type OrderItemModel struct {
	ID        int64           `gorm:"primaryKey"`
	OrderID   int64           `gorm:"index;not null"`
	ProductID int64           `gorm:"not null"`
	SkuID     int64           `gorm:"column:product_sku_id;not null"`
	Num       int             `gorm:"not null"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null"` // 下单时刻单价快照
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderItemModel) TableName() string {
	return "order_items"
}
