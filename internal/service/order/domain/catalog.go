// internal/service/order/domain/catalog.go
package domain

import "github.com/shopspring/decimal"

// Product 是商品。Stock/Sales 是其下所有规格的去规范化汇总，
// 权威数据在 Sku 上，商品级计数只是与规格在同一事务内同步更新的镜像。
type Product struct {
	ID     int64
	Name   string
	OnSale bool
	Stock  int
	Sales  int
}

// Sku 是商品的一个可售规格，有独立的价格和库存。
// 不变式：Stock 任何时刻都不为负；Stock 与 Sales 同增同减。
type Sku struct {
	ID        int64
	ProductID int64
	Title     string
	Price     decimal.Decimal
	Stock     int
	Sales     int

	Product *Product
}
