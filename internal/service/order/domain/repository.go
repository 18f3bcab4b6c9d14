// internal/service/order/domain/repository.go
package domain

import "context"

// ReservationLine 是库存台账的一次操作：某规格及其所属商品、数量。
type ReservationLine struct {
	SkuID     int64
	ProductID int64
	Num       int
}

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// AllocateOrderNo 生成一个全局唯一的订单号，并发安全。
	AllocateOrderNo(ctx context.Context) (string, error)

	// Create 写入订单头和所有明细，必须是一个原子单元。
	Create(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找订单（含明细）。
	FindByID(ctx context.Context, id int64) (*Order, error)

	// UpdateStatus 条件状态更新：只有当前状态等于 from 时才会生效，
	// 否则返回 ErrStatusConflict。用于防止取消与支付确认之间的丢失更新。
	UpdateStatus(ctx context.Context, id int64, from, to Status) error

	// Transact 在一个事务内执行 fn。fn 收到的 ctx 携带事务句柄，
	// 本包各仓储接口的实现感知该句柄，从而让订单写入与台账扣减
	// 落在同一个事务里。fn 返回错误则整体回滚。
	Transact(ctx context.Context, fn func(txCtx context.Context) error) error
}

// InventoryLedger 是库存台账：Sku/Product 计数器的唯一修改入口。
// 所有变更都是条件更新，绝不做盲写的读-改-写。
type InventoryLedger interface {
	// Reserve 扣库存、加销量，带 stock >= num 的存储层谓词，
	// 条件不满足时返回 ErrInsufficientStock。分布式锁之外的第二道防线。
	Reserve(ctx context.Context, line ReservationLine) error

	// Return 是 Reserve 的逆操作，取消订单时回补库存、扣回销量。
	Return(ctx context.Context, line ReservationLine) error
}

// CatalogReader 提供下单校验所需的目录读取。
type CatalogReader interface {
	// FindSku 返回规格及其所属商品；规格不存在返回 ErrSkuNotFound。
	FindSku(ctx context.Context, skuID int64) (*Sku, error)

	// Snapshot 把给定规格及其所属商品的当前数据序列化为 JSON，
	// 作为订单的不可变审计快照。
	Snapshot(ctx context.Context, skuIDs []int64) ([]byte, error)
}
