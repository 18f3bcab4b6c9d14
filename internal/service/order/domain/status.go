// internal/service/order/domain/status.go
package domain

// Status 定义了订单的生命周期状态
type Status string

const (
	StatusUnpaid    Status = "UNPAID"    // 已创建，等待支付
	StatusPaid      Status = "PAID"      // 已支付 (终态)
	StatusCancelled Status = "CANCELLED" // 已取消，用户主动或超时未支付 (终态)
)

// IsTerminal 终态订单不允许再发生任何状态变更。
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// OrderType 定义了订单的出餐方式
type OrderType string

const (
	OrderTypeDeliveryToTable OrderType = "DELIVERY_TO_TABLE" // 送餐到桌
	OrderTypeSelfPickup      OrderType = "SELF_PICKUP"       // 到店自取
)
