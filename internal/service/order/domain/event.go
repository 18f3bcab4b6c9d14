// internal/service/order/domain/event.go
package domain

import "time"

// OrderCancellationDue 是延迟取消任务的消息体。
// 由下单成功后发往延迟主题，到期后被搬运到真实主题并消费。
type OrderCancellationDue struct {
	TraceID     string    `json:"trace_id,omitempty"`
	OrderID     int64     `json:"order_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}
