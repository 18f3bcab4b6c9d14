// internal/service/order/domain/port/scheduler.go
package port

import (
	"context"
	"time"
)

// DelayScheduler 是延迟任务调度器的出站端口。
type DelayScheduler interface {
	// ScheduleCancellation 安排一个延迟执行的订单自动取消任务，fire-and-forget。
	// 任务到期触发的取消走与用户主动取消完全相同的入口：
	// 订单若已支付，条件状态更新会让取消自然落空。
	ScheduleCancellation(ctx context.Context, orderID int64, delay time.Duration) error
}
