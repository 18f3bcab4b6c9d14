// internal/service/order/interfaces/cancel_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"umami/internal/pkg/logger"
	"umami/internal/pkg/mq"
	"umami/internal/service/order/domain"
)

// messageSource 抽象了消费循环用到的 *kafka.Reader 能力。
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// cancellationHandler 是消费端需要的应用服务能力。
type cancellationHandler interface {
	HandleCancellationDue(ctx context.Context, orderID int64) error
}

// CancelConsumerAdapter 是一个驱动适配器：监听取消主题，把到期的
// 延迟取消任务交给应用服务，效果等同于用户在到期时刻发起取消。
type CancelConsumerAdapter struct {
	reader  messageSource
	handler cancellationHandler
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewCancelConsumerAdapter 创建一个新的 Kafka 消费者适配器。
func NewCancelConsumerAdapter(reader messageSource, handler cancellationHandler) *CancelConsumerAdapter {
	return &CancelConsumerAdapter{reader: reader, handler: handler}
}

// Start 开始监听取消主题。这是一个长期运行的方法。
func (a *CancelConsumerAdapter) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("cancel consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			// 使用 FetchMessage 而不是 ReadMessage，以便控制提交与退出逻辑
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Msg("cancel consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(1 * time.Second) // 避免快速失败循环
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			a.processMessage(msgCtx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit messages")
			}
		}
	}()
}

// Stop 优雅地停止消费者。关闭 reader 会让阻塞中的 FetchMessage 出错返回，
// 消费 goroutine 据此退出。
func (a *CancelConsumerAdapter) Stop(ctx context.Context) {
	a.stopped.Store(true)
	a.reader.Close()
	a.wg.Wait()
	logger.Ctx(ctx).Info().Msg("cancel consumer stopped")
}

// processMessage 反序列化消息并调用应用服务。
func (a *CancelConsumerAdapter) processMessage(ctx context.Context, msg kafka.Message) {
	var event domain.OrderCancellationDue
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// 坏消息跳过并提交，生产环境应进死信队列
		logger.Ctx(ctx).Error().Err(err).Msg("failed to unmarshal cancellation event, skipping")
		return
	}

	if err := a.handler.HandleCancellationDue(ctx, event.OrderID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", event.OrderID).Msg("failed to handle deferred cancellation")
	}
}
