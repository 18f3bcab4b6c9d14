// internal/service/order/infrastructure/adapter/scheduler_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"

	"umami/internal/pkg/mq"
	"umami/internal/service/order/domain"
)

const (
	// CancelTopic 是延迟到期后投递的真实业务主题
	CancelTopic = "order-cancel-topic"

	headerRealTopic      = "real-topic"
	headerDelayTimestamp = "delay-timestamp"
)

// DelayLevels 定义了支持的延迟级别和对应的延迟主题。
// 调度器进程按级别轮询这些主题，到期后把消息搬运到真实主题。
var DelayLevels = map[string]time.Duration{
	"delay_topic_5s":  5 * time.Second,
	"delay_topic_1m":  1 * time.Minute,
	"delay_topic_15m": 15 * time.Minute,
}

// SchedulerKafkaAdapter 实现了 port.DelayScheduler 接口。
type SchedulerKafkaAdapter struct {
	writers map[string]*kafka.Writer // key: 延迟主题
}

// NewSchedulerKafkaAdapter 创建延迟任务调度器适配器，为每个延迟级别
// 维护一个独立的 writer。
func NewSchedulerKafkaAdapter(brokers []string) *SchedulerKafkaAdapter {
	writers := make(map[string]*kafka.Writer, len(DelayLevels))
	for topic := range DelayLevels {
		writers[topic] = mq.NewKafkaWriter(brokers, topic)
	}
	return &SchedulerKafkaAdapter{writers: writers}
}

// ScheduleCancellation 把取消任务发到与 delay 匹配的延迟主题。
func (a *SchedulerKafkaAdapter) ScheduleCancellation(ctx context.Context, orderID int64, delay time.Duration) error {
	event := domain.OrderCancellationDue{
		TraceID:     trace.SpanFromContext(ctx).SpanContext().TraceID().String(),
		OrderID:     orderID,
		ScheduledAt: time.Now(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	topic := pickDelayTopic(delay)
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(orderID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerRealTopic, Value: []byte(CancelTopic)},
			{Key: headerDelayTimestamp, Value: []byte(event.ScheduledAt.Add(delay).Format(time.RFC3339))},
		},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)

	return a.writers[topic].WriteMessages(ctx, msg)
}

// pickDelayTopic 选择不小于 delay 的最小延迟级别，都不够大就取最大的。
func pickDelayTopic(delay time.Duration) string {
	type level struct {
		topic string
		d     time.Duration
	}
	levels := make([]level, 0, len(DelayLevels))
	for topic, d := range DelayLevels {
		levels = append(levels, level{topic, d})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].d < levels[j].d })

	for _, l := range levels {
		if l.d >= delay {
			return l.topic
		}
	}
	return levels[len(levels)-1].topic
}

// Close 关闭所有底层的 Kafka writer。
func (a *SchedulerKafkaAdapter) Close() error {
	var firstErr error
	for _, w := range a.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
