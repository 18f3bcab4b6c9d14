// cmd/delay-scheduler/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"umami/internal/pkg/bootstrap"
	"umami/internal/pkg/logger"
	"umami/internal/pkg/mq"
	"umami/internal/pkg/tracing"
	"umami/internal/service/order/infrastructure/adapter"
)

const serviceName = "delay-scheduler"

var tracer = otel.Tracer(serviceName)

// Scheduler 负责对一个延迟级别做定时轮询：队头消息到期就搬运到
// 真实主题，未到期就等下一个 tick。同一级别内消息天然按进入时间
// 有序，队头未到期则后面的也必然未到期。
type Scheduler struct {
	level       string        // 延迟级别名称, e.g., "delay_topic_15m"
	delay       time.Duration // 对应的延迟时长
	brokers     []string
	kafkaReader *kafka.Reader
	// 为每个真实主题维护一个独立的 writer
	kafkaWriters map[string]*kafka.Writer
	writerLock   sync.Mutex
}

// NewScheduler 创建一个针对特定延迟级别的新调度器
func NewScheduler(brokers []string, level string, delay time.Duration) *Scheduler {
	reader := mq.NewKafkaReader(brokers, level, serviceName+"-group-"+level)
	return &Scheduler{
		level:        level,
		delay:        delay,
		brokers:      brokers,
		kafkaReader:  reader,
		kafkaWriters: make(map[string]*kafka.Writer),
	}
}

// StartPolling 启动定时轮询器，ctx 取消后返回。
func (s *Scheduler) StartPolling(ctx context.Context, interval time.Duration) error {
	logger.Ctx(ctx).Info().Str("level", s.level).Dur("interval", interval).Msg("polling scheduler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.kafkaReader.Close()
	defer s.closeWriters()

	for {
		select {
		case <-ticker.C:
			s.checkAndPublish(ctx)
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Str("level", s.level).Msg("shutting down polling")
			return nil
		}
	}
}

// checkAndPublish 是轮询的核心逻辑
func (s *Scheduler) checkAndPublish(parentCtx context.Context) {
	for {
		// 使用 FetchMessage 自己控制提交：投递成功才提交 offset
		fetchCtx, cancel := context.WithTimeout(parentCtx, 2*time.Second)
		msg, err := s.kafkaReader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			// 没有新消息或者 ctx 结束，等待下一个 tick
			return
		}

		spanCtx := mq.ExtractTraceContext(parentCtx, msg.Headers)
		now := time.Now().UTC()
		ctx, span := tracer.Start(spanCtx, "scheduler.CheckAndPublish", trace.WithAttributes(
			attribute.String("delay.level", s.level),
			attribute.String("msg.time", msg.Time.Format(time.DateTime)),
		))

		deliveryTime := dueTime(msg, s.delay)
		if now.Before(deliveryTime) {
			// 队头消息未到期，无需再检查后续消息
			span.AddEvent("HeadMessageNotDue")
			span.End()
			return
		}

		realTopic := headerValue(msg.Headers, "real-topic")
		if realTopic == "" {
			logger.Ctx(ctx).Error().Str("level", s.level).Msg("message missing real-topic header, skipping")
			// 这种错误消息也需要提交，否则会一直被重复消费
			if err := s.kafkaReader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message after skipping")
			}
			span.End()
			continue
		}

		if err := s.publish(ctx, realTopic, msg); err != nil {
			// 投递失败不能提交 offset，等待下次轮询重试
			logger.Ctx(ctx).Error().Err(err).Str("real_topic", realTopic).Msg("failed to publish due message")
			span.RecordError(err)
			span.SetStatus(codes.Error, "Failed to publish to real topic")
			span.End()
			return
		}

		if err := s.kafkaReader.CommitMessages(ctx, msg); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("level", s.level).Msg("failed to commit after publish")
			span.RecordError(err)
			span.End()
			return
		}
		logger.Ctx(ctx).Info().Str("level", s.level).Str("real_topic", realTopic).Msg("due message published and committed")
		span.AddEvent("MessagePublishedAndCommitted", trace.WithAttributes(attribute.String("real.topic", realTopic)))
		span.End()
	}
}

// publish 将消息投递到真实业务主题
func (s *Scheduler) publish(ctx context.Context, realTopic string, msg kafka.Message) error {
	s.writerLock.Lock()
	writer, exists := s.kafkaWriters[realTopic]
	if !exists {
		writer = mq.NewKafkaWriter(s.brokers, realTopic)
		s.kafkaWriters[realTopic] = writer
	}
	s.writerLock.Unlock()

	// 重新构造消息，并注入追踪上下文
	publishMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
	}
	traceCtx := mq.ExtractTraceContext(ctx, msg.Headers)
	mq.InjectTraceContext(traceCtx, &publishMsg.Headers)

	return writer.WriteMessages(ctx, publishMsg)
}

// closeWriters 安全地关闭所有 writer
func (s *Scheduler) closeWriters() {
	s.writerLock.Lock()
	defer s.writerLock.Unlock()
	for topic, writer := range s.kafkaWriters {
		if err := writer.Close(); err != nil {
			log.Printf("ERROR: Failed to close writer for topic %s: %v", topic, err)
		}
	}
}

// dueTime 计算消息的理论投递时间：生产方写入的 delay-timestamp 头优先，
// 头缺失或无法解析时退回 消息进入延迟主题的时间 + 级别延迟。
func dueTime(msg kafka.Message, levelDelay time.Duration) time.Time {
	if v := headerValue(msg.Headers, "delay-timestamp"); v != "" {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts
		}
	}
	return msg.Time.Add(levelDelay)
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	// 为每个延迟级别启动一个独立的轮询调度器
	g, gctx := errgroup.WithContext(ctx)
	for level, delay := range adapter.DelayLevels {
		scheduler := NewScheduler(cfg.Infra.Kafka.Brokers, level, delay)
		g.Go(func() error {
			return scheduler.StartPolling(gctx, 1*time.Second)
		})
	}

	log.Println("All polling schedulers are running.")
	if err := g.Wait(); err != nil {
		log.Fatalf("scheduler exited with error: %v", err)
	}
}
