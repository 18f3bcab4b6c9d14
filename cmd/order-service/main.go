// cmd/order-service/main.go
package main

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"

	"umami/internal/pkg/bootstrap"
	"umami/internal/pkg/logger"
	"umami/internal/pkg/mq"
	"umami/internal/pkg/redis"
	"umami/internal/service/order/application"
	"umami/internal/service/order/domain/port"
	"umami/internal/service/order/infrastructure"
	"umami/internal/service/order/infrastructure/adapter"
	"umami/internal/service/order/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	db, err := infrastructure.NewMysqlDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("failed to connect to mysql: %v", err)
	}

	var locks port.LockManager
	var zkAdapter *adapter.LockZookeeperAdapter
	switch cfg.App.LockBackend {
	case "zookeeper":
		zkAdapter, err = adapter.NewLockZookeeperAdapter(cfg.Infra.Zookeeper.Servers)
		if err != nil {
			log.Fatalf("failed to init zookeeper lock manager: %v", err)
		}
		locks = zkAdapter
	default:
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addr)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		locks, err = adapter.NewLockRedisAdapter(redisClient)
		if err != nil {
			log.Fatalf("failed to init redis lock manager: %v", err)
		}
	}

	scheduler := adapter.NewSchedulerKafkaAdapter(cfg.Infra.Kafka.Brokers)

	orderRepo := infrastructure.NewGormOrderRepository(db)
	ledger := infrastructure.NewGormInventoryLedger(db)
	catalog := infrastructure.NewGormCatalogReader(db)

	appSvc := application.NewOrderApplicationService(
		orderRepo, ledger, catalog, locks, scheduler,
		otel.Tracer(serviceName),
		time.Duration(cfg.App.LockTTL), time.Duration(cfg.App.CancelDelay),
	)

	// 延迟取消任务的消费端与 HTTP API 共同部署在本服务内
	cancelReader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, adapter.CancelTopic, serviceName+"-cancel-group")
	consumer := interfaces.NewCancelConsumerAdapter(cancelReader, appSvc)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumer.Start(consumerCtx)

	handler := interfaces.NewOrderHandler(appSvc)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8081,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			stopConsumer()
			consumer.Stop(ctx)
			if err := scheduler.Close(); err != nil {
				log.Printf("Error closing scheduler writers: %v", err)
			}
			if zkAdapter != nil {
				zkAdapter.Close()
			}
		},
	})
}
