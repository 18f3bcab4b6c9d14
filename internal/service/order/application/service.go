// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"umami/internal/pkg/logger"
	"umami/internal/service/order/domain"
	"umami/internal/service/order/domain/port"
)

// OrderApplicationService 只关注下单/取消的业务流程编排，
// 锁、台账、订单存储、延迟调度都通过端口注入。
type OrderApplicationService struct {
	orderRepo domain.OrderRepository
	ledger    domain.InventoryLedger
	catalog   domain.CatalogReader
	locks     port.LockManager
	scheduler port.DelayScheduler
	tracer    trace.Tracer

	lockTTL     time.Duration // 单个规格锁的租约时长
	cancelDelay time.Duration // 超时未支付自动取消的延迟
}

func NewOrderApplicationService(
	orderRepo domain.OrderRepository,
	ledger domain.InventoryLedger,
	catalog domain.CatalogReader,
	locks port.LockManager,
	scheduler port.DelayScheduler,
	tracer trace.Tracer,
	lockTTL, cancelDelay time.Duration,
) *OrderApplicationService {
	return &OrderApplicationService{
		orderRepo: orderRepo, ledger: ledger, catalog: catalog,
		locks: locks, scheduler: scheduler, tracer: tracer,
		lockTTL: lockTTL, cancelDelay: cancelDelay,
	}
}

// PlaceOrder 创建订单。一锁二判三更新：
//  1. 对购物车里每个规格加分布式锁，全部拿到才继续，抢不到即视为重复提交；
//  2. 持锁校验商品在售、库存充足，并用定点运算累计总价；
//  3. 一个事务内生成订单号、落快照、写订单和明细、逐行条件扣减库存加销量。
//
// 锁在 commit 之后、调度延迟取消之前释放；defer 兜底保证任何退出路径都不漏释放。
func (s *OrderApplicationService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.user_id", req.UserID),
		attribute.Int64("order.shop_id", req.ShopID),
		attribute.Int("order.line_count", len(req.Lines)),
	)

	if len(req.Lines) == 0 {
		return nil, domain.Reject(nil, "请至少选择一件商品")
	}
	// 同一规格出现在多行时合并数量：校验和扣减都按合并后的总量算，
	// 否则每行单独对库存校验会放过合计超出库存的购物车
	lines := make([]OrderLine, 0, len(req.Lines))
	lineIdx := make(map[int64]int, len(req.Lines))
	keys := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		if line.Num <= 0 {
			return nil, domain.Reject(nil, "商品数量有误，请重新选购")
		}
		if i, ok := lineIdx[line.SkuID]; ok {
			lines[i].Num += line.Num
			continue
		}
		lineIdx[line.SkuID] = len(lines)
		lines = append(lines, line)
		keys = append(keys, skuLockKey(line.SkuID))
	}

	// 1. 锁：要么全部拿到，要么全部放掉
	release, err := acquireAll(ctx, s.locks, keys, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockBusy) {
			span.AddEvent("lock contention, treated as duplicate submission")
			ordersRejectedTotal.WithLabelValues("contention").Inc()
			return nil, domain.Reject(err, "请勿重复提交")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock acquisition failed")
		return nil, err
	}
	defer release(ctx)

	// 2. 判：持锁之后才做校验，此刻读到的库存在本事务提交前不会被并发下单改动
	type pricedLine struct {
		sku *domain.Sku
		num int
	}
	priced := make([]pricedLine, 0, len(lines))
	skuIDs := make([]int64, 0, len(lines))
	for _, line := range lines {
		sku, err := s.catalog.FindSku(ctx, line.SkuID)
		if err != nil {
			if errors.Is(err, domain.ErrSkuNotFound) {
				ordersRejectedTotal.WithLabelValues("validation").Inc()
				return nil, domain.Reject(err, "商品不存在，请重新选购")
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "catalog lookup failed")
			return nil, err
		}
		if sku.Product == nil {
			ordersRejectedTotal.WithLabelValues("validation").Inc()
			return nil, domain.Reject(domain.ErrProductNotFound, "商品[%s]不存在，请重新选购", sku.Title)
		}
		if !sku.Product.OnSale {
			ordersRejectedTotal.WithLabelValues("validation").Inc()
			return nil, domain.Reject(domain.ErrProductOffSale, "商品[%s]已下架，请重新选购", sku.Product.Name)
		}
		if sku.Stock == 0 {
			ordersRejectedTotal.WithLabelValues("validation").Inc()
			return nil, domain.Reject(domain.ErrSkuSoldOut, "商品[%s，%s]已售空，请重新选购", sku.Product.Name, sku.Title)
		}
		if line.Num > sku.Stock {
			ordersRejectedTotal.WithLabelValues("validation").Inc()
			return nil, domain.Reject(domain.ErrInsufficientStock, "商品[%s，%s]库存不足", sku.Product.Name, sku.Title)
		}
		priced = append(priced, pricedLine{sku: sku, num: line.Num})
		skuIDs = append(skuIDs, sku.ID)
	}

	// 3. 更新：订单号、快照、订单+明细、台账扣减，同一个事务，任一步失败整体回滚
	var order *domain.Order
	err = s.orderRepo.Transact(ctx, func(txCtx context.Context) error {
		orderNo, err := s.orderRepo.AllocateOrderNo(txCtx)
		if err != nil {
			return err
		}

		snapshot, err := s.catalog.Snapshot(txCtx, skuIDs)
		if err != nil {
			return err
		}

		order = domain.NewOrder(req.UserID, req.ShopID, orderNo, req.OrderType, req.Remark, req.DeskNum, req.TakeTime)
		order.OrderInfo = snapshot
		for _, p := range priced {
			order.AddItem(p.sku.ProductID, p.sku.ID, p.num, p.sku.Price)
		}

		if err := s.orderRepo.Create(txCtx, order); err != nil {
			return err
		}

		for _, line := range order.ReservationLines() {
			if err := s.ledger.Reserve(txCtx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "order placement transaction failed")
		logger.Ctx(ctx).Error().Err(err).Int64("user_id", req.UserID).Msg("order placement transaction rolled back")
		ordersFailedTotal.Inc()
		return nil, err
	}

	// 先释放锁，再调度延迟取消
	release(ctx)

	if err := s.scheduler.ScheduleCancellation(ctx, order.ID, s.cancelDelay); err != nil {
		// 调度失败不回滚订单：最坏情况是超时后没有自动取消，留给值班处理
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", order.ID).Msg("failed to schedule deferred cancellation")
	}

	ordersPlacedTotal.Inc()
	span.SetAttributes(attribute.Int64("order.id", order.ID), attribute.String("order.no", order.OrderNo))
	logger.Ctx(ctx).Info().Int64("order_id", order.ID).Str("order_no", order.OrderNo).
		Str("total_price", order.TotalPrice.StringFixed(2)).Msg("order placed")

	return &PlaceOrderResponse{OrderID: order.ID, OrderNo: order.OrderNo, Message: "订单创建成功"}, nil
}

// CancelOrder 用户主动取消订单。
func (s *OrderApplicationService) CancelOrder(ctx context.Context, orderID int64) error {
	return s.cancel(ctx, orderID, "user")
}

// HandleCancellationDue 由延迟任务触发的取消。订单已支付或已取消时
// 条件状态更新会落空，这对超时任务来说是正常结局，不作为错误上报。
func (s *OrderApplicationService) HandleCancellationDue(ctx context.Context, orderID int64) error {
	err := s.cancel(ctx, orderID, "timeout")
	if err != nil {
		if _, ok := domain.AsRejection(err); ok {
			if errors.Is(err, domain.ErrOrderNotFound) {
				// 过期消息指向的订单可能早已不存在
				logger.Ctx(ctx).Warn().Int64("order_id", orderID).Msg("deferred cancellation skipped, order not found")
			} else {
				logger.Ctx(ctx).Info().Int64("order_id", orderID).Msg("deferred cancellation skipped, order no longer unpaid")
			}
			return nil
		}
	}
	return err
}

// cancel 取消未支付订单并回补库存。
// 这里不取规格锁（取消流量远低于下单），靠存储层 UNPAID -> CANCELLED
// 的条件更新防住与支付确认的并发竞争。
func (s *OrderApplicationService) cancel(ctx context.Context, orderID int64, trigger string) error {
	ctx, span := s.tracer.Start(ctx, "app.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("cancel.trigger", trigger))

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Reject(err, "此订单不存在，请刷新页面")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "order lookup failed")
		return err
	}
	if !order.CanCancel() {
		return domain.Reject(domain.ErrStatusConflict, "无法取消，订单状态有误")
	}

	err = s.orderRepo.Transact(ctx, func(txCtx context.Context) error {
		// 条件更新是防线本体：读状态和改状态之间如果支付先到，这里会失败
		if err := s.orderRepo.UpdateStatus(txCtx, orderID, domain.StatusUnpaid, domain.StatusCancelled); err != nil {
			return err
		}
		for _, line := range order.ReservationLines() {
			if err := s.ledger.Return(txCtx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrStatusConflict) {
			span.AddEvent("status transition lost to a concurrent update")
			return domain.Reject(err, "无法取消，订单状态有误")
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "order cancellation transaction failed")
		logger.Ctx(ctx).Error().Err(err).Int64("order_id", orderID).Msg("order cancellation rolled back")
		return err
	}

	ordersCancelledTotal.WithLabelValues(trigger).Inc()
	logger.Ctx(ctx).Info().Int64("order_id", orderID).Str("trigger", trigger).Msg("order cancelled, inventory returned")
	return nil
}

// GetOrder 查询订单详情。
func (s *OrderApplicationService) GetOrder(ctx context.Context, orderID int64) (*OrderDetail, error) {
	ctx, span := s.tracer.Start(ctx, "app.GetOrder")
	defer span.End()

	order, err := s.orderRepo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, domain.Reject(err, "此订单不存在，请刷新页面")
		}
		span.RecordError(err)
		return nil, err
	}
	return ToOrderDetail(order), nil
}
