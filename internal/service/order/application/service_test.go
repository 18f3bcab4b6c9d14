package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"umami/internal/service/order/domain"
	"umami/internal/service/order/domain/port"
)

const (
	testLockTTL     = 10 * time.Second
	testCancelDelay = 15 * time.Minute
)

func newTestService(store *memStore, locks port.LockManager, sched *fakeScheduler) *OrderApplicationService {
	return NewOrderApplicationService(
		store, store, store, locks, sched,
		noop.NewTracerProvider().Tracer("test"),
		testLockTTL, testCancelDelay,
	)
}

// 奶茶店：一个商品两个规格
func seedMilkTea(store *memStore) {
	store.seedProduct(domain.Product{ID: 10, Name: "招牌奶茶", OnSale: true, Stock: 15, Sales: 0})
	store.seedSku(domain.Sku{ID: 100, ProductID: 10, Title: "大杯", Price: decimal.RequireFromString("12.50"), Stock: 10})
	store.seedSku(domain.Sku{ID: 101, ProductID: 10, Title: "中杯", Price: decimal.RequireFromString("0.10"), Stock: 5})
}

func placeReq(lines ...OrderLine) *PlaceOrderRequest {
	return &PlaceOrderRequest{
		UserID:    1,
		ShopID:    2,
		Lines:     lines,
		Remark:    "少糖",
		OrderType: domain.OrderTypeDeliveryToTable,
		DeskNum:   "A3",
	}
}

func TestPlaceOrderSuccess(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	locks := newMemLockManager()
	sched := &fakeScheduler{}
	svc := newTestService(store, locks, sched)

	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 3}))
	require.NoError(t, err)
	require.NotZero(t, resp.OrderID)
	assert.NotEmpty(t, resp.OrderNo)

	// 库存与销量同步变动
	stock, sales := store.skuState(100)
	assert.Equal(t, 7, stock)
	assert.Equal(t, 3, sales)
	pStock, pSales := store.productState(10)
	assert.Equal(t, 12, pStock)
	assert.Equal(t, 3, pSales)

	// 订单 UNPAID，总价定点精确，快照已落库
	order, err := store.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, order.Status)
	assert.Equal(t, "37.50", order.TotalPrice.StringFixed(2))
	assert.NotEmpty(t, order.OrderInfo)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "12.50", order.Items[0].Price.StringFixed(2))

	// 锁已全部释放，延迟取消已调度
	assert.Zero(t, locks.heldCount())
	calls := sched.scheduled()
	require.Len(t, calls, 1)
	assert.Equal(t, resp.OrderID, calls[0].orderID)
	assert.Equal(t, testCancelDelay, calls[0].delay)
}

func TestPlaceOrderExactDecimalTotal(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	// 0.10 × 3 在二进制浮点下是 0.30000000000000004
	resp, err := svc.PlaceOrder(context.Background(), placeReq(
		OrderLine{SkuID: 101, Num: 3},
		OrderLine{SkuID: 100, Num: 1},
	))
	require.NoError(t, err)

	order, err := store.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.True(t, order.TotalPrice.Equal(decimal.RequireFromString("12.80")), "got %s", order.TotalPrice)
}

func TestPlaceOrderLockContentionRejectedImmediately(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	locks := newMemLockManager()
	svc := newTestService(store, locks, &fakeScheduler{})

	// 模拟另一个请求已持有规格 100 的锁
	lease, err := locks.Acquire(context.Background(), skuLockKey(100), testLockTTL)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	start := time.Now()
	_, err = svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 1}))
	elapsed := time.Since(start)

	rej, ok := domain.AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, "请勿重复提交", rej.Reason)
	assert.ErrorIs(t, err, domain.ErrLockBusy)
	// 非阻塞：失败是立刻的，不是等锁超时
	assert.Less(t, elapsed, time.Second)

	// 没有任何状态被改动
	stock, sales := store.skuState(100)
	assert.Equal(t, 10, stock)
	assert.Zero(t, sales)
	assert.Zero(t, store.orderCount())
}

func TestPlaceOrderPartialLockFailureLeaksNothing(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	locks := newMemLockManager()
	svc := newTestService(store, locks, &fakeScheduler{})

	// 只占住排序靠后的那把锁，让第一把先被成功获取
	lease, err := locks.Acquire(context.Background(), skuLockKey(101), testLockTTL)
	require.NoError(t, err)

	_, err = svc.PlaceOrder(context.Background(), placeReq(
		OrderLine{SkuID: 100, Num: 1},
		OrderLine{SkuID: 101, Num: 1},
	))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLockBusy)

	// 先拿到的规格 100 的锁必须已被释放
	require.NoError(t, lease.Release(context.Background()))
	assert.Zero(t, locks.heldCount())
}

func TestPlaceOrderValidationRejections(t *testing.T) {
	store := newMemStore()
	store.seedProduct(domain.Product{ID: 20, Name: "下架商品", OnSale: false, Stock: 5})
	store.seedSku(domain.Sku{ID: 200, ProductID: 20, Title: "默认", Price: decimal.New(1, 0), Stock: 5})
	store.seedProduct(domain.Product{ID: 21, Name: "售罄商品", OnSale: true, Stock: 0})
	store.seedSku(domain.Sku{ID: 210, ProductID: 21, Title: "默认", Price: decimal.New(1, 0), Stock: 0})
	store.seedSku(domain.Sku{ID: 220, ProductID: 99, Title: "孤儿规格", Price: decimal.New(1, 0), Stock: 5})
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	cases := []struct {
		name   string
		line   OrderLine
		reason string
		err    error
	}{
		{"规格不存在", OrderLine{SkuID: 999, Num: 1}, "商品不存在，请重新选购", domain.ErrSkuNotFound},
		{"商品不存在", OrderLine{SkuID: 220, Num: 1}, "商品[孤儿规格]不存在，请重新选购", domain.ErrProductNotFound},
		{"商品已下架", OrderLine{SkuID: 200, Num: 1}, "商品[下架商品]已下架，请重新选购", domain.ErrProductOffSale},
		{"商品已售空", OrderLine{SkuID: 210, Num: 1}, "商品[售罄商品，默认]已售空，请重新选购", domain.ErrSkuSoldOut},
		{"库存不足", OrderLine{SkuID: 100, Num: 11}, "商品[招牌奶茶，大杯]库存不足", domain.ErrInsufficientStock},
		{"数量非法", OrderLine{SkuID: 100, Num: 0}, "商品数量有误，请重新选购", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PlaceOrder(context.Background(), placeReq(tc.line))
			rej, ok := domain.AsRejection(err)
			require.True(t, ok, "expected rejection, got %v", err)
			assert.Equal(t, tc.reason, rej.Reason)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
	assert.Zero(t, store.orderCount())
}

func TestPlaceOrderDuplicateSkuLinesValidatedAgainstCombinedQuantity(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	// 同一规格拆成两行、合计超出库存：必须在校验阶段按总量拒绝，
	// 不能各行单独通过校验后在事务里失败
	_, err := svc.PlaceOrder(context.Background(), placeReq(
		OrderLine{SkuID: 100, Num: 6},
		OrderLine{SkuID: 100, Num: 6},
	))
	rej, ok := domain.AsRejection(err)
	require.True(t, ok, "expected a user-visible rejection, got %v", err)
	assert.Equal(t, "商品[招牌奶茶，大杯]库存不足", rej.Reason)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	stock, sales := store.skuState(100)
	assert.Equal(t, 10, stock)
	assert.Zero(t, sales)
	assert.Zero(t, store.orderCount())

	// 合计不超库存时正常下单，重复行合并为一条明细、按总量扣减
	resp, err := svc.PlaceOrder(context.Background(), placeReq(
		OrderLine{SkuID: 100, Num: 3},
		OrderLine{SkuID: 100, Num: 4},
	))
	require.NoError(t, err)

	stock, sales = store.skuState(100)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 7, sales)

	order, err := store.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 7, order.Items[0].Num)
	assert.Equal(t, "87.50", order.TotalPrice.StringFixed(2))
}

func TestPlaceOrderOneBadLineRejectsWholeRequest(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	store.seedProduct(domain.Product{ID: 21, Name: "售罄商品", OnSale: true, Stock: 0})
	store.seedSku(domain.Sku{ID: 210, ProductID: 21, Title: "默认", Price: decimal.New(1, 0), Stock: 0})
	locks := newMemLockManager()
	svc := newTestService(store, locks, &fakeScheduler{})

	_, err := svc.PlaceOrder(context.Background(), placeReq(
		OrderLine{SkuID: 100, Num: 2},
		OrderLine{SkuID: 210, Num: 1},
	))
	_, ok := domain.AsRejection(err)
	require.True(t, ok)

	// 两行的库存都原封不动
	stock, sales := store.skuState(100)
	assert.Equal(t, 10, stock)
	assert.Zero(t, sales)
	stock, sales = store.skuState(210)
	assert.Zero(t, stock)
	assert.Zero(t, sales)
	assert.Zero(t, store.orderCount())
	assert.Zero(t, locks.heldCount())
}

func TestConcurrentPlacementsSameSkuNeverOversell(t *testing.T) {
	store := newMemStore()
	store.seedProduct(domain.Product{ID: 10, Name: "招牌奶茶", OnSale: true, Stock: 1})
	store.seedSku(domain.Sku{ID: 100, ProductID: 10, Title: "大杯", Price: decimal.New(12, 0), Stock: 1})
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	// 两个并发请求合计数量超过库存：最多一个成功，绝不可能都成功
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 1}))
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, successes, 1)
	stock, sales := store.skuState(100)
	assert.GreaterOrEqual(t, stock, 0, "stock must never go negative")
	assert.Equal(t, 1-successes, stock)
	assert.Equal(t, successes, sales)
	assert.Equal(t, successes, store.orderCount())
}

func TestConcurrentPlacementsDisjointSkusBothSucceed(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, skuID := range []int64{100, 101} {
		wg.Add(1)
		go func(i int, skuID int64) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: skuID, Num: 1}))
		}(i, skuID)
	}
	wg.Wait()

	// 不同规格的请求互不阻塞、互不拒绝
	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, 2, store.orderCount())
}

func TestLedgerGuardHoldsWhenLockingIsBroken(t *testing.T) {
	store := newMemStore()
	store.seedProduct(domain.Product{ID: 10, Name: "招牌奶茶", OnSale: true, Stock: 1})
	store.seedSku(domain.Sku{ID: 100, ProductID: 10, Title: "大杯", Price: decimal.New(12, 0), Stock: 1})
	// 锁形同虚设，所有请求都能通过校验进入事务
	svc := newTestService(store, permissiveLockManager{}, &fakeScheduler{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 1})); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 存储层的条件扣减是第二道防线：库存永不为负，失败事务全部回滚
	assert.Equal(t, 1, successes)
	stock, _ := store.skuState(100)
	assert.Zero(t, stock)
	assert.Equal(t, 1, store.orderCount())
}

func TestPlaceThenCancelRoundTrip(t *testing.T) {
	store := newMemStore()
	store.seedProduct(domain.Product{ID: 10, Name: "招牌奶茶", OnSale: true, Stock: 10})
	store.seedSku(domain.Sku{ID: 100, ProductID: 10, Title: "大杯", Price: decimal.New(12, 0), Stock: 10})
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 3}))
	require.NoError(t, err)

	stock, sales := store.skuState(100)
	require.Equal(t, 7, stock)
	require.Equal(t, 3, sales)

	require.NoError(t, svc.CancelOrder(context.Background(), resp.OrderID))

	// 库存销量完整回补，状态到达终态
	stock, sales = store.skuState(100)
	assert.Equal(t, 10, stock)
	assert.Zero(t, sales)
	pStock, pSales := store.productState(10)
	assert.Equal(t, 10, pStock)
	assert.Zero(t, pSales)

	order, err := store.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	// 明细行不删除
	assert.Len(t, order.Items, 1)
}

func TestCancelNonUnpaidOrderRejectedAndInventoryUntouched(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 2}))
	require.NoError(t, err)

	// 外部支付协作方把订单推进到 PAID
	require.NoError(t, store.UpdateStatus(context.Background(), resp.OrderID, domain.StatusUnpaid, domain.StatusPaid))

	err = svc.CancelOrder(context.Background(), resp.OrderID)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "无法取消，订单状态有误", rej.Reason)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	// 已支付订单的库存不受影响
	stock, sales := store.skuState(100)
	assert.Equal(t, 8, stock)
	assert.Equal(t, 2, sales)

	// 再取消一个已取消的订单同样被拒
	resp2, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 101, Num: 1}))
	require.NoError(t, err)
	require.NoError(t, svc.CancelOrder(context.Background(), resp2.OrderID))
	err = svc.CancelOrder(context.Background(), resp2.OrderID)
	_, ok = domain.AsRejection(err)
	assert.True(t, ok)
}

func TestCancelRaceWithPaymentLosesCleanly(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 1}))
	require.NoError(t, err)

	// 取消流程读到 UNPAID 之后、写入之前，支付先一步完成：
	// 用条件更新直接模拟写入点上的竞争
	require.NoError(t, store.UpdateStatus(context.Background(), resp.OrderID, domain.StatusUnpaid, domain.StatusPaid))

	err = svc.CancelOrder(context.Background(), resp.OrderID)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)

	// 支付结果保留，库存没有被错误回补
	order, _ := store.FindByID(context.Background(), resp.OrderID)
	assert.Equal(t, domain.StatusPaid, order.Status)
	stock, sales := store.skuState(100)
	assert.Equal(t, 9, stock)
	assert.Equal(t, 1, sales)
}

func TestDeferredCancellation(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 2}))
	require.NoError(t, err)

	// 超时触发：未支付订单被取消，库存回补
	require.NoError(t, svc.HandleCancellationDue(context.Background(), resp.OrderID))
	order, _ := store.FindByID(context.Background(), resp.OrderID)
	assert.Equal(t, domain.StatusCancelled, order.Status)
	stock, _ := store.skuState(100)
	assert.Equal(t, 10, stock)

	// 已支付的订单：超时任务落空是正常结局，不报错、不动库存
	resp2, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 101, Num: 1}))
	require.NoError(t, err)
	require.NoError(t, store.UpdateStatus(context.Background(), resp2.OrderID, domain.StatusUnpaid, domain.StatusPaid))

	require.NoError(t, svc.HandleCancellationDue(context.Background(), resp2.OrderID))
	order2, _ := store.FindByID(context.Background(), resp2.OrderID)
	assert.Equal(t, domain.StatusPaid, order2.Status)
	stock, sales := store.skuState(101)
	assert.Equal(t, 4, stock)
	assert.Equal(t, 1, sales)

	// 过期消息指向的订单不存在：跳过即可，不算错误
	require.NoError(t, svc.HandleCancellationDue(context.Background(), 99999))
}

func TestSchedulerFailureDoesNotFailPlacement(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	sched := &fakeScheduler{err: context.DeadlineExceeded}
	svc := newTestService(store, newMemLockManager(), sched)

	// 调度失败只记日志：订单照常创建
	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 1}))
	require.NoError(t, err)
	order, err := store.FindByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnpaid, order.Status)
}

func TestGetOrder(t *testing.T) {
	store := newMemStore()
	seedMilkTea(store)
	svc := newTestService(store, newMemLockManager(), &fakeScheduler{})

	resp, err := svc.PlaceOrder(context.Background(), placeReq(OrderLine{SkuID: 100, Num: 1}))
	require.NoError(t, err)

	detail, err := svc.GetOrder(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, resp.OrderNo, detail.OrderNo)
	assert.Equal(t, "12.50", detail.TotalPrice)
	assert.Equal(t, domain.StatusUnpaid, detail.Status)
	assert.Equal(t, int64(2), detail.ShopID)
	assert.Equal(t, "A3", detail.DeskNum)
	assert.NotEmpty(t, detail.OrderInfo)

	_, err = svc.GetOrder(context.Background(), 99999)
	rej, ok := domain.AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, "此订单不存在，请刷新页面", rej.Reason)
}
