package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"umami/internal/service/order/domain"
	"umami/internal/service/order/domain/port"
)

// memLockManager 是 port.LockManager 的进程内实现，只用于测试。
// 语义与 Redis 实现一致：非阻塞，已持有即失败。
type memLockManager struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLockManager() *memLockManager {
	return &memLockManager{held: make(map[string]bool)}
}

func (m *memLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (port.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, domain.ErrLockBusy
	}
	m.held[key] = true
	return &memLease{mgr: m, key: key}, nil
}

func (m *memLockManager) heldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.held {
		if h {
			n++
		}
	}
	return n
}

type memLease struct {
	mgr *memLockManager
	key string
}

func (l *memLease) Key() string { return l.key }

func (l *memLease) Release(ctx context.Context) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	delete(l.mgr.held, l.key)
	return nil
}

// memStore 同时实现 OrderRepository、InventoryLedger 和 CatalogReader，
// 模拟数据库的事务语义：Transact 串行执行，fn 报错时整体回滚。
type memStore struct {
	mu       sync.Mutex
	products map[int64]*domain.Product
	skus     map[int64]*domain.Sku
	orders   map[int64]*domain.Order

	nextOrderID int64
	orderNoSeq  int64
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]*domain.Product),
		skus:     make(map[int64]*domain.Sku),
		orders:   make(map[int64]*domain.Order),
	}
}

func (s *memStore) seedProduct(p domain.Product) {
	cp := p
	s.products[p.ID] = &cp
}

func (s *memStore) seedSku(sku domain.Sku) {
	cp := sku
	cp.Product = nil
	s.skus[sku.ID] = &cp
}

type txMarker struct{}

// enter 在非事务上下文中加锁；事务上下文由 Transact 统一持锁。
func (s *memStore) enter(ctx context.Context) func() {
	if ctx.Value(txMarker{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) Transact(ctx context.Context, fn func(txCtx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	backup := s.snapshot()
	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		s.restore(backup)
		return err
	}
	return nil
}

type storeSnapshot struct {
	products map[int64]domain.Product
	skus     map[int64]domain.Sku
	orders   map[int64]domain.Order
	nextID   int64
}

func (s *memStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		products: make(map[int64]domain.Product, len(s.products)),
		skus:     make(map[int64]domain.Sku, len(s.skus)),
		orders:   make(map[int64]domain.Order, len(s.orders)),
		nextID:   s.nextOrderID,
	}
	for id, p := range s.products {
		snap.products[id] = *p
	}
	for id, sku := range s.skus {
		snap.skus[id] = *sku
	}
	for id, o := range s.orders {
		cp := *o
		cp.Items = append([]domain.OrderItem(nil), o.Items...)
		snap.orders[id] = cp
	}
	return snap
}

func (s *memStore) restore(snap storeSnapshot) {
	s.products = make(map[int64]*domain.Product, len(snap.products))
	s.skus = make(map[int64]*domain.Sku, len(snap.skus))
	s.orders = make(map[int64]*domain.Order, len(snap.orders))
	for id, p := range snap.products {
		cp := p
		s.products[id] = &cp
	}
	for id, sku := range snap.skus {
		cp := sku
		s.skus[id] = &cp
	}
	for id, o := range snap.orders {
		cp := o
		s.orders[id] = &cp
	}
	s.nextOrderID = snap.nextID
}

func (s *memStore) AllocateOrderNo(ctx context.Context) (string, error) {
	defer s.enter(ctx)()
	s.orderNoSeq++
	return fmt.Sprintf("20260830%012d", s.orderNoSeq), nil
}

func (s *memStore) Create(ctx context.Context, order *domain.Order) error {
	defer s.enter(ctx)()
	s.nextOrderID++
	order.ID = s.nextOrderID
	cp := *order
	cp.Items = append([]domain.OrderItem(nil), order.Items...)
	for i := range cp.Items {
		cp.Items[i].OrderID = cp.ID
	}
	s.orders[cp.ID] = &cp
	return nil
}

func (s *memStore) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	defer s.enter(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	return &cp, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id int64, from, to domain.Status) error {
	defer s.enter(ctx)()
	o, ok := s.orders[id]
	if !ok || o.Status != from {
		return domain.ErrStatusConflict
	}
	o.Status = to
	return nil
}

func (s *memStore) Reserve(ctx context.Context, line domain.ReservationLine) error {
	defer s.enter(ctx)()
	sku, ok := s.skus[line.SkuID]
	if !ok || sku.Stock < line.Num {
		return domain.ErrInsufficientStock
	}
	sku.Stock -= line.Num
	sku.Sales += line.Num
	p, ok := s.products[line.ProductID]
	if !ok || p.Stock < line.Num {
		return domain.ErrInsufficientStock
	}
	p.Stock -= line.Num
	p.Sales += line.Num
	return nil
}

func (s *memStore) Return(ctx context.Context, line domain.ReservationLine) error {
	defer s.enter(ctx)()
	sku, ok := s.skus[line.SkuID]
	if !ok || sku.Sales < line.Num {
		return fmt.Errorf("stock return rejected for sku %d", line.SkuID)
	}
	sku.Stock += line.Num
	sku.Sales -= line.Num
	p, ok := s.products[line.ProductID]
	if !ok || p.Sales < line.Num {
		return fmt.Errorf("stock return rejected for product %d", line.ProductID)
	}
	p.Stock += line.Num
	p.Sales -= line.Num
	return nil
}

func (s *memStore) FindSku(ctx context.Context, skuID int64) (*domain.Sku, error) {
	defer s.enter(ctx)()
	sku, ok := s.skus[skuID]
	if !ok {
		return nil, domain.ErrSkuNotFound
	}
	cp := *sku
	if p, ok := s.products[sku.ProductID]; ok {
		pcp := *p
		cp.Product = &pcp
	}
	return &cp, nil
}

func (s *memStore) Snapshot(ctx context.Context, skuIDs []int64) ([]byte, error) {
	defer s.enter(ctx)()
	type snapLine struct {
		SkuID int64 `json:"id"`
		Stock int   `json:"stock"`
	}
	lines := make([]snapLine, 0, len(skuIDs))
	for _, id := range skuIDs {
		if sku, ok := s.skus[id]; ok {
			lines = append(lines, snapLine{SkuID: sku.ID, Stock: sku.Stock})
		}
	}
	return json.Marshal(lines)
}

// 只读访问器，断言用
func (s *memStore) skuState(id int64) (stock, sales int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sku := s.skus[id]
	return sku.Stock, sku.Sales
}

func (s *memStore) productState(id int64) (stock, sales int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	return p.Stock, p.Sales
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// permissiveLockManager 无条件放行所有加锁请求，
// 用来模拟锁失效、只剩存储层谓词兜底的场景。
type permissiveLockManager struct{}

func (permissiveLockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (port.Lease, error) {
	return permissiveLease{key: key}, nil
}

type permissiveLease struct{ key string }

func (l permissiveLease) Key() string                       { return l.key }
func (l permissiveLease) Release(ctx context.Context) error { return nil }

// fakeScheduler 记录所有调度请求。
type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduledCall
	err   error
}

type scheduledCall struct {
	orderID int64
	delay   time.Duration
}

func (f *fakeScheduler) ScheduleCancellation(ctx context.Context, orderID int64, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, scheduledCall{orderID: orderID, delay: delay})
	return nil
}

func (f *fakeScheduler) scheduled() []scheduledCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]scheduledCall(nil), f.calls...)
}
