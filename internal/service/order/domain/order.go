// internal/service/order/domain/order.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order 是订单聚合的根实体。
// OrderItems 的生命周期完全归属于 Order：随订单一次性创建，取消时只回补库存，
// 明细行本身永不单独删除。
type Order struct {
	ID         int64
	UserID     int64
	ShopID     int64
	OrderNo    string
	TotalPrice decimal.Decimal
	Remark     string
	Status     Status
	OrderType  OrderType
	TakeTime   *time.Time // 自取时间，仅自取单有值
	DeskNum    string     // 桌台号，仅送餐到桌有值
	OrderInfo  []byte     // 下单时刻商品/规格数据的 JSON 快照，落库后不可变
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderItem 是订单的一条明细。
// Price 是下单时刻的单价快照，后续改价不影响已有订单。
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	SkuID     int64
	Num       int
	Price     decimal.Decimal
}

// Subtotal 返回明细行小计 (单价 × 数量)，定点计算不走浮点。
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Num)))
}

// NewOrder 工厂函数，创建一个处于 UNPAID 初始状态的订单。
func NewOrder(userID, shopID int64, orderNo string, orderType OrderType, remark, deskNum string, takeTime *time.Time) *Order {
	now := time.Now()
	return &Order{
		UserID:     userID,
		ShopID:     shopID,
		OrderNo:    orderNo,
		TotalPrice: decimal.Zero,
		Remark:     remark,
		Status:     StatusUnpaid,
		OrderType:  orderType,
		TakeTime:   takeTime,
		DeskNum:    deskNum,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddItem 追加一条明细并把小计累加到订单总价。
func (o *Order) AddItem(productID, skuID int64, num int, price decimal.Decimal) {
	item := OrderItem{
		ProductID: productID,
		SkuID:     skuID,
		Num:       num,
		Price:     price,
	}
	o.Items = append(o.Items, item)
	o.TotalPrice = o.TotalPrice.Add(item.Subtotal())
}

// CanCancel 只有未支付的订单可以被取消。
// 注意：这里只是实体层面的快速判断，真正的并发防护靠存储层的
// 条件状态更新 (UNPAID -> CANCELLED)，两者缺一不可。
func (o *Order) CanCancel() bool {
	return o.Status == StatusUnpaid
}

// Cancel 将实体标记为已取消。
func (o *Order) Cancel() error {
	if !o.CanCancel() {
		return ErrStatusConflict
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now()
	return nil
}

// ReservationLines 把订单明细转换为库存台账的操作行。
// 下单时用于扣减，取消时用于回补，两个方向共用同一份数量。
func (o *Order) ReservationLines() []ReservationLine {
	lines := make([]ReservationLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, ReservationLine{
			SkuID:     item.SkuID,
			ProductID: item.ProductID,
			Num:       item.Num,
		})
	}
	return lines
}
