// internal/service/order/application/dto.go
package application

import (
	"encoding/json"
	"time"

	"umami/internal/service/order/domain"
)

// OrderLine 是下单请求中的一行：规格 + 数量。
type OrderLine struct {
	SkuID int64 `json:"product_sku_id"`
	Num   int   `json:"num"`
}

// PlaceOrderRequest 是下单用例的输入数据。
// UserID/ShopID 由上游认证协作方解析后传入，本服务不做会话处理。
type PlaceOrderRequest struct {
	UserID    int64
	ShopID    int64
	Lines     []OrderLine
	Remark    string
	OrderType domain.OrderType
	TakeTime  *time.Time
	DeskNum   string
}

// PlaceOrderResponse 是下单用例的输出数据。
type PlaceOrderResponse struct {
	OrderID int64  `json:"order_id"`
	OrderNo string `json:"order_no"`
	Message string `json:"message"`
}

// OrderDetail 是订单详情查询的输出数据。
type OrderDetail struct {
	ID         int64            `json:"id"`
	OrderNo    string           `json:"order_no"`
	TotalPrice string           `json:"total_price"`
	Status     domain.Status    `json:"status"`
	ShopID     int64            `json:"shop_id"`
	CreatedAt  time.Time        `json:"created_at"`
	DeskNum    string           `json:"desk_num,omitempty"`
	TakeTime   *time.Time       `json:"take_time,omitempty"`
	OrderType  domain.OrderType `json:"order_type"`
	OrderInfo  json.RawMessage  `json:"order_info,omitempty"`
}

// ToOrderDetail 从领域实体转换为查询 DTO。
func ToOrderDetail(o *domain.Order) *OrderDetail {
	return &OrderDetail{
		ID:         o.ID,
		OrderNo:    o.OrderNo,
		TotalPrice: o.TotalPrice.StringFixed(2),
		Status:     o.Status,
		ShopID:     o.ShopID,
		CreatedAt:  o.CreatedAt,
		DeskNum:    o.DeskNum,
		TakeTime:   o.TakeTime,
		OrderType:  o.OrderType,
		OrderInfo:  json.RawMessage(o.OrderInfo),
	}
}
