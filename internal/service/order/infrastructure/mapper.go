// internal/service/order/infrastructure/mapper.go
package infrastructure

import (
	"umami/internal/service/order/domain"
)

// ToOrderModel 将领域实体转换为数据库模型。
func ToOrderModel(o *domain.Order) *OrderModel {
	m := &OrderModel{
		ID:         o.ID,
		UserID:     o.UserID,
		ShopID:     o.ShopID,
		OrderNo:    o.OrderNo,
		TotalPrice: o.TotalPrice,
		Remark:     o.Remark,
		Status:     string(o.Status),
		OrderType:  string(o.OrderType),
		TakeTime:   o.TakeTime,
		DeskNum:    o.DeskNum,
		OrderInfo:  o.OrderInfo,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	for _, item := range o.Items {
		m.Items = append(m.Items, OrderItemModel{
			ID:        item.ID,
			OrderID:   item.OrderID,
			ProductID: item.ProductID,
			SkuID:     item.SkuID,
			Num:       item.Num,
			Price:     item.Price,
		})
	}
	return m
}

// ToDomainOrder 将数据库模型转换为领域实体。
func ToDomainOrder(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:         m.ID,
		UserID:     m.UserID,
		ShopID:     m.ShopID,
		OrderNo:    m.OrderNo,
		TotalPrice: m.TotalPrice,
		Remark:     m.Remark,
		Status:     domain.Status(m.Status),
		OrderType:  domain.OrderType(m.OrderType),
		TakeTime:   m.TakeTime,
		DeskNum:    m.DeskNum,
		OrderInfo:  m.OrderInfo,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	for _, item := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:        item.ID,
			OrderID:   item.OrderID,
			ProductID: item.ProductID,
			SkuID:     item.SkuID,
			Num:       item.Num,
			Price:     item.Price,
		})
	}
	return o
}

// ToDomainSku 将规格模型转换为领域实体，商品可能不存在，保持为 nil。
func ToDomainSku(m *ProductSkuModel) *domain.Sku {
	sku := &domain.Sku{
		ID:        m.ID,
		ProductID: m.ProductID,
		Title:     m.Title,
		Price:     m.Price,
		Stock:     m.Stock,
		Sales:     m.Sales,
	}
	if m.Product != nil {
		sku.Product = &domain.Product{
			ID:     m.Product.ID,
			Name:   m.Product.Name,
			OnSale: m.Product.OnSale,
			Stock:  m.Product.Stock,
			Sales:  m.Product.Sales,
		}
	}
	return sku
}
