// internal/service/order/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrLockBusy 锁已被其他请求持有，调用方应把它当作重复提交处理，而不是等待重试
	ErrLockBusy = errors.New("lock already held")

	// ErrSkuNotFound 规格不存在
	ErrSkuNotFound = errors.New("product sku not found")
	// ErrProductNotFound 规格所属的商品不存在
	ErrProductNotFound = errors.New("product not found")
	// ErrProductOffSale 商品已下架
	ErrProductOffSale = errors.New("product is off sale")
	// ErrSkuSoldOut 规格已售空
	ErrSkuSoldOut = errors.New("product sku sold out")
	// ErrInsufficientStock 库存不足，既可能在校验阶段发现，也可能由存储层的条件扣减兜底返回
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
	// ErrStatusConflict 订单状态条件更新失败，说明并发方已经抢先改过状态
	ErrStatusConflict = errors.New("order status conflict")
	// ErrOrderNoExhausted 订单号生成重试次数耗尽
	ErrOrderNoExhausted = errors.New("order number allocation exhausted")
)

// Rejection 是用户可见的拒绝：请求本身有问题（重复提交、商品不可售、库存不足等），
// 发生在任何数据变更之前，带一条可以直接展示给用户的原因。
// 与之相对，内部失败 (Failure) 只暴露笼统信息，细节进日志。
type Rejection struct {
	Reason string
	Err    error
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rejected: %s", r.Reason)
}

func (r *Rejection) Unwrap() error {
	return r.Err
}

// Reject 构造一个带原因的拒绝。
func Reject(err error, format string, args ...interface{}) *Rejection {
	return &Rejection{Reason: fmt.Sprintf(format, args...), Err: err}
}

// AsRejection 判断 err 是否是用户可见的拒绝。
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
