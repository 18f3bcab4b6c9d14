// internal/service/order/interfaces/http_handler.go
package interfaces

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"umami/internal/pkg/logger"
	"umami/internal/service/order/application"
	"umami/internal/service/order/domain"
)

// OrderHandler 封装了订单服务的 HTTP 处理器。
// 认证在上游完成，调用方身份通过 X-User-Id / X-Shop-Id 传入。
type OrderHandler struct {
	service *application.OrderApplicationService
}

// NewOrderHandler 创建一个新的 HTTP 处理器实例
func NewOrderHandler(service *application.OrderApplicationService) *OrderHandler {
	return &OrderHandler{service: service}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *OrderHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /orders", h.placeOrderHandler)
	mux.HandleFunc("PUT /orders/{id}/cancel", h.cancelOrderHandler)
	mux.HandleFunc("GET /orders/{id}", h.getOrderHandler)
}

// placeOrderRequest 是下单接口的请求体，字段名沿用客户端既有协议。
type placeOrderRequest struct {
	ProductSkus []application.OrderLine `json:"product_skus"`
	Remark      string                  `json:"remark"`
	OrderType   string                  `json:"order_type"`
	TakeTime    *time.Time              `json:"take_time"`
	DeskNum     string                  `json:"desk_num"`
}

func (h *OrderHandler) placeOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	userID, shopID, ok := callerIdentity(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "请先登录")
		return
	}

	var body placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式有误")
		return
	}

	orderType := domain.OrderType(body.OrderType)
	if orderType == "" {
		orderType = domain.OrderTypeDeliveryToTable // 默认送餐到桌
	}

	resp, err := h.service.PlaceOrder(ctx, &application.PlaceOrderRequest{
		UserID:    userID,
		ShopID:    shopID,
		Lines:     body.ProductSkus,
		Remark:    body.Remark,
		OrderType: orderType,
		TakeTime:  body.TakeTime,
		DeskNum:   body.DeskNum,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, resp, resp.Message)
}

func (h *OrderHandler) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	if _, _, ok := callerIdentity(r); !ok {
		writeError(w, http.StatusUnauthorized, "请先登录")
		return
	}

	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "订单号格式有误")
		return
	}

	if err := h.service.CancelOrder(ctx, orderID); err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, nil, "取消成功")
}

func (h *OrderHandler) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	if _, _, ok := callerIdentity(r); !ok {
		writeError(w, http.StatusUnauthorized, "请先登录")
		return
	}

	orderID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "订单号格式有误")
		return
	}

	detail, err := h.service.GetOrder(ctx, orderID)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeSuccess(w, detail, "")
}

func callerIdentity(r *http.Request) (userID, shopID int64, ok bool) {
	userID, err := strconv.ParseInt(r.Header.Get("X-User-Id"), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	shopID, err = strconv.ParseInt(r.Header.Get("X-Shop-Id"), 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return userID, shopID, true
}

type apiResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeSuccess(w http.ResponseWriter, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiResponse{Status: "success", Message: message, Data: data})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(apiResponse{Status: "error", Message: message})
}

// writeFailure 区分用户可见的拒绝和内部失败：
// 拒绝带具体原因返回 400；内部失败只给笼统提示，细节进日志。
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if rej, ok := domain.AsRejection(err); ok {
		writeError(w, http.StatusBadRequest, rej.Reason)
		return
	}
	logger.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "系统繁忙，请稍后再试")
}
