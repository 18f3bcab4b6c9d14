// internal/service/order/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersPlacedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_placed_total",
		Help: "Number of successfully placed orders.",
	})

	ordersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_rejected_total",
		Help: "Number of rejected order placements by reason.",
	}, []string{"reason"})

	ordersFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_failed_total",
		Help: "Number of order placements that failed internally.",
	})

	ordersCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_cancelled_total",
		Help: "Number of cancelled orders by trigger.",
	}, []string{"trigger"})
)
