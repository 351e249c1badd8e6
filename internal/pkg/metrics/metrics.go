// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 核心业务指标。注册到默认 Registry，由 /metrics 暴露。
var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_orders_created_total",
		Help: "Number of orders successfully created.",
	})

	GiftsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_gifts_granted_total",
		Help: "Number of gift line items committed into orders.",
	})

	GiftsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_gifts_evicted_total",
		Help: "Number of gift cart lines removed by reconciliation.",
	})

	StockClampCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_stock_clamp_corrections_total",
		Help: "Number of defensive reserved-stock clamp corrections applied.",
	})
)
