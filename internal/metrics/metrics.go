package metrics

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"retailerp/backend/internal/domain"
)

const namespace = "retailerp"

// Metrics holds the collectors for one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations       *prometheus.CounterVec
	operationLatency *prometheus.HistogramVec
	ledgerMovements  *prometheus.CounterVec
	orderValue       *prometheus.CounterVec
	paymentValue     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ledgerMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_movement_units_total",
			Help:      "Units moved through the inventory ledger by movement kind.",
		}, []string{"store_id", "kind"}),
		orderValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_value_total",
			Help:      "Order totals by status.",
		}, []string{"store_id", "status"}),
		paymentValue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_value_total",
			Help:      "Payment amounts by type. Refunds are counted separately with kind=refund.",
		}, []string{"store_id", "type", "kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code class.",
		}, []string{"method", "route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
	}
	registry.MustRegister(m.operations, m.operationLatency, m.ledgerMovements, m.orderValue, m.paymentValue, m.httpRequests, m.httpLatency)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation records the outcome of one service call. The outcome label
// is the error class so dashboards can separate business rejections from
// storage failures.
func (m *Metrics) ObserveOperation(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Outcome(err)).Inc()
	m.operationLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveMovement(storeID string, kind domain.MovementKind, qty int) {
	if m == nil {
		return
	}
	m.ledgerMovements.WithLabelValues(storeID, strings.ToLower(string(kind))).Add(float64(qty))
}

func (m *Metrics) ObserveOrder(storeID string, status domain.OrderStatus, total decimal.Decimal) {
	if m == nil {
		return
	}
	m.orderValue.WithLabelValues(storeID, strings.ToLower(string(status))).Add(total.Abs().InexactFloat64())
}

func (m *Metrics) ObservePayment(payment domain.Payment) {
	if m == nil {
		return
	}
	kind := "payment"
	if payment.IsRefund() {
		kind = "refund"
	}
	m.paymentValue.WithLabelValues(payment.StoreID, strings.ToLower(string(payment.Type)), kind).Add(payment.Amount.Abs().InexactFloat64())
}

func (m *Metrics) ObserveHTTP(method string, route string, status int, started time.Time) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, codeClass(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsStorage(err):
		return "storage_error"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrForbidden):
		return "invalid"
	default:
		return "rejected"
	}
}

func codeClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
