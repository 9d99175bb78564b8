package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"tokensale/core/events"
)

// SaleMetrics tracks engine operations and settled purchase volume.
type SaleMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	tokensSold *prometheus.CounterVec
	fees       *prometheus.CounterVec
	purchases  *prometheus.CounterVec

	otelPurchases metric.Int64Counter
	otelTokens    metric.Int64Counter
}

var (
	saleOnce     sync.Once
	saleRegistry *SaleMetrics
)

// Sale returns the lazily registered sale metrics.
func Sale() *SaleMetrics {
	saleOnce.Do(func() {
		saleRegistry = &SaleMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of sale engine operations by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "failures_total",
				Help:      "Count of rejected or failed operations by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tokensale",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for sale engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			tokensSold: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Name:      "tokens_sold_total",
				Help:      "Base units released to buyers by sale asset.",
			}, []string{"asset"}),
			fees: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Name:      "fees_collected_total",
				Help:      "Platform fees collected by payment asset.",
			}, []string{"asset"}),
			purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tokensale",
				Name:      "purchases_total",
				Help:      "Committed purchases by sale asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			saleRegistry.operations,
			saleRegistry.failures,
			saleRegistry.latency,
			saleRegistry.tokensSold,
			saleRegistry.fees,
			saleRegistry.purchases,
		)

		meter := otel.Meter("tokensale/sale")
		if c, err := meter.Int64Counter("sale.purchases", metric.WithDescription("Committed purchases.")); err == nil {
			saleRegistry.otelPurchases = c
		}
		if c, err := meter.Int64Counter("sale.tokens_sold", metric.WithDescription("Base units released to buyers.")); err == nil {
			saleRegistry.otelTokens = c
		}
	})
	return saleRegistry
}

type reasoner interface {
	Reason() string
}

// Observe records one engine call. Errors carrying a stable reason are
// counted under it; anything else is counted as "internal".
func (m *SaleMetrics) Observe(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		reason := "internal"
		var r reasoner
		if errors.As(err, &r) && r.Reason() != "" {
			reason = r.Reason()
		}
		m.failures.WithLabelValues(op, reason).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// Emit implements events.Emitter and accumulates purchase volume.
func (m *SaleMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil || evt.EventType() != "sale.purchased" {
		return
	}
	payload := evt.Payload()
	if payload == nil {
		return
	}
	attrs := payload.Attributes
	asset := labelOrUnknown(attrs["asset"])
	m.purchases.WithLabelValues(asset).Inc()
	amount, err := strconv.ParseUint(attrs["amount"], 10, 64)
	if err == nil {
		m.tokensSold.WithLabelValues(asset).Add(float64(amount))
	}
	if fee, ferr := strconv.ParseUint(attrs["fee"], 10, 64); ferr == nil && fee > 0 {
		m.fees.WithLabelValues(labelOrUnknown(attrs["paymentAsset"])).Add(float64(fee))
	}

	set := metric.WithAttributes(attribute.String("asset", asset))
	if m.otelPurchases != nil {
		m.otelPurchases.Add(context.Background(), 1, set)
	}
	if m.otelTokens != nil && err == nil && amount <= 1<<63-1 {
		m.otelTokens.Add(context.Background(), int64(amount), set)
	}
}

func labelOrUnknown(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return "unknown"
	}
	return v
}
