package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal  = "mockexchange_orders_placed_total"
	MetricOrdersSettledTotal = "mockexchange_orders_settled_total"
	MetricOrdersPrunedTotal  = "mockexchange_orders_pruned_total"
	MetricOrdersOpen         = "mockexchange_orders_open"
	MetricFillLatency        = "mockexchange_fill_latency_ms"
	MetricHTTPDuration       = "mockexchange_http_request_duration_ms"
	MetricWSClients          = "mockexchange_ws_clients"
	MetricSanityMismatches   = "mockexchange_sanity_mismatches"
)

// Metrics holds the initialized instruments. Every record helper is nil-safe
// so components can run without telemetry in tests.
type Metrics struct {
	OrdersPlacedTotal  metric.Int64Counter
	OrdersSettledTotal metric.Int64Counter
	OrdersPrunedTotal  metric.Int64Counter
	OrdersOpen         metric.Int64ObservableGauge
	FillLatency        metric.Float64Histogram
	HTTPDuration       metric.Float64Histogram
	WSClients          metric.Int64ObservableGauge
	SanityMismatches   metric.Int64ObservableGauge

	// State for observable gauges
	mu            sync.RWMutex
	openOrdersMap map[string]int64
	wsClients     int64
	mismatches    int64
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
)

// GetMetrics returns the singleton metrics holder
func GetMetrics() *Metrics {
	initOnce.Do(func() {
		globalMetrics = &Metrics{
			openOrdersMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// Init initializes instruments using the meter
func (m *Metrics) Init(meter metric.Meter) error {
	var err error

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed, by side and type"))
	if err != nil {
		return err
	}

	m.OrdersSettledTotal, err = meter.Int64Counter(MetricOrdersSettledTotal, metric.WithDescription("Total orders that reached a terminal status, by status"))
	if err != nil {
		return err
	}

	m.OrdersPrunedTotal, err = meter.Int64Counter(MetricOrdersPrunedTotal, metric.WithDescription("Total terminal orders deleted by the prune loop"))
	if err != nil {
		return err
	}

	m.FillLatency, err = meter.Float64Histogram(MetricFillLatency, metric.WithDescription("Time from order placement to terminal status"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.HTTPDuration, err = meter.Float64Histogram(MetricHTTPDuration, metric.WithDescription("HTTP request duration"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.OrdersOpen, err = meter.Int64ObservableGauge(MetricOrdersOpen, metric.WithDescription("Currently open orders per symbol"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.openOrdersMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.WSClients, err = meter.Int64ObservableGauge(MetricWSClients, metric.WithDescription("Connected websocket clients"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.wsClients)
			return nil
		}))
	if err != nil {
		return err
	}

	m.SanityMismatches, err = meter.Int64ObservableGauge(MetricSanityMismatches, metric.WithDescription("Assets whose used balance disagrees with open-order reservations"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.mismatches)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// RecordOrderPlaced counts one order intake.
func (m *Metrics) RecordOrderPlaced(ctx context.Context, side, typ string) {
	if m == nil || m.OrdersPlacedTotal == nil {
		return
	}
	m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("side", side),
		attribute.String("type", typ),
	))
}

// RecordOrderSettled counts one terminal transition.
func (m *Metrics) RecordOrderSettled(ctx context.Context, status string) {
	if m == nil || m.OrdersSettledTotal == nil {
		return
	}
	m.OrdersSettledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordOrdersPruned counts deleted terminal orders.
func (m *Metrics) RecordOrdersPruned(ctx context.Context, n int) {
	if m == nil || m.OrdersPrunedTotal == nil || n == 0 {
		return
	}
	m.OrdersPrunedTotal.Add(ctx, int64(n))
}

// RecordFillLatency records placement-to-terminal latency in milliseconds.
func (m *Metrics) RecordFillLatency(ctx context.Context, ms float64) {
	if m == nil || m.FillLatency == nil {
		return
	}
	m.FillLatency.Record(ctx, ms)
}

// RecordHTTPRequest records one handled request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, code int, ms float64) {
	if m == nil || m.HTTPDuration == nil {
		return
	}
	m.HTTPDuration.Record(ctx, ms, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("code", code),
	))
}

// SetOpenOrders updates the per-symbol open-order gauge state.
func (m *Metrics) SetOpenOrders(symbol string, count int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrdersMap[symbol] = count
}

// SetWSClients updates the connected-client gauge state.
func (m *Metrics) SetWSClients(count int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wsClients = count
}

// SetSanityMismatches updates the consistency-check gauge state.
func (m *Metrics) SetSanityMismatches(count int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mismatches = count
}
