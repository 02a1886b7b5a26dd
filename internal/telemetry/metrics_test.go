package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m := &Metrics{openOrdersMap: make(map[string]int64)}
	require.NoError(t, m.Init(mp.Meter("test")))
	return m, reader
}

func collectNames(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := make(map[string]bool)
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			names[metric.Name] = true
		}
	}
	return names
}

func TestInitRegistersAllInstruments(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOrderPlaced(ctx, "buy", "market")
	m.RecordOrderSettled(ctx, "filled")
	m.RecordOrdersPruned(ctx, 3)
	m.RecordFillLatency(ctx, 12.5)
	m.RecordHTTPRequest(ctx, "GET", "/orders", 200, 1.2)
	m.SetOpenOrders("BTC/USDT", 4)
	m.SetWSClients(2)
	m.SetSanityMismatches(1)

	names := collectNames(t, reader)
	for _, want := range []string{
		MetricOrdersPlacedTotal,
		MetricOrdersSettledTotal,
		MetricOrdersPrunedTotal,
		MetricOrdersOpen,
		MetricFillLatency,
		MetricHTTPDuration,
		MetricWSClients,
		MetricSanityMismatches,
	} {
		assert.True(t, names[want], "missing instrument %s", want)
	}
}

func TestPrunedCounterSkipsZero(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordOrdersPruned(context.Background(), 0)
	names := collectNames(t, reader)
	assert.False(t, names[MetricOrdersPrunedTotal])
}

func TestOpenOrdersGaugeTracksLatestValue(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.SetOpenOrders("BTC/USDT", 7)
	m.SetOpenOrders("BTC/USDT", 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != MetricOrdersOpen {
				continue
			}
			gauge, ok := metric.Data.(metricdata.Gauge[int64])
			require.True(t, ok)
			require.Len(t, gauge.DataPoints, 1)
			assert.Equal(t, int64(2), gauge.DataPoints[0].Value)
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecordersAreNilSafe(t *testing.T) {
	ctx := context.Background()

	var nilMetrics *Metrics
	uninit := &Metrics{openOrdersMap: make(map[string]int64)}

	for _, m := range []*Metrics{nilMetrics, uninit} {
		m.RecordOrderPlaced(ctx, "buy", "market")
		m.RecordOrderSettled(ctx, "filled")
		m.RecordOrdersPruned(ctx, 1)
		m.RecordFillLatency(ctx, 1)
		m.RecordHTTPRequest(ctx, "GET", "/", 200, 1)
		m.SetWSClients(1)
		m.SetSanityMismatches(0)
	}
	nilMetrics.SetOpenOrders("BTC/USDT", 1)
	uninit.SetOpenOrders("BTC/USDT", 1)
	assert.Equal(t, int64(1), uninit.openOrdersMap["BTC/USDT"])
}
