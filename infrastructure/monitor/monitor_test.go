package monitor

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

func TestStrategyLifecycleMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.Record(audit.Record{Event: audit.EventStrategyCreated, Kind: "oco", Symbol: "BTCUSDT"})
	m.Record(audit.Record{Event: audit.EventStrategyCreated, Kind: "oco", Symbol: "BTCUSDT"})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeStrategies.WithLabelValues("oco")))

	m.Record(audit.Record{Event: audit.EventStrategyStatus, Kind: "oco", From: "PENDING", To: "ACTIVE"})
	m.Record(audit.Record{Event: audit.EventStrategyStatus, Kind: "oco", From: "ACTIVE", To: "COMPLETED"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeStrategies.WithLabelValues("oco")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategiesTerminal.WithLabelValues("oco", "COMPLETED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.strategiesStarted.WithLabelValues("oco")))
}

func TestEventCounters(t *testing.T) {
	m := New(DefaultConfig())
	m.Record(audit.Record{Event: audit.EventOrderUpdate, Symbol: "BTCUSDT", Status: "PARTIALLY_FILLED"})
	m.Record(audit.Record{Event: audit.EventOrderUpdate, Symbol: "BTCUSDT", Status: "FILLED"})
	m.Record(audit.Record{Event: audit.EventGridRearm, Symbol: "BTCUSDT"})
	m.Record(audit.Record{Event: audit.EventSliceRetry, Symbol: "BTCUSDT"})
	m.Record(audit.Record{Event: audit.EventInconsistency})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersFilled.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.gridRearms.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sliceRetries.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inconsistencies))
}

func TestObserverAndHandler(t *testing.T) {
	m := New(DefaultConfig())
	var obs order.Observer = m
	obs.OrderPlaced("BTCUSDT", order.TypeLimit)
	obs.OrderRejected("BTCUSDT", "venue")
	obs.OrderCanceled("BTCUSDT")
	obs.SubmitRetry("place")
	m.ObserveREST("POST /fapi/v1/order", 20*time.Millisecond, nil)
	m.ObserveREST("POST /fapi/v1/order", 20*time.Millisecond, errors.New("x"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersPlaced.WithLabelValues("BTCUSDT", "LIMIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.restErrors.WithLabelValues("POST /fapi/v1/order")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "algo_exec_orders_placed_total"))
	assert.True(t, strings.Contains(string(body), "algo_exec_rest_latency_seconds_count"))
}
