package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"level":"info","ts":"2026-01-02T10:00:00.000Z","logger":"audit","msg":"strategy_event","event":"strategy_created","strategyId":"g1","kind":"grid","symbol":"BTCUSDT","to":"PENDING"}
not json at all
{"level":"info","ts":"2026-01-02T10:00:01.000Z","msg":"strategy_event","event":"order_placed","strategyId":"g1","kind":"grid","symbol":"BTCUSDT","clientOrderId":"c1","side":"BUY","filledQty":"0"}
{"level":"info","ts":"2026-01-02T10:00:02.000Z","msg":"strategy_event","event":"order_update","strategyId":"g1","kind":"grid","symbol":"BTCUSDT","clientOrderId":"c1","side":"BUY","status":"PARTIALLY_FILLED","filledQty":"0.05","avgPrice":"100"}
{"level":"info","ts":"2026-01-02T10:00:03.000Z","msg":"strategy_event","event":"order_update","strategyId":"g1","kind":"grid","symbol":"BTCUSDT","clientOrderId":"c1","side":"BUY","status":"FILLED","filledQty":"0.1","avgPrice":"100"}
{"level":"info","ts":"2026-01-02T10:00:04.000Z","msg":"strategy_event","event":"grid_rearm","strategyId":"g1","kind":"grid","symbol":"BTCUSDT"}
{"level":"info","ts":"2026-01-02T10:00:05.000Z","msg":"strategy_event","event":"order_update","strategyId":"g1","kind":"grid","symbol":"BTCUSDT","clientOrderId":"c2","side":"SELL","status":"FILLED","filledQty":"0.1","avgPrice":"105"}
{"level":"info","ts":"2026-01-02T10:00:06.000Z","msg":"strategy_event","event":"strategy_status","strategyId":"g1","kind":"grid","symbol":"BTCUSDT","from":"ACTIVE","to":"CANCELLED","reason":"engine stopped"}
{"level":"warn","ts":"2026-01-02T11:00:00.000Z","msg":"strategy_event","event":"order_rejected","strategyId":"t1","kind":"twap","symbol":"ETHUSDT","reason":"single order exceed"}
`

func TestSummarizeAggregatesByStrategy(t *testing.T) {
	sums, err := summarize(strings.NewReader(sampleLog), filter{})
	require.NoError(t, err)
	require.Len(t, sums, 2)

	g := sums["g1"]
	assert.Equal(t, "grid", g.kind)
	assert.Equal(t, "CANCELLED", g.status)
	assert.Equal(t, "engine stopped", g.reason)
	assert.Equal(t, 1, g.placed)
	assert.Equal(t, 1, g.rearms)

	bq, bn := g.notional("BUY")
	assert.Equal(t, "0.1", bq.String(), "cumulative fill counted once")
	assert.Equal(t, "10", bn.String())
	_, sn := g.notional("SELL")
	assert.Equal(t, "10.5", sn.String())

	assert.Equal(t, 1, sums["t1"].rejected)
}

func TestSummarizeFilters(t *testing.T) {
	sums, err := summarize(strings.NewReader(sampleLog), filter{symbol: "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Contains(t, sums, "t1")

	since := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)
	sums, err = summarize(strings.NewReader(sampleLog), filter{since: since})
	require.NoError(t, err)
	assert.NotContains(t, sums, "g1")

	sums, err = summarize(strings.NewReader(sampleLog), filter{strategy: "g1"})
	require.NoError(t, err)
	assert.Len(t, sums, 1)
}

func TestReportOrdersByFirstSeen(t *testing.T) {
	sums, err := summarize(strings.NewReader(sampleLog), filter{})
	require.NoError(t, err)
	var buf bytes.Buffer
	report(&buf, sums)
	out := buf.String()
	assert.Less(t, strings.Index(out, "g1"), strings.Index(out, "t1"))
	assert.Contains(t, out, "净差额 0.5000")
}
