package container

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/config"
	"algo-exec-go/infrastructure/alert"
	"algo-exec-go/order"
	"algo-exec-go/strategy"
)

const paperYAML = `
env: test
gateway:
  mode: paper
log:
  level: error
engine:
  twap:
    maxSliceAttempts: 3
  submit:
    maxRetries: 1
    baseBackoff: 1ms
    maxBackoff: 1ms
  reconcileInterval: 1h
symbols:
  BTCUSDT:
    tickSize: 0.1
    stepSize: 0.001
    minQty: 0.001
    maxQty: 100
    minNotional: 5
    price: 50000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func startContainer(t *testing.T, path string) *Container {
	t.Helper()
	c, err := New(path)
	require.NoError(t, err)
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestContainerPaperOCO(t *testing.T) {
	c := startContainer(t, writeConfig(t, paperYAML))
	require.NoError(t, c.HealthCheck())
	require.NotNil(t, c.Paper())

	eng := c.Engine()
	id, err := eng.StartOCO(context.Background(), strategy.OCOParams{
		Symbol:          "BTCUSDT",
		Side:            order.SideSell,
		Quantity:        dec("0.01"),
		TakeProfitPrice: dec("51000"),
		StopPrice:       dec("49000"),
	})
	require.NoError(t, err)

	v, err := eng.Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusActive, v.Status)
	require.NoError(t, c.Paper().FillAll(v.OCO.TakeProfit.ClientID))

	require.Eventually(t, func() bool {
		v, _ = eng.Status(id)
		return v.Status == strategy.StatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, c.Paper().Live("BTCUSDT"))
}

func TestContainerPaperTWAPMarket(t *testing.T) {
	c := startContainer(t, writeConfig(t, paperYAML))
	eng := c.Engine()

	id, err := eng.StartTWAP(context.Background(), strategy.TWAPParams{
		Symbol:        "BTCUSDT",
		Side:          order.SideBuy,
		TotalQuantity: dec("0.003"),
		SliceCount:    3,
		Interval:      10 * time.Millisecond,
		SliceTimeout:  time.Second,
	})
	require.NoError(t, err)

	var v strategy.View
	require.Eventually(t, func() bool {
		v, _ = eng.Status(id)
		return v.Status == strategy.StatusCompleted
	}, 3*time.Second, 5*time.Millisecond)
	assert.True(t, v.FilledQty.Equal(dec("0.003")))
	assert.True(t, v.TWAP.AvgPrice.Equal(dec("50000")))
}

func TestContainerRiskLimitFailsTWAPAndAlerts(t *testing.T) {
	yaml := strings.Replace(paperYAML, "    price: 50000\n", "    price: 50000\n    maxOrderQty: 0.002\n", 1)
	c := startContainer(t, writeConfig(t, yaml))
	mock := alert.NewMockChannel("mock")
	c.Alerts().AddChannel(mock)

	id, err := c.Engine().StartTWAP(context.Background(), strategy.TWAPParams{
		Symbol:        "BTCUSDT",
		Side:          order.SideBuy,
		TotalQuantity: dec("0.009"),
		SliceCount:    3,
		Interval:      10 * time.Millisecond,
		SliceTimeout:  time.Second,
	})
	require.NoError(t, err)

	var v strategy.View
	require.Eventually(t, func() bool {
		v, _ = c.Engine().Status(id)
		return v.Status == strategy.StatusFailed
	}, 3*time.Second, 5*time.Millisecond)
	assert.Contains(t, v.Reason, "single order exceed")
	placed, _, _ := c.Paper().Counts()
	assert.Zero(t, placed, "rejected locally before reaching the venue")

	require.Eventually(t, func() bool { return mock.Count() == 1 }, time.Second, 5*time.Millisecond)
	got := mock.GetAlerts()[0]
	assert.Equal(t, alert.LevelError, got.Level)
	assert.Equal(t, id, got.Fields["strategy_id"])
}

func TestContainerStopCancelsStrategies(t *testing.T) {
	c, err := New(writeConfig(t, paperYAML))
	require.NoError(t, err)
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))

	id, err := c.Engine().StartGrid(context.Background(), strategy.GridParams{
		Symbol:           "BTCUSDT",
		LowerPrice:       dec("49000"),
		UpperPrice:       dec("51000"),
		Levels:           5,
		QuantityPerLevel: dec("0.001"),
	})
	require.NoError(t, err)
	assert.Len(t, c.Paper().Live("BTCUSDT"), 4)

	require.NoError(t, c.Stop())
	v, err := c.Engine().Status(id)
	require.NoError(t, err)
	assert.Equal(t, strategy.StatusCancelled, v.Status)
	assert.Empty(t, c.Paper().Live("BTCUSDT"))
	assert.Error(t, c.HealthCheck())
}

func TestContainerReloadsEngineDefaults(t *testing.T) {
	path := writeConfig(t, paperYAML)
	c := startContainer(t, path)
	require.Equal(t, 3, c.Engine().Defaults().TWAP.MaxSliceAttempts)

	// 等 watcher 开始监听后再改文件
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(paperYAML, "maxSliceAttempts: 3", "maxSliceAttempts: 7", 1)
	updated = strings.Replace(updated, "level: error", "level: warn", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return c.Engine().Defaults().TWAP.MaxSliceAttempts == 7
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "warn", c.Logger().Level())
}

func TestContainerRejectsUnknownMode(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Mode = "ftx"
	c := NewWithConfig(cfg, "")
	err := c.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown gateway mode")
}

func TestSymbolRulesFromConfig(t *testing.T) {
	r := symbolRules("ethusdt", config.SymbolConfig{TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5})
	assert.Equal(t, "ETHUSDT", r.Symbol)
	assert.True(t, r.TickSize.Equal(dec("0.01")))
	assert.True(t, r.StepSize.Equal(dec("0.001")))
	assert.True(t, r.MinNotional.Equal(dec("5")))
	assert.NoError(t, r.Validate(dec("2000.01"), dec("0.01")))
}
