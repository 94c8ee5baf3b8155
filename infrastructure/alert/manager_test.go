package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"algo-exec-go/audit"
)

func TestSendAlert(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 5*time.Minute)

	require.NoError(t, mgr.SendAlert(Alert{
		Level:   LevelInfo,
		Message: "test message",
		Fields:  map[string]interface{}{"key": "value"},
	}))
	require.Equal(t, 1, mock.Count())

	got := mock.GetAlerts()[0]
	assert.Equal(t, LevelInfo, got.Level)
	assert.Equal(t, "value", got.Fields["key"])
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, []string{"mock"}, mgr.GetChannels())
}

func TestThrottleByKey(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)

	a := Alert{Level: LevelWarning, Key: "k1", Message: "first"}
	require.NoError(t, mgr.SendAlert(a))
	a.Message = "second"
	require.NoError(t, mgr.SendAlert(a))
	assert.Equal(t, 1, mock.Count(), "same key throttled")

	require.NoError(t, mgr.SendAlert(Alert{Level: LevelWarning, Key: "k2", Message: "other"}))
	assert.Equal(t, 2, mock.Count())

	mgr.ResetThrottle()
	require.NoError(t, mgr.SendAlert(a))
	assert.Equal(t, 3, mock.Count())
}

func TestThrottlerWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	th := NewThrottler(time.Minute)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("a"))
	now = now.Add(59 * time.Second)
	assert.False(t, th.Allow("a"))
	now = now.Add(time.Second)
	assert.True(t, th.Allow("a"))
}

func TestAllChannelsFail(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	mgr := NewManager([]Channel{bad}, 0)
	err := mgr.SendAlert(Alert{Level: LevelError, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel bad failed")

	good := NewMockChannel("good")
	mgr.AddChannel(good)
	require.NoError(t, mgr.SendAlert(Alert{Level: LevelError, Message: "y"}))
	assert.Equal(t, 1, good.Count())
}

func TestLogChannelLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ch := NewLogChannel("log", zap.New(core))

	require.NoError(t, ch.Send(Alert{Level: LevelWarning, Message: "warn", Fields: map[string]interface{}{"symbol": "BTCUSDT"}}))
	require.NoError(t, ch.Send(Alert{Level: LevelCritical, Message: "crit"}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "BTCUSDT", entries[0].ContextMap()["symbol"])
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
}

// drain 在已取消的 ctx 上运行 Run，同步发送所有已入队告警。
func drain(mgr *Manager) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	mgr.Run(ctx, nil)
}

func TestRecorderFiltersEvents(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, time.Hour)
	rec := NewRecorder(mgr, nil)

	rec.Record(audit.Record{Event: audit.EventOrderPlaced, StrategyID: "s1"})
	rec.Record(audit.Record{Event: audit.EventStrategyStatus, StrategyID: "s1", From: "PENDING", To: "ACTIVE"})
	rec.Record(audit.Record{Event: audit.EventStrategyStatus, StrategyID: "s1", Kind: "oco", To: "FAILED", Reason: "rejected"})
	rec.Record(audit.Record{Event: audit.EventInconsistency, Symbol: "BTCUSDT", ClientID: "c1", Reason: "order not tracked"})
	rec.Record(audit.Record{Event: audit.EventPriceDeviation, StrategyID: "s2", Symbol: "BTCUSDT"})
	// 同一策略的第二次偏离在限流窗口内
	rec.Record(audit.Record{Event: audit.EventPriceDeviation, StrategyID: "s2", Symbol: "BTCUSDT"})
	drain(mgr)

	got := mock.GetAlerts()
	require.Len(t, got, 3)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Equal(t, "rejected", got[0].Fields["reason"])
	assert.Equal(t, LevelWarning, got[1].Level)
	assert.Equal(t, "c1", got[1].Fields["client_id"])
	assert.Equal(t, LevelWarning, got[2].Level)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 0)
	for i := 0; i < queueSize; i++ {
		require.True(t, mgr.Enqueue(Alert{Level: LevelInfo, Message: "m"}))
	}
	assert.False(t, mgr.Enqueue(Alert{Level: LevelInfo, Message: "overflow"}))
	assert.Equal(t, int64(1), mgr.Dropped())

	drain(mgr)
	assert.Equal(t, queueSize, mock.Count())
}

func TestRunReportsChannelErrors(t *testing.T) {
	bad := NewMockChannel("bad")
	bad.SetShouldError(true)
	mgr := NewManager([]Channel{bad}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		mgr.Run(ctx, func(_ Alert, err error) { errs <- err })
	}()
	require.True(t, mgr.Enqueue(Alert{Level: LevelError, Message: "x"}))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "channel bad failed")
	case <-time.After(2 * time.Second):
		t.Fatal("error callback not invoked")
	}
	cancel()
	<-done
}

func TestMockChannelConcurrent(t *testing.T) {
	mock := NewMockChannel("mock")
	mgr := NewManager([]Channel{mock}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = mgr.SendAlert(Alert{Level: LevelInfo, Message: "m"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, mock.Count())
}
