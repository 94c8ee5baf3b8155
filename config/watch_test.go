package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcherStopsOnContext(t *testing.T) {
	path := writeTempConfig(t, paperYAML)
	w := NewWatcher(path, 10*time.Millisecond, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Start(ctx, nil), context.Canceled)
}

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, paperYAML)
	w := NewWatcher(path, 20*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan AppConfig, 4)
	go func() { _ = w.Start(ctx, func(c AppConfig) { updates <- c }) }()

	// 等待 watcher 注册目录后再写入
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.watcher != nil
	}, time.Second, 5*time.Millisecond)

	changed := strings.Replace(paperYAML, "maxSliceAttempts: 5", "maxSliceAttempts: 7", 1)
	require.NoError(t, os.WriteFile(path, []byte(changed), 0o644))

	select {
	case c := <-updates:
		assert.Equal(t, 7, c.Engine.TWAP.MaxSliceAttempts)
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherKeepsPreviousOnInvalid(t *testing.T) {
	path := writeTempConfig(t, paperYAML)
	w := NewWatcher(path, 20*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan AppConfig, 4)
	go func() { _ = w.Start(ctx, func(c AppConfig) { updates <- c }) }()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.watcher != nil
	}, time.Second, 5*time.Millisecond)

	bad := strings.Replace(paperYAML, "rearmOffset: 1", "rearmOffset: 9", 1)
	require.NoError(t, os.WriteFile(path, []byte(bad), 0o644))

	select {
	case <-updates:
		t.Fatalf("invalid config must not be delivered")
	case <-time.After(300 * time.Millisecond):
	}
}
