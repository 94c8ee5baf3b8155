package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化，重新加载并校验后回调。
// 监听所在目录而不是文件本身，编辑器的 rename 写入也能捕获。
type Watcher struct {
	Path     string
	Cooldown time.Duration // 两次回调的最小间隔，合并连续写入
	Logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  *time.Timer
	loadFunc func(string) (AppConfig, error)
}

// NewWatcher 创建监听器；cooldown 为零时取 500ms。
func NewWatcher(path string, cooldown time.Duration, logger *zap.Logger) *Watcher {
	if cooldown <= 0 {
		cooldown = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		Path:     path,
		Cooldown: cooldown,
		Logger:   logger.Named("config.watcher"),
		loadFunc: LoadWithEnvOverrides,
	}
}

// Start 阻塞直到 ctx 结束；onUpdate 只收到通过校验的新配置。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.Path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()
	defer w.stopPending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(abs, onUpdate)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// schedule 在冷却期后重新加载；冷却期内的事件被合并。
func (w *Watcher) schedule(path string, onUpdate func(AppConfig)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.Cooldown, func() {
		cfg, err := w.loadFunc(path)
		if err != nil {
			w.Logger.Error("reload config failed, keeping previous", zap.String("path", path), zap.Error(err))
			return
		}
		w.Logger.Info("config reloaded", zap.String("path", path))
		if onUpdate != nil {
			onUpdate(cfg)
		}
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
}
