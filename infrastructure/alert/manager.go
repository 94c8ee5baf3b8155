package alert

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const queueSize = 256

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Key       string                 // 限流键，为空时使用 Level:Message
	Message   string                 // 告警消息
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段
}

func (a Alert) throttleKey() string {
	if a.Key != "" {
		return a.Key
	}
	return fmt.Sprintf("%s:%s", a.Level, a.Message)
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器。SendAlert 同步发送；Enqueue 入队后由 Run 异步发送。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex

	queue   chan Alert
	dropped atomic.Int64
}

// Throttler 告警限流器：同一 key 在 interval 内只放行一次。
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	lastTime, exists := t.lastSent[key]
	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		queue:    make(chan Alert, queueSize),
	}
}

// Enqueue 非阻塞入队，队列满时丢弃并返回 false。
func (m *Manager) Enqueue(alert Alert) bool {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	select {
	case m.queue <- alert:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// Dropped 因队列满被丢弃的告警数
func (m *Manager) Dropped() int64 {
	return m.dropped.Load()
}

// Run 消费队列直到 ctx 结束；退出前发送已入队的告警。
func (m *Manager) Run(ctx context.Context, onErr func(Alert, error)) {
	send := func(a Alert) {
		if err := m.SendAlert(a); err != nil && onErr != nil {
			onErr(a, err)
		}
	}
	for {
		select {
		case a := <-m.queue:
			send(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-m.queue:
					send(a)
				default:
					return
				}
			}
		}
	}
}

// SendAlert 发送告警；被限流时静默丢弃。只有全部通道失败才返回错误。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if !m.throttle.Allow(alert.throttleKey()) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}
	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels 获取所有通道
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
