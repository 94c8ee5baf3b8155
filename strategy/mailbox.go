package strategy

import (
	"sync"

	"algo-exec-go/order"
)

// mailbox 无界回报队列：投递永不阻塞，消费者在 ready 上等待。
type mailbox struct {
	mu    sync.Mutex
	items []order.FillEvent
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev order.FillEvent) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// drain 取出当前全部事件。
func (m *mailbox) drain() []order.FillEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) == 0 {
		return nil
	}
	out := m.items
	m.items = nil
	return out
}
