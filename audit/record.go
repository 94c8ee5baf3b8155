// Package audit 记录策略状态机的每一次迁移，足以事后重建执行历史。
package audit

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Event 审计事件名，与 monitor/logschema 中的 schema 对应。
type Event string

const (
	EventStrategyCreated Event = "strategy_created"
	EventStrategyStatus  Event = "strategy_status"
	EventOrderPlaced     Event = "order_placed"
	EventOrderRejected   Event = "order_rejected"
	EventOrderUpdate     Event = "order_update"
	EventOrderCanceled   Event = "order_canceled"
	EventGridRearm       Event = "grid_rearm"
	EventSliceRetry      Event = "slice_retry"
	EventPriceDeviation  Event = "price_deviation"
	EventInconsistency   Event = "inconsistency"
)

// Record 一条迁移记录。数值字段以字符串保存以保持 decimal 精度。
type Record struct {
	Time       time.Time `json:"ts"`
	Event      Event     `json:"event"`
	StrategyID string    `json:"strategyId,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Symbol     string    `json:"symbol,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	ClientID   string    `json:"clientOrderId,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	Side       string    `json:"side,omitempty"`
	Type       string    `json:"type,omitempty"`
	Status     string    `json:"status,omitempty"`
	Price      string    `json:"price,omitempty"`
	Qty        string    `json:"qty,omitempty"`
	FilledQty  string    `json:"filledQty,omitempty"`
	AvgPrice   string    `json:"avgPrice,omitempty"`
	Level      *int      `json:"level,omitempty"`
	Slice      *int      `json:"slice,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Deviation  string    `json:"deviation,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Recorder 接收迁移记录。实现不得阻塞调用方。
type Recorder interface {
	Record(r Record)
}

// Fields 以 map 形式返回非空字段（用于 schema 校验与结构化日志）。
func (r Record) Fields() map[string]interface{} {
	f := make(map[string]interface{}, 16)
	put := func(k, v string) {
		if v != "" {
			f[k] = v
		}
	}
	put("strategyId", r.StrategyID)
	put("kind", r.Kind)
	put("symbol", r.Symbol)
	put("from", r.From)
	put("to", r.To)
	put("clientOrderId", r.ClientID)
	put("orderId", r.OrderID)
	put("side", r.Side)
	put("type", r.Type)
	put("status", r.Status)
	put("price", r.Price)
	put("qty", r.Qty)
	put("filledQty", r.FilledQty)
	put("avgPrice", r.AvgPrice)
	put("deviation", r.Deviation)
	put("reason", r.Reason)
	if r.Level != nil {
		f["level"] = strconv.Itoa(*r.Level)
	}
	if r.Slice != nil {
		f["slice"] = strconv.Itoa(*r.Slice)
	}
	if r.Attempt > 0 {
		f["attempt"] = strconv.Itoa(r.Attempt)
	}
	return f
}

// Marshal JSON 编码（NATS 发布使用）。
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Int 便于构造 Level/Slice 指针。
func Int(v int) *int { return &v }

// Nop 丢弃所有记录。
type Nop struct{}

func (Nop) Record(Record) {}

// Multi 依次转发给多个 Recorder。
type Multi []Recorder

func (m Multi) Record(r Record) {
	for _, rec := range m {
		if rec != nil {
			rec.Record(r)
		}
	}
}

// Memory 内存记录器，测试和状态回放使用。
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(r Record) {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
}

// Records 返回拷贝。
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// ByStrategy 过滤某策略的记录。
func (m *Memory) ByStrategy(id string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if r.StrategyID == id {
			out = append(out, r)
		}
	}
	return out
}

// Count 统计某事件出现次数（strategyID 为空时不过滤）。
func (m *Memory) Count(strategyID string, ev Event) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Event == ev && (strategyID == "" || r.StrategyID == strategyID) {
			n++
		}
	}
	return n
}
