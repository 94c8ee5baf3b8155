package order

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Entry 订单簿中的一条记录：订单归属的策略及最近一次已知状态。
type Entry struct {
	Owner     string
	Symbol    string
	ClientID  string
	OrderID   string
	Status    Status
	FilledQty decimal.Decimal
}

// Book 记录 ClientID -> 策略 的归属关系，回报据此路由。
// 下单前登记，确认回执晚于成交回报时也能正确路由。
type Book struct {
	mu       sync.RWMutex
	byClient map[string]*Entry
	byID     map[string]string // venue id -> client id
}

func NewBook() *Book {
	return &Book{
		byClient: make(map[string]*Entry),
		byID:     make(map[string]string),
	}
}

// Register 登记一笔即将发送的订单。
func (b *Book) Register(owner string, o Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	status := o.Status
	if status == "" {
		status = StatusPending
	}
	b.byClient[o.ClientID] = &Entry{
		Owner:     owner,
		Symbol:    o.Symbol,
		ClientID:  o.ClientID,
		OrderID:   o.ID,
		Status:    status,
		FilledQty: o.FilledQty,
	}
	if o.ID != "" {
		b.byID[o.ID] = o.ClientID
	}
}

// Update 用交易所确认的订单刷新记录。
func (b *Book) Update(o Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byClient[o.ClientID]
	if !ok {
		return
	}
	if o.ID != "" {
		e.OrderID = o.ID
		b.byID[o.ID] = o.ClientID
	}
	if !e.Status.IsTerminal() && o.Status != "" {
		e.Status = o.Status
	}
	if o.FilledQty.GreaterThan(e.FilledQty) {
		e.FilledQty = o.FilledQty
	}
}

// Observe 记录回报并返回归属记录；未知订单返回 false。
func (b *Book) Observe(ev FillEvent) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.lookupLocked(ev.ClientID, ev.OrderID)
	if e == nil {
		return Entry{}, false
	}
	if ev.OrderID != "" && e.OrderID == "" {
		e.OrderID = ev.OrderID
		b.byID[ev.OrderID] = e.ClientID
	}
	if !e.Status.IsTerminal() {
		e.Status = ev.Status
	}
	if ev.FilledQty.GreaterThan(e.FilledQty) {
		e.FilledQty = ev.FilledQty
	}
	return *e, true
}

// Get 按 ClientID 或交易所 ID 查询。
func (b *Book) Get(key string) (Entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e := b.lookupLocked(key, key)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Live 返回非终态的记录；symbol 为空时返回全部。
func (b *Book) Live(symbol string) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]Entry, 0)
	for _, e := range b.byClient {
		if e.Status.IsTerminal() {
			continue
		}
		if symbol != "" && e.Symbol != symbol {
			continue
		}
		res = append(res, *e)
	}
	return res
}

// Forget 删除某策略的全部记录（策略被确认移除后）。
func (b *Book) Forget(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for cid, e := range b.byClient {
		if e.Owner != owner {
			continue
		}
		if e.OrderID != "" {
			delete(b.byID, e.OrderID)
		}
		delete(b.byClient, cid)
		n++
	}
	return n
}

// Len 当前记录数。
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byClient)
}

func (b *Book) lookupLocked(clientID, orderID string) *Entry {
	if clientID != "" {
		if e, ok := b.byClient[clientID]; ok {
			return e
		}
	}
	if orderID != "" {
		if cid, ok := b.byID[orderID]; ok {
			return b.byClient[cid]
		}
	}
	return nil
}
