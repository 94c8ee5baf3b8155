package gateway

import (
	"encoding/json"
	"errors"
	"time"

	"algo-exec-go/order"
)

// ErrNonUserData 消息不是用户数据事件（例如订阅回执）。
var ErrNonUserData = errors.New("not a user data event")

// CombinedMessage 对应 binance combined stream 包装。
type CombinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// OrderUpdate ORDER_TRADE_UPDATE 中的订单字段。
type OrderUpdate struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	Type          string `json:"o"`
	TimeInForce   string `json:"f"`
	OrigQty       string `json:"q"`
	Price         string `json:"p"`
	AvgPrice      string `json:"ap"`
	StopPrice     string `json:"sp"`
	ExecType      string `json:"x"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	LastFilledQty string `json:"l"`
	CumFilledQty  string `json:"z"`
	LastPrice     string `json:"L"`
	TradeTime     int64  `json:"T"`
}

// UserDataEvent 用户数据流事件。
type UserDataEvent struct {
	EventType string       `json:"e"`
	EventTime int64        `json:"E"`
	Order     *OrderUpdate `json:"o,omitempty"`
}

// ParseUserData 解析用户数据流消息；兼容 combined 包装。
func ParseUserData(raw []byte) (UserDataEvent, error) {
	var ev UserDataEvent
	var wrapped CombinedMessage
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, err
	}
	if ev.EventType == "" {
		return ev, ErrNonUserData
	}
	return ev, nil
}

// FillEvent 转换为累计成交语义的回报。
func (u OrderUpdate) FillEvent() order.FillEvent {
	ev := order.FillEvent{
		Symbol:    u.Symbol,
		ClientID:  u.ClientOrderID,
		Status:    mapStatus(u.Status),
		FilledQty: decOrZero(u.CumFilledQty),
		AvgPrice:  decOrZero(u.AvgPrice),
	}
	if u.OrderID != 0 {
		ev.OrderID = formatID(u.OrderID)
	}
	if u.TradeTime > 0 {
		ev.Time = time.UnixMilli(u.TradeTime).UTC()
	}
	return ev
}
