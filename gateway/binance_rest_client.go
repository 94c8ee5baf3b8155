package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"algo-exec-go/order"
)

// LatencyObserver 记录 REST 调用耗时（指标）。
type LatencyObserver interface {
	ObserveREST(endpoint string, d time.Duration, err error)
}

// BinanceRESTClient USDT-M 合约 REST 客户端；HTTPClient 可注入 httptest。
// 撤单/查询统一按 origClientOrderId。
type BinanceRESTClient struct {
	BaseURL      string
	APIKey       string
	Secret       string
	HTTPClient   *http.Client
	RecvWindowMs int64
	Limiter      RateLimiter
	Latency      LatencyObserver
}

// apiError Binance 错误体 {"code":-2011,"msg":"Unknown order sent."}。
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Binance 错误码
const (
	codeDisconnected    = -1001
	codeTooManyRequests = -1003
	codeTimeout         = -1007
	codeInvalidSymbol   = -1121
	codeCancelRejected  = -2011
	codeNoSuchOrder     = -2013
)

// orderResp 下单/查询/撤单返回的订单结构。
type orderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	TimeInForce   string `json:"timeInForce"`
	ReduceOnly    bool   `json:"reduceOnly"`
	UpdateTime    int64  `json:"updateTime"`
}

func (r orderResp) toOrder() order.Order {
	o := order.Order{
		ClientID:    r.ClientOrderID,
		Symbol:      r.Symbol,
		Side:        order.Side(r.Side),
		Type:        order.Type(r.Type),
		Quantity:    decOrZero(r.OrigQty),
		Price:       decOrZero(r.Price),
		StopPrice:   decOrZero(r.StopPrice),
		TimeInForce: r.TimeInForce,
		ReduceOnly:  r.ReduceOnly,
		Status:      mapStatus(r.Status),
		FilledQty:   decOrZero(r.ExecutedQty),
		AvgPrice:    decOrZero(r.AvgPrice),
	}
	if r.OrderID != 0 {
		o.ID = formatID(r.OrderID)
	}
	if r.UpdateTime > 0 {
		o.UpdatedAt = time.UnixMilli(r.UpdateTime).UTC()
	}
	return o
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func decOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// mapStatus 交易所订单状态 -> 本地状态。
func mapStatus(s string) order.Status {
	switch s {
	case "NEW", "NEW_INSURANCE", "NEW_ADL":
		return order.StatusNew
	case "PARTIALLY_FILLED":
		return order.StatusPartiallyFilled
	case "FILLED":
		return order.StatusFilled
	case "CANCELED":
		return order.StatusCanceled
	case "REJECTED":
		return order.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return order.StatusExpired
	default:
		return order.Status(s)
	}
}

// PlaceOrder 调用 /fapi/v1/order 下单，返回交易所确认后的订单。
func (c *BinanceRESTClient) PlaceOrder(ctx context.Context, o order.Order) (order.Order, error) {
	params := map[string]string{
		"symbol":           o.Symbol,
		"side":             string(o.Side),
		"type":             string(o.Type),
		"quantity":         o.Quantity.String(),
		"newClientOrderId": o.ClientID,
		"newOrderRespType": "RESULT",
	}
	if o.Type != order.TypeMarket && o.Type != order.TypeStopMarket {
		params["price"] = o.Price.String()
		tif := o.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params["timeInForce"] = tif
	}
	if o.StopPrice.IsPositive() {
		params["stopPrice"] = o.StopPrice.String()
	}
	if o.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	var resp orderResp
	if err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true, &resp); err != nil {
		return o, errors.Wrapf(err, "place %s %s", o.Symbol, o.ClientID)
	}
	placed := resp.toOrder()
	if placed.ClientID == "" {
		placed.ClientID = o.ClientID
	}
	return placed, nil
}

// CancelOrder 按 ClientID 撤单；订单已终态返回 order.ErrOrderNotFound。
func (c *BinanceRESTClient) CancelOrder(ctx context.Context, symbol, clientID string) error {
	params := map[string]string{
		"symbol":            symbol,
		"origClientOrderId": clientID,
	}
	if err := c.do(ctx, http.MethodDelete, "/fapi/v1/order", params, true, nil); err != nil {
		return errors.Wrapf(err, "cancel %s %s", symbol, clientID)
	}
	return nil
}

// QueryOrder 按 ClientID 查询订单。
func (c *BinanceRESTClient) QueryOrder(ctx context.Context, symbol, clientID string) (order.Order, error) {
	params := map[string]string{
		"symbol":            symbol,
		"origClientOrderId": clientID,
	}
	var resp orderResp
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/order", params, true, &resp); err != nil {
		return order.Order{}, errors.Wrapf(err, "query %s %s", symbol, clientID)
	}
	return resp.toOrder(), nil
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol  string                   `json:"symbol"`
		Status  string                   `json:"status"`
		Filters []map[string]interface{} `json:"filters"`
	} `json:"symbols"`
}

// SymbolRules 从 /fapi/v1/exchangeInfo 读取 tick/step/最小名义价值。
func (c *BinanceRESTClient) SymbolRules(ctx context.Context, symbol string) (order.SymbolRules, error) {
	var info exchangeInfo
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, &info); err != nil {
		return order.SymbolRules{}, errors.Wrap(err, "exchangeInfo")
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		if s.Status != "TRADING" {
			return order.SymbolRules{}, errors.Wrapf(order.ErrUnknownSymbol, "%s status %s", symbol, s.Status)
		}
		return parseFilters(symbol, s.Filters), nil
	}
	return order.SymbolRules{}, errors.Wrap(order.ErrUnknownSymbol, symbol)
}

func parseFilters(symbol string, filters []map[string]interface{}) order.SymbolRules {
	rules := order.SymbolRules{Symbol: symbol}
	str := func(f map[string]interface{}, k string) decimal.Decimal {
		if v, ok := f[k].(string); ok {
			return decOrZero(v)
		}
		return decimal.Zero
	}
	for _, f := range filters {
		switch f["filterType"] {
		case "PRICE_FILTER":
			rules.TickSize = str(f, "tickSize")
			rules.MinPrice = str(f, "minPrice")
			rules.MaxPrice = str(f, "maxPrice")
		case "LOT_SIZE":
			rules.StepSize = str(f, "stepSize")
			rules.MinQty = str(f, "minQty")
			rules.MaxQty = str(f, "maxQty")
		case "MIN_NOTIONAL":
			rules.MinNotional = str(f, "notional")
		}
	}
	return rules
}

// LastPrice 最新成交价（/fapi/v1/ticker/price）。
func (c *BinanceRESTClient) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/price", map[string]string{"symbol": symbol}, false, &resp); err != nil {
		return decimal.Zero, errors.Wrapf(err, "ticker %s", symbol)
	}
	px, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "ticker %s price %q", symbol, resp.Price)
	}
	return px, nil
}

// do 发送请求并把 Binance 错误映射到订单错误分类。
func (c *BinanceRESTClient) do(ctx context.Context, method, path string, params map[string]string, signed bool, out interface{}) (err error) {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if params == nil {
		params = map[string]string{}
	}
	var query string
	if signed {
		if c.RecvWindowMs > 0 {
			params["recvWindow"] = strconv.FormatInt(c.RecvWindowMs, 10)
		}
		q, sig := SignParams(params, c.Secret)
		query = q + "&signature=" + url.QueryEscape(sig)
	} else {
		vals := url.Values{}
		for k, v := range params {
			vals.Set(k, v)
		}
		query = vals.Encode()
	}
	endpoint := c.BaseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	if c.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
	}

	start := time.Now()
	defer func() {
		if c.Latency != nil {
			c.Latency.ObserveREST(method+" "+path, time.Since(start), err)
		}
	}()

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &order.TransientError{Op: path, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &order.TransientError{Op: path, Err: err}
	}
	if resp.StatusCode >= 300 {
		return classify(path, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	return nil
}

// classify HTTP 状态码与 Binance code -> 错误分类。
func classify(path string, status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := strings.TrimSpace(ae.Msg)
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	switch {
	case ae.Code == codeCancelRejected || ae.Code == codeNoSuchOrder:
		return errors.Wrap(order.ErrOrderNotFound, msg)
	case ae.Code == codeInvalidSymbol:
		return errors.Wrap(order.ErrUnknownSymbol, msg)
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusTeapot,
		ae.Code == codeDisconnected, ae.Code == codeTooManyRequests, ae.Code == codeTimeout:
		return &order.TransientError{Op: path, Err: fmt.Errorf("status %d code %d: %s", status, ae.Code, msg)}
	default:
		return &order.RejectedError{Code: ae.Code, Reason: msg}
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
