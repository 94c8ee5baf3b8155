package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"algo-exec-go/order"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *BinanceRESTClient {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &BinanceRESTClient{
		BaseURL:    ts.URL,
		APIKey:     "key",
		Secret:     "secret",
		HTTPClient: ts.Client(),
	}
}

func TestBinanceRESTClientPlaceCancel(t *testing.T) {
	timeNowMillis = func() int64 { return 1234567890000 } // deterministic
	defer func() { timeNowMillis = func() int64 { return time.Now().UnixMilli() } }()

	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.Contains(t, r.URL.RawQuery, "signature=")
		assert.Contains(t, r.URL.RawQuery, "timestamp=1234567890000")
		switch r.Method {
		case http.MethodPost:
			q := r.URL.Query()
			assert.Equal(t, "LIMIT", q.Get("type"))
			assert.Equal(t, "GTC", q.Get("timeInForce"))
			assert.Equal(t, "true", q.Get("reduceOnly"))
			assert.Equal(t, "cid-1", q.Get("newClientOrderId"))
			io.WriteString(w, `{"orderId":1001,"clientOrderId":"cid-1","symbol":"BTCUSDT","status":"NEW","side":"SELL","type":"LIMIT","origQty":"0.010","executedQty":"0","avgPrice":"0.00","price":"110.0"}`)
		case http.MethodDelete:
			assert.Equal(t, "cid-1", r.URL.Query().Get("origClientOrderId"))
			io.WriteString(w, `{"orderId":1001,"status":"CANCELED"}`)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	placed, err := cli.PlaceOrder(context.Background(), order.Order{
		ClientID:   "cid-1",
		Symbol:     "BTCUSDT",
		Side:       order.SideSell,
		Type:       order.TypeLimit,
		Quantity:   decimal.RequireFromString("0.010"),
		Price:      decimal.RequireFromString("110"),
		ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", placed.ID)
	assert.Equal(t, order.StatusNew, placed.Status)
	assert.True(t, placed.Quantity.Equal(decimal.RequireFromString("0.01")))

	require.NoError(t, cli.CancelOrder(context.Background(), "BTCUSDT", "cid-1"))
}

func TestBinanceRESTClientStopMarketOmitsPrice(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "STOP_MARKET", q.Get("type"))
		assert.Empty(t, q.Get("price"))
		assert.Empty(t, q.Get("timeInForce"))
		assert.Equal(t, "90", q.Get("stopPrice"))
		io.WriteString(w, `{"orderId":7,"clientOrderId":"sl","status":"NEW"}`)
	})
	_, err := cli.PlaceOrder(context.Background(), order.Order{
		ClientID:  "sl",
		Symbol:    "BTCUSDT",
		Side:      order.SideSell,
		Type:      order.TypeStopMarket,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(90),
	})
	require.NoError(t, err)
}

func TestBinanceRESTClientErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unknown order", 400, `{"code":-2011,"msg":"Unknown order sent."}`, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, order.ErrOrderNotFound))
		}},
		{"invalid symbol", 400, `{"code":-1121,"msg":"Invalid symbol."}`, func(t *testing.T, err error) {
			assert.True(t, errors.Is(err, order.ErrUnknownSymbol))
		}},
		{"rate limited", 429, `{"code":-1003,"msg":"Too many requests"}`, func(t *testing.T, err error) {
			assert.True(t, order.IsTransient(err))
		}},
		{"server error", 502, `bad gateway`, func(t *testing.T, err error) {
			assert.True(t, order.IsTransient(err))
		}},
		{"margin", 400, `{"code":-2019,"msg":"Margin is insufficient."}`, func(t *testing.T, err error) {
			require.True(t, order.IsRejected(err))
			var re *order.RejectedError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, -2019, re.Code)
			assert.Equal(t, "Margin is insufficient.", order.RejectReason(err))
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			})
			err := cli.CancelOrder(context.Background(), "BTCUSDT", "x")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestBinanceRESTClientNetworkErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()
	cli := &BinanceRESTClient{BaseURL: url, HTTPClient: &http.Client{Timeout: time.Second}}
	_, err := cli.QueryOrder(context.Background(), "BTCUSDT", "x")
	require.Error(t, err)
	assert.True(t, order.IsTransient(err))
}

func TestBinanceRESTClientSymbolRules(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/exchangeInfo", r.URL.Path)
		assert.NotContains(t, r.URL.RawQuery, "signature")
		io.WriteString(w, `{"symbols":[
			{"symbol":"ETHUSDT","status":"TRADING","filters":[]},
			{"symbol":"BTCUSDT","status":"TRADING","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"556.80","maxPrice":"4529764","tickSize":"0.10"},
				{"filterType":"LOT_SIZE","minQty":"0.001","maxQty":"1000","stepSize":"0.001"},
				{"filterType":"MIN_NOTIONAL","notional":"100"}]},
			{"symbol":"OLDUSDT","status":"SETTLING","filters":[]}]}`)
	})
	rules, err := cli.SymbolRules(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "0.1", rules.TickSize.String())
	assert.Equal(t, "0.001", rules.StepSize.String())
	assert.Equal(t, "100", rules.MinNotional.String())
	assert.Equal(t, "0.001", rules.MinQty.String())

	_, err = cli.SymbolRules(context.Background(), "OLDUSDT")
	assert.True(t, errors.Is(err, order.ErrUnknownSymbol))
	_, err = cli.SymbolRules(context.Background(), "NOPE")
	assert.True(t, errors.Is(err, order.ErrUnknownSymbol))
}

func TestBinanceRESTClientQueryAndPrice(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fapi/v1/order":
			io.WriteString(w, `{"orderId":55,"clientOrderId":"c","symbol":"BTCUSDT","status":"PARTIALLY_FILLED","origQty":"3","executedQty":"1","avgPrice":"101.5","updateTime":1700000000000}`)
		case "/fapi/v1/ticker/price":
			io.WriteString(w, `{"symbol":"BTCUSDT","price":"101.25"}`)
		}
	})
	o, err := cli.QueryOrder(context.Background(), "BTCUSDT", "c")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, o.Status)
	assert.Equal(t, "1", o.FilledQty.String())
	assert.Equal(t, "101.5", o.AvgPrice.String())
	assert.False(t, o.UpdatedAt.IsZero())

	px, err := cli.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "101.25", px.String())
}

type latencyRecorder struct{ endpoints []string }

func (l *latencyRecorder) ObserveREST(endpoint string, _ time.Duration, _ error) {
	l.endpoints = append(l.endpoints, endpoint)
}

func TestBinanceRESTClientLimiterAndLatency(t *testing.T) {
	lat := &latencyRecorder{}
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"symbol":"BTCUSDT","price":"1"}`)
	})
	cli.Latency = lat
	cli.Limiter = NewTokenBucketLimiter(1000, 5)
	_, err := cli.LastPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, lat.endpoints, 1)
	assert.True(t, strings.HasSuffix(lat.endpoints[0], "/fapi/v1/ticker/price"))
}

func TestSignParamsSorted(t *testing.T) {
	q, sig := SignParams(map[string]string{"symbol": "BTCUSDT", "side": "BUY", "timestamp": "1"}, "secret")
	assert.Equal(t, "side=BUY&symbol=BTCUSDT&timestamp=1", q)
	assert.Len(t, sig, 64)
}
