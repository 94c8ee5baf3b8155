package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"algo-exec-go/order"
)

func orderUpdate(symbol, cid, status, cum string) string {
	return fmt.Sprintf(`{"e":"ORDER_TRADE_UPDATE","E":1,"o":{"s":%q,"c":%q,"X":%q,"z":%q,"ap":"100","i":1,"T":1}}`,
		symbol, cid, status, cum)
}

func TestUserStreamDeliversAndReconnects(t *testing.T) {
	var conns int32
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/listenKey", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"listenKey":"lk%d"}`, atomic.LoadInt32(&conns))
	})
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&conns, 1)
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		// 其他交易对的回报不应送达
		_ = c.WriteMessage(websocket.TextMessage, []byte(orderUpdate("ETHUSDT", "other", "NEW", "0")))
		_ = c.WriteMessage(websocket.TextMessage, []byte(orderUpdate("BTCUSDT", fmt.Sprintf("c%d", n), "FILLED", "1")))
		if n == 1 {
			// 第一次连接：通知 listenKey 过期，迫使客户端重连
			_ = c.WriteMessage(websocket.TextMessage, []byte(`{"e":"listenKeyExpired","E":2}`))
		}
		time.Sleep(200 * time.Millisecond)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	lk := &ListenKeyClient{BaseURL: ts.URL, APIKey: "k"}
	us := NewUserStream("ws"+strings.TrimPrefix(ts.URL, "http"), lk, zaptest.NewLogger(t))
	us.ReconnectBackoff = 10 * time.Millisecond
	var reconnects int32
	us.OnReconnect = func() { atomic.AddInt32(&reconnects, 1) }
	defer us.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fills, err := us.SubscribeFills(ctx, "BTCUSDT")
	require.NoError(t, err)

	var got []order.FillEvent
	deadline := time.After(3 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-fills:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("received %d events", len(got))
		}
	}
	assert.Equal(t, "c1", got[0].ClientID)
	assert.Equal(t, "c2", got[1].ClientID)
	assert.Equal(t, order.StatusFilled, got[1].Status)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&reconnects), int32(1))
}
