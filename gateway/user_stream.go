package gateway

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"algo-exec-go/order"
)

const (
	defaultReconnectBackoff = 3 * time.Second
	maxReconnectBackoff     = 30 * time.Second
	defaultKeepAlive        = 25 * time.Minute
	defaultReadTimeout      = 5 * time.Minute
	fillBuffer              = 256
)

// UserStream 用户数据流：listenKey 续期、断线自动重连，ORDER_TRADE_UPDATE 按交易对分发。
type UserStream struct {
	WSEndpoint       string
	ListenKeys       *ListenKeyClient
	Dialer           *websocket.Dialer
	ReconnectBackoff time.Duration
	KeepAliveEvery   time.Duration
	ReadTimeout      time.Duration
	// OnReconnect 重连成功后回调（断线期间可能漏掉回报，用于触发对账）。
	OnReconnect func()

	logger *zap.Logger

	mu      sync.Mutex
	subs    map[string]map[*fillSub]struct{}
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

type fillSub struct {
	ctx    context.Context
	ch     chan order.FillEvent
	mu     sync.Mutex
	closed bool
}

func (s *fillSub) send(ev order.FillEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	case <-s.ctx.Done():
	}
}

func (s *fillSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func NewUserStream(wsEndpoint string, lk *ListenKeyClient, logger *zap.Logger) *UserStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	if wsEndpoint == "" {
		wsEndpoint = BinanceFuturesWSEndpoint
	}
	return &UserStream{
		WSEndpoint:       strings.TrimRight(wsEndpoint, "/"),
		ListenKeys:       lk,
		Dialer:           websocket.DefaultDialer,
		ReconnectBackoff: defaultReconnectBackoff,
		KeepAliveEvery:   defaultKeepAlive,
		ReadTimeout:      defaultReadTimeout,
		logger:           logger,
		subs:             make(map[string]map[*fillSub]struct{}),
	}
}

// SubscribeFills 订阅 symbol 的回报；首个订阅时建立连接。ctx 结束时关闭返回的通道。
func (u *UserStream) SubscribeFills(ctx context.Context, symbol string) (<-chan order.FillEvent, error) {
	if symbol == "" {
		return nil, errors.New("symbol required")
	}
	sub := &fillSub{ctx: ctx, ch: make(chan order.FillEvent, fillBuffer)}
	u.mu.Lock()
	if u.subs[symbol] == nil {
		u.subs[symbol] = make(map[*fillSub]struct{})
	}
	u.subs[symbol][sub] = struct{}{}
	if !u.started {
		u.started = true
		runCtx, cancel := context.WithCancel(context.Background())
		u.cancel = cancel
		u.done = make(chan struct{})
		go u.run(runCtx, u.done)
	}
	u.mu.Unlock()

	go func() {
		<-ctx.Done()
		u.mu.Lock()
		delete(u.subs[symbol], sub)
		u.mu.Unlock()
		sub.close()
	}()
	return sub.ch, nil
}

// Stop 断开连接；已有订阅的通道在各自 ctx 结束时关闭。
func (u *UserStream) Stop() {
	u.mu.Lock()
	cancel, done := u.cancel, u.done
	u.started = false
	u.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (u *UserStream) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	backoff := u.ReconnectBackoff
	if backoff <= 0 {
		backoff = defaultReconnectBackoff
	}
	connectedOnce := false
	wait := time.Duration(0)
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		key, err := u.ListenKeys.NewListenKey(ctx)
		if err != nil {
			wait = nextBackoff(wait, backoff)
			u.logger.Warn("listenKey create failed", zap.Error(err), zap.Duration("retry_in", wait))
			continue
		}
		conn, _, err := u.Dialer.DialContext(ctx, u.WSEndpoint+"/ws/"+key, nil)
		if err != nil {
			wait = nextBackoff(wait, backoff)
			u.logger.Warn("user stream dial failed", zap.Error(err), zap.Duration("retry_in", wait))
			continue
		}
		wait = 0
		u.logger.Info("user stream connected")
		if connectedOnce && u.OnReconnect != nil {
			u.OnReconnect()
		}
		connectedOnce = true

		connCtx, stopConn := context.WithCancel(ctx)
		go u.keepAlive(connCtx)
		go func() {
			<-connCtx.Done()
			_ = conn.Close()
		}()
		reason := u.readLoop(conn)
		stopConn()
		if ctx.Err() != nil {
			return
		}
		wait = backoff
		u.logger.Warn("user stream disconnected, reconnecting", zap.String("reason", reason), zap.Duration("retry_in", wait))
	}
}

func nextBackoff(cur, base time.Duration) time.Duration {
	if cur <= 0 {
		return base
	}
	cur *= 2
	if cur > maxReconnectBackoff {
		cur = maxReconnectBackoff
	}
	return cur
}

func (u *UserStream) keepAlive(ctx context.Context) {
	every := u.KeepAliveEvery
	if every <= 0 {
		every = defaultKeepAlive
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.ListenKeys.KeepAlive(ctx); err != nil {
				u.logger.Warn("listenKey keepalive failed", zap.Error(err))
			}
		}
	}
}

// readLoop 读取直到断线或 listenKey 过期，返回原因。
func (u *UserStream) readLoop(conn *websocket.Conn) string {
	timeout := u.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err.Error()
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
		if expired := u.handleMessage(msg); expired {
			return "listenKey expired"
		}
	}
}

// handleMessage 解析并分发；返回 true 表示 listenKey 已过期需要重建连接。
func (u *UserStream) handleMessage(raw []byte) bool {
	ev, err := ParseUserData(raw)
	if err != nil {
		if !errors.Is(err, ErrNonUserData) {
			u.logger.Warn("parse user data failed", zap.Error(err))
		}
		return false
	}
	switch ev.EventType {
	case "ORDER_TRADE_UPDATE":
		if ev.Order != nil {
			u.publish(ev.Order.FillEvent())
		}
	case "listenKeyExpired":
		return true
	}
	return false
}

func (u *UserStream) publish(ev order.FillEvent) {
	u.mu.Lock()
	subs := make([]*fillSub, 0, len(u.subs[ev.Symbol]))
	for s := range u.subs[ev.Symbol] {
		subs = append(subs, s)
	}
	u.mu.Unlock()
	for _, s := range subs {
		s.send(ev)
	}
}
