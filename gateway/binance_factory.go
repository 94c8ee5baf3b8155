package gateway

import (
	"net/http"

	"go.uber.org/zap"

	"algo-exec-go/order"
)

// BinanceConfig 接入参数；为空的字段从环境变量补齐。
type BinanceConfig struct {
	APIKey       string
	APISecret    string
	RestURL      string
	WSEndpoint   string
	RecvWindowMs int64
	RateLimit    float64
	RateBurst    int
}

// Binance 组合 REST 与用户数据流，实现 order.Gateway 与 order.PriceSource。
type Binance struct {
	*BinanceRESTClient
	*UserStream
}

var (
	_ order.Gateway     = (*Binance)(nil)
	_ order.PriceSource = (*Binance)(nil)
)

// NewBinance 构建真实交易所网关（不立即连接；首次订阅回报时建立 WS）。
// 调用方可传入自定义 http.Client（带代理/超时），否则使用默认。
func NewBinance(cfg BinanceConfig, httpCli *http.Client, logger *zap.Logger) *Binance {
	env := LoadEnvConfig()
	if cfg.APIKey == "" {
		cfg.APIKey = env.APIKey
	}
	if cfg.APISecret == "" {
		cfg.APISecret = env.APISecret
	}
	if cfg.RestURL == "" {
		cfg.RestURL = env.RestURL
	}
	if cfg.WSEndpoint == "" {
		cfg.WSEndpoint = env.WSEndpoint
	}
	if cfg.RecvWindowMs <= 0 {
		cfg.RecvWindowMs = 5000
	}
	if httpCli == nil {
		httpCli = NewDefaultHTTPClient()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rest := &BinanceRESTClient{
		BaseURL:      cfg.RestURL,
		APIKey:       cfg.APIKey,
		Secret:       cfg.APISecret,
		HTTPClient:   httpCli,
		RecvWindowMs: cfg.RecvWindowMs,
	}
	if cfg.RateLimit > 0 {
		rest.Limiter = NewTokenBucketLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	lk := &ListenKeyClient{
		BaseURL:    cfg.RestURL,
		APIKey:     cfg.APIKey,
		HTTPClient: NewListenKeyHTTPClient(),
	}
	return &Binance{
		BinanceRESTClient: rest,
		UserStream:        NewUserStream(cfg.WSEndpoint, lk, logger.Named("userstream")),
	}
}
