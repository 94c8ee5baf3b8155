package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	BinanceFuturesRESTEndpoint = "https://fapi.binance.com"
	BinanceFuturesWSEndpoint   = "wss://fstream.binance.com"
)

// timeNowMillis 签名时间戳，测试中可替换。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// EnvConfig 从环境变量读取的接入参数。
type EnvConfig struct {
	APIKey     string
	APISecret  string
	RestURL    string
	WSEndpoint string
}

// LoadEnvConfig 读取 BINANCE_API_KEY / BINANCE_API_SECRET / BINANCE_BASE_URL / BINANCE_WS_ENDPOINT。
func LoadEnvConfig() EnvConfig {
	cfg := EnvConfig{
		APIKey:     os.Getenv("BINANCE_API_KEY"),
		APISecret:  os.Getenv("BINANCE_API_SECRET"),
		RestURL:    os.Getenv("BINANCE_BASE_URL"),
		WSEndpoint: os.Getenv("BINANCE_WS_ENDPOINT"),
	}
	if cfg.RestURL == "" {
		cfg.RestURL = BinanceFuturesRESTEndpoint
	}
	if cfg.WSEndpoint == "" {
		cfg.WSEndpoint = BinanceFuturesWSEndpoint
	}
	return cfg
}

// SignParams 追加 timestamp 后按键排序编码，返回 query 与 HMAC-SHA256 签名。
func SignParams(params map[string]string, secret string) (string, string) {
	if _, ok := params["timestamp"]; !ok {
		params["timestamp"] = strconv.FormatInt(timeNowMillis(), 10)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	query := strings.Join(parts, "&")
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(query))
	return query, hex.EncodeToString(h.Sum(nil))
}
