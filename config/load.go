package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"algo-exec-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string                  `yaml:"env"`
	Gateway GatewayConfig           `yaml:"gateway"`
	Engine  EngineConfig            `yaml:"engine"`
	Log     logger.Config           `yaml:"log"`
	Metrics MetricsConfig           `yaml:"metrics"`
	Audit   AuditConfig             `yaml:"audit"`
	Symbols map[string]SymbolConfig `yaml:"symbols"`
}

// GatewayConfig 交易所接入；mode=paper 时使用内存撮合，不需要密钥。
type GatewayConfig struct {
	Mode         string  `yaml:"mode"` // paper | binance
	APIKey       string  `yaml:"apiKey"`
	APISecret    string  `yaml:"apiSecret"`
	BaseURL      string  `yaml:"baseURL"`
	WSEndpoint   string  `yaml:"wsEndpoint"`
	RecvWindowMs int64   `yaml:"recvWindowMs"`
	RateLimit    float64 `yaml:"rateLimit"` // 每秒请求数，0 表示不限
	RateBurst    int     `yaml:"rateBurst"`
}

const (
	ModePaper   = "paper"
	ModeBinance = "binance"
)

// EngineConfig 策略默认参数；热更新只影响之后启动的策略。
type EngineConfig struct {
	TWAP              TWAPDefaults   `yaml:"twap"`
	Grid              GridDefaults   `yaml:"grid"`
	OCO               OCODefaults    `yaml:"oco"`
	Submit            SubmitDefaults `yaml:"submit"`
	ReconcileInterval time.Duration  `yaml:"reconcileInterval"`
}

type TWAPDefaults struct {
	MaxSliceAttempts  int           `yaml:"maxSliceAttempts"`
	SliceTimeout      time.Duration `yaml:"sliceTimeout"`      // 为零时等于切片间隔
	RemainderPolicy   string        `yaml:"remainderPolicy"`   // first | last
	MaxPriceDeviation float64       `yaml:"maxPriceDeviation"` // 相对初始价格的比例，0 表示不检查
}

type GridDefaults struct {
	MaxRearmsPerLevel int           `yaml:"maxRearmsPerLevel"` // 0 表示不限
	RearmOffset       int           `yaml:"rearmOffset"`       // 0 同价反向；1 相邻档位
	RearmCooldown     time.Duration `yaml:"rearmCooldown"`
	AtReference       string        `yaml:"atReference"` // skip | buy | sell
}

type OCODefaults struct {
	TimeInForce    string `yaml:"timeInForce"`
	CheckMarkPrice bool   `yaml:"checkMarkPrice"`
}

type SubmitDefaults struct {
	MaxRetries  int           `yaml:"maxRetries"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AuditConfig NATSURL 为空时只写日志。
type AuditConfig struct {
	NATSURL       string        `yaml:"natsURL"`
	Subject       string        `yaml:"subject"`
	AlertThrottle time.Duration `yaml:"alertThrottle"` // 同一告警键的最小间隔
}

// SymbolConfig 保存交易对的精度/名义限制（paper 模式的撮合规则，也作为 exchangeInfo 的缓存预置）。
type SymbolConfig struct {
	TickSize    float64 `yaml:"tickSize"`
	StepSize    float64 `yaml:"stepSize"`
	MinQty      float64 `yaml:"minQty"`
	MaxQty      float64 `yaml:"maxQty"`
	MinNotional float64 `yaml:"minNotional"`
	Price       float64 `yaml:"price"`       // paper 模式初始价格
	MaxOrderQty float64 `yaml:"maxOrderQty"` // 风控：单笔上限，0 不限
	MaxDailyQty float64 `yaml:"maxDailyQty"` // 风控：24h 累计提交上限，0 不限
}

// DefaultEngineConfig 默认策略参数。
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TWAP: TWAPDefaults{
			MaxSliceAttempts: 3,
			RemainderPolicy:  "last",
		},
		Grid: GridDefaults{
			MaxRearmsPerLevel: 50,
			AtReference:       "skip",
		},
		OCO: OCODefaults{
			TimeInForce: "GTC",
		},
		Submit: SubmitDefaults{
			MaxRetries:  3,
			BaseBackoff: 200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		},
		ReconcileInterval: 30 * time.Second,
	}
}

// Default 返回可直接运行的 paper 配置。
func Default() AppConfig {
	return AppConfig{
		Env:     "dev",
		Gateway: GatewayConfig{Mode: ModePaper},
		Engine:  DefaultEngineConfig(),
		Log:     logger.DefaultConfig(),
		Metrics: MetricsConfig{Addr: ":9101"},
		Audit:   AuditConfig{Subject: "algo.audit", AlertThrottle: time.Minute},
	}
}

// Load reads YAML config from path and applies basic validation.
// Fields absent from the file keep their Default() values.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("ALGO_NATS_URL"); v != "" {
		cfg.Audit.NATSURL = v
	}
}
