package container

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"algo-exec-go/audit"
	"algo-exec-go/config"
	"algo-exec-go/gateway"
	"algo-exec-go/infrastructure/alert"
	"algo-exec-go/infrastructure/logger"
	"algo-exec-go/infrastructure/monitor"
	"algo-exec-go/internal/engine"
	"algo-exec-go/order"
	"algo-exec-go/risk"
)

const (
	reloadCooldown   = 500 * time.Millisecond
	reconcileTimeout = 30 * time.Second
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger   *logger.Logger
	monitor  *monitor.Monitor
	recorder audit.Recorder
	natsRec  *audit.NATSRecorder
	alerts   *alert.Manager

	// 交易所网关（二选一）
	paper   *gateway.Paper
	binance *gateway.Binance

	// 核心服务
	engine *engine.Engine

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 加载配置（含环境变量覆盖）并创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath), nil
}

// NewWithConfig 使用已加载的配置；configPath 为空时不启用热更新。
func NewWithConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("gateway", c.cfg.Gateway.Mode))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	c.alerts = alert.NewManager([]alert.Channel{
		alert.NewLogChannel("log", c.logger.Logger),
	}, c.cfg.Audit.AlertThrottle)

	recorders := audit.Multi{
		audit.NewZapRecorder(c.logger.Component("audit")),
		c.monitor,
		alert.NewRecorder(c.alerts, c.logger.Component("alert")),
	}
	if c.cfg.Audit.NATSURL != "" {
		c.natsRec, err = audit.NewNATSRecorder(c.cfg.Audit.NATSURL, c.cfg.Audit.Subject, c.logger.Logger)
		if err != nil {
			return fmt.Errorf("connect audit stream failed: %w", err)
		}
		recorders = append(recorders, c.natsRec)
	}
	c.recorder = recorders

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	switch c.cfg.Gateway.Mode {
	case config.ModePaper:
		c.paper = gateway.NewPaper()
		for sym, sc := range c.cfg.Symbols {
			c.paper.AddSymbol(symbolRules(sym, sc))
			if sc.Price > 0 {
				c.paper.SetPrice(strings.ToUpper(sym), decimal.NewFromFloat(sc.Price))
			}
		}
		c.paper.AutoFillMarket(true)
	case config.ModeBinance:
		gw := c.cfg.Gateway
		c.binance = gateway.NewBinance(gateway.BinanceConfig{
			APIKey:       gw.APIKey,
			APISecret:    gw.APISecret,
			RestURL:      gw.BaseURL,
			WSEndpoint:   gw.WSEndpoint,
			RecvWindowMs: gw.RecvWindowMs,
			RateLimit:    gw.RateLimit,
			RateBurst:    gw.RateBurst,
		}, nil, c.logger.Component("gateway.binance"))
		c.binance.Latency = c.monitor
	default:
		return fmt.Errorf("unknown gateway mode %q", c.cfg.Gateway.Mode)
	}

	c.logger.Info("gateway built", zap.String("mode", c.cfg.Gateway.Mode))
	return nil
}

func (c *Container) buildEngine() error {
	comps := engine.Components{
		Recorder: c.recorder,
		Observer: c.monitor,
		Logger:   c.logger.Logger,
		Rules:    make(map[string]order.SymbolRules, len(c.cfg.Symbols)),
	}
	limits := make(map[string]risk.Limits)
	for sym, sc := range c.cfg.Symbols {
		comps.Rules[strings.ToUpper(sym)] = symbolRules(sym, sc)
		if sc.MaxOrderQty > 0 || sc.MaxDailyQty > 0 {
			limits[sym] = risk.Limits{
				SingleMax: decimal.NewFromFloat(sc.MaxOrderQty),
				DailyMax:  decimal.NewFromFloat(sc.MaxDailyQty),
			}
		}
	}
	if len(limits) > 0 {
		comps.PreTrade = risk.NewLimitChecker(limits)
	}
	if c.paper != nil {
		comps.Gateway, comps.Prices = c.paper, c.paper
	} else {
		comps.Gateway, comps.Prices = c.binance, c.binance
	}

	eng, err := engine.New(c.cfg.Engine, comps)
	if err != nil {
		return err
	}
	c.engine = eng

	// 断线期间可能漏掉回报，重连后立即对账一次
	if c.binance != nil {
		log := c.logger.Component("reconnect")
		c.binance.OnReconnect = func() {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
				defer cancel()
				n, err := c.engine.Reconcile(ctx)
				if err != nil {
					log.Warn("reconcile after reconnect failed", zap.Error(err))
					return
				}
				log.Info("reconciled after reconnect", zap.Int("recovered", n))
			}()
		}
	}
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.cfg.Metrics.Enabled {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	c.lifecycle.Register(&alertComponent{manager: c.alerts, logger: c.logger.Component("alert")})
	c.lifecycle.Register(&engineComponent{engine: c.engine})
	if c.configPath != "" {
		c.lifecycle.Register(&watcherComponent{
			watcher: config.NewWatcher(c.configPath, reloadCooldown, c.logger.Component("config")),
			onUpdate: func(cfg config.AppConfig) {
				if err := c.logger.SetLevel(cfg.Log.Level); err != nil {
					c.logger.LogError(err, map[string]interface{}{"action": "reload_log_level"})
				}
				if err := c.engine.UpdateDefaults(cfg.Engine); err != nil {
					c.logger.LogError(err, map[string]interface{}{"action": "reload_engine_defaults"})
					return
				}
				c.logger.Info("engine defaults reloaded")
			},
			logger: c.logger,
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止组件：引擎停止时撤销所有运行中策略的挂单。
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if c.binance != nil {
		c.binance.UserStream.Stop()
	}
	if c.natsRec != nil {
		if cerr := c.natsRec.Close(); cerr != nil {
			c.logger.LogError(cerr, map[string]interface{}{"action": "close_audit_stream"})
		}
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Alerts 返回告警管理器，可追加外部通道
func (c *Container) Alerts() *alert.Manager {
	return c.alerts
}

// Engine 策略引擎
func (c *Container) Engine() *engine.Engine { return c.engine }

// Paper 内存撮合网关；binance 模式下为 nil。
func (c *Container) Paper() *gateway.Paper { return c.paper }

// Logger 容器日志器
func (c *Container) Logger() *logger.Logger { return c.logger }

// Config 当前配置
func (c *Container) Config() config.AppConfig { return *c.cfg }

func symbolRules(sym string, sc config.SymbolConfig) order.SymbolRules {
	return order.SymbolRules{
		Symbol:      strings.ToUpper(sym),
		TickSize:    decimal.NewFromFloat(sc.TickSize),
		StepSize:    decimal.NewFromFloat(sc.StepSize),
		MinQty:      decimal.NewFromFloat(sc.MinQty),
		MaxQty:      decimal.NewFromFloat(sc.MaxQty),
		MinNotional: decimal.NewFromFloat(sc.MinNotional),
	}
}
