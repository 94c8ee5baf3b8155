package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"algo-exec-go/audit"
	"algo-exec-go/order"
)

// Monitor Prometheus监控指标收集器。
// 策略指标由迁移记录（audit.Recorder）驱动，订单边界指标由 order.Observer 驱动。
type Monitor struct {
	registry *prometheus.Registry

	// 策略指标
	strategiesStarted  *prometheus.CounterVec
	strategiesTerminal *prometheus.CounterVec
	activeStrategies   *prometheus.GaugeVec
	gridRearms         *prometheus.CounterVec
	sliceRetries       *prometheus.CounterVec
	priceDeviations    *prometheus.CounterVec
	inconsistencies    prometheus.Counter

	// 订单指标
	ordersPlaced   *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	ordersCanceled *prometheus.CounterVec
	ordersFilled   *prometheus.CounterVec
	submitRetries  *prometheus.CounterVec

	// 系统指标
	restLatency *prometheus.HistogramVec
	restErrors  *prometheus.CounterVec
}

var (
	_ audit.Recorder = (*Monitor)(nil)
	_ order.Observer = (*Monitor)(nil)
)

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "algo",
		Subsystem: "exec",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Monitor{
		registry: reg,

		strategiesStarted:  counter("strategies_started_total", "创建的策略总数", "kind"),
		strategiesTerminal: counter("strategies_terminal_total", "进入终态的策略总数", "kind", "status"),
		activeStrategies: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "active_strategies",
			Help:      "未终态的策略数",
		}, []string{"kind"}),
		gridRearms:      counter("grid_rearms_total", "网格重挂次数", "symbol"),
		sliceRetries:    counter("twap_slice_retries_total", "TWAP 切片重试次数", "symbol"),
		priceDeviations: counter("twap_price_deviations_total", "TWAP 价格偏离告警次数", "symbol"),
		inconsistencies: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "inconsistencies_total",
			Help:      "被忽略的矛盾回报数",
		}),

		ordersPlaced:   counter("orders_placed_total", "订单下单总数", "symbol", "type"),
		ordersRejected: counter("orders_rejected_total", "订单拒绝总数", "symbol", "reason"),
		ordersCanceled: counter("orders_canceled_total", "订单撤单总数", "symbol"),
		ordersFilled:   counter("orders_filled_total", "订单完全成交总数", "symbol"),
		submitRetries:  counter("submit_retries_total", "瞬时错误重试次数", "op"),

		restLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "rest_latency_seconds",
			Help:      "REST 请求延迟分布（秒）",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"endpoint"}),
		restErrors: counter("rest_errors_total", "REST 请求错误数", "endpoint"),
	}
}

// Record 由迁移记录派生策略指标。
func (m *Monitor) Record(r audit.Record) {
	switch r.Event {
	case audit.EventStrategyCreated:
		m.strategiesStarted.WithLabelValues(r.Kind).Inc()
		m.activeStrategies.WithLabelValues(r.Kind).Inc()
	case audit.EventStrategyStatus:
		switch r.To {
		case "COMPLETED", "CANCELLED", "FAILED":
			m.strategiesTerminal.WithLabelValues(r.Kind, r.To).Inc()
			m.activeStrategies.WithLabelValues(r.Kind).Dec()
		}
	case audit.EventOrderUpdate:
		if r.Status == string(order.StatusFilled) {
			m.ordersFilled.WithLabelValues(r.Symbol).Inc()
		}
	case audit.EventGridRearm:
		m.gridRearms.WithLabelValues(r.Symbol).Inc()
	case audit.EventSliceRetry:
		m.sliceRetries.WithLabelValues(r.Symbol).Inc()
	case audit.EventPriceDeviation:
		m.priceDeviations.WithLabelValues(r.Symbol).Inc()
	case audit.EventInconsistency:
		m.inconsistencies.Inc()
	}
}

func (m *Monitor) OrderPlaced(symbol string, typ order.Type) {
	m.ordersPlaced.WithLabelValues(symbol, string(typ)).Inc()
}

func (m *Monitor) OrderRejected(symbol, reason string) {
	m.ordersRejected.WithLabelValues(symbol, reason).Inc()
}

func (m *Monitor) OrderCanceled(symbol string) {
	m.ordersCanceled.WithLabelValues(symbol).Inc()
}

func (m *Monitor) SubmitRetry(op string) {
	m.submitRetries.WithLabelValues(op).Inc()
}

// ObserveREST 记录 REST 延迟（gateway.LatencyObserver）。
func (m *Monitor) ObserveREST(endpoint string, d time.Duration, err error) {
	m.restLatency.WithLabelValues(endpoint).Observe(d.Seconds())
	if err != nil {
		m.restErrors.WithLabelValues(endpoint).Inc()
	}
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回底层 registry（测试与自定义采集器使用）。
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
