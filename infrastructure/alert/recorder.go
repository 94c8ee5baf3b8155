package alert

import (
	"go.uber.org/zap"

	"algo-exec-go/audit"
)

// Recorder 从迁移记录中挑出需要人工关注的事件转为告警，只入队不发送。
type Recorder struct {
	mgr    *Manager
	logger *zap.Logger
}

var _ audit.Recorder = (*Recorder)(nil)

func NewRecorder(mgr *Manager, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{mgr: mgr, logger: logger}
}

func (r *Recorder) Record(rec audit.Record) {
	a, ok := alertFor(rec)
	if !ok {
		return
	}
	if !r.mgr.Enqueue(a) {
		r.logger.Warn("alert queue full, dropped", zap.String("event", string(rec.Event)), zap.String("strategy_id", rec.StrategyID))
	}
}

// alertFor 策略失败为 ERROR；矛盾回报与价格偏离为 WARNING；其余事件不告警。
func alertFor(rec audit.Record) (Alert, bool) {
	fields := map[string]interface{}{}
	if rec.StrategyID != "" {
		fields["strategy_id"] = rec.StrategyID
	}
	if rec.Symbol != "" {
		fields["symbol"] = rec.Symbol
	}
	if rec.Reason != "" {
		fields["reason"] = rec.Reason
	}

	switch rec.Event {
	case audit.EventStrategyStatus:
		if rec.To != "FAILED" {
			return Alert{}, false
		}
		fields["kind"] = rec.Kind
		return Alert{
			Level:     LevelError,
			Key:       "failed:" + rec.StrategyID,
			Message:   "strategy failed",
			Timestamp: rec.Time,
			Fields:    fields,
		}, true
	case audit.EventInconsistency:
		fields["client_id"] = rec.ClientID
		fields["status"] = rec.Status
		return Alert{
			Level:     LevelWarning,
			Key:       "inconsistency:" + rec.Symbol,
			Message:   "inconsistent order event ignored",
			Timestamp: rec.Time,
			Fields:    fields,
		}, true
	case audit.EventPriceDeviation:
		fields["price"] = rec.Price
		fields["deviation"] = rec.Deviation
		return Alert{
			Level:     LevelWarning,
			Key:       "deviation:" + rec.StrategyID,
			Message:   "twap price deviation exceeds limit",
			Timestamp: rec.Time,
			Fields:    fields,
		}, true
	}
	return Alert{}, false
}
