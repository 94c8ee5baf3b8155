package audit

import (
	"go.uber.org/zap"

	"algo-exec-go/monitor/logschema"
)

// ZapRecorder 将迁移记录写成结构化日志，字段缺失时额外打一条告警。
type ZapRecorder struct {
	logger *zap.Logger
}

func NewZapRecorder(logger *zap.Logger) *ZapRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapRecorder{logger: logger.Named("audit")}
}

func (z *ZapRecorder) Record(r Record) {
	fields := r.Fields()
	if err := logschema.Validate(string(r.Event), fields); err != nil {
		z.logger.Warn("audit record schema mismatch", zap.String("event", string(r.Event)), zap.Error(err))
	}
	zf := make([]zap.Field, 0, len(fields)+2)
	zf = append(zf, zap.String("event", string(r.Event)), zap.Time("ts", r.Time))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	switch r.Event {
	case EventOrderRejected, EventPriceDeviation, EventInconsistency:
		z.logger.Warn("strategy_event", zf...)
	default:
		z.logger.Info("strategy_event", zf...)
	}
}
