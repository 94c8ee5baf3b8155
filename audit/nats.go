package audit

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher 发布接口，*nats.Conn 满足该接口。
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSRecorder 将迁移记录以 JSON 发布到 NATS 主题 <subject>.<kind>.<strategyId>。
type NATSRecorder struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSRecorder 连接 NATS 并返回记录器。
func NewNATSRecorder(url, subject string, logger *zap.Logger) (*NATSRecorder, error) {
	conn, err := nats.Connect(url,
		nats.Name("algo-exec-audit"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r := NewPublisherRecorder(conn, subject, logger)
	r.conn = conn
	return r, nil
}

// NewPublisherRecorder 使用已有的 Publisher。
func NewPublisherRecorder(pub Publisher, subject string, logger *zap.Logger) *NATSRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = "algo.audit"
	}
	return &NATSRecorder{pub: pub, subject: subject, logger: logger.Named("audit.nats")}
}

// Subject 计算记录的发布主题。
func (n *NATSRecorder) Subject(r Record) string {
	kind := r.Kind
	if kind == "" {
		kind = "engine"
	}
	if r.StrategyID == "" {
		return n.subject + "." + kind
	}
	return n.subject + "." + kind + "." + r.StrategyID
}

func (n *NATSRecorder) Record(r Record) {
	data, err := r.Marshal()
	if err != nil {
		n.logger.Warn("marshal audit record failed", zap.Error(err))
		return
	}
	if err := n.pub.Publish(n.Subject(r), data); err != nil {
		n.logger.Warn("publish audit record failed", zap.String("event", string(r.Event)), zap.Error(err))
	}
}

// Close 刷新缓冲并关闭连接。
func (n *NATSRecorder) Close() error {
	if n.conn == nil {
		return nil
	}
	if err := n.conn.FlushTimeout(2 * time.Second); err != nil {
		n.logger.Warn("flush audit stream failed", zap.Error(err))
	}
	n.conn.Close()
	return nil
}
