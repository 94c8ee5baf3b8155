package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装 zap，级别可在运行时调整（配置热更新）。
type Logger struct {
	*zap.Logger
	config Config
	level  zap.AtomicLevel
	files  []*os.File
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径，审计报表从这里读取
	ErrorFile  string   `yaml:"error_file"`  // 错误日志单独文件
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

func encoderFor(format string) (zapcore.EncoderConfig, func(zapcore.EncoderConfig) zapcore.Encoder) {
	if format == "console" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return ec, zapcore.NewConsoleEncoder
	}
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec, zapcore.NewJSONEncoder
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if len(cfg.Outputs) == 0 {
		cfg.Outputs = []string{"stdout"}
	}
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	l := &Logger{config: cfg, level: zap.NewAtomicLevelAt(lvl)}

	ec, newEncoder := encoderFor(cfg.Format)
	var cores []zapcore.Core
	if contains(cfg.Outputs, "stdout") {
		cores = append(cores, zapcore.NewCore(newEncoder(ec), zapcore.AddSync(os.Stdout), l.level))
	}
	// 文件一律 JSON，便于 audit_report 解析
	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		f, err := l.open(cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(f), l.level))
	}
	if cfg.ErrorFile != "" {
		f, err := l.open(cfg.ErrorFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(ec), zapcore.AddSync(f), zapcore.ErrorLevel))
	}

	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return l, nil
}

func (l *Logger) open(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = l.closeFiles()
		return nil, fmt.Errorf("open log file %s failed: %w", path, err)
	}
	l.files = append(l.files, f)
	return f, nil
}

// Component 返回带组件名的子 logger（engine、strategy.oco、gateway.binance ...）。
func (l *Logger) Component(name string) *zap.Logger {
	return l.Logger.Named(name)
}

// SetLevel 运行时调整级别；错误日志文件固定为 error 不受影响。
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", level, err)
	}
	if l.level.Level() != lvl {
		l.Logger.Info("log level changed", zap.String("from", l.level.String()), zap.String("to", lvl.String()))
		l.level.SetLevel(lvl)
	}
	return nil
}

// Level 当前级别
func (l *Logger) Level() string {
	return l.level.String()
}

// WithFields 添加字段返回新的logger，与父 logger 共享级别与文件。
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &Logger{
		Logger: l.Logger.With(zapFields...),
		config: l.config,
		level:  l.level,
	}
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	zapFields := make([]zap.Field, 0, len(context)+1)
	zapFields = append(zapFields, zap.Error(err))
	for k, v := range context {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	l.Error("error_event", zapFields...)
}

// Close 刷盘并关闭日志文件。WithFields 派生的 logger 不持有文件。
func (l *Logger) Close() error {
	_ = l.Sync() // stdout 在部分平台上 Sync 返回 EINVAL
	return l.closeFiles()
}

func (l *Logger) closeFiles() error {
	var err error
	for _, f := range l.files {
		err = multierr.Append(err, f.Sync())
		err = multierr.Append(err, f.Close())
	}
	l.files = nil
	return err
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
