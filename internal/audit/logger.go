package audit

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger records Events to a rotating audit log and forwards them to any
// registered sink (the EventBus, in production). Grounded on the
// project's long-standing audit logger: zap for structured encoding,
// lumberjack for size/age-based rotation.
type Logger interface {
	Log(e Event)
	// OnEvent registers a sink invoked synchronously for every logged Event.
	// cmd/server wires it to publish each Event on the event bus's logs topic.
	OnEvent(fn func(Event))
	Sync() error
}

// Config controls log level and rotation behavior.
type Config struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultConfig matches the defaults the audit log has always shipped with.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Path:       "logs/audit.log",
		MaxSizeMB:  100,
		MaxBackups: 10,
		MaxAgeDays: 30,
		Compress:   true,
	}
}

type zapLogger struct {
	zl   *zap.Logger
	mu   sync.RWMutex
	sink func(Event)
}

// NewLogger builds a Logger writing JSON lines to a rotated file.
func NewLogger(cfg Config) (Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		CallerKey:      "caller",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(rotator), level)
	zl := zap.New(core, zap.AddCaller())

	return &zapLogger{zl: zl}, nil
}

func (l *zapLogger) Log(e Event) {
	fields := []zap.Field{
		zap.String("source_id", e.SourceID),
		zap.Time("event_time", e.Timestamp),
	}
	for k, v := range e.Detail {
		fields = append(fields, zap.Any(k, v))
	}

	switch e.Level {
	case LevelDebug:
		l.zl.Debug(e.Message, fields...)
	case LevelWarn:
		l.zl.Warn(e.Message, fields...)
	case LevelError:
		l.zl.Error(e.Message, fields...)
	default:
		l.zl.Info(e.Message, fields...)
	}

	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()
	if sink != nil {
		sink(e)
	}
}

func (l *zapLogger) OnEvent(fn func(Event)) {
	l.mu.Lock()
	l.sink = fn
	l.mu.Unlock()
}

func (l *zapLogger) Sync() error {
	return l.zl.Sync()
}
