package logx

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	lg   *zap.SugaredLogger
	once sync.Once
)

// Options control the process-wide logger. Empty fields keep defaults:
// info level, json encoding, stdout.
type Options struct {
	Level       string
	Encoding    string
	OutputPaths []string
}

// Init builds the logger from LOG_LEVEL.
func Init() {
	if err := Configure(Options{Level: os.Getenv("LOG_LEVEL")}); err != nil {
		Set(zap.NewNop())
	}
}

func Configure(o Options) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(o.Level))
	cfg.Encoding = "json"
	if o.Encoding != "" {
		cfg.Encoding = o.Encoding
	}
	if len(o.OutputPaths) > 0 {
		cfg.OutputPaths = o.OutputPaths
		cfg.ErrorOutputPaths = o.OutputPaths
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(z)
	return nil
}

func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Set replaces the process-wide logger, e.g. with zap.NewNop() in tests.
func Set(z *zap.Logger) {
	mu.Lock()
	lg = z.Sugar()
	mu.Unlock()
}

func L() *zap.SugaredLogger {
	mu.RLock()
	l := lg
	mu.RUnlock()
	if l != nil {
		return l
	}

	once.Do(Init)
	mu.RLock()
	defer mu.RUnlock()
	return lg
}

func Sync() { _ = L().Sync() }
