package observability

import (
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLoggerWithService constructs a production zap.Logger named after the
// service, at the level selected by ENV and LOG_LEVEL.
func InitLoggerWithService(serviceName string) (*zap.Logger, error) {
	return InitLoggerWithLevel(getLogLevel(), serviceName)
}

// InitLoggerWithLevel constructs a zap.Logger at the provided level.
// The returned logger is named with the service name and installed as the global logger.
func InitLoggerWithLevel(level zapcore.Level, serviceName string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// Field names match the log shipper's expectations
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.NameKey = "logger"
	cfg.EncoderConfig.CallerKey = "caller"
	cfg.EncoderConfig.MessageKey = "msg"
	cfg.EncoderConfig.StacktraceKey = "stacktrace"

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.Named(serviceName).With(zap.String("service", serviceName))
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// getLogLevel determines the log level from LOG_LEVEL, falling back to a
// default chosen by ENV.
func getLogLevel() zapcore.Level {
	env := strings.ToLower(os.Getenv("ENV"))
	logLevel := strings.ToUpper(os.Getenv("LOG_LEVEL"))

	if logLevel == "" {
		if env == "development" || env == "dev" {
			return zap.DebugLevel
		}
		return zap.InfoLevel
	}

	switch logLevel {
	case "DEBUG":
		return zap.DebugLevel
	case "INFO":
		return zap.InfoLevel
	case "WARN":
		return zap.WarnLevel
	case "ERROR":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// LogSampler decides whether a high-volume log line should be written.
// It is safe for concurrent use.
type LogSampler struct {
	rate    float64
	total   atomic.Int64
	sampled atomic.Int64
}

// NewLogSampler returns a sampler keeping roughly rate of all lines.
// rate is clamped to [0, 1].
func NewLogSampler(rate float64) *LogSampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &LogSampler{rate: rate}
}

// Sample reports whether the current line should be logged.
// A nil sampler never samples.
func (s *LogSampler) Sample() bool {
	if s == nil {
		return false
	}
	s.total.Add(1)
	ok := s.rate >= 1 || (s.rate > 0 && rand.Float64() < s.rate)
	if ok {
		s.sampled.Add(1)
	}
	return ok
}

// Stats returns the number of lines considered and the number sampled.
func (s *LogSampler) Stats() (total, sampled int64) {
	return s.total.Load(), s.sampled.Load()
}

// SamplingRateForEnv returns the default sampling rate for the current ENV.
func SamplingRateForEnv() float64 {
	switch strings.ToLower(os.Getenv("ENV")) {
	case "development", "dev":
		return 1.0
	case "staging", "test":
		return 0.5
	default:
		return 0.1
	}
}
