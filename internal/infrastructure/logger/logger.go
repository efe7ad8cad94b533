// Package logger builds the service's zap logger and adapts it to the
// gin and gorm surfaces the label workflow runs on.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Config selects the log level, encoding and destination
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Output string // stdout, stderr or a file path
}

// New builds the service logger. Console encoding is meant for
// development; everything else emits JSON lines.
func New(cfg *Config) (*zap.Logger, error) {
	sink, err := sinkFor(cfg.Output)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoderFor(cfg.Format), sink, levelFor(cfg.Level))
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// Sync flushes buffered entries; errors from closed stdout are expected
// on shutdown and safe to ignore
func Sync(log *zap.Logger) error {
	return log.Sync()
}

func levelFor(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderFor(format string) zapcore.Encoder {
	encoding := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout(timeLayout),
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if format == "console" {
		encoding.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoding)
	}
	return zapcore.NewJSONEncoder(encoding)
}

func sinkFor(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log output %s: %w", output, err)
		}
		return zapcore.AddSync(file), nil
	}
}
