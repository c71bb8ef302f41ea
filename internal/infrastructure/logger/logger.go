// Package logger builds the zap loggers used across the service and carries
// request-scoped loggers through context.Context.
package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ISO8601Millis is the default timestamp layout
const ISO8601Millis = "2006-01-02T15:04:05.000Z07:00"

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	Output     string // stdout, stderr, or file path
	TimeFormat string

	// Service and Env are stamped on every entry when set
	Service string
	Env     string
}

// New creates a zap logger. Extra cores, such as the OpenTelemetry log
// bridge, receive the same entries as the primary writer.
func New(cfg *Config, extra ...zapcore.Core) (*zap.Logger, error) {
	c := Config{Level: "info", Format: "console"}
	if cfg != nil {
		c = *cfg
	}
	if c.TimeFormat == "" {
		c.TimeFormat = ISO8601Millis
	}

	writer, err := openWriter(c.Output)
	if err != nil {
		return nil, err
	}
	primary := zapcore.NewCore(newEncoder(c.Format, c.TimeFormat), writer, ParseLevel(c.Level))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if fields := c.fields(); len(fields) > 0 {
		opts = append(opts, zap.Fields(fields...))
	}
	return zap.New(zapcore.NewTee(append([]zapcore.Core{primary}, extra...)...), opts...), nil
}

func (c Config) fields() []zap.Field {
	var fields []zap.Field
	if c.Service != "" {
		fields = append(fields, zap.String("service", c.Service))
	}
	if c.Env != "" {
		fields = append(fields, zap.String("env", c.Env))
	}
	return fields
}

// ParseLevel converts a level name to a zapcore.Level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func newEncoder(format, timeLayout string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "time"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeDuration = zapcore.MillisDurationEncoder
	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openWriter(output string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return zapcore.AddSync(f), nil
}

// Sync flushes buffered entries. Syncing a terminal fails on some
// platforms; those errors are dropped.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	if err != nil && strings.Contains(err.Error(), "inappropriate ioctl") {
		return nil
	}
	return err
}
