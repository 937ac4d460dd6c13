package mqttbroker

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewSlogLogger routes slog records into zap. The broker library logs
// through slog.
func NewSlogLogger(logger *zap.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return slog.New(&zapHandler{logger: logger})
}

type zapHandler struct {
	logger *zap.Logger
	attrs  []slog.Attr
}

func (h *zapHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(zapLevel(level))
}

func (h *zapHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.attrs)+record.NumAttrs())
	for _, attr := range h.attrs {
		fields = append(fields, attrField(attr))
	}
	var errMsg string
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "error" {
			if v, ok := attr.Value.Any().(error); ok {
				errMsg = v.Error()
			} else {
				errMsg = attr.Value.String()
			}
		}
		fields = append(fields, attrField(attr))
		return true
	})
	// Clients hanging up surface as EOF read errors.
	if errMsg == "EOF" || strings.Contains(errMsg, "read connection: EOF") {
		h.logger.Debug("embedded mqtt connection closed", fields...)
		return nil
	}
	if ce := h.logger.Check(zapLevel(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func (h *zapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next = append(next, h.attrs...)
	next = append(next, attrs...)
	return &zapHandler{logger: h.logger, attrs: next}
}

func (h *zapHandler) WithGroup(name string) slog.Handler {
	return &zapHandler{logger: h.logger.Named(name), attrs: h.attrs}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func attrField(attr slog.Attr) zap.Field {
	switch attr.Value.Kind() {
	case slog.KindString:
		return zap.String(attr.Key, attr.Value.String())
	case slog.KindInt64:
		return zap.Int64(attr.Key, attr.Value.Int64())
	case slog.KindUint64:
		return zap.Uint64(attr.Key, attr.Value.Uint64())
	case slog.KindFloat64:
		return zap.Float64(attr.Key, attr.Value.Float64())
	case slog.KindBool:
		return zap.Bool(attr.Key, attr.Value.Bool())
	case slog.KindDuration:
		return zap.Duration(attr.Key, attr.Value.Duration())
	default:
		return zap.Any(attr.Key, attr.Value.Any())
	}
}
