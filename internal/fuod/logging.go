package fuod

import (
	"os"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig describes fuod logging options.
type LogConfig struct {
	Level     string
	Format    string
	Output    string
	AddSource bool
	UTC       bool
	Color     bool
}

// NewLogger creates a structured logger for fuod.
func NewLogger(cfg LogConfig) *zap.Logger {
	writer := os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		writer = os.Stderr
	}
	return newLogger(cfg, zapcore.Lock(writer))
}

func newLogger(cfg LogConfig, ws zapcore.WriteSyncer) *zap.Logger {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.UTC {
		encCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(time.RFC3339Nano))
		}
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		if cfg.Color {
			encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var opts []zap.Option
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	version, commit := buildVersion()
	return zap.New(zapcore.NewCore(encoder, ws, level), opts...).With(
		zap.String("app", "fuod"),
		zap.Int("pid", os.Getpid()),
		zap.String("version", version),
		zap.String("commit", commit),
	)
}

func buildVersion() (string, string) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev", "unknown"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	commit := "unknown"
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			commit = setting.Value
			break
		}
	}
	return version, commit
}
