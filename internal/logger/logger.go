package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Log = zap.NewNop()

// Init replaces the global logger. debug switches to the development
// encoder at Debug level, trace keeps the production encoder but lowers the
// level to Debug so per-event lines are emitted.
func Init(debug, trace bool) error {
	return build(newConfig(debug, trace))
}

func newConfig(debug, trace bool) zap.Config {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.DisableStacktrace = true
	}

	if trace {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return cfg
}

// build leaves the current logger in place when cfg cannot be built.
func build(cfg zap.Config) error {
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	Log = l
	return nil
}

func Sync() {
	_ = Log.Sync()
}

// Tracing reports whether debug-level lines are enabled.
func Tracing() bool {
	return Log.Core().Enabled(zap.DebugLevel)
}
