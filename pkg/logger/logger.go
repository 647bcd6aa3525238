package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once  sync.Once
	sugar *zap.SugaredLogger
)

// Init initializes the global zap logger. level is one of zap's level
// names ("debug", "info", "warn", "error"); an empty or unknown level
// keeps the config default.
func Init(prod bool, level string) {
	once.Do(func() {
		var cfg zap.Config
		if prod {
			cfg = zap.NewProductionConfig()
		} else {
			cfg = zap.NewDevelopmentConfig()
		}
		if lvl, err := zapcore.ParseLevel(level); err == nil && level != "" {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}

		logger, err := cfg.Build()
		if err != nil {
			panic(err)
		}
		sugar = logger.Sugar()
	})
}

// Get returns the global logger
func Get() *zap.SugaredLogger {
	Init(false, "") // default to dev; no-op once initialized
	return sugar
}

// Sync flushes buffered log entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}
