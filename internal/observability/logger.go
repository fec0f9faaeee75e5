// Package observability provides the scanner's structured logging,
// Prometheus metrics, tracing handle, and health-check resource
// snapshot — the ambient stack every API, queue, and worker component
// depends on.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"surfacescan/internal/config"
)

// NewLogger builds a zap.Logger from the observability config: JSON
// output unless cfg.LogFormat is "console", level set from
// cfg.LogLevel. Grounded on the teacher's own `zap.NewProduction()`
// call sites (e.g. cmd/railway-server/main.go), generalized to a
// config-driven level/format instead of the hardcoded preset.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.LogFormat == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}
