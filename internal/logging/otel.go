package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// bridgeScope names the instrumentation scope of bridged records.
const bridgeScope = "github.com/fyrsmithlabs/almseed"

// WithOTel returns a logger that also sends every entry to provider through
// the otelzap bridge, at the configured level. A nil provider returns l
// unchanged.
//
// Bridged entries skip the redacting encoder, so callers must keep secrets
// out of fields just as they do for the stderr output.
func (l *Logger) WithOTel(provider log.LoggerProvider) *Logger {
	if provider == nil {
		return l
	}
	var bridge zapcore.Core = otelzap.NewCore(bridgeScope, otelzap.WithLoggerProvider(provider))
	if l.config != nil {
		if leveled, err := zapcore.NewIncreaseLevelCore(bridge, l.config.Level); err == nil {
			bridge = leveled
		}
	}
	tee := zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, bridge)
	})
	return &Logger{zap: l.zap.WithOptions(tee), config: l.config}
}
