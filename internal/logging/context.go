package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GenerateTraceID returns a new request trace ID.
func GenerateTraceID() string {
	return uuid.NewString()
}

// WithTraceContext attaches a traced logger to ctx.
func WithTraceContext(ctx context.Context, logger zerolog.Logger) (context.Context, zerolog.Logger) {
	l := logger.With().Str("trace_id", GenerateTraceID()).Logger()
	return l.WithContext(ctx), l
}

// FromContext returns the logger stored in ctx, or a disabled one.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// AnalysisContext tags a logger with the series being analysed.
func AnalysisContext(logger zerolog.Logger, symbol, timeframe string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Str("timeframe", timeframe).Logger()
}

// RiskContext tags a logger with sizing inputs.
func RiskContext(logger zerolog.Logger, symbol string, riskPercent float64) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Float64("risk_pct", riskPercent).Logger()
}

// WebSocketContext tags a logger with a stream name.
func WebSocketContext(logger zerolog.Logger, symbol, stream string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Str("stream", stream).Logger()
}
