package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and invocation identifiers.
func WithOperation(logger *zap.Logger, operation, invocationID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if invocationID != "" {
		fields = append(fields, zap.String("invocation_id", invocationID))
	}
	return logger.With(fields...)
}
