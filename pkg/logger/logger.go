package logger

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/zwy923/onebox/pkg/trace"
)

// NewLogger builds the process logger. LOG_FORMAT=console switches to the development encoder.
func NewLogger() *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if os.Getenv("LOG_FORMAT") == "console" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace adds the trace_id carried by ctx to logger.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
