package assist

import (
	"context"
	"log/slog"
)

// Assistant is an opaque text-generation collaborator used for admin log
// summaries and passenger place suggestions. It sits outside the fare path:
// failures degrade the answer, never fare processing.
type Assistant interface {
	Summarize(ctx context.Context, logs []string) (string, error)
	Suggest(ctx context.Context, query string) ([]string, error)
}

// LoggerAssistant is a stub implementation that records requests to the
// logger and returns canned text.
type LoggerAssistant struct {
	logger *slog.Logger
}

// NewLoggerAssistant constructs the logging stub.
func NewLoggerAssistant(logger *slog.Logger) *LoggerAssistant {
	return &LoggerAssistant{logger: logger}
}

// Summarize returns a fixed placeholder summary.
func (a *LoggerAssistant) Summarize(_ context.Context, logs []string) (string, error) {
	if a != nil && a.logger != nil {
		a.logger.Info("assistant summarize", "lines", len(logs))
	}
	return "log analysis is not configured", nil
}

// Suggest returns no suggestions.
func (a *LoggerAssistant) Suggest(_ context.Context, query string) ([]string, error) {
	if a != nil && a.logger != nil {
		a.logger.Info("assistant suggest", "query", query)
	}
	return nil, nil
}
