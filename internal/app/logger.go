package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the application logger: JSON in deployments that set
// LOG_FORMAT=json, human-readable text otherwise. Source locations are
// attached outside production where the cost does not matter.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: !cfg.IsProduction()}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
