package cmux

import (
	"log/slog"
)

// NewLogListener returns a store listener that logs a debug line on every
// store notification. Useful while wiring up consumers; subscribe it like
// any other listener:
//
//	unsubscribe := store.Subscribe(cmux.NewLogListener(logger, store))
func NewLogListener(logger *slog.Logger, store *Store) Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return func() {
		recency := store.Recency()
		logger.Debug("workspace store changed", "workspaces", len(recency))
	}
}
