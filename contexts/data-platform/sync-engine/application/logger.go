package application

import "log/slog"

// Module is the structured-log module tag shared by every layer of the engine.
const Module = "data-platform/sync-engine"

func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
