package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var level = new(slog.LevelVar)

// Configure installs the process-wide default logger. level is one of
// DEBUG, INFO, WARN or ERROR (INFO when unrecognized); format "json" selects
// the JSON handler, anything else the text handler.
func Configure(levelName string, format string) *slog.Logger {
	return ConfigureWriter(os.Stdout, levelName, format)
}

func ConfigureWriter(w io.Writer, levelName string, format string) *slog.Logger {
	level.Set(ParseLevel(levelName))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of the logger installed by Configure.
func SetLevel(l slog.Level) {
	level.Set(l)
}

func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
