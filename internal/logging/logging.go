package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs a text slog handler on stderr. LOG_LEVEL overrides def.
func Init(def slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: Level(os.Getenv("LOG_LEVEL"), def),
	})))
}

// Level parses a LOG_LEVEL value, falling back to def for unknown input.
func Level(raw string, def slog.Level) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "production", "prod":
		return slog.LevelError
	}
	return def
}
