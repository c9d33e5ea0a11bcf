package logger

import (
	"log/slog"
	"os"

	"github.com/andrewmcl6081/cloudchat/internal/config"
)

func NewLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logger.Level {
	case "debug", "DEBUG":
		level = slog.LevelDebug
	case "warn", "WARN":
		level = slog.LevelWarn
	case "error", "ERROR":
		level = slog.LevelError
	}
	var handler slog.Handler
	switch cfg.Logger.Format {
	case "TEXT":
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     level,
			AddSource: true, // critical for incident debugging
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     level,
			AddSource: true, // critical for incident debugging
		})
	}
	logger := slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("env", cfg.Service.Env),
		slog.String("server_id", cfg.Service.ID),
		slog.Int("pid", os.Getpid()),
	)
	slog.SetDefault(logger)
	return logger
}
