package logger

import (
	"io"
	"log/slog"
	"strings"
)

type Backend string

const (
	BackendStd Backend = "std" // text в dev; JSON в stage/prod
	BackendZap Backend = "zap" // slog поверх zap
)

type Config struct {
	// Метаданные процесса
	Service    string
	Version    string
	InstanceID string

	// Управление выводом
	Level   slog.Level
	Env     Env
	Backend Backend // default: zap для stage/prod, std для dev
	Debug   bool

	// Zap sampling
	SampleInitial    int
	SampleThereafter int

	AddSource bool

	// Куда писать; nil: os.Stdout
	Output io.Writer
}

// ParseLevel понимает debug|info|warn|error, всё остальное: info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) level() slog.Level {
	if c.Debug && c.Level == 0 {
		return slog.LevelDebug
	}
	return c.Level
}
