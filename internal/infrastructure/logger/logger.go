package logger

import (
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

var current atomic.Pointer[slog.Logger]

// LogLevel represents log levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration
type Config struct {
	Level  LogLevel `toml:"level" json:"level" validate:"required,oneof=debug info warn error"`
	Format string   `toml:"format" json:"format" validate:"required,oneof=text json"`

	Output io.Writer `toml:"-" json:"-"`
}

// DefaultConfig is used when the config file has no [logging] table.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text"}
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// Init installs the process logger. An invalid config falls back to text/info.
func Init(config Config) {
	if err := config.Validate(); err != nil {
		slog.Error("invalid logger configuration", "error", err)
	}

	var level slog.Level
	switch config.Level {
	case LevelDebug:
		level = slog.LevelDebug
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	default:
		handler = slog.NewTextHandler(out, opts)
	}

	l := slog.New(handler)
	current.Store(l)
	slog.SetDefault(l)
}

func get() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return slog.Default()
}

func Debug(msg string, args ...any) { get().Debug(msg, args...) }

func Info(msg string, args ...any) { get().Info(msg, args...) }

func Warn(msg string, args ...any) { get().Warn(msg, args...) }

func Error(msg string, args ...any) { get().Error(msg, args...) }

// Fatal logs an error and exits with status 1.
func Fatal(msg string, args ...any) {
	get().Error(msg, args...)
	os.Exit(1)
}

// With returns a logger with additional context
func With(args ...any) *slog.Logger {
	return get().With(args...)
}

// Service creates a logger with service context
func Service(service string) *slog.Logger {
	return get().With("service", service)
}

// Channel creates a logger with channel context
func Channel(channel string) *slog.Logger {
	return get().With("channel", channel)
}

// User creates a logger with user context
func User(channel, user string) *slog.Logger {
	return get().With("channel", channel, "user", user)
}
