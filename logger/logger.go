// Package logger configures log/slog for applications embedding the
// resilience packages. Every component takes a *slog.Logger; Configure builds
// the default one from the environment and installs the annotated-error
// handler so attributes attached via AnnotateError show up in the output.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync"
)

// configMutex serializes Configure calls, which mutate process-wide state
// (slog.SetDefault and the legacy log package).
var configMutex sync.Mutex //nolint:gochecknoglobals

// Options controls how the default logger is built.
type Options struct {
	JSON     bool
	MinLevel slog.Level
	Output   io.Writer
}

// Option is a functional option for Configure.
type Option func(*Options)

// WithJSON forces JSON output regardless of the LOG_JSON variable.
func WithJSON(json bool) Option {
	return func(o *Options) {
		o.JSON = json
	}
}

// WithMinLevel overrides the minimum log level.
func WithMinLevel(level slog.Level) Option {
	return func(o *Options) {
		o.MinLevel = level
	}
}

// WithOutput overrides the log destination.
func WithOutput(w io.Writer) Option {
	return func(o *Options) {
		o.Output = w
	}
}

// Configure reads LOG_JSON, LOG_LEVEL, and LOG_OUTPUT from the environment,
// applies the given options on top, and installs the resulting logger as the
// slog default. It returns the logger.
func Configure(opts ...Option) (*slog.Logger, error) {
	options := Options{
		JSON:     os.Getenv("LOG_JSON") == "true",
		MinLevel: slog.LevelInfo,
	}

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return nil, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}

		options.MinLevel = level
	}

	switch out := os.Getenv("LOG_OUTPUT"); out {
	case "", "stdout":
		options.Output = os.Stdout
	case "stderr":
		options.Output = os.Stderr
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogOutput, out)
	}

	for _, o := range opts {
		o(&options)
	}

	return ConfigureWithOptions(options), nil
}

// ErrInvalidLogOutput is returned when LOG_OUTPUT names an unknown
// destination.
var ErrInvalidLogOutput = errors.New("invalid log output")

// ConfigureWithOptions builds a logger from explicit options and installs it
// as the slog default. The legacy log package is redirected into the same
// handler for the benefit of third-party code.
func ConfigureWithOptions(opts Options) *slog.Logger {
	configMutex.Lock()
	defer configMutex.Unlock()

	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	} else {
		handler = slog.NewTextHandler(opts.Output, &slog.HandlerOptions{
			Level: opts.MinLevel,
		})
	}

	handler = &errorHandler{inner: handler}

	lg := slog.New(handler)
	slog.SetDefault(lg)

	def := log.Default()
	*def = *slog.NewLogLogger(handler, slog.LevelInfo)

	return lg
}
