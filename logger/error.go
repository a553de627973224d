package logger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// AnnotateError attaches slog key-value pairs to an error. When the returned
// error is logged through a handler installed by Configure, the attributes
// are lifted out of the error and added to the log record. Returns nil if err
// is nil.
func AnnotateError(err error, args ...any) error {
	if err == nil {
		return nil
	}

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "", 0)
	r.Add(args...)

	var attrs []slog.Attr

	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)

		return true
	})

	return &annotatedError{
		err:   err,
		attrs: attrs,
	}
}

type annotatedError struct {
	err   error
	attrs []slog.Attr
}

func (a *annotatedError) Error() string {
	return a.err.Error()
}

func (a *annotatedError) Unwrap() error {
	return a.err
}

var _ error = (*annotatedError)(nil)

// errorHandler decorates another slog.Handler. It finds annotated errors
// among a record's attributes, replaces them with the underlying error, and
// appends the embedded attributes to the record.
type errorHandler struct {
	inner slog.Handler
}

var _ slog.Handler = (*errorHandler)(nil)

func (h *errorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *errorHandler) Handle(ctx context.Context, record slog.Record) error {
	var (
		baseAttrs []slog.Attr
		errAttrs  []slog.Attr
	)

	record.Attrs(func(attr slog.Attr) bool {
		if err, ok := attr.Value.Any().(error); ok {
			var annotated *annotatedError

			if errors.As(err, &annotated) {
				baseAttrs = append(baseAttrs, slog.Attr{
					Key:   attr.Key,
					Value: slog.AnyValue(annotated.err),
				})
				errAttrs = append(errAttrs, annotated.attrs...)

				return true
			}
		}

		baseAttrs = append(baseAttrs, attr)

		return true
	})

	if len(errAttrs) == 0 {
		return h.inner.Handle(ctx, record)
	}

	r := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	r.AddAttrs(baseAttrs...)
	r.AddAttrs(errAttrs...)

	return h.inner.Handle(ctx, r)
}

func (h *errorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &errorHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *errorHandler) WithGroup(name string) slog.Handler {
	return &errorHandler{inner: h.inner.WithGroup(name)}
}
