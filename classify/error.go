package classify

import (
	"fmt"
	"log/slog"
	"time"
)

// ClassifiedError is a raw failure annotated with the category, severity and
// retryability used to drive recovery decisions. It is immutable once created;
// downstream components copy it into their own records rather than mutating it.
type ClassifiedError struct {
	// Original is the failure as produced by the operation.
	Original error
	// Category is the failure taxonomy bucket.
	Category Category
	// Severity ranks the failure for alerting purposes.
	Severity Severity
	// Retryable reports whether retrying the operation may succeed.
	Retryable bool
	// FallbackAvailable reports whether a degraded answer is typically possible.
	FallbackAvailable bool
	// Temporary mirrors Retryable for callers that only care about transience.
	Temporary bool
	// Recoverable reports whether any recovery strategy (retry or fallback)
	// is worth attempting.
	Recoverable bool
	// RequiresUserAction reports whether the end user has to intervene.
	RequiresUserAction bool
	// Operation and Component come from the classification Context.
	Operation string
	Component string
	// OccurredAt is the classification timestamp.
	OccurredAt time.Time
}

// Error implements the error interface, prefixing the original message with
// the category so surfaced errors remain pattern-matchable.
func (e ClassifiedError) Error() string {
	if e.Original == nil {
		return string(e.Category)
	}

	return fmt.Sprintf("%s: %s", e.Category, e.Original.Error())
}

// Unwrap exposes the original failure for errors.Is / errors.As matching.
func (e ClassifiedError) Unwrap() error {
	return e.Original
}

// IsZero reports whether the value was produced from a nil error.
func (e ClassifiedError) IsZero() bool {
	return e.Original == nil && e.Category == ""
}

// LogValue renders the classification as structured slog attributes.
func (e ClassifiedError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("category", string(e.Category)),
		slog.String("severity", e.Severity.String()),
		slog.Bool("retryable", e.Retryable),
	}

	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}

	if e.Original != nil {
		attrs = append(attrs, slog.String("error", e.Original.Error()))
	}

	return slog.GroupValue(attrs...)
}
