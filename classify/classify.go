// Package classify turns raw failures into classified errors that carry a
// category, a severity, and a retryability verdict. The classification is the
// single source of truth consulted by every other resilience component when it
// decides whether to retry, trip a breaker, or dead-letter an operation.
//
// Classification is pure and synchronous: structural signals (context errors,
// net.Error) are checked first, then the failure message is matched against
// per-category keyword tables.
//
// Basic usage:
//
//	ce := classify.Classify(err, classify.Context{Operation: "fetch-user"})
//	if ce.Retryable {
//	    // schedule a retry
//	}
package classify

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Context carries optional caller-supplied hints about the failed operation.
type Context struct {
	// Operation is the name of the operation that produced the failure.
	Operation string
	// Component identifies the subsystem the failure originated from.
	Component string
}

// categoryKeywords maps each category to the lowercase substrings that select
// it. Order of categoryMatchOrder below decides precedence when a message
// matches more than one table.
var categoryKeywords = map[Category][]string{ //nolint:gochecknoglobals
	CategoryTimeout: {
		"timeout", "timed out", "deadline exceeded",
	},
	CategoryNetwork: {
		"network", "connection refused", "connection reset", "no such host",
		"broken pipe", "econnrefused", "econnreset", "dns",
	},
	CategoryDatabase: {
		"database", "sql", "postgres", "mysql", "sqlite", "deadlock",
		"too many connections", "constraint", "transaction",
	},
	CategoryAuthentication: {
		"unauthenticated", "invalid credentials", "invalid token",
		"token expired", "login failed", "authentication",
	},
	CategoryAuthorization: {
		"unauthorized", "forbidden", "permission denied", "access denied",
		"not allowed", "authorization",
	},
	CategoryValidation: {
		"validation", "invalid input", "invalid argument", "malformed",
		"missing required", "bad request", "parse error",
	},
	CategoryExternalAPI: {
		"external", "api error", "upstream", "bad gateway", "status 5",
		"service error", "rate limit", "too many requests", "quota",
	},
	CategorySystem: {
		"out of memory", "disk full", "no space left", "panic",
		"internal error", "system", "resource exhausted", "file system",
	},
}

// categoryMatchOrder fixes the precedence of keyword matching. Timeout and
// network come first so that "database connection timed out" classifies as a
// timeout rather than a database failure.
var categoryMatchOrder = []Category{ //nolint:gochecknoglobals
	CategoryTimeout,
	CategoryNetwork,
	CategoryDatabase,
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryValidation,
	CategoryExternalAPI,
	CategorySystem,
}

// retryOverrides force Retryable regardless of category when the message
// signals a transient upstream condition.
var retryOverrides = []string{ //nolint:gochecknoglobals
	"rate limit", "too many requests",
	"temporarily unavailable", "service unavailable",
	"try again",
}

// criticalOverrides escalate severity to critical regardless of category.
var criticalOverrides = []string{ //nolint:gochecknoglobals
	"out of memory", "critical",
}

// Classify derives a ClassifiedError from a raw failure. It never returns an
// error itself and never performs I/O. A nil err yields a zero-valued
// ClassifiedError with Original == nil.
func Classify(err error, cctx Context) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	// Classification is idempotent: an already-classified failure passes
	// through unchanged rather than being re-matched on its message.
	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	category := categorize(err)
	msg := strings.ToLower(err.Error())

	severity := category.severity()
	if containsAny(msg, criticalOverrides) {
		severity = SeverityCritical
	}

	retryable := category.Retryable()
	if containsAny(msg, retryOverrides) {
		retryable = true
	}

	// Caller-initiated cancellation is never worth retrying, whatever the
	// message looks like.
	if errors.Is(err, context.Canceled) {
		retryable = false
	}

	return ClassifiedError{
		Original:           err,
		Category:           category,
		Severity:           severity,
		Retryable:          retryable,
		FallbackAvailable:  category.fallbackAvailable(),
		Temporary:          retryable,
		Recoverable:        retryable || category.fallbackAvailable(),
		RequiresUserAction: category.requiresUserAction(),
		Operation:          cctx.Operation,
		Component:          cctx.Component,
		OccurredAt:         time.Now(),
	}
}

// categorize resolves the failure category, preferring structural error
// signals over keyword matching.
func categorize(err error) Category {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, context.Canceled):
		return CategorySystem
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}

		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, category := range categoryMatchOrder {
		if containsAny(msg, categoryKeywords[category]) {
			return category
		}
	}

	return CategoryBusinessLogic
}

func containsAny(msg string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}

	return false
}
