package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Categories(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"database keyword", errors.New("database connection pool exhausted"), CategoryDatabase},
		{"sql keyword", errors.New("sql: no rows in result set"), CategoryDatabase},
		{"deadlock", errors.New("deadlock detected"), CategoryDatabase},
		{"authn", errors.New("invalid credentials supplied"), CategoryAuthentication},
		{"authz", errors.New("permission denied for resource"), CategoryAuthorization},
		{"validation", errors.New("invalid input: missing required field name"), CategoryValidation},
		{"network", errors.New("dial tcp: connection refused"), CategoryNetwork},
		{"timeout message", errors.New("operation timed out after 5s"), CategoryTimeout},
		{"timeout wins over database", errors.New("database query timed out"), CategoryTimeout},
		{"external api", errors.New("upstream returned bad gateway"), CategoryExternalAPI},
		{"rate limit is external", errors.New("rate limit exceeded"), CategoryExternalAPI},
		{"system", errors.New("out of memory"), CategorySystem},
		{"unmatched defaults to business logic", errors.New("order already shipped"), CategoryBusinessLogic},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ce := Classify(tt.err, Context{})
			assert.Equal(t, tt.expected, ce.Category)
		})
	}
}

func TestClassify_StructuralSignals(t *testing.T) {
	t.Parallel()

	t.Run("deadline exceeded", func(t *testing.T) {
		t.Parallel()

		ce := Classify(fmt.Errorf("calling api: %w", context.DeadlineExceeded), Context{})
		assert.Equal(t, CategoryTimeout, ce.Category)
		assert.True(t, ce.Retryable)
	})

	t.Run("canceled is never retryable", func(t *testing.T) {
		t.Parallel()

		ce := Classify(fmt.Errorf("aborted: %w", context.Canceled), Context{})
		assert.Equal(t, CategorySystem, ce.Category)
		assert.False(t, ce.Retryable)
	})

	t.Run("net timeout", func(t *testing.T) {
		t.Parallel()

		ce := Classify(&net.DNSError{Err: "lookup failed", IsTimeout: true}, Context{})
		assert.Equal(t, CategoryTimeout, ce.Category)
	})

	t.Run("net error without timeout", func(t *testing.T) {
		t.Parallel()

		ce := Classify(&net.DNSError{Err: "lookup failed"}, Context{})
		assert.Equal(t, CategoryNetwork, ce.Category)
	})
}

func TestClassify_Severity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected Severity
	}{
		{"system is critical", errors.New("internal error in scheduler"), SeverityCritical},
		{"database is high", errors.New("database unavailable"), SeverityHigh},
		{"authorization is high", errors.New("access denied"), SeverityHigh},
		{"business logic is medium", errors.New("duplicate order"), SeverityMedium},
		{"timeout is medium", errors.New("request timed out"), SeverityMedium},
		{"validation is low", errors.New("invalid input"), SeverityLow},
		{"oom overrides to critical", errors.New("worker killed: out of memory"), SeverityCritical},
		{"critical keyword overrides", errors.New("critical: replication stalled in db"), SeverityCritical},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ce := Classify(tt.err, Context{})
			assert.Equal(t, tt.expected, ce.Severity)
		})
	}
}

func TestClassify_RetryOverrides(t *testing.T) {
	t.Parallel()

	// Validation is never retryable by table, but a transient upstream
	// signal in the message wins.
	ce := Classify(errors.New("invalid input: service unavailable"), Context{})
	assert.True(t, ce.Retryable)

	ce = Classify(errors.New("too many requests, try again later"), Context{})
	assert.True(t, ce.Retryable)
}

func TestRetryableTable(t *testing.T) {
	t.Parallel()

	retryable := []Category{CategoryTimeout, CategoryNetwork, CategoryExternalAPI, CategoryDatabase}
	for _, c := range retryable {
		assert.True(t, c.Retryable(), "category %s should be retryable", c)
	}

	never := []Category{
		CategoryValidation, CategoryAuthentication, CategoryAuthorization,
		CategorySystem, CategoryBusinessLogic,
	}
	for _, c := range never {
		assert.False(t, c.Retryable(), "category %s should not be retryable", c)
	}
}

func TestCategory_HTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category Category
		status   int
	}{
		{CategoryValidation, http.StatusBadRequest},
		{CategoryAuthentication, http.StatusUnauthorized},
		{CategoryAuthorization, http.StatusForbidden},
		{CategoryBusinessLogic, http.StatusUnprocessableEntity},
		{CategoryTimeout, http.StatusGatewayTimeout},
		{CategoryExternalAPI, http.StatusBadGateway},
		{CategoryNetwork, http.StatusServiceUnavailable},
		{CategoryDatabase, http.StatusInternalServerError},
		{CategorySystem, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		assert.Equal(t, tt.status, tt.category.HTTPStatus(), "category %s", tt.category)
	}
}

func TestClassifiedError_ErrorAndUnwrap(t *testing.T) {
	t.Parallel()

	original := errors.New("database is down")
	ce := Classify(original, Context{Operation: "load-profile"})

	require.ErrorIs(t, ce, original, "classified error must unwrap to the original")
	assert.Equal(t, "database: database is down", ce.Error())
	assert.Equal(t, "load-profile", ce.Operation)
	assert.WithinDuration(t, time.Now(), ce.OccurredAt, time.Minute)
}

func TestClassify_NilError(t *testing.T) {
	t.Parallel()

	ce := Classify(nil, Context{})
	assert.True(t, ce.IsZero())
}

func TestClassify_Idempotent(t *testing.T) {
	t.Parallel()

	original := errors.New("sql deadlock detected")
	first := Classify(original, Context{Operation: "update-balance"})

	// Classifying a classified error, or anything wrapping one, passes the
	// original classification through unchanged.
	again := Classify(first, Context{Operation: "other-op"})
	assert.Equal(t, first, again)
	assert.Equal(t, "database: sql deadlock detected", again.Error(),
		"no nested category prefix")

	wrapped := Classify(fmt.Errorf("sweep: %w", first), Context{})
	assert.Equal(t, first.Category, wrapped.Category)
	assert.Equal(t, "update-balance", wrapped.Operation)
	require.ErrorIs(t, wrapped, original)
}
