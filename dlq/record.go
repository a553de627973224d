package dlq

import (
	"time"

	"github.com/amp-labs/amp-resilience/classify"
)

// Status is the lifecycle state of a failed operation in the queue.
type Status string

const (
	// StatusPending - waiting for its next automatic retry.
	StatusPending Status = "pending"
	// StatusProcessing - a retry handler is currently running.
	StatusProcessing Status = "processing"
	// StatusFailed - no handler is registered for the operation; it stays
	// queued until someone resolves it or retries it manually.
	StatusFailed Status = "failed"
	// StatusResolved - the operation eventually succeeded or was closed out.
	StatusResolved Status = "resolved"
	// StatusPoison - the operation failed too many times and is quarantined.
	// Poison is terminal: no retry, automatic or manual, touches it again.
	StatusPoison Status = "poison"
)

// Terminal reports whether the status permits no further processing.
func (s Status) Terminal() bool {
	return s == StatusPoison
}

// FailedOperation is one dead-lettered operation. Accessors on Queue return
// copies; mutating a copy has no effect on the queued record.
type FailedOperation struct {
	// ID uniquely identifies the record.
	ID string
	// OperationName selects the retry handler.
	OperationName string
	// Payload is the operation input. Large payloads are stored
	// gzip-compressed; Compressed reports which form Payload is in.
	Payload []byte
	// Compressed reports whether Payload is gzip-compressed.
	Compressed bool
	// Fingerprint identifies duplicate failures of the same operation and
	// payload.
	Fingerprint uint64
	// Category is the classified failure category of the last error.
	Category classify.Category
	// Severity is the classified severity of the last error.
	Severity classify.Severity
	// ErrorMessage is the message of the last error.
	ErrorMessage string
	// Retryable mirrors the classification verdict of the last error.
	Retryable bool
	// Attempts counts every failed execution, the original one included.
	Attempts int
	// MaxAttempts caps automatic retries for this record; 0 falls back to
	// the queue's poison threshold.
	MaxAttempts int
	// FirstFailure is when the operation first dead-lettered.
	FirstFailure time.Time
	// LastAttempt is when the operation last executed.
	LastAttempt time.Time
	// NextRetry is when the sweep loop may pick the record up again.
	NextRetry time.Time
	// Status is the record's lifecycle state.
	Status Status
	// Priority orders sweep processing; higher goes first.
	Priority int
	// Tags carry caller-defined labels for filtering.
	Tags []string
}

// maxAttempts resolves the per-record cap against the queue default.
func (op *FailedOperation) maxAttempts(queueDefault int) int {
	if op.MaxAttempts > 0 {
		return op.MaxAttempts
	}

	return queueDefault
}

func (op *FailedOperation) clone() FailedOperation {
	out := *op
	out.Payload = append([]byte(nil), op.Payload...)
	out.Tags = append([]string(nil), op.Tags...)

	return out
}
