// File: api/schemas/errors.go
// Description: Failure taxonomy and sentinel errors shared across the engine.
// Stage actions and collaborators return plain errors; the workflow engine
// classifies them here to decide between retrying, aborting the attempt, or
// stopping the batch.

package schemas

import (
	"context"
	"errors"
	"fmt"
)

// FailureClass partitions failures by how the orchestrator must react.
type FailureClass string

const (
	// FailureTransient is retriable within a stage (timing races, flaky
	// network). It never surfaces past the workflow engine.
	FailureTransient FailureClass = "transient"
	// FailureFatal aborts the attempt immediately.
	FailureFatal FailureClass = "fatal"
	// FailureResourceExhausted means no resource is Available. Terminal for
	// the batch, not an attempt error.
	FailureResourceExhausted FailureClass = "resource_exhausted"
	// FailureResourceConflict indicates a violated ledger invariant. It
	// should never occur; observing it is a programming error.
	FailureResourceConflict FailureClass = "resource_conflict"
	// FailureProvisioning covers external profile-provisioning errors.
	// Transient up to a retry budget, then fatal.
	FailureProvisioning FailureClass = "provisioning"
)

// Sentinel errors produced by the engine's components.
var (
	// ErrNoResource is returned by the ledger when the pool has no Available
	// resource. Callers must treat it as terminal for the batch.
	ErrNoResource = errors.New("no available resource in pool")
	// ErrResourceConflict reports a double reservation; the ledger's
	// atomicity makes this unreachable unless the store is corrupted.
	ErrResourceConflict = errors.New("resource already reserved")
	// ErrResourceRejected means the remote service refused the phone number
	// (already registered, blocked). The resource is burned.
	ErrResourceRejected = errors.New("phone number rejected by platform")
	// ErrChallengeUnsolvable is returned when a challenge is detected and no
	// solver is configured, or the solver gave up.
	ErrChallengeUnsolvable = errors.New("challenge detected and not solvable")
	// ErrOTPTimeout means the OTP wait expired before a code arrived.
	ErrOTPTimeout = errors.New("timed out waiting for otp code")
	// ErrOTPSkipped means the operator explicitly skipped OTP entry.
	ErrOTPSkipped = errors.New("otp entry skipped")
	// ErrStageTimeout wraps a stage action that exceeded its timeout.
	ErrStageTimeout = errors.New("stage timed out")
	// ErrProvisioning marks failures of the external provisioning API.
	ErrProvisioning = errors.New("profile provisioning failed")
)

// TransientError tags an error as retriable within a stage.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so Classify reports it as FailureTransient.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Classify maps an error to its failure class. Unknown errors are fatal:
// retrying an unclassified failure risks burning resources on a broken flow.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoResource):
		return FailureResourceExhausted
	case errors.Is(err, ErrResourceConflict):
		return FailureResourceConflict
	case errors.Is(err, ErrProvisioning):
		return FailureProvisioning
	case errors.Is(err, ErrResourceRejected),
		errors.Is(err, ErrChallengeUnsolvable),
		errors.Is(err, ErrOTPTimeout),
		errors.Is(err, ErrOTPSkipped):
		return FailureFatal
	}

	var te *TransientError
	if errors.As(err, &te) {
		return FailureTransient
	}
	// Deadline expiry on a stage action is a timing race until the retry
	// budget converts it.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrStageTimeout) {
		return FailureTransient
	}
	return FailureFatal
}
