package infra

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrQueueClosed       = errors.New("submission queue is closed")
	ErrQueueAborted      = errors.New("submission queue was aborted")
	ErrSignRejected      = errors.New("signing rejected")
	ErrRecordUnavailable = errors.New("transaction record unavailable")
	ErrNoSigner          = errors.New("no signer configured")
)

// ConflictError signals that the submitted sequence number was stale.
// SuggestedNonce is the replacement recommended by the service, if any.
type ConflictError struct {
	Message        string
	SuggestedNonce string
	Status         int
}

func (e *ConflictError) Error() string {
	if e.SuggestedNonce != "" {
		return fmt.Sprintf("nonce conflict: %s (suggested nonce %s)", e.Message, e.SuggestedNonce)
	}
	return fmt.Sprintf("nonce conflict: %s", e.Message)
}

// SubmissionError is the terminal failure of a single call: attempts were
// exhausted or a non-recoverable transport or signing error occurred.
type SubmissionError struct {
	Method         string
	RequestID      string
	Attempts       int
	SuggestedNonce string
	Err            error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submission of %s failed", e.Method)
	if e.RequestID != "" {
		msg += fmt.Sprintf(" (request %s)", e.RequestID)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// QueueExecutionError is a failure of the queue machinery itself,
// unrelated to what the ledger did with the transaction
type QueueExecutionError struct {
	CallID uuid.UUID
	Err    error
}

func (e *QueueExecutionError) Error() string {
	return fmt.Sprintf("queue execution of call %s failed: %v", e.CallID, e.Err)
}

func (e *QueueExecutionError) Unwrap() error {
	return e.Err
}

func asConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
