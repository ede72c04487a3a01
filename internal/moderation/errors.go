package moderation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed workflow input.
	ErrValidation = errors.New("moderation: invalid input")

	// ErrNotFound marks a missing message or a missing flagged record.
	ErrNotFound = errors.New("moderation: not found")
)

// NotFoundError is returned when a transition targets a message/reporter
// pair that has no flagged record.
type NotFoundError struct {
	MessageID  string
	ReporterID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("moderation: no flagged record for message %s reporter %s", e.MessageID, e.ReporterID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreError wraps a failure from the Store with the operation that issued
// it. The cause stays reachable through errors.Is and errors.As.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("moderation: store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FailedRecord names one record DeleteAll could not resolve.
type FailedRecord struct {
	RecordID  string
	MessageID string
	Err       error
}

// PartialFailureError is returned by DeleteAll when only some records were
// confirmed. Failed records are left flagged and can be retried.
type PartialFailureError struct {
	Confirmed []string
	Failed    []FailedRecord
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("moderation: delete all: %d of %d records failed: %s",
		len(e.Failed), len(e.Failed)+len(e.Confirmed), strings.Join(e.FailedIDs(), ", "))
}

// FailedIDs lists the record ids that were not confirmed.
func (e *PartialFailureError) FailedIDs() []string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.RecordID
	}
	return ids
}

func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
