// Package audit provides the append-only trail of every mutating
// operation's outcome. Entries are immutable once written: the package
// exposes no update or delete, and the audit collection's own policy denies
// mutation for every role, Admin included. This is a design invariant, not
// an oversight.
package audit

import (
	"context"
	"errors"
	"time"
)

// Status is the recorded outcome of an operation.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusFailure Status = "Failure"
)

// Entry is one audit record.
type Entry struct {
	ID            string
	At            time.Time
	PrincipalID   string
	Operation     string
	ResourcePath  string
	Before        map[string]any
	After         map[string]any
	Status        Status
	FailureReason string
}

// Validate rejects entries missing the identifying fields.
func (e Entry) Validate() error {
	if e.PrincipalID == "" || e.Operation == "" || e.ResourcePath == "" {
		return errors.New("audit: entry requires principal, operation and resource path")
	}
	if e.Status != StatusSuccess && e.Status != StatusFailure {
		return errors.New("audit: entry requires a status")
	}
	return nil
}

// Recorder appends entries. Append is the entire mutation surface.
type Recorder interface {
	Append(ctx context.Context, entry Entry) error
}

// Reader retrieves entries for export and review.
type Reader interface {
	// Range returns entries with At in [start, end), oldest first.
	Range(ctx context.Context, start, end time.Time) ([]Entry, error)
}
