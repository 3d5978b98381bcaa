package reconcile

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/tether/internal/database"
)

var (
	// ErrNotFound means the report ID is unknown in both collections.
	ErrNotFound = errors.New("report not found")
	// ErrNoMatch means the report exists but is not linked.
	ErrNoMatch = errors.New("report has no match")
	// ErrIncompleteMatch means the report is linked but its counterpart is
	// missing or does not point back. It is a store consistency fault.
	ErrIncompleteMatch = errors.New("match is incomplete")
	// ErrInvalidRole is returned for submissions outside {parent, volunteer}.
	ErrInvalidRole = database.ErrInvalidRole
	// ErrInvalidSubmission wraps submission validation failures.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrConflict means a record changed while the engine held its pair lock,
	// which only happens when a distributed lock expired.
	ErrConflict = errors.New("concurrent update")
	// ErrPartialUpdate marks a two-sided write where the second side failed.
	ErrPartialUpdate = errors.New("partial update")
)

// PartialUpdateError describes a two-sided write that failed after the first
// side was written. RolledBack reports whether the first side was restored.
type PartialUpdateError struct {
	Op         string
	FirstID    string
	SecondID   string
	FailedSide database.Role
	RolledBack bool
	Err        error
}

func (e *PartialUpdateError) Error() string {
	state := "first side left written"
	if e.RolledBack {
		state = "first side rolled back"
	}
	return fmt.Sprintf("%s %s/%s: %s write failed, %s: %v", e.Op, e.FirstID, e.SecondID, e.FailedSide, state, e.Err)
}

// Unwrap exposes both ErrPartialUpdate and the underlying store error.
func (e *PartialUpdateError) Unwrap() []error {
	return []error{ErrPartialUpdate, e.Err}
}
