package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/database"
)

// RejectStatus is the outcome of Reject.
type RejectStatus string

const (
	StatusRejected        RejectStatus = "rejected"
	StatusAlreadyRejected RejectStatus = "already-rejected"
)

// Reject releases the link of id so both reports become candidates again.
// Unknown and unlinked reports are a no-op reported as already-rejected.
// A one-sided link is repaired by clearing the surviving pointer. Rejecting a
// confirmed pair is allowed and leaves its resolved child untouched.
func (e *Engine) Reject(ctx context.Context, id string) (RejectStatus, error) {
	self, other, unlock, err := e.lockPair(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return StatusAlreadyRejected, nil
	}
	if err != nil {
		return "", err
	}
	defer unlock()

	if !self.Match.IsLinked() {
		return StatusAlreadyRejected, nil
	}
	if err := e.checkPair(self, other); err != nil {
		if err := e.clearOneSided(ctx, self); err != nil {
			return "", err
		}
		return StatusAlreadyRejected, nil
	}

	parent, volunteer := orient(self, other)
	log := e.log.WithFields(logrus.Fields{
		"parent_id":    parent.ID,
		"volunteer_id": volunteer.ID,
	})

	ok, err := e.store.CompareAndSetMatch(ctx, database.RoleParent, parent.ID, volunteer.ID, database.MatchState{})
	if err != nil {
		return "", fmt.Errorf("releasing parent report %s: %w", parent.ID, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: parent report %s changed while rejecting", ErrConflict, parent.ID)
	}

	ok, err = e.store.CompareAndSetMatch(ctx, database.RoleVolunteer, volunteer.ID, parent.ID, database.MatchState{})
	if err == nil && !ok {
		err = fmt.Errorf("%w: volunteer report %s changed while rejecting", ErrConflict, volunteer.ID)
	}
	if err != nil {
		rolledBack := e.restore(ctx, database.RoleParent, parent.ID, "", parent.Match)
		log.WithFields(logrus.Fields{
			"failed_side": database.RoleVolunteer,
			"rolled_back": rolledBack,
			"error":       err,
		}).Error("rejection failed halfway")
		return "", &PartialUpdateError{
			Op:         "reject",
			FirstID:    parent.ID,
			SecondID:   volunteer.ID,
			FailedSide: database.RoleVolunteer,
			RolledBack: rolledBack,
			Err:        err,
		}
	}

	if parent.Match.Confirmed {
		log.Warn("rejected a confirmed pair, its resolved child is kept")
	} else {
		log.Info("match rejected")
	}
	return StatusRejected, nil
}

// clearOneSided drops self's pointer when the counterpart is missing or links
// elsewhere. The counterpart itself is never touched.
func (e *Engine) clearOneSided(ctx context.Context, self *database.Report) error {
	ok, err := e.store.CompareAndSetMatch(ctx, self.Role, self.ID, self.Match.LinkedID, database.MatchState{})
	if err != nil {
		return fmt.Errorf("clearing one-sided link of %s: %w", self.ID, err)
	}
	if ok {
		e.log.WithFields(logrus.Fields{
			"report_id": self.ID,
			"role":      self.Role,
			"linked_id": self.Match.LinkedID,
		}).Warn("cleared one-sided link")
	}
	return nil
}
