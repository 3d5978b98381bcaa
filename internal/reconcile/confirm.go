package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/facematch"
)

// ConfirmResult identifies the resolved child of a confirmed pair.
type ConfirmResult struct {
	ResolvedChildID string `json:"child_id"`
	ParentID        string `json:"parent_report_id"`
	VolunteerID     string `json:"volunteer_report_id"`
	// Created is false when the pair was already confirmed and its resolved
	// child already existed.
	Created bool `json:"created"`
}

// Confirm finalizes the link of id: both sides are marked confirmed and one
// ResolvedChild is created. Confirming an already confirmed pair returns the
// ResolvedChild of that confirmation without creating another.
func (e *Engine) Confirm(ctx context.Context, id string) (*ConfirmResult, error) {
	self, other, unlock, err := e.lockPair(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := e.checkPair(self, other); err != nil {
		return nil, err
	}
	parent, volunteer := orient(self, other)
	log := e.log.WithFields(logrus.Fields{
		"parent_id":    parent.ID,
		"volunteer_id": volunteer.ID,
	})

	if parent.Match.Confirmed && volunteer.Match.Confirmed {
		existing, err := e.store.FindResolvedChildByPair(ctx, parent.ID, volunteer.ID)
		if err != nil {
			return nil, fmt.Errorf("looking up resolved child: %w", err)
		}
		// A child older than the current confirmation belongs to an earlier,
		// since rejected, confirmation of the same two reports.
		if existing != nil && !existing.CreatedAt.Before(confirmedSince(parent, volunteer)) {
			log.WithField("child_id", existing.ID).Info("pair already confirmed")
			return &ConfirmResult{
				ResolvedChildID: existing.ID,
				ParentID:        parent.ID,
				VolunteerID:     volunteer.ID,
			}, nil
		}
	}

	now := e.now().UTC()
	parentWritten := false
	if !parent.Match.Confirmed {
		ok, err := e.store.CompareAndSetMatch(ctx, database.RoleParent, parent.ID, volunteer.ID, confirmedState(parent.Match, now))
		if err != nil {
			return nil, fmt.Errorf("confirming parent report %s: %w", parent.ID, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: parent report %s changed while confirming", ErrConflict, parent.ID)
		}
		parentWritten = true
	}

	if !volunteer.Match.Confirmed {
		ok, err := e.store.CompareAndSetMatch(ctx, database.RoleVolunteer, volunteer.ID, parent.ID, confirmedState(volunteer.Match, now))
		if err == nil && !ok {
			err = fmt.Errorf("%w: volunteer report %s changed while confirming", ErrConflict, volunteer.ID)
		}
		if err != nil {
			if !parentWritten {
				return nil, fmt.Errorf("confirming volunteer report %s: %w", volunteer.ID, err)
			}
			rolledBack := e.restore(ctx, database.RoleParent, parent.ID, volunteer.ID, parent.Match)
			log.WithFields(logrus.Fields{
				"failed_side": database.RoleVolunteer,
				"rolled_back": rolledBack,
				"error":       err,
			}).Error("confirmation failed halfway")
			return nil, &PartialUpdateError{
				Op:         "confirm",
				FirstID:    parent.ID,
				SecondID:   volunteer.ID,
				FailedSide: database.RoleVolunteer,
				RolledBack: rolledBack,
				Err:        err,
			}
		}
	}

	child := e.mergeChild(parent, volunteer, now)
	if err := e.store.InsertResolvedChild(ctx, child); err != nil {
		// Both sides are confirmed; a retried Confirm creates the missing record.
		log.WithField("error", err).Error("failed to store resolved child")
		return nil, fmt.Errorf("storing resolved child: %w", err)
	}

	log.WithFields(logrus.Fields{
		"child_id": child.ID,
		"score":    child.MatchScore,
	}).Info("match confirmed")
	return &ConfirmResult{
		ResolvedChildID: child.ID,
		ParentID:        parent.ID,
		VolunteerID:     volunteer.ID,
		Created:         true,
	}, nil
}

// confirmedSince is when the pair's current confirmation completed.
func confirmedSince(parent, volunteer *database.Report) time.Time {
	var t time.Time
	for _, at := range []*time.Time{parent.Match.ConfirmedAt, volunteer.Match.ConfirmedAt} {
		if at != nil && at.After(t) {
			t = *at
		}
	}
	return t
}

func confirmedState(m database.MatchState, now time.Time) database.MatchState {
	return database.MatchState{
		LinkedID:    m.LinkedID,
		Score:       m.Score,
		Confirmed:   true,
		ConfirmedAt: &now,
	}
}

// mergeChild builds the resolved record: identity and appearance from the
// parent, where the child was found from the volunteer, marks from both.
func (e *Engine) mergeChild(parent, volunteer *database.Report, now time.Time) *database.ResolvedChild {
	complexion := parent.Child.Complexion
	if complexion == "" {
		complexion = volunteer.Child.Complexion
	}
	return &database.ResolvedChild{
		ID:                e.newID(),
		ParentReportID:    parent.ID,
		VolunteerReportID: volunteer.ID,
		Child: database.ResolvedDetails{
			Name:                parent.Child.Name,
			Age:                 parent.Child.Age,
			Complexion:          complexion,
			DistinguishingMarks: facematch.UnionMarks(parent.Child.DistinguishingMarks, volunteer.Child.DistinguishingMarks),
			CityLastSeen:        parent.Child.City,
			CityFound:           volunteer.Child.City,
			AddressFound:        volunteer.Child.Address,
		},
		ParentImageRef:    parent.ImageRef,
		VolunteerImageRef: volunteer.ImageRef,
		MatchScore:        pairScore(parent, volunteer),
		CreatedAt:         now,
	}
}

func pairScore(parent, volunteer *database.Report) float64 {
	if parent.Match.Score != nil {
		return *parent.Match.Score
	}
	if volunteer.Match.Score != nil {
		return *volunteer.Match.Score
	}
	return 0
}
