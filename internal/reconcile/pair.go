package reconcile

import (
	"context"

	"github.com/kozaktomas/tether/internal/database"
)

// MatchPair is a linked parent/volunteer pair as seen from one of its reports.
type MatchPair struct {
	SubmissionID string           `json:"submission_id"`
	Score        float64          `json:"match_score"`
	Parent       *database.Report `json:"parent_report"`
	Volunteer    *database.Report `json:"volunteer_report"`
}

// GetMatchPair resolves id in either collection and returns it with its
// counterpart. The score is taken from the requested report.
//
// It fails with ErrNotFound for an unknown id, ErrNoMatch for an unlinked
// report and ErrIncompleteMatch when the counterpart is missing or does not
// link back.
func (e *Engine) GetMatchPair(ctx context.Context, id string) (*MatchPair, error) {
	self, err := e.findReport(ctx, id)
	if err != nil {
		return nil, err
	}
	other, err := e.counterpart(ctx, self)
	if err != nil {
		return nil, err
	}
	if err := e.checkPair(self, other); err != nil {
		return nil, err
	}

	pair := &MatchPair{SubmissionID: id}
	if self.Match.Score != nil {
		pair.Score = *self.Match.Score
	}
	pair.Parent, pair.Volunteer = orient(self, other)
	return pair, nil
}
