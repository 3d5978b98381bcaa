package reconcile

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/database"
)

// IssueKind classifies a link inconsistency found by Audit.
type IssueKind string

const (
	// IssueDangling is a link to a report that does not exist.
	IssueDangling IssueKind = "dangling"
	// IssueAsymmetric is a link whose counterpart points elsewhere or nowhere.
	IssueAsymmetric IssueKind = "asymmetric"
	// IssueConfirmMismatch is a symmetric link confirmed on one side only.
	IssueConfirmMismatch IssueKind = "confirm-mismatch"
)

// AuditIssue is one inconsistent report.
type AuditIssue struct {
	Kind     IssueKind     `json:"kind"`
	Role     database.Role `json:"role"`
	ReportID string        `json:"report_id"`
	LinkedID string        `json:"linked_id"`
	Repaired bool          `json:"repaired"`
}

// AuditReport summarizes the link state of both collections.
type AuditReport struct {
	Parents    int          `json:"parents"`
	Volunteers int          `json:"volunteers"`
	Linked     int          `json:"linked_pairs"`
	Confirmed  int          `json:"confirmed_pairs"`
	Issues     []AuditIssue `json:"issues"`
}

// AuditOptions controls Audit.
type AuditOptions struct {
	// Repair clears one-sided links. Confirmation mismatches are only reported.
	Repair bool
	// Progress, when set, is called once per inspected report.
	Progress func()
}

// Audit scans both collections and reports links that break symmetry.
func (e *Engine) Audit(ctx context.Context, opts AuditOptions) (*AuditReport, error) {
	parents, err := e.store.ScanReports(ctx, database.RoleParent)
	if err != nil {
		return nil, fmt.Errorf("scanning parent reports: %w", err)
	}
	volunteers, err := e.store.ScanReports(ctx, database.RoleVolunteer)
	if err != nil {
		return nil, fmt.Errorf("scanning volunteer reports: %w", err)
	}

	byRole := map[database.Role]map[string]*database.Report{
		database.RoleParent:    indexByID(parents),
		database.RoleVolunteer: indexByID(volunteers),
	}
	report := &AuditReport{Parents: len(parents), Volunteers: len(volunteers), Issues: []AuditIssue{}}

	inspect := func(r *database.Report) error {
		if opts.Progress != nil {
			defer opts.Progress()
		}
		if !r.Match.IsLinked() {
			return nil
		}
		other := byRole[r.Role.Opposite()][r.Match.LinkedID]

		var kind IssueKind
		switch {
		case other == nil:
			kind = IssueDangling
		case other.Match.LinkedID != r.ID:
			kind = IssueAsymmetric
		case r.Role == database.RoleParent:
			report.Linked++
			if r.Match.Confirmed && other.Match.Confirmed {
				report.Confirmed++
			} else if r.Match.Confirmed != other.Match.Confirmed {
				kind = IssueConfirmMismatch
			}
		}
		if kind == "" {
			return nil
		}

		issue := AuditIssue{Kind: kind, Role: r.Role, ReportID: r.ID, LinkedID: r.Match.LinkedID}
		if opts.Repair && kind != IssueConfirmMismatch {
			repaired, err := e.repairOneSided(ctx, r.ID)
			if err != nil {
				return err
			}
			issue.Repaired = repaired
		}
		e.log.WithFields(logrus.Fields{
			"kind":      issue.Kind,
			"report_id": issue.ReportID,
			"role":      issue.Role,
			"linked_id": issue.LinkedID,
			"repaired":  issue.Repaired,
		}).Warn("link inconsistency")
		report.Issues = append(report.Issues, issue)
		return nil
	}

	for _, list := range [][]database.Report{parents, volunteers} {
		for i := range list {
			if err := inspect(&list[i]); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

// repairOneSided re-checks id under its pair lock and clears its pointer if the
// link is still one-sided.
func (e *Engine) repairOneSided(ctx context.Context, id string) (bool, error) {
	self, other, unlock, err := e.lockPair(ctx, id)
	if err != nil {
		return false, err
	}
	defer unlock()

	if !self.Match.IsLinked() {
		return false, nil
	}
	if other != nil && other.Match.LinkedID == self.ID {
		return false, nil
	}
	ok, err := e.store.CompareAndSetMatch(ctx, self.Role, self.ID, self.Match.LinkedID, database.MatchState{})
	if err != nil {
		return false, fmt.Errorf("repairing link of %s: %w", self.ID, err)
	}
	return ok, nil
}

func indexByID(reports []database.Report) map[string]*database.Report {
	m := make(map[string]*database.Report, len(reports))
	for i := range reports {
		m[reports[i].ID] = &reports[i]
	}
	return m
}
