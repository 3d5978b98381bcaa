package database

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRecord wraps every validation failure raised at the store boundary.
var ErrInvalidRecord = errors.New("invalid record")

var validate = validator.New(validator.WithRequiredStructEnabled())

// reportShape holds the field-level rules for a stored report.
type reportShape struct {
	ID       string `validate:"required,max=64"`
	Role     string `validate:"required,oneof=parent volunteer"`
	Reporter string `validate:"required"`
	City     string `validate:"required"`
	Age      int    `validate:"gte=0,lte=120"`
}

// ValidateReport checks a report before it is written.
func ValidateReport(r *Report) error {
	if r == nil {
		return fmt.Errorf("%w: nil report", ErrInvalidRecord)
	}
	shape := reportShape{
		ID:       r.ID,
		Role:     string(r.Role),
		Reporter: r.Reporter.Name,
		City:     r.Child.City,
		Age:      r.Child.Age,
	}
	if err := validate.Struct(shape); err != nil {
		return fmt.Errorf("%w: report %s: %w", ErrInvalidRecord, r.ID, err)
	}
	if err := ValidateMatchState(r.Match, r.HasEmbedding()); err != nil {
		return fmt.Errorf("report %s: %w", r.ID, err)
	}
	return nil
}

// ValidateMatchState enforces the per-record link invariants.
func ValidateMatchState(m MatchState, hasEmbedding bool) error {
	if m.Confirmed && m.LinkedID == "" {
		return fmt.Errorf("%w: confirmed match without linked report", ErrInvalidRecord)
	}
	if !hasEmbedding && m.LinkedID != "" {
		return fmt.Errorf("%w: report without embedding cannot be linked", ErrInvalidRecord)
	}
	if m.Score != nil && (*m.Score < 0 || *m.Score > 1) {
		return fmt.Errorf("%w: score %f outside [0,1]", ErrInvalidRecord, *m.Score)
	}
	if m.LinkedID == "" && (m.Score != nil || m.ConfirmedAt != nil) {
		return fmt.Errorf("%w: unlinked match state carries score or confirmation time", ErrInvalidRecord)
	}
	return nil
}

// ValidateResolvedChild checks a resolved child before it is appended.
func ValidateResolvedChild(c *ResolvedChild) error {
	if c == nil {
		return fmt.Errorf("%w: nil resolved child", ErrInvalidRecord)
	}
	if c.ID == "" || c.ParentReportID == "" || c.VolunteerReportID == "" {
		return fmt.Errorf("%w: resolved child requires id and both report ids", ErrInvalidRecord)
	}
	if c.MatchScore < 0 || c.MatchScore > 1 {
		return fmt.Errorf("%w: match score %f outside [0,1]", ErrInvalidRecord, c.MatchScore)
	}
	return nil
}

// SortReports orders reports by creation time, then ID. Every store returns scans
// in this order so candidate search ties resolve the same way on every backend.
func SortReports(reports []Report) {
	sortReports(reports)
}
