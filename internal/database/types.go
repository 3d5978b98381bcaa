package database

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies which report stream a record belongs to.
type Role string

const (
	RoleParent    Role = "parent"
	RoleVolunteer Role = "volunteer"
)

// ErrInvalidRole is returned for roles outside {parent, volunteer}.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole converts a raw role string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleParent, RoleVolunteer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleVolunteer
}

// Opposite returns the stream a report of role r is matched against.
func (r Role) Opposite() Role {
	if r == RoleParent {
		return RoleVolunteer
	}
	return RoleParent
}

// ContactInfo holds how to reach the person who filed a report.
type ContactInfo struct {
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	AltEmail string `json:"alt_email,omitempty"`
	Phone    string `json:"phone"`
	AltPhone string `json:"alt_phone,omitempty"`
}

// ChildDescription is the child as described by the reporter.
// Address is only filled for volunteer reports (where the child was found).
type ChildDescription struct {
	Name                string   `json:"name,omitempty"`
	Age                 int      `json:"age"`
	Complexion          string   `json:"complexion,omitempty"`
	DistinguishingMarks []string `json:"distinguishing_marks"`
	City                string   `json:"city"`
	Address             string   `json:"address,omitempty"`
}

// MatchState is the link bookkeeping embedded in every report.
type MatchState struct {
	LinkedID    string     `json:"linked_id,omitempty"`
	Score       *float64   `json:"score,omitempty"`
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// IsLinked reports whether the state points at a counterpart.
func (m MatchState) IsLinked() bool {
	return m.LinkedID != ""
}

// Report is a parent or volunteer submission as persisted by a ReportStore.
type Report struct {
	ID        string           `json:"id"`
	Role      Role             `json:"role"`
	Reporter  ContactInfo      `json:"reporter"`
	Child     ChildDescription `json:"child"`
	Embedding []float32        `json:"embedding,omitempty"`
	Match     MatchState       `json:"match"`
	ImageRef  string           `json:"image_ref,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// HasEmbedding reports whether a face embedding was extracted for the report.
func (r *Report) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// Eligible reports whether the report can be offered as a match candidate.
func (r *Report) Eligible() bool {
	return r.HasEmbedding() && !r.Match.IsLinked()
}

// ResolvedDetails is the merged child description of a confirmed match.
type ResolvedDetails struct {
	Name                string   `json:"name"`
	Age                 int      `json:"age"`
	Complexion          string   `json:"complexion,omitempty"`
	DistinguishingMarks []string `json:"distinguishing_marks"`
	CityLastSeen        string   `json:"city_last_seen"`
	CityFound           string   `json:"city_found"`
	AddressFound        string   `json:"address_found,omitempty"`
}

// ResolvedChild is created once per confirmation and never modified.
type ResolvedChild struct {
	ID                string          `json:"id"`
	ParentReportID    string          `json:"parent_report_id"`
	VolunteerReportID string          `json:"volunteer_report_id"`
	Child             ResolvedDetails `json:"child"`
	ParentImageRef    string          `json:"parent_image_ref,omitempty"`
	VolunteerImageRef string          `json:"volunteer_image_ref,omitempty"`
	MatchScore        float64         `json:"match_score"`
	CreatedAt         time.Time       `json:"created_at"`
}
