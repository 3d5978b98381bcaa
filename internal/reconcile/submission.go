package reconcile

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"github.com/kozaktomas/tether/internal/database"
)

var validate = newValidator()

// newValidator adds notblank, which rejects whitespace-only text. Values are
// trimmed before they are stored, so "required" alone would let "  " through.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic("registering notblank validation: " + err.Error())
	}
	return v
}

// Contact is the reporter's contact information as submitted.
type Contact struct {
	Name     string `validate:"notblank,max=200"`
	Email    string `validate:"omitempty,email"`
	AltEmail string `validate:"omitempty,email"`
	Phone    string `validate:"notblank,max=40"`
	AltPhone string `validate:"omitempty,max=40"`
}

// MissingChild is the child described by a parent.
type MissingChild struct {
	Name                string   `validate:"notblank,max=200"`
	Age                 int      `validate:"gte=0,lte=25"`
	Complexion          string   `validate:"omitempty,max=100"`
	DistinguishingMarks []string `validate:"max=50,dive,max=200"`
	CityLastSeen        string   `validate:"notblank,max=200"`
}

// FoundChild is the child described by a volunteer. Name and age are best guesses.
type FoundChild struct {
	Name                string   `validate:"omitempty,max=200"`
	ApproxAge           int      `validate:"gte=0,lte=25"`
	Complexion          string   `validate:"omitempty,max=100"`
	DistinguishingMarks []string `validate:"max=50,dive,max=200"`
	CityFound           string   `validate:"notblank,max=200"`
	Address             string   `validate:"omitempty,max=500"`
}

// Submission is a new report in one of its two variants.
type Submission interface {
	Role() database.Role
	Validate() error
	contact() Contact
	child() database.ChildDescription
}

// ParentSubmission reports a missing child.
type ParentSubmission struct {
	Parent Contact
	Child  MissingChild
}

// Role returns RoleParent.
func (ParentSubmission) Role() database.Role { return database.RoleParent }

// Validate checks the submission's field rules.
func (s ParentSubmission) Validate() error { return validateSubmission(s) }

func (s ParentSubmission) contact() Contact { return s.Parent }

func (s ParentSubmission) child() database.ChildDescription {
	return database.ChildDescription{
		Name:                strings.TrimSpace(s.Child.Name),
		Age:                 s.Child.Age,
		Complexion:          strings.TrimSpace(s.Child.Complexion),
		DistinguishingMarks: cleanMarks(s.Child.DistinguishingMarks),
		City:                strings.TrimSpace(s.Child.CityLastSeen),
	}
}

// VolunteerSubmission reports a found child.
type VolunteerSubmission struct {
	Volunteer Contact
	Child     FoundChild
}

// Role returns RoleVolunteer.
func (VolunteerSubmission) Role() database.Role { return database.RoleVolunteer }

// Validate checks the submission's field rules.
func (s VolunteerSubmission) Validate() error { return validateSubmission(s) }

func (s VolunteerSubmission) contact() Contact { return s.Volunteer }

func (s VolunteerSubmission) child() database.ChildDescription {
	return database.ChildDescription{
		Name:                strings.TrimSpace(s.Child.Name),
		Age:                 s.Child.ApproxAge,
		Complexion:          strings.TrimSpace(s.Child.Complexion),
		DistinguishingMarks: cleanMarks(s.Child.DistinguishingMarks),
		City:                strings.TrimSpace(s.Child.CityFound),
		Address:             strings.TrimSpace(s.Child.Address),
	}
}

// SubmissionFields is the role-agnostic form of a submission, as received by
// the HTTP and CLI surfaces.
type SubmissionFields struct {
	Contact             Contact
	ChildName           string
	ChildAge            int
	Complexion          string
	DistinguishingMarks []string
	City                string
	Address             string
}

// NewSubmission builds the variant matching role. It is the only place where
// the raw role string is inspected.
func NewSubmission(role string, f SubmissionFields) (Submission, error) {
	r, err := database.ParseRole(role)
	if err != nil {
		return nil, err
	}
	switch r {
	case database.RoleParent:
		return ParentSubmission{
			Parent: f.Contact,
			Child: MissingChild{
				Name:                f.ChildName,
				Age:                 f.ChildAge,
				Complexion:          f.Complexion,
				DistinguishingMarks: f.DistinguishingMarks,
				CityLastSeen:        f.City,
			},
		}, nil
	default:
		return VolunteerSubmission{
			Volunteer: f.Contact,
			Child: FoundChild{
				Name:                f.ChildName,
				ApproxAge:           f.ChildAge,
				Complexion:          f.Complexion,
				DistinguishingMarks: f.DistinguishingMarks,
				CityFound:           f.City,
				Address:             f.Address,
			},
		}, nil
	}
}

func validateSubmission(s any) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	return nil
}

func toContactInfo(c Contact) database.ContactInfo {
	return database.ContactInfo{
		Name:     strings.TrimSpace(c.Name),
		Email:    strings.TrimSpace(c.Email),
		AltEmail: strings.TrimSpace(c.AltEmail),
		Phone:    strings.TrimSpace(c.Phone),
		AltPhone: strings.TrimSpace(c.AltPhone),
	}
}

func cleanMarks(marks []string) []string {
	out := make([]string, 0, len(marks))
	for _, m := range marks {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
