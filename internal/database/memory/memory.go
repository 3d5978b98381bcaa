// Package memory provides an in-memory implementation of database.ReportStore.
// It backs the "memory" store backend and is the fake store used in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kozaktomas/tether/internal/database"
)

// Store keeps reports and resolved children in maps guarded by a single mutex.
// Every method copies records in and out so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	reports  map[database.Role]map[string]*database.Report
	order    map[database.Role][]string
	children []*database.ResolvedChild
	indexes  map[database.Role]*database.ReportIndex

	// Error injection
	InsertReportError  error
	GetReportError     error
	ScanReportsError   error
	InsertChildError   error
	FindChildError     error
	FindNearestError   error
	CompareAndSetError error

	// FailCompareAndSet, when non-nil, is consulted before every CompareAndSetMatch;
	// returning a non-nil error fails that single write.
	FailCompareAndSet func(role database.Role, id string, state database.MatchState) error

	casCalls int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		reports: map[database.Role]map[string]*database.Report{
			database.RoleParent:    {},
			database.RoleVolunteer: {},
		},
		order: map[database.Role][]string{},
		indexes: map[database.Role]*database.ReportIndex{
			database.RoleParent:    database.NewReportIndex(),
			database.RoleVolunteer: database.NewReportIndex(),
		},
	}
}

// InsertReport stores a new report.
func (s *Store) InsertReport(ctx context.Context, report *database.Report) error {
	if s.InsertReportError != nil {
		return s.InsertReportError
	}
	if err := database.ValidateReport(report); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.reports[report.Role]
	if _, exists := coll[report.ID]; exists {
		return fmt.Errorf("report %s already exists", report.ID)
	}
	if report.HasEmbedding() {
		if err := s.indexes[report.Role].Add(report.ID, report.Embedding); err != nil {
			return fmt.Errorf("index report %s: %w", report.ID, err)
		}
	}
	coll[report.ID] = cloneReport(report)
	s.order[report.Role] = append(s.order[report.Role], report.ID)
	return nil
}

// GetReport retrieves a report by ID, returns nil if not found.
func (s *Store) GetReport(ctx context.Context, role database.Role, id string) (*database.Report, error) {
	if s.GetReportError != nil {
		return nil, s.GetReportError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[role][id]
	if !ok {
		return nil, nil
	}
	return cloneReport(r), nil
}

// ScanReports returns all reports of a role ordered by creation time, then ID.
func (s *Store) ScanReports(ctx context.Context, role database.Role) ([]database.Report, error) {
	if s.ScanReportsError != nil {
		return nil, s.ScanReportsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]database.Report, 0, len(s.order[role]))
	for _, id := range s.order[role] {
		result = append(result, *cloneReport(s.reports[role][id]))
	}
	database.SortReports(result)
	return result, nil
}

// CountReports returns the number of reports of a role.
func (s *Store) CountReports(ctx context.Context, role database.Role) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports[role]), nil
}

// CompareAndSetMatch replaces the match state when the current link equals expectLinkedID.
func (s *Store) CompareAndSetMatch(ctx context.Context, role database.Role, id, expectLinkedID string, state database.MatchState) (bool, error) {
	if s.CompareAndSetError != nil {
		return false, s.CompareAndSetError
	}
	if s.FailCompareAndSet != nil {
		if err := s.FailCompareAndSet(role, id, state); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.casCalls++

	r, ok := s.reports[role][id]
	if !ok {
		return false, fmt.Errorf("%s report %s: %w", role, id, database.ErrNotFound)
	}
	if err := database.ValidateMatchState(state, r.HasEmbedding()); err != nil {
		return false, err
	}
	if r.Match.LinkedID != expectLinkedID {
		return false, nil
	}
	r.Match = cloneMatch(state)
	return true, nil
}

// CompareAndSetCalls returns how many compare-and-set writes reached the store.
func (s *Store) CompareAndSetCalls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.casCalls
}

// SetMatch overwrites a report's match state without any check.
// Tests use it to seed inconsistent states that the engine must detect.
func (s *Store) SetMatch(role database.Role, id string, state database.MatchState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.reports[role][id]; ok {
		r.Match = cloneMatch(state)
	}
}

// DeleteReport removes a report without touching its counterpart.
// Tests use it to produce dangling links.
func (s *Store) DeleteReport(role database.Role, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports[role], id)
	s.order[role] = slices.DeleteFunc(s.order[role], func(v string) bool { return v == id })
}

// FindNearest returns the closest reports of a role using the HNSW index.
func (s *Store) FindNearest(ctx context.Context, role database.Role, embedding []float32, limit int) ([]database.Report, []float64, error) {
	if s.FindNearestError != nil {
		return nil, nil, s.FindNearestError
	}
	ids, distances, err := s.indexes[role].Search(embedding, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("HNSW search: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]database.Report, 0, len(ids))
	dists := make([]float64, 0, len(ids))
	for i, id := range ids {
		r, ok := s.reports[role][id]
		if !ok {
			continue // deleted after indexing
		}
		reports = append(reports, *cloneReport(r))
		dists = append(dists, distances[i])
	}
	return reports, dists, nil
}

// InsertResolvedChild appends a resolved child.
func (s *Store) InsertResolvedChild(ctx context.Context, child *database.ResolvedChild) error {
	if s.InsertChildError != nil {
		return s.InsertChildError
	}
	if err := database.ValidateResolvedChild(child); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.children {
		if c.ID == child.ID {
			return fmt.Errorf("resolved child %s already exists", child.ID)
		}
	}
	s.children = append(s.children, cloneChild(child))
	return nil
}

// GetResolvedChild retrieves a resolved child by ID, returns nil if not found.
func (s *Store) GetResolvedChild(ctx context.Context, id string) (*database.ResolvedChild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.children {
		if c.ID == id {
			return cloneChild(c), nil
		}
	}
	return nil, nil
}

// FindResolvedChildByPair returns the newest resolved child for the pair, or nil.
func (s *Store) FindResolvedChildByPair(ctx context.Context, parentID, volunteerID string) (*database.ResolvedChild, error) {
	if s.FindChildError != nil {
		return nil, s.FindChildError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.children) - 1; i >= 0; i-- {
		c := s.children[i]
		if c.ParentReportID == parentID && c.VolunteerReportID == volunteerID {
			return cloneChild(c), nil
		}
	}
	return nil, nil
}

// ListResolvedChildren returns all resolved children, newest first.
func (s *Store) ListResolvedChildren(ctx context.Context) ([]database.ResolvedChild, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]database.ResolvedChild, 0, len(s.children))
	for i := len(s.children) - 1; i >= 0; i-- {
		result = append(result, *cloneChild(s.children[i]))
	}
	return result, nil
}

func cloneMatch(m database.MatchState) database.MatchState {
	out := database.MatchState{LinkedID: m.LinkedID, Confirmed: m.Confirmed}
	if m.Score != nil {
		v := *m.Score
		out.Score = &v
	}
	if m.ConfirmedAt != nil {
		v := *m.ConfirmedAt
		out.ConfirmedAt = &v
	}
	return out
}

func cloneReport(r *database.Report) *database.Report {
	out := *r
	out.Embedding = slices.Clone(r.Embedding)
	out.Child.DistinguishingMarks = slices.Clone(r.Child.DistinguishingMarks)
	out.Match = cloneMatch(r.Match)
	return &out
}

func cloneChild(c *database.ResolvedChild) *database.ResolvedChild {
	out := *c
	out.Child.DistinguishingMarks = slices.Clone(c.Child.DistinguishingMarks)
	return &out
}

var (
	_ database.ReportStore   = (*Store)(nil)
	_ database.NearestFinder = (*Store)(nil)
)
