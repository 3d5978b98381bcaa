package badgerdb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/tether/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{InMemory: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testReport(id string, role database.Role, created time.Time, emb []float32) *database.Report {
	return &database.Report{
		ID:        id,
		Role:      role,
		Reporter:  database.ContactInfo{Name: "Reporter", Phone: "+420777000111"},
		Child:     database.ChildDescription{Name: "Kid", Age: 5, City: "Ostrava", DistinguishingMarks: []string{"freckles"}},
		Embedding: emb,
		CreatedAt: created,
	}
}

func TestOpenRequiresDir(t *testing.T) {
	if _, err := Open(Options{}); err == nil {
		t.Fatal("expected error without Dir")
	}
}

func TestStore_InsertGetScan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, r := range []*database.Report{
		testReport("b", database.RoleParent, base, []float32{1, 2}),
		testReport("a", database.RoleParent, base, nil),
		testReport("z", database.RoleParent, base.Add(-time.Minute), nil),
		testReport("v", database.RoleVolunteer, base, nil),
	} {
		if err := s.InsertReport(ctx, r); err != nil {
			t.Fatalf("InsertReport(%s): %v", r.ID, err)
		}
	}

	if err := s.InsertReport(ctx, testReport("a", database.RoleParent, base, nil)); err == nil {
		t.Error("expected duplicate insert to fail")
	}

	got, err := s.GetReport(ctx, database.RoleParent, "b")
	if err != nil || got == nil {
		t.Fatalf("GetReport: %v %v", got, err)
	}
	if len(got.Embedding) != 2 || got.Child.DistinguishingMarks[0] != "freckles" {
		t.Errorf("round trip lost data: %+v", got)
	}

	missing, err := s.GetReport(ctx, database.RoleVolunteer, "b")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for other role, got %v, %v", missing, err)
	}

	reports, err := s.ScanReports(ctx, database.RoleParent)
	if err != nil {
		t.Fatalf("ScanReports: %v", err)
	}
	want := []string{"z", "a", "b"}
	if len(reports) != len(want) {
		t.Fatalf("expected %d reports, got %d", len(want), len(reports))
	}
	for i := range want {
		if reports[i].ID != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], reports[i].ID)
		}
	}

	count, err := s.CountReports(ctx, database.RoleVolunteer)
	if err != nil || count != 1 {
		t.Errorf("CountReports = %d, %v; want 1", count, err)
	}
}

func TestStore_CompareAndSetMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.InsertReport(ctx, testReport("p1", database.RoleParent, time.Now(), []float32{1})); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertReport(ctx, testReport("p2", database.RoleParent, time.Now(), nil)); err != nil {
		t.Fatal(err)
	}
	score := 0.5

	ok, err := s.CompareAndSetMatch(ctx, database.RoleParent, "p1", "", database.MatchState{LinkedID: "v1", Score: &score})
	if err != nil || !ok {
		t.Fatalf("expected claim, got ok=%v err=%v", ok, err)
	}
	ok, err = s.CompareAndSetMatch(ctx, database.RoleParent, "p1", "", database.MatchState{LinkedID: "v2", Score: &score})
	if err != nil || ok {
		t.Errorf("expected refused claim, got ok=%v err=%v", ok, err)
	}

	got, _ := s.GetReport(ctx, database.RoleParent, "p1")
	if got.Match.LinkedID != "v1" || got.Match.Score == nil || *got.Match.Score != 0.5 {
		t.Errorf("unexpected match state %+v", got.Match)
	}

	_, err = s.CompareAndSetMatch(ctx, database.RoleParent, "p2", "", database.MatchState{LinkedID: "v1", Score: &score})
	if !errors.Is(err, database.ErrInvalidRecord) {
		t.Errorf("expected ErrInvalidRecord linking a report without embedding, got %v", err)
	}

	_, err = s.CompareAndSetMatch(ctx, database.RoleParent, "nope", "", database.MatchState{})
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_CompareAndSetMatchConcurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.InsertReport(ctx, testReport("p1", database.RoleParent, time.Now(), []float32{1})); err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			score := 0.9
			ok, err := s.CompareAndSetMatch(ctx, database.RoleParent, "p1", "",
				database.MatchState{LinkedID: string(rune('a' + i)), Score: &score})
			if err != nil {
				t.Errorf("CompareAndSetMatch: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winning claim, got %d", wins)
	}
}

func TestStore_ResolvedChildren(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	older := &database.ResolvedChild{ID: "c1", ParentReportID: "p1", VolunteerReportID: "v1", MatchScore: 0.4, CreatedAt: base}
	newer := &database.ResolvedChild{ID: "c2", ParentReportID: "p1", VolunteerReportID: "v1", MatchScore: 0.6, CreatedAt: base.Add(time.Hour)}
	for _, c := range []*database.ResolvedChild{older, newer} {
		if err := s.InsertResolvedChild(ctx, c); err != nil {
			t.Fatalf("InsertResolvedChild: %v", err)
		}
	}

	got, err := s.FindResolvedChildByPair(ctx, "p1", "v1")
	if err != nil || got == nil || got.ID != "c2" {
		t.Errorf("expected newest child c2, got %+v, %v", got, err)
	}

	none, err := s.FindResolvedChildByPair(ctx, "p1", "v9")
	if err != nil || none != nil {
		t.Errorf("expected nil, nil, got %+v, %v", none, err)
	}

	c, err := s.GetResolvedChild(ctx, "c1")
	if err != nil || c == nil || c.MatchScore != 0.4 {
		t.Errorf("GetResolvedChild = %+v, %v", c, err)
	}
}
