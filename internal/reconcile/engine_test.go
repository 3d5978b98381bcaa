package reconcile

import (
	"context"
	"errors"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/database/memory"
	"github.com/kozaktomas/tether/internal/facematch"
)

func TestNew(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without store")
	}
	_, err := New(Options{
		Store:  memory.New(),
		Params: facematch.Params{AcceptThreshold: 2, MaxDistance: 1},
	})
	if err == nil {
		t.Error("expected error for invalid params")
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	p1 := env.submit(t, parentSub("Anna", "scar-left-arm"), env.embedder.face("p1", vec(0)))
	if p1.Matched {
		t.Fatal("first parent report cannot match anything")
	}
	if !p1.HasEmbedding {
		t.Fatal("expected parent report to carry an embedding")
	}

	v1 := env.submit(t, volunteerSub("scar-left-arm", "birthmark-neck"), env.embedder.face("v1", vec(0.3)))
	if !v1.Matched || v1.LinkedID != p1.ReportID {
		t.Fatalf("expected volunteer to match parent, got %+v", v1)
	}
	if v1.Score == nil || math.Abs(*v1.Score-0.75) > 1e-6 {
		t.Fatalf("expected score ~0.75, got %v", v1.Score)
	}
	assertSymmetric(t, env, p1.ReportID, v1.ReportID)

	conf, err := env.engine.Confirm(ctx, v1.ReportID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !conf.Created || conf.ParentID != p1.ReportID || conf.VolunteerID != v1.ReportID {
		t.Errorf("unexpected confirm result %+v", conf)
	}
	for _, r := range []*database.Report{
		env.report(t, database.RoleParent, p1.ReportID),
		env.report(t, database.RoleVolunteer, v1.ReportID),
	} {
		if !r.Match.Confirmed || r.Match.ConfirmedAt == nil {
			t.Errorf("%s not confirmed: %+v", r.ID, r.Match)
		}
	}
	children, _ := env.store.ListResolvedChildren(ctx)
	if len(children) != 1 {
		t.Fatalf("expected one resolved child, got %d", len(children))
	}

	// Second, still pending pair far away from the first.
	p2 := env.submit(t, parentSub("Ben"), env.embedder.face("p2", vec(5)))
	if p2.Matched {
		t.Fatal("linked volunteer must not be offered again")
	}
	v2 := env.submit(t, volunteerSub(), env.embedder.face("v2", vec(5.2)))
	if !v2.Matched || v2.LinkedID != p2.ReportID {
		t.Fatalf("expected second pair to link, got %+v", v2)
	}

	status, err := env.engine.Reject(ctx, p2.ReportID)
	if err != nil || status != StatusRejected {
		t.Fatalf("Reject = %q, %v", status, err)
	}
	assertUnlinked(t, env, database.RoleParent, p2.ReportID)
	assertUnlinked(t, env, database.RoleVolunteer, v2.ReportID)

	cand, err := env.engine.FindBestCandidate(ctx, vec(5.2), database.RoleVolunteer)
	if err != nil {
		t.Fatalf("FindBestCandidate: %v", err)
	}
	if cand == nil || cand.Report.ID != p2.ReportID {
		t.Errorf("rejected parent should be a candidate again, got %+v", cand)
	}

	// The confirmed pair is untouched.
	assertSymmetric(t, env, p1.ReportID, v1.ReportID)
}

func TestFindBestCandidate_SkipsMismatchedDimensions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// Seed a parent whose stored embedding has the wrong length.
	odd := &database.Report{
		ID:        "odd",
		Role:      database.RoleParent,
		Reporter:  database.ContactInfo{Name: "x", Phone: "1"},
		Child:     database.ChildDescription{Name: "x", City: "Brno"},
		Embedding: []float32{0, 0},
	}
	if err := env.store.InsertReport(ctx, odd); err != nil {
		t.Fatal(err)
	}

	cand, err := env.engine.FindBestCandidate(ctx, vec(0), database.RoleVolunteer)
	if err != nil {
		t.Fatalf("FindBestCandidate: %v", err)
	}
	if cand != nil {
		t.Errorf("expected no candidate, got %+v", cand)
	}
	if len(env.warnings()) != 1 {
		t.Errorf("expected one integrity warning, got %v", env.warnings())
	}
}

func TestGetMatchPair(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pID, vID := env.linkedPair(t, "Cyril", 0)
	lone := env.submit(t, parentSub("Dana"), env.embedder.face("lone", vec(50)))

	if _, err := env.engine.GetMatchPair(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.engine.GetMatchPair(ctx, lone.ReportID); !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}

	for _, id := range []string{pID, vID} {
		pair, err := env.engine.GetMatchPair(ctx, id)
		if err != nil {
			t.Fatalf("GetMatchPair(%s): %v", id, err)
		}
		if pair.Parent.ID != pID || pair.Volunteer.ID != vID {
			t.Errorf("wrong orientation: parent=%s volunteer=%s", pair.Parent.ID, pair.Volunteer.ID)
		}
		if pair.SubmissionID != id || math.Abs(pair.Score-0.75) > 1e-6 {
			t.Errorf("unexpected pair header %+v", pair)
		}
	}
}

func TestGetMatchPair_Incomplete(t *testing.T) {
	ctx := context.Background()

	t.Run("dangling", func(t *testing.T) {
		env := newTestEnv(t)
		pID, vID := env.linkedPair(t, "Eva", 0)
		env.store.DeleteReport(database.RoleVolunteer, vID)

		_, err := env.engine.GetMatchPair(ctx, pID)
		if !errors.Is(err, ErrIncompleteMatch) {
			t.Fatalf("expected ErrIncompleteMatch, got %v", err)
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNoMatch) {
			t.Error("dangling link must be distinguishable from not found and no match")
		}
		if !slices.Contains(env.warnings(), "dangling link: counterpart report does not exist") {
			t.Errorf("expected dangling warning, got %v", env.warnings())
		}
	})

	t.Run("asymmetric", func(t *testing.T) {
		env := newTestEnv(t)
		pID, vID := env.linkedPair(t, "Filip", 0)
		env.store.SetMatch(database.RoleVolunteer, vID, database.MatchState{})

		if _, err := env.engine.GetMatchPair(ctx, pID); !errors.Is(err, ErrIncompleteMatch) {
			t.Fatalf("expected ErrIncompleteMatch, got %v", err)
		}
		if !slices.Contains(env.warnings(), "asymmetric link: counterpart does not point back") {
			t.Errorf("expected asymmetric warning, got %v", env.warnings())
		}
	})
}

func TestGetResolvedChildAndImage(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	if _, err := env.engine.GetResolvedChild(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.engine.LoadImage(ctx, "2024/01/01/x.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound without image store, got %v", err)
	}

	pID, _ := env.linkedPair(t, "Gita", 0)
	conf, err := env.engine.Confirm(ctx, pID)
	if err != nil {
		t.Fatal(err)
	}
	child, err := env.engine.GetResolvedChild(ctx, conf.ResolvedChildID)
	if err != nil || child.ParentReportID != pID {
		t.Errorf("GetResolvedChild = %+v, %v", child, err)
	}
	list, err := env.engine.ListResolvedChildren(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("ListResolvedChildren = %v, %v", list, err)
	}
}

func TestSuggest(t *testing.T) {
	ctx := context.Background()

	check := func(t *testing.T, e *Engine, env *testEnv) {
		p := env.submit(t, parentSub("Hana"), env.embedder.face("p", vec(10)))
		env.submit(t, volunteerSub(), env.embedder.face("v-far", vec(13)))
		env.submit(t, volunteerSub(), env.embedder.face("v-mid", vec(11.5)))
		env.submit(t, volunteerSub(), env.embedder.face("v-near", vec(10.5)))
		env.submit(t, volunteerSub(), env.embedder.face("v-none", nil))

		got, err := e.Suggest(ctx, p.ReportID, 2)
		if err != nil {
			t.Fatalf("Suggest: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 suggestions, got %d", len(got))
		}
		if math.Abs(got[0].Distance-0.5) > 1e-4 || math.Abs(got[1].Distance-1.5) > 1e-4 {
			t.Errorf("unexpected distances %f, %f", got[0].Distance, got[1].Distance)
		}
		if got[1].Score != 0 {
			t.Errorf("expected clamped score, got %f", got[1].Score)
		}
		if got[0].Report.Embedding != nil {
			t.Error("suggestions must not leak embeddings")
		}

		if _, err := e.Suggest(ctx, "unknown", 3); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	}

	t.Run("nearest index", func(t *testing.T) {
		env := newTestEnv(t)
		check(t, env.engine, env)
	})

	t.Run("full scan", func(t *testing.T) {
		env := newTestEnv(t)
		// Hide the NearestFinder capability behind the plain interface.
		e, err := New(Options{
			Store:    struct{ database.ReportStore }{env.store},
			Embedder: env.embedder,
			Logger:   env.engine.log,
		})
		if err != nil {
			t.Fatal(err)
		}
		check(t, e, env)
	})
}

func TestConcurrentSubmissionsClaimCandidateOnce(t *testing.T) {
	env := newTestEnv(t)
	parent := env.submit(t, parentSub("Ivan"), env.embedder.face("p", vec(0)))

	const volunteers = 12
	results := make([]*SubmitResult, volunteers)
	var wg sync.WaitGroup
	for i := range volunteers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			img := env.embedder.face("v"+string(rune('a'+i)), vec(0.01*float32(i+1)))
			res, err := env.engine.Submit(context.Background(), volunteerSub(), img, "")
			if err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	var winners []string
	for _, r := range results {
		if r != nil && r.Matched {
			winners = append(winners, r.ReportID)
		}
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one volunteer to link, got %d", len(winners))
	}
	assertSymmetric(t, env, parent.ReportID, winners[0])
}
