package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/database/memory"
)

// fakeEmbedder returns the embedding registered for an image's bytes.
type fakeEmbedder struct {
	mu    sync.Mutex
	faces map[string][]float32
	errs  map[string]error
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{faces: map[string][]float32{}, errs: map[string]error{}}
}

func (f *fakeEmbedder) ExtractEmbedding(_ context.Context, image []byte) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[string(image)]; err != nil {
		return nil, err
	}
	return f.faces[string(image)], nil
}

// face registers an embedding and returns the image bytes that produce it.
func (f *fakeEmbedder) face(name string, emb []float32) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faces[name] = emb
	return []byte(name)
}

func (f *fakeEmbedder) failing(name string, err error) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = err
	return []byte(name)
}

// vec builds a full-size embedding whose first component is x, so the
// distance between vec(a) and vec(b) is |a-b|.
func vec(x float32) []float32 {
	v := make([]float32, database.FaceEmbeddingDim)
	v[0] = x
	return v
}

// tickClock returns strictly increasing timestamps.
type tickClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type testEnv struct {
	engine   *Engine
	store    *memory.Store
	embedder *fakeEmbedder
	hook     *test.Hook
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	store := memory.New()
	embedder := newFakeEmbedder()
	clock := &tickClock{t: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}

	e, err := New(Options{
		Store:    store,
		Embedder: embedder,
		Logger:   logger,
		Now:      clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testEnv{engine: e, store: store, embedder: embedder, hook: hook}
}

func parentSub(name string, marks ...string) ParentSubmission {
	return ParentSubmission{
		Parent: Contact{Name: "Parent of " + name, Phone: "+420600100200", Email: "parent@example.com"},
		Child: MissingChild{
			Name:                name,
			Age:                 7,
			Complexion:          "fair",
			DistinguishingMarks: marks,
			CityLastSeen:        "Praha",
		},
	}
}

func volunteerSub(marks ...string) VolunteerSubmission {
	return VolunteerSubmission{
		Volunteer: Contact{Name: "Volunteer", Phone: "+420600300400"},
		Child: FoundChild{
			ApproxAge:           8,
			DistinguishingMarks: marks,
			CityFound:           "Kolín",
			Address:             "Náměstí 1",
		},
	}
}

// submit is Submit that fails the test on error.
func (env *testEnv) submit(t *testing.T, sub Submission, image []byte) *SubmitResult {
	t.Helper()
	res, err := env.engine.Submit(context.Background(), sub, image, "photo.jpg")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return res
}

func (env *testEnv) report(t *testing.T, role database.Role, id string) *database.Report {
	t.Helper()
	r, err := env.store.GetReport(context.Background(), role, id)
	if err != nil || r == nil {
		t.Fatalf("GetReport(%s, %s) = %v, %v", role, id, r, err)
	}
	return r
}

// linkedPair submits a parent and a matching volunteer and returns their IDs.
func (env *testEnv) linkedPair(t *testing.T, name string, at float32) (parentID, volunteerID string) {
	t.Helper()
	p := env.submit(t, parentSub(name, "scar-left-arm"), env.embedder.face(name+"-p", vec(at)))
	v := env.submit(t, volunteerSub("scar-left-arm", "birthmark-neck"), env.embedder.face(name+"-v", vec(at+0.3)))
	if !v.Matched || v.LinkedID != p.ReportID {
		t.Fatalf("expected volunteer %s linked to %s, got %+v", v.ReportID, p.ReportID, v)
	}
	return p.ReportID, v.ReportID
}

func (env *testEnv) warnings() []string {
	var out []string
	for _, e := range env.hook.AllEntries() {
		if e.Level <= logrus.WarnLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func assertSymmetric(t *testing.T, env *testEnv, parentID, volunteerID string) {
	t.Helper()
	p := env.report(t, database.RoleParent, parentID)
	v := env.report(t, database.RoleVolunteer, volunteerID)
	if p.Match.LinkedID != volunteerID || v.Match.LinkedID != parentID {
		t.Errorf("link not symmetric: parent→%q volunteer→%q", p.Match.LinkedID, v.Match.LinkedID)
	}
}

func assertUnlinked(t *testing.T, env *testEnv, role database.Role, id string) {
	t.Helper()
	r := env.report(t, role, id)
	if r.Match.IsLinked() || r.Match.Confirmed || r.Match.Score != nil || r.Match.ConfirmedAt != nil {
		t.Errorf("%s %s expected empty match state, got %+v", role, id, r.Match)
	}
}

var errInjected = errors.New("injected store failure")
