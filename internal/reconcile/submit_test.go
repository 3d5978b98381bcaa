package reconcile

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"slices"
	"testing"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/imagestore"
)

func pngBytes(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestSubmit_WithoutEmbedding(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fakeEmbedder) []byte
		warning string
	}{
		{
			name:  "no face",
			setup: func(f *fakeEmbedder) []byte { return f.face("empty", nil) },
		},
		{
			name:    "provider error",
			setup:   func(f *fakeEmbedder) []byte { return f.failing("broken", errInjected) },
			warning: "embedding extraction failed, storing report without embedding",
		},
		{
			name:    "wrong dimension",
			setup:   func(f *fakeEmbedder) []byte { return f.face("short", []float32{1, 2, 3}) },
			warning: "embedding has unexpected dimension, storing report without embedding",
		},
		{
			name:  "no image",
			setup: func(*fakeEmbedder) []byte { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			// An eligible volunteer that would match any zero vector.
			env.submit(t, volunteerSub(), env.embedder.face("v", vec(0)))

			res := env.submit(t, parentSub("Jana"), tt.setup(env.embedder))
			if res.HasEmbedding || res.Matched {
				t.Errorf("expected unmatched report without embedding, got %+v", res)
			}
			r := env.report(t, database.RoleParent, res.ReportID)
			if r.HasEmbedding() {
				t.Error("stored report should have no embedding")
			}
			if tt.warning != "" && !slices.Contains(env.warnings(), tt.warning) {
				t.Errorf("expected warning %q, got %v", tt.warning, env.warnings())
			}
		})
	}
}

func TestSubmit_Rejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := NewSubmission("guardian", SubmissionFields{})
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}

	if _, err := env.engine.Submit(ctx, nil, nil, ""); !errors.Is(err, ErrInvalidSubmission) {
		t.Errorf("expected ErrInvalidSubmission for nil submission, got %v", err)
	}

	sub := parentSub("Karel")
	sub.Parent.Phone = ""
	if _, err := env.engine.Submit(ctx, sub, nil, ""); !errors.Is(err, ErrInvalidSubmission) {
		t.Errorf("expected ErrInvalidSubmission, got %v", err)
	}

	n, _ := env.store.CountReports(ctx, database.RoleParent)
	if n != 0 {
		t.Errorf("invalid submissions must not be stored, found %d", n)
	}
}

func TestSubmit_Threshold(t *testing.T) {
	tests := []struct {
		name  string
		at    float32
		match bool
	}{
		{"inside", 0.99, true},
		{"on threshold", 1.0, false},
		{"outside", 1.1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.submit(t, parentSub("Lena"), env.embedder.face("p", vec(0)))
			res := env.submit(t, volunteerSub(), env.embedder.face("v", vec(tt.at)))
			if res.Matched != tt.match {
				t.Errorf("distance %v: matched=%v, want %v", tt.at, res.Matched, tt.match)
			}
		})
	}
}

func TestSubmit_PicksClosestEligible(t *testing.T) {
	env := newTestEnv(t)
	first := env.submit(t, parentSub("Marek"), env.embedder.face("p1", vec(0)))
	second := env.submit(t, parentSub("Marek"), env.embedder.face("p2", vec(0)))
	closer := env.submit(t, parentSub("Nela"), env.embedder.face("p3", vec(0.5)))

	// Equidistant from p1 and p2: the earlier report wins.
	v1 := env.submit(t, volunteerSub(), env.embedder.face("v1", vec(0.1)))
	if v1.LinkedID != first.ReportID {
		t.Fatalf("expected tie to go to %s, got %s", first.ReportID, v1.LinkedID)
	}

	// p1 is taken now, so p2 at 0.2 beats p3 at 0.3.
	v2 := env.submit(t, volunteerSub(), env.embedder.face("v2", vec(0.2)))
	if v2.LinkedID != second.ReportID {
		t.Errorf("expected %s, got %s", second.ReportID, v2.LinkedID)
	}

	v3 := env.submit(t, volunteerSub(), env.embedder.face("v3", vec(0.2)))
	if v3.LinkedID != closer.ReportID {
		t.Errorf("expected %s, got %s", closer.ReportID, v3.LinkedID)
	}

	// Everything is linked; a fourth identical face gets nothing.
	v4 := env.submit(t, volunteerSub(), env.embedder.face("v4", vec(0)))
	if v4.Matched {
		t.Errorf("linked reports must not be claimed twice, got %+v", v4)
	}
	assertSymmetric(t, env, first.ReportID, v1.ReportID)
	assertSymmetric(t, env, second.ReportID, v2.ReportID)
	assertSymmetric(t, env, closer.ReportID, v3.ReportID)
}

func TestSubmit_PartialFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	parent := env.submit(t, parentSub("Olga"), env.embedder.face("p", vec(0)))

	env.store.FailCompareAndSet = func(role database.Role, _ string, state database.MatchState) error {
		if role == database.RoleVolunteer && state.LinkedID != "" {
			return errInjected
		}
		return nil
	}

	res, err := env.engine.Submit(ctx, volunteerSub(), env.embedder.face("v", vec(0.1)), "")
	if !errors.Is(err, ErrPartialUpdate) || !errors.Is(err, errInjected) {
		t.Fatalf("expected partial update wrapping the store error, got %v", err)
	}
	var pe *PartialUpdateError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PartialUpdateError, got %T", err)
	}
	if !pe.RolledBack || pe.FailedSide != database.RoleVolunteer || pe.FirstID != parent.ReportID {
		t.Errorf("unexpected partial update details: %+v", pe)
	}
	if res == nil || res.ReportID == "" || res.Matched {
		t.Fatalf("expected stored, unmatched result alongside the error, got %+v", res)
	}

	assertUnlinked(t, env, database.RoleParent, parent.ReportID)
	assertUnlinked(t, env, database.RoleVolunteer, res.ReportID)
}

func TestSubmit_PartialFailureWithoutRollback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	parent := env.submit(t, parentSub("Petr"), env.embedder.face("p", vec(0)))

	env.store.FailCompareAndSet = func(role database.Role, _ string, state database.MatchState) error {
		if role == database.RoleVolunteer && state.LinkedID != "" {
			return errInjected
		}
		if role == database.RoleParent && state.LinkedID == "" {
			return errInjected
		}
		return nil
	}

	res, err := env.engine.Submit(ctx, volunteerSub(), env.embedder.face("v", vec(0.1)), "")
	var pe *PartialUpdateError
	if !errors.As(err, &pe) || pe.RolledBack {
		t.Fatalf("expected unrolled partial update, got %v", err)
	}

	// The parent is left pointing at a volunteer that does not point back.
	env.store.FailCompareAndSet = nil
	if _, err := env.engine.GetMatchPair(ctx, parent.ReportID); !errors.Is(err, ErrIncompleteMatch) {
		t.Fatalf("expected ErrIncompleteMatch, got %v", err)
	}

	status, err := env.engine.Reject(ctx, parent.ReportID)
	if err != nil || status != StatusAlreadyRejected {
		t.Fatalf("Reject = %q, %v", status, err)
	}
	assertUnlinked(t, env, database.RoleParent, parent.ReportID)
	assertUnlinked(t, env, database.RoleVolunteer, res.ReportID)
}

func TestSubmit_Images(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	images := imagestore.NewMemory()
	e, err := New(Options{Store: env.store, Embedder: env.embedder, Images: images, Logger: env.engine.log})
	if err != nil {
		t.Fatal(err)
	}

	// Undecodable bytes are dropped; the report is still stored, without image
	// or embedding, even though the embedder would recognise the bytes.
	junk := env.embedder.face("not an image", vec(0))
	res, err := e.Submit(ctx, parentSub("Radka"), junk, "x.txt")
	if err != nil {
		t.Fatalf("Submit with undecodable image: %v", err)
	}
	if res.HasEmbedding || res.Matched {
		t.Errorf("expected no embedding and no match, got %+v", res)
	}
	if r := env.report(t, database.RoleParent, res.ReportID); r.ImageRef != "" || r.HasEmbedding() {
		t.Errorf("expected report without image and embedding, got ref %q embedding %d", r.ImageRef, len(r.Embedding))
	}
	if images.Len() != 0 {
		t.Errorf("expected no stored image, store holds %d", images.Len())
	}
	if !slices.Contains(env.warnings(), "upload is not a supported image, storing report without image") {
		t.Errorf("expected unsupported image warning, got %v", env.warnings())
	}

	photo := pngBytes(t, 200)
	env.embedder.face(string(photo), vec(3))
	res, err = e.Submit(ctx, parentSub("Radka"), photo, "radka.png")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	r := env.report(t, database.RoleParent, res.ReportID)
	if r.ImageRef == "" {
		t.Fatal("expected image reference on stored report")
	}
	got, err := e.LoadImage(ctx, r.ImageRef)
	if err != nil || !bytes.Equal(got, photo) {
		t.Errorf("LoadImage returned %d bytes, err %v", len(got), err)
	}

	// A failed insert must not leave the photo behind.
	env.store.InsertReportError = errInjected
	if _, err := e.Submit(ctx, parentSub("Radka"), pngBytes(t, 10), "again.png"); !errors.Is(err, errInjected) {
		t.Errorf("expected store error, got %v", err)
	}
	if images.Len() != 1 {
		t.Errorf("expected orphaned image to be deleted, store holds %d", images.Len())
	}
}
