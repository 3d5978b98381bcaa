// Package reconcile links parent and volunteer reports into matches and drives
// them through confirmation or rejection.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/embedding"
	"github.com/kozaktomas/tether/internal/facematch"
	"github.com/kozaktomas/tether/internal/imagestore"
	"github.com/kozaktomas/tether/internal/lock"
)

// maxLockAttempts bounds how often lockPair re-locks when a link moves under it.
const maxLockAttempts = 3

// Options wires the engine's collaborators.
type Options struct {
	// Store is required.
	Store database.ReportStore
	// Embedder extracts face embeddings. Nil stores every report without one.
	Embedder embedding.Provider
	// Images keeps uploaded photos. Nil discards them.
	Images imagestore.Store
	// Locker serializes pair updates. Nil uses an in-process locker.
	Locker lock.Locker
	Logger logrus.FieldLogger
	// Params are the matching thresholds. Zero value uses the defaults.
	Params facematch.Params
	// EmbeddingDim is the expected vector length. 0 uses database.FaceEmbeddingDim.
	EmbeddingDim int

	Now   func() time.Time
	NewID func() string
}

// Engine is the match reconciliation engine. It keeps no state between calls.
type Engine struct {
	store    database.ReportStore
	embedder embedding.Provider
	images   imagestore.Store
	locker   lock.Locker
	log      logrus.FieldLogger
	params   facematch.Params
	dim      int
	now      func() time.Time
	newID    func() string
}

// New creates an engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("reconcile: store is required")
	}
	if opts.Params == (facematch.Params{}) {
		opts.Params = facematch.DefaultParams()
	}
	if err := opts.Params.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.EmbeddingDim <= 0 {
		opts.EmbeddingDim = database.FaceEmbeddingDim
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{
		store:    opts.Store,
		embedder: opts.Embedder,
		images:   opts.Images,
		locker:   opts.Locker,
		log:      opts.Logger,
		params:   opts.Params,
		dim:      opts.EmbeddingDim,
		now:      opts.Now,
		newID:    opts.NewID,
	}, nil
}

// Params returns the matching thresholds in use.
func (e *Engine) Params() facematch.Params {
	return e.params
}

// FindBestCandidate searches the collection opposite to role for the closest
// eligible report. It returns nil when nothing passes the acceptance threshold.
func (e *Engine) FindBestCandidate(ctx context.Context, emb []float32, role database.Role) (*facematch.Candidate, error) {
	pool, err := e.store.ScanReports(ctx, role.Opposite())
	if err != nil {
		return nil, fmt.Errorf("scanning %s reports: %w", role.Opposite(), err)
	}
	best, mismatched := facematch.FindBestCandidate(emb, pool, e.params)
	for _, id := range mismatched {
		e.log.WithFields(logrus.Fields{
			"role":      role.Opposite(),
			"report_id": id,
		}).Warn("stored embedding has unexpected dimension, skipping candidate")
	}
	return best, nil
}

// findReport looks id up in the parent collection, then the volunteer collection.
func (e *Engine) findReport(ctx context.Context, id string) (*database.Report, error) {
	for _, role := range []database.Role{database.RoleParent, database.RoleVolunteer} {
		r, err := e.store.GetReport(ctx, role, id)
		if err != nil {
			return nil, fmt.Errorf("getting %s report %s: %w", role, id, err)
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// counterpart fetches the report self links to, or nil when the link dangles.
func (e *Engine) counterpart(ctx context.Context, self *database.Report) (*database.Report, error) {
	if !self.Match.IsLinked() {
		return nil, nil
	}
	other, err := e.store.GetReport(ctx, self.Role.Opposite(), self.Match.LinkedID)
	if err != nil {
		return nil, fmt.Errorf("getting counterpart %s: %w", self.Match.LinkedID, err)
	}
	return other, nil
}

// lockPair locks id together with its current counterpart and returns both as
// read under the lock. Unlock must be called when err is nil.
func (e *Engine) lockPair(ctx context.Context, id string) (self, other *database.Report, unlock func(), err error) {
	for range maxLockAttempts {
		self, err = e.findReport(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		keys := []string{self.ID}
		if self.Match.IsLinked() {
			keys = append(keys, self.Match.LinkedID)
		}

		unlock, err = e.locker.Lock(ctx, keys...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("locking pair of %s: %w", id, err)
		}

		self, err = e.findReport(ctx, id)
		if err != nil {
			unlock()
			return nil, nil, nil, err
		}
		if self.Match.IsLinked() && !slices.Contains(keys, self.Match.LinkedID) {
			unlock()
			continue
		}
		other, err = e.counterpart(ctx, self)
		if err != nil {
			unlock()
			return nil, nil, nil, err
		}
		return self, other, unlock, nil
	}
	return nil, nil, nil, fmt.Errorf("%w: link of %s kept changing", ErrConflict, id)
}

// checkPair classifies a report and its counterpart. Inconsistent pairs are
// logged as data-integrity warnings.
func (e *Engine) checkPair(self, other *database.Report) error {
	if !self.Match.IsLinked() {
		return fmt.Errorf("%w: %s", ErrNoMatch, self.ID)
	}
	fields := logrus.Fields{
		"report_id": self.ID,
		"role":      self.Role,
		"linked_id": self.Match.LinkedID,
	}
	if other == nil {
		e.log.WithFields(fields).Warn("dangling link: counterpart report does not exist")
		return fmt.Errorf("%w: counterpart %s of %s not found", ErrIncompleteMatch, self.Match.LinkedID, self.ID)
	}
	if other.Match.LinkedID != self.ID {
		fields["counterpart_linked_id"] = other.Match.LinkedID
		e.log.WithFields(fields).Warn("asymmetric link: counterpart does not point back")
		return fmt.Errorf("%w: %s does not link back to %s", ErrIncompleteMatch, other.ID, self.ID)
	}
	return nil
}

// orient returns the pair as (parent, volunteer).
func orient(a, b *database.Report) (parent, volunteer *database.Report) {
	if a.Role == database.RoleParent {
		return a, b
	}
	return b, a
}

// GetReport returns a report from either collection.
func (e *Engine) GetReport(ctx context.Context, id string) (*database.Report, error) {
	return e.findReport(ctx, id)
}

// GetResolvedChild returns a resolved child by ID.
func (e *Engine) GetResolvedChild(ctx context.Context, id string) (*database.ResolvedChild, error) {
	c, err := e.store.GetResolvedChild(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting resolved child %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: resolved child %s", ErrNotFound, id)
	}
	return c, nil
}

// ListResolvedChildren returns every resolved child, newest first.
func (e *Engine) ListResolvedChildren(ctx context.Context) ([]database.ResolvedChild, error) {
	children, err := e.store.ListResolvedChildren(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing resolved children: %w", err)
	}
	return children, nil
}

// LoadImage returns the photo behind an image reference.
func (e *Engine) LoadImage(ctx context.Context, ref string) ([]byte, error) {
	if e.images == nil || ref == "" {
		return nil, fmt.Errorf("%w: image %q", ErrNotFound, ref)
	}
	data, err := e.images.Load(ctx, ref)
	if errors.Is(err, imagestore.ErrNotFound) {
		return nil, fmt.Errorf("%w: image %q", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("loading image: %w", err)
	}
	return data, nil
}

// CountReports returns the size of both collections.
func (e *Engine) CountReports(ctx context.Context) (parents, volunteers int, err error) {
	if parents, err = e.store.CountReports(ctx, database.RoleParent); err != nil {
		return 0, 0, fmt.Errorf("counting parent reports: %w", err)
	}
	if volunteers, err = e.store.CountReports(ctx, database.RoleVolunteer); err != nil {
		return 0, 0, fmt.Errorf("counting volunteer reports: %w", err)
	}
	return parents, volunteers, nil
}
