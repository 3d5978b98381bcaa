package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/imagestore"
)

// SubmitResult tells the submitter whether the new report was linked.
type SubmitResult struct {
	ReportID     string        `json:"report_id"`
	Role         database.Role `json:"role"`
	HasEmbedding bool          `json:"has_embedding"`
	Matched      bool          `json:"matched"`
	Score        *float64      `json:"score,omitempty"`
	LinkedID     string        `json:"linked_id,omitempty"`
}

// Submit stores a new report and, when a face embedding is available, links it
// to the best unlinked report of the opposite role.
//
// The report is stored even when no embedding can be extracted. An upload that
// is not a supported image is dropped and the report is stored without it.
// When linking fails halfway the error wraps ErrPartialUpdate and the result
// still carries the stored report's ID.
func (e *Engine) Submit(ctx context.Context, sub Submission, image []byte, filename string) (*SubmitResult, error) {
	if sub == nil {
		return nil, fmt.Errorf("%w: empty submission", ErrInvalidSubmission)
	}
	role := sub.Role()
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	imageRef, err := e.saveImage(ctx, image, filename)
	if errors.Is(err, imagestore.ErrUnsupportedFormat) {
		e.log.WithFields(logrus.Fields{"role": role, "filename": filename, "error": err}).
			Warn("upload is not a supported image, storing report without image")
		image = nil
	} else if err != nil {
		return nil, err
	}

	report := &database.Report{
		ID:        e.newID(),
		Role:      role,
		Reporter:  toContactInfo(sub.contact()),
		Child:     sub.child(),
		Embedding: e.extractEmbedding(ctx, image, role),
		ImageRef:  imageRef,
		CreatedAt: e.now().UTC(),
	}
	log := e.log.WithFields(logrus.Fields{"report_id": report.ID, "role": role})

	if err := e.store.InsertReport(ctx, report); err != nil {
		e.discardImage(ctx, imageRef)
		return nil, fmt.Errorf("storing report: %w", err)
	}
	log.WithField("has_embedding", report.HasEmbedding()).Info("report stored")

	result := &SubmitResult{
		ReportID:     report.ID,
		Role:         role,
		HasEmbedding: report.HasEmbedding(),
	}
	if !report.HasEmbedding() {
		return result, nil
	}

	if err := e.linkNew(ctx, report, result); err != nil {
		return result, err
	}
	return result, nil
}

func (e *Engine) saveImage(ctx context.Context, image []byte, filename string) (string, error) {
	if e.images == nil || len(image) == 0 {
		return "", nil
	}
	ref, err := e.images.Save(ctx, image, filename)
	if errors.Is(err, imagestore.ErrUnsupportedFormat) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("saving image: %w", err)
	}
	return ref, nil
}

func (e *Engine) discardImage(ctx context.Context, ref string) {
	if e.images == nil || ref == "" {
		return
	}
	if err := e.images.Delete(ctx, ref); err != nil {
		e.log.WithFields(logrus.Fields{"image_ref": ref, "error": err}).Warn("failed to delete orphaned image")
	}
}

// extractEmbedding never fails: provider errors, missing faces and vectors of
// the wrong length all mean the report is stored without an embedding.
func (e *Engine) extractEmbedding(ctx context.Context, image []byte, role database.Role) []float32 {
	if e.embedder == nil || len(image) == 0 {
		return nil
	}
	emb, err := e.embedder.ExtractEmbedding(ctx, image)
	if err != nil {
		e.log.WithFields(logrus.Fields{"role": role, "error": err}).Warn("embedding extraction failed, storing report without embedding")
		return nil
	}
	if len(emb) == 0 {
		e.log.WithField("role", role).Info("no face detected")
		return nil
	}
	if len(emb) != e.dim {
		e.log.WithFields(logrus.Fields{
			"role":     role,
			"got_dim":  len(emb),
			"want_dim": e.dim,
		}).Warn("embedding has unexpected dimension, storing report without embedding")
		return nil
	}
	return emb
}

// linkNew performs the symmetric link of a freshly stored report. The candidate
// is claimed first; the new report is written second and the claim is rolled
// back if that fails. A candidate taken by someone else in the meantime is a
// lost race, reported as no match.
func (e *Engine) linkNew(ctx context.Context, report *database.Report, result *SubmitResult) error {
	cand, err := e.FindBestCandidate(ctx, report.Embedding, report.Role)
	if err != nil {
		return err
	}
	if cand == nil {
		return nil
	}
	candRole := report.Role.Opposite()
	candID := cand.Report.ID
	log := e.log.WithFields(logrus.Fields{
		"report_id":    report.ID,
		"role":         report.Role,
		"candidate_id": candID,
		"distance":     cand.Distance,
	})

	unlock, err := e.locker.Lock(ctx, report.ID, candID)
	if err != nil {
		return fmt.Errorf("locking pair %s/%s: %w", report.ID, candID, err)
	}
	defer unlock()

	self, err := e.store.GetReport(ctx, report.Role, report.ID)
	if err != nil {
		return fmt.Errorf("re-reading report %s: %w", report.ID, err)
	}
	if self == nil {
		return fmt.Errorf("%w: %s disappeared before linking", ErrNotFound, report.ID)
	}
	if self.Match.IsLinked() {
		// A concurrent submission from the other side already claimed this report.
		result.Matched = true
		result.LinkedID = self.Match.LinkedID
		result.Score = self.Match.Score
		return nil
	}

	other, err := e.store.GetReport(ctx, candRole, candID)
	if err != nil {
		return fmt.Errorf("re-reading candidate %s: %w", candID, err)
	}
	if other == nil || !other.Eligible() {
		log.Debug("candidate taken before linking, treating as no match")
		return nil
	}

	score := cand.Score
	ok, err := e.store.CompareAndSetMatch(ctx, candRole, candID, "",
		database.MatchState{LinkedID: report.ID, Score: &score})
	if err != nil {
		return fmt.Errorf("linking candidate %s: %w", candID, err)
	}
	if !ok {
		log.Debug("candidate claimed concurrently, treating as no match")
		return nil
	}

	ok, err = e.store.CompareAndSetMatch(ctx, report.Role, report.ID, "",
		database.MatchState{LinkedID: candID, Score: &score})
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s was linked concurrently", ErrConflict, report.ID)
	}
	if err != nil {
		rolledBack := e.restore(ctx, candRole, candID, report.ID, database.MatchState{})
		pe := &PartialUpdateError{
			Op:         "link",
			FirstID:    candID,
			SecondID:   report.ID,
			FailedSide: report.Role,
			RolledBack: rolledBack,
			Err:        err,
		}
		log.WithFields(logrus.Fields{
			"failed_side": report.Role,
			"rolled_back": rolledBack,
			"error":       err,
		}).Error("symmetric link failed halfway")
		return pe
	}

	result.Matched = true
	result.LinkedID = candID
	result.Score = &score
	log.WithField("score", score).Info("reports linked")
	return nil
}

// restore puts back the previous match state of a record written as the first
// side of a two-sided update. It reports whether the rollback took effect.
func (e *Engine) restore(ctx context.Context, role database.Role, id, currentLinkedID string, prev database.MatchState) bool {
	ok, err := e.store.CompareAndSetMatch(ctx, role, id, currentLinkedID, prev)
	if err != nil || !ok {
		e.log.WithFields(logrus.Fields{
			"report_id": id,
			"role":      role,
			"error":     err,
		}).Error("rollback of first side failed, manual repair needed")
		return false
	}
	return true
}
