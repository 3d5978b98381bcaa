package facematch

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/tether/internal/database"
)

// Params are the tunable matching thresholds.
type Params struct {
	// AcceptThreshold is the exclusive upper bound on distance for a provisional match.
	AcceptThreshold float64 `yaml:"accept_threshold"`
	// MaxDistance is the distance that maps to a score of 0.
	MaxDistance float64 `yaml:"max_distance"`
}

// DefaultParams returns the thresholds used when nothing is configured.
func DefaultParams() Params {
	return Params{AcceptThreshold: DefaultAcceptThreshold, MaxDistance: DefaultMaxDistance}
}

// Validate requires 0 < AcceptThreshold <= MaxDistance.
func (p Params) Validate() error {
	if p.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %f", p.MaxDistance)
	}
	if p.AcceptThreshold <= 0 || p.AcceptThreshold > p.MaxDistance {
		return fmt.Errorf("accept threshold %f must be in (0, %f]", p.AcceptThreshold, p.MaxDistance)
	}
	return nil
}

// Candidate is an accepted match for a target embedding.
type Candidate struct {
	Report   database.Report
	Distance float64
	Score    float64
}

// FindBestCandidate returns the eligible report of pool closest to target, or nil
// when none is closer than p.AcceptThreshold. The pool must be in scan order
// (CreatedAt, then ID); on equal distance the earlier report wins.
// Reports whose embedding cannot be compared with target are skipped and their
// IDs returned in mismatched.
func FindBestCandidate(target []float32, pool []database.Report, p Params) (best *Candidate, mismatched []string) {
	bestIdx := -1
	bestDist := 0.0

	for i := range pool {
		if !pool[i].Eligible() {
			continue
		}
		d, err := Distance(target, pool[i].Embedding)
		if errors.Is(err, ErrDimensionMismatch) {
			mismatched = append(mismatched, pool[i].ID)
			continue
		}
		if bestIdx < 0 || d < bestDist {
			bestIdx = i
			bestDist = d
		}
	}

	if bestIdx < 0 || bestDist >= p.AcceptThreshold {
		return nil, mismatched
	}
	return &Candidate{
		Report:   pool[bestIdx],
		Distance: bestDist,
		Score:    Score(bestDist, p.MaxDistance),
	}, mismatched
}

// Ranked is one entry of a nearest-neighbour listing.
type Ranked struct {
	Report   database.Report
	Distance float64
	Score    float64
}

// RankNearest orders every embedded report of pool by distance to target and
// returns the first k, regardless of link state. Ties keep pool order.
func RankNearest(target []float32, pool []database.Report, k int, p Params) []Ranked {
	ranked := make([]Ranked, 0, len(pool))
	for i := range pool {
		if !pool[i].HasEmbedding() {
			continue
		}
		d, err := Distance(target, pool[i].Embedding)
		if err != nil {
			continue
		}
		ranked = append(ranked, Ranked{Report: pool[i], Distance: d, Score: Score(d, p.MaxDistance)})
	}
	sortRanked(ranked)
	if k >= 0 && len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
