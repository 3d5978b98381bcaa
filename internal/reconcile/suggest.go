package reconcile

import (
	"context"
	"fmt"

	"github.com/kozaktomas/tether/internal/database"
	"github.com/kozaktomas/tether/internal/facematch"
)

// DefaultSuggestions is the number of suggestions returned when k is not positive.
const DefaultSuggestions = 5

// Suggestion is a nearby report of the opposite role offered to a reviewer.
type Suggestion struct {
	Report   database.Report `json:"report"`
	Distance float64         `json:"distance"`
	Score    float64         `json:"score"`
	// Available is true when the report could still be linked.
	Available bool `json:"available"`
}

// Suggest lists the k opposite-role reports closest to id's face, regardless
// of their link state. Reports without an embedding get no suggestions.
func (e *Engine) Suggest(ctx context.Context, id string, k int) ([]Suggestion, error) {
	if k <= 0 {
		k = DefaultSuggestions
	}
	self, err := e.findReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if !self.HasEmbedding() {
		return []Suggestion{}, nil
	}
	role := self.Role.Opposite()

	if nf, ok := e.store.(database.NearestFinder); ok {
		reports, distances, err := nf.FindNearest(ctx, role, self.Embedding, k)
		if err != nil {
			return nil, fmt.Errorf("finding nearest %s reports: %w", role, err)
		}
		out := make([]Suggestion, 0, len(reports))
		for i := range reports {
			out = append(out, newSuggestion(reports[i], distances[i], e.params))
		}
		return out, nil
	}

	pool, err := e.store.ScanReports(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("scanning %s reports: %w", role, err)
	}
	ranked := facematch.RankNearest(self.Embedding, pool, k, e.params)
	out := make([]Suggestion, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, newSuggestion(r.Report, r.Distance, e.params))
	}
	return out, nil
}

func newSuggestion(r database.Report, distance float64, p facematch.Params) Suggestion {
	r.Embedding = nil
	return Suggestion{
		Report:    r,
		Distance:  distance,
		Score:     facematch.Score(distance, p.MaxDistance),
		Available: !r.Match.IsLinked(),
	}
}
