package database

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/coder/hnsw"
)

// ReportIndex wraps an HNSW graph over report embeddings of one role.
// Distances are Euclidean, matching the similarity scorer.
type ReportIndex struct {
	graph *hnsw.Graph[string]
	dim   int
	ids   map[string]struct{}
	mu    sync.RWMutex
}

// NewReportIndex creates a new empty index.
func NewReportIndex() *ReportIndex {
	return &ReportIndex{
		ids: make(map[string]struct{}),
	}
}

func newReportGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// BuildFromReports rebuilds the index from a slice of reports.
// Reports without an embedding are skipped.
func (h *ReportIndex) BuildFromReports(reports []Report) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dim = 0
	h.ids = make(map[string]struct{}, len(reports))

	for i := range reports {
		if err := h.addLocked(reports[i].ID, reports[i].Embedding); err != nil {
			return err
		}
	}
	return nil
}

// Add adds a single report embedding to the index.
func (h *ReportIndex) Add(id string, embedding []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addLocked(id, embedding)
}

func (h *ReportIndex) addLocked(id string, embedding []float32) error {
	if len(embedding) == 0 {
		return nil
	}
	if h.graph == nil {
		h.graph = newReportGraph()
		h.dim = len(embedding)
	}
	if len(embedding) != h.dim {
		return fmt.Errorf("index dimension %d, report %s has %d", h.dim, id, len(embedding))
	}
	if _, ok := h.ids[id]; ok {
		return nil // embeddings are immutable
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	h.graph.Add(hnsw.MakeNode(id, vec))
	h.ids[id] = struct{}{}
	return nil
}

// Search finds the k nearest neighbors to the query embedding.
// Returns report IDs and their Euclidean distances, closest first.
func (h *ReportIndex) Search(query []float32, k int) ([]string, []float64, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		return nil, nil, nil
	}
	if len(query) != h.dim {
		return nil, nil, errors.New("query dimension does not match index")
	}

	neighbors := h.graph.Search(query, k)
	hits := make([]indexHit, len(neighbors))
	for i, n := range neighbors {
		hits[i] = indexHit{id: n.Key, dist: euclidean(query, n.Value)}
	}
	slices.SortStableFunc(hits, func(a, b indexHit) int {
		return cmp.Compare(a.dist, b.dist)
	})

	ids := make([]string, len(hits))
	distances := make([]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.id
		distances[i] = hit.dist
	}
	return ids, distances, nil
}

type indexHit struct {
	id   string
	dist float64
}

// Count returns the number of indexed reports.
func (h *ReportIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ids)
}

// euclidean recomputes the distance in float64 so index results agree with the scorer.
func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
