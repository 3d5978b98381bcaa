package database

import (
	"cmp"
	"slices"
)

// FaceEmbeddingDim is the fixed dimension for face embeddings (512 for FaceNet / InceptionResnetV1)
const FaceEmbeddingDim = 512

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100
)

func sortReports(reports []Report) {
	slices.SortStableFunc(reports, func(a, b Report) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
