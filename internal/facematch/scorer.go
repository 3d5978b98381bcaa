// Package facematch scores face embeddings against each other and picks the best
// unlinked candidate from the opposite report stream.
package facematch

import (
	"errors"
	"math"
)

// Default matching parameters for 512-dim FaceNet embeddings.
const (
	DefaultMaxDistance     = 1.2
	DefaultAcceptThreshold = 1.0
)

// ErrDimensionMismatch is returned when two embeddings cannot be compared.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Distance returns the Euclidean distance between two embeddings, computed in float64.
func Distance(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Score converts a distance into a similarity in [0,1]: 1 at distance 0,
// 0 at maxDistance and beyond.
func Score(distance, maxDistance float64) float64 {
	if maxDistance <= 0 {
		return 0
	}
	s := 1 - distance/maxDistance
	return min(max(s, 0), 1)
}
