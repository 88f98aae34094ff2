package linkknn

import (
	"errors"
	"math"
)

// ErrUnknownDistanceKind is returned when an unknown distance kind is provided to NewDistance.
var ErrUnknownDistanceKind = errors.New("unknown distance kind")

// ErrZeroVector is returned when a zero vector is provided for a metric that doesn't support it.
var ErrZeroVector = errors.New("zero vector not allowed for this metric")

// DistanceKind names the metric used to re-rank frequency candidates.
//
// The filtered KNN metric is defined on squared Euclidean distance, which is
// the default everywhere in this package. The other kinds exist so that
// embeddings trained for angular similarity can be scored fairly:
//   - L2Squared: sum((a[i] - b[i])^2), the reference metric
//   - Euclidean: sqrt of the above, same ordering, real distances in reports
//   - Cosine: 1 - cos(a, b), magnitude independent
type DistanceKind string

const (
	// L2Squared is the squared Euclidean distance. Ordering is identical to
	// Euclidean, without the sqrt.
	L2Squared DistanceKind = "l2_squared"

	// Euclidean is the straight-line (L2) distance.
	Euclidean DistanceKind = "l2"

	// Cosine is 1 - cosine similarity. Range [0, 2].
	Cosine DistanceKind = "cosine"
)

// Stateless singletons, safe to share across goroutines.
var (
	l2SquaredDistanceImpl = l2Squared{}
	euclideanDistanceImpl = euclidean{}
	cosineDistanceImpl    = cosine{}
)

// Distance computes distances between two embedding rows.
type Distance interface {
	// Calculate returns the distance between a and b (lower = more similar).
	// Both vectors must already have been passed through Preprocess.
	Calculate(a, b []float32) float32

	// Preprocess returns the representation Calculate expects. For cosine
	// this is a normalized copy, for the L2 family the input itself.
	// Returns ErrZeroVector when the metric cannot handle the vector.
	Preprocess(v []float32) ([]float32, error)

	// Kind returns the metric name.
	Kind() DistanceKind
}

// NewDistance returns the singleton Distance for kind.
// An empty kind selects L2Squared.
func NewDistance(kind DistanceKind) (Distance, error) {
	switch kind {
	case L2Squared, "":
		return l2SquaredDistanceImpl, nil
	case Euclidean:
		return euclideanDistanceImpl, nil
	case Cosine:
		return cosineDistanceImpl, nil
	default:
		return nil, ErrUnknownDistanceKind
	}
}

type l2Squared struct{}

func (l2Squared) Calculate(a, b []float32) float32 {
	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

func (l2Squared) Preprocess(v []float32) ([]float32, error) { return v, nil }

func (l2Squared) Kind() DistanceKind { return L2Squared }

type euclidean struct{}

func (euclidean) Calculate(a, b []float32) float32 {
	return float32(math.Sqrt(float64(l2SquaredDistanceImpl.Calculate(a, b))))
}

func (euclidean) Preprocess(v []float32) ([]float32, error) { return v, nil }

func (euclidean) Kind() DistanceKind { return Euclidean }

// cosine assumes both inputs are unit length, so the distance reduces to
// 1 - dot(a, b).
type cosine struct{}

func (cosine) Calculate(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return 1 - dot
}

func (cosine) Preprocess(v []float32) ([]float32, error) {
	if Norm(v) == 0 {
		return nil, ErrZeroVector
	}
	return Normalize(v), nil
}

func (cosine) Kind() DistanceKind { return Cosine }

// Norm computes the L2 norm of v.
//
// Example:
//
//	Norm([]float32{3, 4}) // 5
func Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged (as a copy) rather than producing NaNs.
func Normalize(v []float32) []float32 {
	result := make([]float32, len(v))
	norm := Norm(v)
	if norm == 0 {
		copy(result, v)
		return result
	}
	scale := 1 / norm
	for i := range v {
		result[i] = v[i] * scale
	}
	return result
}
