// Package linkknn implements a flat (brute-force) document index for the
// distance stage of the filtered KNN metric.
//
// HOW THE DISTANCE STAGE WORKS:
// For a query embedding Q and a candidate set C produced by the frequency
// index:
// 1. Calculate the distance from Q to the embedding of every document in C
// 2. Sort ascending, ties broken by document index
// 3. Return the k closest
//
// Without a candidate set the same search covers every document, which is
// the unfiltered "full space" accuracy of the original analysis.
//
// TIME COMPLEXITY:
//   - Build: O(n*m) (copy and, for cosine, normalize every row)
//   - Filtered search: O(t*m + t*log(t)), t = candidates, m = dimensionality
//   - Full search: O(n*m + n*log(n))
//
// The index never mutates the matrix it was built from.
package linkknn

import (
	"fmt"
	"sync"
)

// DocumentIndex is a flat kNN index over document embeddings (ED), addressed
// by document index.
//
// Thread-safety: read-only after construction; searches take a read lock so
// the index can be shared by concurrent evaluations.
type DocumentIndex struct {
	// dim is the width every stored and query vector must have.
	dim int

	distanceKind DistanceKind
	distance     Distance

	// vectors[i] is the preprocessed embedding of document i.
	vectors [][]float32

	mu sync.RWMutex
}

// NewDocumentIndex builds an index over docs using the given metric.
//
// Rows are preprocessed once (normalized for cosine) so that searches only
// pay for the distance kernel.
//
// Returns an error for an empty or ragged matrix, an unknown metric, or a
// zero row under cosine distance.
//
// Example:
//
//	idx, err := NewDocumentIndex(ED, L2Squared)
//	if err != nil { return err }
//	results, err := idx.NewSearch().
//		WithQuery(EQ[0]).
//		WithDocumentIDs(0, 2, 7).
//		WithK(1).
//		Execute()
func NewDocumentIndex(docs Matrix, distanceKind DistanceKind) (*DocumentIndex, error) {
	if docs.Rows() == 0 {
		return nil, fmt.Errorf("document matrix is empty")
	}
	if err := docs.Validate(); err != nil {
		return nil, fmt.Errorf("document matrix: %w", err)
	}

	distance, err := NewDistance(distanceKind)
	if err != nil {
		return nil, err
	}

	vectors := make([][]float32, docs.Rows())
	for i, row := range docs {
		pre, err := distance.Preprocess(append([]float32(nil), row...))
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		vectors[i] = pre
	}

	return &DocumentIndex{
		dim:          docs.Dim(),
		distanceKind: distance.Kind(),
		distance:     distance,
		vectors:      vectors,
	}, nil
}

// Len returns the number of indexed documents.
func (idx *DocumentIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

// Dimensions returns the embedding width.
func (idx *DocumentIndex) Dimensions() int {
	return idx.dim
}

// DistanceKind returns the metric used for ranking.
func (idx *DocumentIndex) DistanceKind() DistanceKind {
	return idx.distanceKind
}

// NewSearch creates a search builder with no candidate restriction.
func (idx *DocumentIndex) NewSearch() VectorSearch {
	return &documentIndexSearch{index: idx}
}
