package linkknn

import (
	"fmt"
	"sort"
)

// Compile-time check to ensure documentIndexSearch implements VectorSearch
var _ VectorSearch = (*documentIndexSearch)(nil)

// documentIndexSearch implements VectorSearch for DocumentIndex.
type documentIndexSearch struct {
	index       *DocumentIndex
	queries     [][]float32
	documentIDs []uint32
	k           int
	threshold   float32
}

// WithQuery sets the query vector(s).
func (s *documentIndexSearch) WithQuery(queries ...[]float32) VectorSearch {
	s.queries = queries
	return s
}

// WithK sets the number of results per query.
func (s *documentIndexSearch) WithK(k int) VectorSearch {
	s.k = k
	return s
}

// WithDocumentIDs restricts the search to a candidate set.
//
// Example:
//
//	search.WithDocumentIDs(1, 2, 3) // only rank documents 1, 2, 3
//	search.WithDocumentIDs()        // every document (default)
func (s *documentIndexSearch) WithDocumentIDs(docIDs ...uint32) VectorSearch {
	s.documentIDs = docIDs
	return s
}

// WithThreshold sets a distance threshold for results.
func (s *documentIndexSearch) WithThreshold(threshold float32) VectorSearch {
	s.threshold = threshold
	return s
}

// Execute validates the search and ranks documents for every query.
func (s *documentIndexSearch) Execute() ([]VectorResult, error) {
	if len(s.queries) == 0 {
		return nil, fmt.Errorf("must specify at least one query")
	}

	filter := NewDocumentFilter(s.documentIDs)
	defer ReturnDocumentFilter(filter)

	var allResults []VectorResult
	for _, query := range s.queries {
		results, err := s.searchSingleQuery(query, filter)
		if err != nil {
			return nil, err
		}
		allResults = append(allResults, results...)
	}
	return allResults, nil
}

// searchSingleQuery ranks the eligible documents for one query.
//
// With a filter only the candidates are visited, in ascending document order,
// so the cost is proportional to the candidate count rather than the corpus.
// Duplicate candidate IDs collapse into one result.
func (s *documentIndexSearch) searchSingleQuery(query []float32, filter *DocumentFilter) ([]VectorResult, error) {
	s.index.mu.RLock()
	defer s.index.mu.RUnlock()

	if len(query) != s.index.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(query), s.index.dim)
	}

	pre, err := s.index.distance.Preprocess(query)
	if err != nil {
		return nil, err
	}

	var results []VectorResult
	score := func(docID uint32) {
		dist := s.index.distance.Calculate(pre, s.index.vectors[docID])
		if s.threshold > 0 && dist > s.threshold {
			return
		}
		results = append(results, VectorResult{DocID: docID, Score: dist})
	}

	if filter == nil {
		results = make([]VectorResult, 0, len(s.index.vectors))
		for docID := range s.index.vectors {
			score(uint32(docID))
		}
	} else {
		results = make([]VectorResult, 0, filter.Count())
		var missing error
		filter.ForEach(func(docID uint32) bool {
			if int(docID) >= len(s.index.vectors) {
				missing = fmt.Errorf("%w: %d (index holds %d documents)", ErrDocumentNotFound, docID, len(s.index.vectors))
				return false
			}
			score(docID)
			return true
		})
		if missing != nil {
			return nil, missing
		}
	}

	sortResults(results)

	return limitResults(results, s.k), nil
}

// sortResults orders by ascending distance, then ascending document index.
func sortResults(results []VectorResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
}

// sanitizeK clamps k to [1, maxResults]; k <= 0 means "all".
func sanitizeK(k, maxResults int) int {
	if k <= 0 || k > maxResults {
		return maxResults
	}
	return k
}

// limitResults keeps the first k results.
func limitResults(results []VectorResult, k int) []VectorResult {
	return results[:sanitizeK(k, len(results))]
}
