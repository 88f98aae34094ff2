package linkknn

import "errors"

// ErrDocumentNotFound is returned when a search references a document index
// that has no embedding row.
var ErrDocumentNotFound = errors.New("document not found in index")

// VectorResult is one ranked document of a vector search.
type VectorResult struct {
	DocID uint32
	Score float32 // distance, lower is closer
}

// VectorSearch encapsulates one search against a DocumentIndex.
type VectorSearch interface {
	// WithQuery sets the query vector(s); results of a batch are concatenated
	// in query order.
	WithQuery(queries ...[]float32) VectorSearch

	// WithK sets the number of results per query. k <= 0 returns every
	// eligible document.
	WithK(k int) VectorSearch

	// WithDocumentIDs restricts the search to the given documents.
	// No IDs (the default) searches every document.
	WithDocumentIDs(docIDs ...uint32) VectorSearch

	// WithThreshold drops results farther than threshold (0 disables).
	WithThreshold(threshold float32) VectorSearch

	// Execute runs the search.
	Execute() ([]VectorResult, error)
}
