package linkknn

import (
	"errors"
	"fmt"
)

// ErrInvalidParameters is returned for a filter width, cutoff or query list
// the evaluator cannot score.
var ErrInvalidParameters = errors.New("invalid evaluation parameters")

// Evaluator scores embeddings with the filtered KNN protocol:
//  1. take the first T frequency candidates of the query's link
//  2. rank them by distance between the query and document embeddings
//  3. count a hit when the link's truth document is among the first k
//
// An Evaluator owns its FrequencyIndex for its whole lifetime and never
// mutates it or the matrices it is given.
type Evaluator struct {
	index    *FrequencyIndex
	distance DistanceKind
	progress ProgressFunc
}

// EvaluatorOption configures NewEvaluator.
type EvaluatorOption func(*Evaluator)

// WithDistance sets the re-ranking metric. Default L2Squared.
func WithDistance(kind DistanceKind) EvaluatorOption {
	return func(e *Evaluator) { e.distance = kind }
}

// WithProgress reports progress once per query scored.
func WithProgress(fn ProgressFunc) EvaluatorOption {
	return func(e *Evaluator) { e.progress = fn }
}

// NewEvaluator creates an evaluator over a built index.
func NewEvaluator(index *FrequencyIndex, opts ...EvaluatorOption) (*Evaluator, error) {
	if index == nil {
		return nil, fmt.Errorf("%w: nil frequency index", ErrInvalidParameters)
	}
	e := &Evaluator{index: index, distance: L2Squared}
	for _, opt := range opts {
		opt(e)
	}
	if _, err := NewDistance(e.distance); err != nil {
		return nil, err
	}
	return e, nil
}

// Index returns the frequency index the evaluator was built with.
func (e *Evaluator) Index() *FrequencyIndex { return e.index }

// QueryResult is the outcome of one query.
type QueryResult struct {
	Link       string
	Truth      int
	Candidates int  // size of the filtered candidate set
	Rank       int  // 1-based rank of the truth document, 0 when not a candidate
	Hit        bool // Rank in [1, k]
}

// Report aggregates one (T, k) evaluation.
type Report struct {
	T        int
	K        int
	Queries  int
	Hits     int
	Accuracy float64 // Hits / Queries
	MRR      float64 // mean of 1/Rank, 0 for misses outside the candidates
	Results  []QueryResult
}

// MeasureKNNAccuracy returns the fraction of queries whose truth document is
// within the k closest of their T frequency candidates.
//
// L[i] is the link of query i and EQ[i] its embedding; ED[d] is the embedding
// of document d. A link missing from the index aborts the run with
// ErrLinkNotIndexed.
func (e *Evaluator) MeasureKNNAccuracy(t, k int, links []string, eq, ed Matrix) (float64, error) {
	report, err := e.Evaluate(t, k, links, eq, ed)
	if err != nil {
		return 0, err
	}
	return report.Accuracy, nil
}

// Evaluate is MeasureKNNAccuracy with per-query ranks and MRR.
func (e *Evaluator) Evaluate(t, k int, links []string, eq, ed Matrix) (*Report, error) {
	docs, err := e.prepare(t, k, links, eq, ed)
	if err != nil {
		return nil, err
	}
	return e.run(t, k, links, func(i int, candidates []uint32) ([]uint32, error) {
		results, err := docs.NewSearch().
			WithQuery(eq[i]).
			WithDocumentIDs(candidates...).
			Execute()
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		ranked := make([]uint32, len(results))
		for j, r := range results {
			ranked[j] = r.DocID
		}
		return ranked, nil
	})
}

// RawTFAccuracy is the embedding-free baseline: a hit is a truth document
// among the first min(t, k) candidates in policy order. It answers whether
// frequency filtering alone already finds the document.
func (e *Evaluator) RawTFAccuracy(t, k int, links []string) (float64, error) {
	report, err := e.EvaluateRawTF(t, k, links)
	if err != nil {
		return 0, err
	}
	return report.Accuracy, nil
}

// EvaluateRawTF is RawTFAccuracy with per-query ranks and MRR.
func (e *Evaluator) EvaluateRawTF(t, k int, links []string) (*Report, error) {
	if err := validateCutoffs(t, k); err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: empty query list", ErrInvalidParameters)
	}
	return e.run(t, k, links, func(_ int, candidates []uint32) ([]uint32, error) {
		return candidates, nil
	})
}

// MeasureFusedAccuracy re-ranks the T candidates by fusing their frequency
// rank with their distance rank, then scores top-k like MeasureKNNAccuracy.
func (e *Evaluator) MeasureFusedAccuracy(t, k int, links []string, eq, ed Matrix, fusion Fusion) (*Report, error) {
	if fusion == nil {
		return nil, fmt.Errorf("%w: nil fusion", ErrInvalidParameters)
	}
	docs, err := e.prepare(t, k, links, eq, ed)
	if err != nil {
		return nil, err
	}
	return e.run(t, k, links, func(i int, candidates []uint32) ([]uint32, error) {
		results, err := docs.NewSearch().
			WithQuery(eq[i]).
			WithDocumentIDs(candidates...).
			Execute()
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		// Frequency scores: earlier candidates score higher.
		freq := make(map[uint32]float64, len(candidates))
		for pos, d := range candidates {
			if _, ok := freq[d]; !ok {
				freq[d] = float64(len(candidates) - pos)
			}
		}
		dist := make(map[uint32]float64, len(results))
		for _, r := range results {
			dist[r.DocID] = float64(r.Score)
		}
		return rankFused(fusion.Combine(dist, freq)), nil
	})
}

// FullSpaceAccuracy is unfiltered KNN accuracy: query i's truth is document i
// and every document is a candidate.
func (e *Evaluator) FullSpaceAccuracy(k int, eq, ed Matrix) (float64, error) {
	return FullSpaceAccuracy(k, eq, ed, e.distance)
}

// FullSpaceAccuracy is the index-free form of Evaluator.FullSpaceAccuracy.
func FullSpaceAccuracy(k int, eq, ed Matrix, distance DistanceKind) (float64, error) {
	if k < 1 {
		return 0, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidParameters, k)
	}
	if eq.Rows() == 0 {
		return 0, fmt.Errorf("%w: no queries", ErrInvalidParameters)
	}
	if eq.Rows() > ed.Rows() {
		return 0, fmt.Errorf("%w: %d queries but only %d documents", ErrInvalidParameters, eq.Rows(), ed.Rows())
	}
	if err := eq.Validate(); err != nil {
		return 0, fmt.Errorf("query matrix: %w", err)
	}
	docs, err := NewDocumentIndex(ed, distance)
	if err != nil {
		return 0, err
	}
	hits := 0
	for i, q := range eq {
		results, err := docs.NewSearch().WithQuery(q).WithK(k).Execute()
		if err != nil {
			return 0, fmt.Errorf("query %d: %w", i, err)
		}
		for _, r := range results {
			if int(r.DocID) == i {
				hits++
				break
			}
		}
	}
	return float64(hits) / float64(eq.Rows()), nil
}

// rankFn orders the candidate documents of query i, best first.
type rankFn func(i int, candidates []uint32) ([]uint32, error)

// run drives one evaluation pass. It aborts on the first error.
func (e *Evaluator) run(t, k int, links []string, rank rankFn) (*Report, error) {
	report := &Report{
		T:       t,
		K:       k,
		Queries: len(links),
		Results: make([]QueryResult, len(links)),
	}
	var rrSum float64
	for i, link := range links {
		truth, err := e.index.Truth(link)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		candidates, err := e.index.Candidates(link, t)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		ranked, err := rank(i, candidates)
		if err != nil {
			return nil, err
		}

		res := QueryResult{Link: link, Truth: truth, Candidates: len(candidates)}
		for pos, d := range ranked {
			if int(d) == truth {
				res.Rank = pos + 1
				break
			}
		}
		if res.Rank > 0 {
			rrSum += 1 / float64(res.Rank)
			if res.Rank <= k {
				res.Hit = true
				report.Hits++
			}
		}
		report.Results[i] = res

		if e.progress != nil {
			e.progress(i+1, len(links))
		}
	}
	report.Accuracy = float64(report.Hits) / float64(report.Queries)
	report.MRR = rrSum / float64(report.Queries)
	return report, nil
}

// prepare validates a distance-based evaluation and indexes ED.
func (e *Evaluator) prepare(t, k int, links []string, eq, ed Matrix) (*DocumentIndex, error) {
	if err := validateCutoffs(t, k); err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: empty query list", ErrInvalidParameters)
	}
	if len(links) != eq.Rows() {
		return nil, fmt.Errorf("%w: %d links but %d query embeddings", ErrInvalidParameters, len(links), eq.Rows())
	}
	if err := eq.Validate(); err != nil {
		return nil, fmt.Errorf("query matrix: %w", err)
	}
	if ed.Rows() < e.index.Documents() {
		return nil, fmt.Errorf("%w: %d document embeddings for %d documents", ErrInvalidParameters, ed.Rows(), e.index.Documents())
	}
	if eq.Dim() != ed.Dim() {
		return nil, fmt.Errorf("%w: queries have %d dimensions, documents %d", ErrDimensionMismatch, eq.Dim(), ed.Dim())
	}
	return NewDocumentIndex(ed, e.distance)
}

// validateCutoffs enforces T >= 1 and 1 <= k <= T.
func validateCutoffs(t, k int) error {
	if t < 1 {
		return fmt.Errorf("%w: filter width T must be positive, got %d", ErrInvalidParameters, t)
	}
	if k < 1 || k > t {
		return fmt.Errorf("%w: k must be in [1, T=%d], got %d", ErrInvalidParameters, t, k)
	}
	return nil
}
