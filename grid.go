package linkknn

import (
	"fmt"
)

// GridResult is one cell of an evaluation grid.
type GridResult struct {
	Model    string  `parquet:"model"`
	K        int     `parquet:"k"`
	T        int     `parquet:"t"`
	Accuracy float64 `parquet:"accuracy"`
	MRR      float64 `parquet:"mrr"`
	Queries  int     `parquet:"queries"`
}

// GridOption configures RunGrid.
type GridOption func(*gridConfig)

type gridConfig struct {
	rawTF    bool
	progress ProgressFunc
}

// WithRawTFBaseline adds a "raw_tf" model row for every (k, T) cell.
func WithRawTFBaseline() GridOption {
	return func(c *gridConfig) { c.rawTF = true }
}

// WithGridProgress reports progress once per evaluated cell.
func WithGridProgress(fn ProgressFunc) GridOption {
	return func(c *gridConfig) { c.progress = fn }
}

// RunGrid fits every fitter once on (eq, ed) and evaluates the transformed
// embeddings for every combination of ks and ts. Cells with k > T are
// skipped. Results are ordered by fitter, then T, then k.
//
// Example:
//
//	results, err := RunGrid(eval, []Fitter{IdentityFitter{}, NewPCAFitter(64)},
//		[]int{1, 5}, []int{10, 50}, Links(rows), EQ, ED)
func RunGrid(e *Evaluator, fitters []Fitter, ks, ts []int, links []string, eq, ed Matrix, opts ...GridOption) ([]GridResult, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil evaluator", ErrInvalidParameters)
	}
	if len(ks) == 0 || len(ts) == 0 {
		return nil, fmt.Errorf("%w: empty k or T list", ErrInvalidParameters)
	}
	var cfg gridConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	cells := 0
	for _, t := range ts {
		for _, k := range ks {
			if k <= t {
				cells++
			}
		}
	}
	models := len(fitters)
	if cfg.rawTF {
		models++
	}
	total := cells * models
	done := 0
	tick := func() {
		done++
		if cfg.progress != nil {
			cfg.progress(done, total)
		}
	}

	var results []GridResult

	if cfg.rawTF {
		for _, t := range ts {
			for _, k := range ks {
				if k > t {
					continue
				}
				report, err := e.EvaluateRawTF(t, k, links)
				if err != nil {
					return nil, fmt.Errorf("raw_tf k=%d t=%d: %w", k, t, err)
				}
				results = append(results, gridResult("raw_tf", report))
				tick()
			}
		}
	}

	for _, f := range fitters {
		name := f.Describe()
		q, d, err := f.Fit(eq, ed)
		if err != nil {
			return nil, fmt.Errorf("fit %s: %w", name, err)
		}
		for _, t := range ts {
			for _, k := range ks {
				if k > t {
					continue
				}
				report, err := e.Evaluate(t, k, links, q, d)
				if err != nil {
					return nil, fmt.Errorf("%s k=%d t=%d: %w", name, k, t, err)
				}
				results = append(results, gridResult(name, report))
				tick()
			}
		}
	}

	return results, nil
}

func gridResult(model string, r *Report) GridResult {
	return GridResult{
		Model:    model,
		K:        r.K,
		T:        r.T,
		Accuracy: r.Accuracy,
		MRR:      r.MRR,
		Queries:  r.Queries,
	}
}
