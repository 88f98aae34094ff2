package linkknn

import (
	"errors"
	"strings"
	"testing"
)

func TestRunGrid(t *testing.T) {
	rows := exampleRows()
	eval := newTestEvaluator(t, rows)
	emb := Matrix{{1, 0}, {0, 1}, {1, 1}}

	var calls int
	var last [2]int
	results, err := RunGrid(eval, []Fitter{IdentityFitter{}}, []int{1, 2}, []int{1, 3}, Links(rows), emb, emb,
		WithRawTFBaseline(),
		WithGridProgress(func(done, total int) {
			calls++
			last = [2]int{done, total}
		}))
	if err != nil {
		t.Fatal(err)
	}

	type cell struct {
		model string
		k, t  int
	}
	want := []cell{
		{"raw_tf", 1, 1}, {"raw_tf", 1, 3}, {"raw_tf", 2, 3},
		{"identity", 1, 1}, {"identity", 1, 3}, {"identity", 2, 3},
	}
	if len(results) != len(want) {
		t.Fatalf("len(results) = %d, want %d: %+v", len(results), len(want), results)
	}
	for i, w := range want {
		r := results[i]
		if r.Model != w.model || r.K != w.k || r.T != w.t {
			t.Errorf("results[%d] = %+v, want %+v", i, r, w)
		}
		if r.Accuracy != 1 || r.Queries != 3 {
			t.Errorf("results[%d] accuracy = %v over %d queries", i, r.Accuracy, r.Queries)
		}
	}
	if calls != 6 || last != [2]int{6, 6} {
		t.Errorf("progress calls = %d, last = %v", calls, last)
	}
}

func TestRunGrid_FittersOnly(t *testing.T) {
	rows := exampleRows()
	eval := newTestEvaluator(t, rows)
	emb := Matrix{{1, 0}, {0, 1}, {1, 1}}

	results, err := RunGrid(eval, []Fitter{IdentityFitter{}, NormalizeFitter{}}, []int{1}, []int{2}, Links(rows), emb, emb)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].Model != "identity" || results[1].Model != "normalize" {
		t.Errorf("results = %+v", results)
	}
}

func TestRunGrid_Errors(t *testing.T) {
	rows := exampleRows()
	eval := newTestEvaluator(t, rows)
	emb := Matrix{{1, 0}, {0, 1}, {1, 1}}
	links := Links(rows)

	if _, err := RunGrid(nil, nil, []int{1}, []int{1}, links, emb, emb); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("nil evaluator error = %v", err)
	}
	if _, err := RunGrid(eval, nil, nil, []int{1}, links, emb, emb); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("empty ks error = %v", err)
	}

	_, err := RunGrid(eval, []Fitter{NewPCAFitter(5)}, []int{1}, []int{1}, links, emb, emb)
	if err == nil || !strings.Contains(err.Error(), "fit pca(5)") {
		t.Errorf("fit error = %v", err)
	}

	_, err = RunGrid(eval, []Fitter{IdentityFitter{}}, []int{1}, []int{1}, links[:2], emb, emb)
	if err == nil || !strings.Contains(err.Error(), "identity k=1 t=1") {
		t.Errorf("evaluation error = %v", err)
	}
}
