package linkknn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ============================================================================
// PCA
// ============================================================================

// PCAFitter projects both matrices onto the leading principal components of
// the query embeddings. The target is projected with the same basis, so both
// land in one shared low-dimensional space.
type PCAFitter struct {
	dims  int
	mean  []float64
	basis mat.Matrix // d × dims
}

// NewPCAFitter keeps the first dims components.
func NewPCAFitter(dims int) *PCAFitter {
	return &PCAFitter{dims: dims}
}

func (p *PCAFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	if err := checkPair(query, target); err != nil {
		return nil, nil, err
	}
	if query.Dim() != target.Dim() {
		return nil, nil, fmt.Errorf("%w: pca needs query and target in one space (%d vs %d)", ErrDimensionMismatch, query.Dim(), target.Dim())
	}
	if p.dims > query.Dim() || p.dims > query.Rows() {
		return nil, nil, fmt.Errorf("%w: %d components from %d×%d data", ErrInvalidParameters, p.dims, query.Rows(), query.Dim())
	}

	x := query.dense()
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, nil, fmt.Errorf("pca: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	d, _ := vecs.Dims()
	p.basis = vecs.Slice(0, d, 0, p.dims)
	p.mean = columnMeans(x)

	return p.Predict(query, target)
}

func (p *PCAFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	if p.basis == nil {
		return nil, nil, ErrNotFitted
	}
	q, err := project(query, p.mean, p.basis)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	t, err := project(target, p.mean, p.basis)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return q, t, nil
}

func (p *PCAFitter) Describe() string { return fmt.Sprintf("pca(%d)", p.dims) }

// ============================================================================
// CCA
// ============================================================================

// CCAFitter projects queries and targets onto their leading canonical
// directions, i.e. the pairs of directions along which the two views are
// maximally correlated. Row i of query and row i of target must be a pair.
type CCAFitter struct {
	dims int

	queryMean, targetMean   []float64
	queryBasis, targetBasis mat.Matrix
}

// NewCCAFitter keeps the first dims canonical pairs.
func NewCCAFitter(dims int) *CCAFitter {
	return &CCAFitter{dims: dims}
}

func (c *CCAFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	if err := checkPair(query, target); err != nil {
		return nil, nil, err
	}
	if query.Rows() != target.Rows() {
		return nil, nil, fmt.Errorf("%w: cca needs paired rows (%d vs %d)", ErrInvalidParameters, query.Rows(), target.Rows())
	}
	if c.dims > query.Dim() || c.dims > target.Dim() {
		return nil, nil, fmt.Errorf("%w: %d canonical pairs from %d and %d dimensions", ErrInvalidParameters, c.dims, query.Dim(), target.Dim())
	}

	x, y := query.dense(), target.dense()

	// The wider view goes on the left so that both bases have at least
	// dims columns.
	swapped := query.Dim() < target.Dim()
	if swapped {
		x, y = y, x
	}

	var cc stat.CC
	if err := cc.CanonicalCorrelations(x, y, nil); err != nil {
		return nil, nil, fmt.Errorf("cca: %w", err)
	}
	var left, right mat.Dense
	cc.LeftTo(&left, false)
	cc.RightTo(&right, false)

	lr, _ := left.Dims()
	rr, _ := right.Dims()
	xBasis := left.Slice(0, lr, 0, c.dims)
	yBasis := right.Slice(0, rr, 0, c.dims)
	xMean, yMean := columnMeans(x), columnMeans(y)

	if swapped {
		xBasis, yBasis = yBasis, xBasis
		xMean, yMean = yMean, xMean
	}
	c.queryBasis, c.targetBasis = xBasis, yBasis
	c.queryMean, c.targetMean = xMean, yMean

	return c.Predict(query, target)
}

func (c *CCAFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	if c.queryBasis == nil {
		return nil, nil, ErrNotFitted
	}
	q, err := project(query, c.queryMean, c.queryBasis)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	t, err := project(target, c.targetMean, c.targetBasis)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return q, t, nil
}

func (c *CCAFitter) Describe() string { return fmt.Sprintf("cca(%d)", c.dims) }

// ============================================================================
// RIDGE REGRESSION
// ============================================================================

// RidgeFitter regresses query embeddings onto their target embeddings with
// an L2-penalized linear map and leaves the targets untouched, so queries
// are moved into document space:
//
//	W = (XᵀX + λI)⁻¹ XᵀY on centered X, Y
//	query' = (X - μx)W + μy
type RidgeFitter struct {
	lambda float64

	queryMean, targetMean []float64
	weights               *mat.Dense
}

// NewRidgeFitter uses penalty lambda (0 is ordinary least squares).
func NewRidgeFitter(lambda float64) *RidgeFitter {
	return &RidgeFitter{lambda: lambda}
}

func (r *RidgeFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	if err := checkPair(query, target); err != nil {
		return nil, nil, err
	}
	if query.Rows() != target.Rows() {
		return nil, nil, fmt.Errorf("%w: ridge needs paired rows (%d vs %d)", ErrInvalidParameters, query.Rows(), target.Rows())
	}

	x, y := query.dense(), target.dense()
	r.queryMean, r.targetMean = columnMeans(x), columnMeans(y)
	xc, yc := center(x, r.queryMean), center(y, r.targetMean)

	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	d, _ := gram.Dims()
	for i := 0; i < d; i++ {
		gram.Set(i, i, gram.At(i, i)+r.lambda)
	}
	var rhs mat.Dense
	rhs.Mul(xc.T(), yc)

	var w mat.Dense
	if err := w.Solve(&gram, &rhs); err != nil {
		return nil, nil, fmt.Errorf("ridge: %w", err)
	}
	r.weights = &w

	return r.Predict(query, target)
}

func (r *RidgeFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	if r.weights == nil {
		return nil, nil, ErrNotFitted
	}
	q, err := project(query, r.queryMean, r.weights)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	for _, row := range q {
		for j := range row {
			row[j] += float32(r.targetMean[j])
		}
	}
	return q, target, nil
}

func (r *RidgeFitter) Describe() string { return fmt.Sprintf("ridge(%g)", r.lambda) }

// ============================================================================
// helpers
// ============================================================================

func columnMeans(m *mat.Dense) []float64 {
	_, c := m.Dims()
	means := make([]float64, c)
	for j := 0; j < c; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	return means
}

func center(m *mat.Dense, means []float64) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	out.Apply(func(i, j int, v float64) float64 { return v - means[j] }, m)
	return out
}

// project computes (m - mean) × basis.
func project(m Matrix, mean []float64, basis mat.Matrix) (Matrix, error) {
	if m.Rows() == 0 {
		return Matrix{}, nil
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Dim() != len(mean) {
		return nil, fmt.Errorf("%w: fitted on %d dimensions, got %d", ErrDimensionMismatch, len(mean), m.Dim())
	}
	var out mat.Dense
	out.Mul(center(m.dense(), mean), basis)
	return matrixFromDense(&out), nil
}
