package linkknn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrDimensionMismatch is returned when embedding rows do not share a width,
// or when query and document embeddings live in different spaces.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Matrix is a dense embedding matrix: row i is the embedding of query or
// document i. The evaluator only ever reads it.
type Matrix [][]float32

// Rows returns the number of embeddings.
func (m Matrix) Rows() int { return len(m) }

// Dim returns the embedding width, or 0 for an empty matrix.
func (m Matrix) Dim() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Validate checks that every row has the same, non-zero width.
func (m Matrix) Validate() error {
	if len(m) == 0 {
		return nil
	}
	dim := len(m[0])
	if dim == 0 {
		return fmt.Errorf("%w: row 0 is empty", ErrDimensionMismatch)
	}
	for i, row := range m {
		if len(row) != dim {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrDimensionMismatch, i, len(row), dim)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float32(nil), row...)
	}
	return out
}

// dense converts m into a gonum matrix for the linear-algebra fitters.
func (m Matrix) dense() *mat.Dense {
	r, c := m.Rows(), m.Dim()
	data := make([]float64, 0, r*c)
	for _, row := range m {
		for _, v := range row {
			data = append(data, float64(v))
		}
	}
	return mat.NewDense(r, c, data)
}

// matrixFromDense converts a gonum matrix back into float32 rows.
func matrixFromDense(d mat.Matrix) Matrix {
	r, c := d.Dims()
	out := make(Matrix, r)
	for i := 0; i < r; i++ {
		row := make([]float32, c)
		for j := 0; j < c; j++ {
			row[j] = float32(d.At(i, j))
		}
		out[i] = row
	}
	return out
}
