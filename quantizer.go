package linkknn

import (
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// ============================================================================
// QUANTIZER INTERFACE
// ============================================================================

// QuantizerType represents the storage precision of a quantizer.
type QuantizerType string

const (
	FullPrecision QuantizerType = "float32"
	HalfPrecision QuantizerType = "float16"
	Int8Precision QuantizerType = "int8"
)

var (
	// ErrNotTrained is returned by a quantizer that needs a scale before it
	// has seen a usable sample.
	ErrNotTrained = errors.New("quantizer has not been trained")

	// ErrZeroSample is returned by Int8Quantizer.Train when every sample
	// value is zero, which leaves no range to scale onto.
	ErrZeroSample = errors.New("quantizer sample has no non-zero value")
)

// Quantizer converts embedding rows to a compressed representation and
// back. Used to measure how much retrieval accuracy an embedding keeps when
// stored at lower precision.
type Quantizer interface {
	// Train derives whatever scale the quantizer needs from sample.
	Train(sample Matrix) error

	// IsTrained reports whether Quantize and Dequantize may be called.
	IsTrained() bool

	// Quantize encodes one row: []float32, []uint16 (float16 bits) or
	// []int8 depending on the type.
	Quantize(row []float32) (any, error)

	// Dequantize decodes a row produced by Quantize.
	Dequantize(stored any) ([]float32, error)

	Type() QuantizerType
}

// NewQuantizer creates a quantizer of the specified type.
// The empty type selects half precision.
func NewQuantizer(qType QuantizerType) (Quantizer, error) {
	switch qType {
	case FullPrecision:
		return &FullPrecisionQuantizer{}, nil
	case HalfPrecision, "":
		return &HalfPrecisionQuantizer{}, nil
	case Int8Precision:
		return &Int8Quantizer{}, nil
	default:
		return nil, fmt.Errorf("unsupported quantizer type: %s", qType)
	}
}

// encodeRow applies enc to every value of row.
func encodeRow[T any](row []float32, enc func(float32) T) []T {
	out := make([]T, len(row))
	for i, v := range row {
		out[i] = enc(v)
	}
	return out
}

// decodeRow type-checks stored and applies dec to every element.
func decodeRow[T any](stored any, dec func(T) float32) ([]float32, error) {
	vals, ok := stored.([]T)
	if !ok {
		var zero T
		return nil, fmt.Errorf("expected []%T, got %T", zero, stored)
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = dec(v)
	}
	return out, nil
}

// ============================================================================
// FULL PRECISION (float32)
// ============================================================================

// FullPrecisionQuantizer is the no-op reference point. Rows are copied.
type FullPrecisionQuantizer struct{}

func (*FullPrecisionQuantizer) Train(Matrix) error { return nil }

func (*FullPrecisionQuantizer) IsTrained() bool { return true }

func (*FullPrecisionQuantizer) Quantize(row []float32) (any, error) {
	return encodeRow(row, func(v float32) float32 { return v }), nil
}

func (*FullPrecisionQuantizer) Dequantize(stored any) ([]float32, error) {
	return decodeRow(stored, func(v float32) float32 { return v })
}

func (*FullPrecisionQuantizer) Type() QuantizerType { return FullPrecision }

// ============================================================================
// HALF PRECISION (float16)
// ============================================================================

// HalfPrecisionQuantizer stores IEEE 754 half precision bits, 2 bytes per
// dimension. It needs no training.
type HalfPrecisionQuantizer struct{}

func (*HalfPrecisionQuantizer) Train(Matrix) error { return nil }

func (*HalfPrecisionQuantizer) IsTrained() bool { return true }

func (*HalfPrecisionQuantizer) Quantize(row []float32) (any, error) {
	return encodeRow(row, func(v float32) uint16 { return float16.Fromfloat32(v).Bits() }), nil
}

func (*HalfPrecisionQuantizer) Dequantize(stored any) ([]float32, error) {
	return decodeRow(stored, func(b uint16) float32 { return float16.Frombits(b).Float32() })
}

func (*HalfPrecisionQuantizer) Type() QuantizerType { return HalfPrecision }

// ============================================================================
// INT8 (symmetric scalar)
// ============================================================================

// Int8Quantizer maps [-AbsMax, AbsMax] linearly onto [-127, 127], 1 byte per
// dimension. Train must succeed first; values beyond AbsMax saturate.
type Int8Quantizer struct {
	absMax float32
}

// Train sets AbsMax to the largest magnitude in sample. An empty or all-zero
// sample returns ErrZeroSample and leaves the previous scale in place.
func (q *Int8Quantizer) Train(sample Matrix) error {
	var absMax float64
	for _, row := range sample {
		for _, v := range row {
			absMax = math.Max(absMax, math.Abs(float64(v)))
		}
	}
	if absMax == 0 {
		return ErrZeroSample
	}
	q.absMax = float32(absMax)
	return nil
}

func (q *Int8Quantizer) IsTrained() bool { return q.absMax > 0 }

func (q *Int8Quantizer) Quantize(row []float32) (any, error) {
	if !q.IsTrained() {
		return nil, ErrNotTrained
	}
	return encodeRow(row, func(v float32) int8 {
		level := math.Round(float64(v / q.absMax * 127))
		return int8(math.Max(-127, math.Min(127, level)))
	}), nil
}

func (q *Int8Quantizer) Dequantize(stored any) ([]float32, error) {
	if !q.IsTrained() {
		return nil, ErrNotTrained
	}
	return decodeRow(stored, func(level int8) float32 { return float32(level) / 127 * q.absMax })
}

func (q *Int8Quantizer) Type() QuantizerType { return Int8Precision }

// AbsMax returns the trained maximum absolute value.
func (q *Int8Quantizer) AbsMax() float32 { return q.absMax }

// ============================================================================
// QUANTIZE FITTER
// ============================================================================

// QuantizeFitter round-trips both matrices through a quantizer, so the
// evaluator scores what a lower-precision store would return.
type QuantizeFitter struct {
	quantizer Quantizer
	fitted    bool
}

// NewQuantizeFitter wraps q.
func NewQuantizeFitter(q Quantizer) *QuantizeFitter {
	return &QuantizeFitter{quantizer: q}
}

func (f *QuantizeFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	if err := checkPair(query, target); err != nil {
		return nil, nil, err
	}
	sample := make(Matrix, 0, query.Rows()+target.Rows())
	sample = append(sample, query...)
	sample = append(sample, target...)
	if err := f.quantizer.Train(sample); err != nil {
		return nil, nil, fmt.Errorf("train %s: %w", f.quantizer.Type(), err)
	}
	f.fitted = true
	return f.Predict(query, target)
}

func (f *QuantizeFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	if !f.fitted {
		return nil, nil, ErrNotFitted
	}
	q, err := f.roundTrip(query)
	if err != nil {
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	t, err := f.roundTrip(target)
	if err != nil {
		return nil, nil, fmt.Errorf("target: %w", err)
	}
	return q, t, nil
}

func (f *QuantizeFitter) Describe() string {
	return fmt.Sprintf("quantize(%s)", f.quantizer.Type())
}

func (f *QuantizeFitter) roundTrip(m Matrix) (Matrix, error) {
	out := make(Matrix, len(m))
	for i, row := range m {
		stored, err := f.quantizer.Quantize(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		back, err := f.quantizer.Dequantize(stored)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = back
	}
	return out, nil
}
