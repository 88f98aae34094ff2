package linkknn

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFitted is returned by Predict before a successful Fit.
var ErrNotFitted = errors.New("fitter has not been fitted")

// Fitter maps raw query and document embeddings into the space the
// evaluator ranks in. It is the contract every baseline model implements.
type Fitter interface {
	// Fit learns the mapping from (query, target) and returns both
	// matrices transformed.
	Fit(query, target Matrix) (Matrix, Matrix, error)

	// Predict applies a learned mapping to new matrices.
	Predict(query, target Matrix) (Matrix, Matrix, error)

	// Describe returns a short, stable label for reports, e.g. "pca(2)".
	Describe() string
}

// FitterKind names a built-in Fitter.
type FitterKind string

const (
	IdentityFitterKind  FitterKind = "identity"
	NormalizeFitterKind FitterKind = "normalize"
	PCAFitterKind       FitterKind = "pca"
	CCAFitterKind       FitterKind = "cca"
	RidgeFitterKind     FitterKind = "ridge"
	QuantizeFitterKind  FitterKind = "quantize"
	ChainFitterKind     FitterKind = "chain"
)

// FitterSpec is the declarative form of a Fitter, as found in config files.
type FitterSpec struct {
	Kind       FitterKind   `yaml:"kind"`
	Dimensions int          `yaml:"dimensions,omitempty"`
	Lambda     float64      `yaml:"lambda,omitempty"`
	Precision  string       `yaml:"precision,omitempty"`
	Steps      []FitterSpec `yaml:"steps,omitempty"`
}

// NewFitter builds the Fitter a spec describes.
func NewFitter(spec FitterSpec) (Fitter, error) {
	switch FitterKind(strings.ToLower(string(spec.Kind))) {
	case IdentityFitterKind, "":
		return IdentityFitter{}, nil
	case NormalizeFitterKind:
		return NormalizeFitter{}, nil
	case PCAFitterKind:
		if spec.Dimensions < 1 {
			return nil, fmt.Errorf("pca: dimensions must be positive")
		}
		return NewPCAFitter(spec.Dimensions), nil
	case CCAFitterKind:
		if spec.Dimensions < 1 {
			return nil, fmt.Errorf("cca: dimensions must be positive")
		}
		return NewCCAFitter(spec.Dimensions), nil
	case RidgeFitterKind:
		if spec.Lambda < 0 {
			return nil, fmt.Errorf("ridge: lambda must not be negative")
		}
		return NewRidgeFitter(spec.Lambda), nil
	case QuantizeFitterKind:
		q, err := NewQuantizer(QuantizerType(spec.Precision))
		if err != nil {
			return nil, err
		}
		return NewQuantizeFitter(q), nil
	case ChainFitterKind:
		if len(spec.Steps) == 0 {
			return nil, fmt.Errorf("chain: at least one step is required")
		}
		steps := make([]Fitter, len(spec.Steps))
		for i, s := range spec.Steps {
			f, err := NewFitter(s)
			if err != nil {
				return nil, fmt.Errorf("chain step %d: %w", i, err)
			}
			steps[i] = f
		}
		return NewChainFitter(steps...), nil
	default:
		return nil, fmt.Errorf("unknown fitter kind: %s", spec.Kind)
	}
}

// IdentityFitter evaluates the raw embeddings.
type IdentityFitter struct{}

func (IdentityFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	return query, target, nil
}

func (IdentityFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	return query, target, nil
}

func (IdentityFitter) Describe() string { return "identity" }

// NormalizeFitter scales every row to unit length, which makes squared L2
// ranking equivalent to cosine ranking.
type NormalizeFitter struct{}

func (NormalizeFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	return normalizeRows(query), normalizeRows(target), nil
}

func (f NormalizeFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	return f.Fit(query, target)
}

func (NormalizeFitter) Describe() string { return "normalize" }

func normalizeRows(m Matrix) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = Normalize(row)
	}
	return out
}

// ChainFitter feeds each step's output into the next.
type ChainFitter struct {
	steps []Fitter
}

// NewChainFitter chains steps in order.
func NewChainFitter(steps ...Fitter) *ChainFitter {
	return &ChainFitter{steps: steps}
}

func (c *ChainFitter) Fit(query, target Matrix) (Matrix, Matrix, error) {
	a, b := query, target
	for _, s := range c.steps {
		var err error
		a, b, err = s.Fit(a, b)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", s.Describe(), err)
		}
	}
	return a, b, nil
}

func (c *ChainFitter) Predict(query, target Matrix) (Matrix, Matrix, error) {
	a, b := query, target
	for _, s := range c.steps {
		var err error
		a, b, err = s.Predict(a, b)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", s.Describe(), err)
		}
	}
	return a, b, nil
}

func (c *ChainFitter) Describe() string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Describe()
	}
	return "chain(" + strings.Join(names, " -> ") + ")"
}

// checkPair validates the inputs common to every fitter.
func checkPair(query, target Matrix) error {
	if query.Rows() == 0 || target.Rows() == 0 {
		return fmt.Errorf("%w: empty matrix", ErrInvalidParameters)
	}
	if err := query.Validate(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}
