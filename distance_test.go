package linkknn

import (
	"errors"
	"math"
	"testing"
)

const epsilon = 1e-6

func almostEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < epsilon
}

func TestNewDistance(t *testing.T) {
	tests := []struct {
		name         string
		distanceKind DistanceKind
		wantKind     DistanceKind
		expectedErr  error
	}{
		{
			name:         "squared euclidean",
			distanceKind: L2Squared,
			wantKind:     L2Squared,
		},
		{
			name:         "empty selects squared euclidean",
			distanceKind: "",
			wantKind:     L2Squared,
		},
		{
			name:         "euclidean",
			distanceKind: Euclidean,
			wantKind:     Euclidean,
		},
		{
			name:         "cosine",
			distanceKind: Cosine,
			wantKind:     Cosine,
		},
		{
			name:         "unknown distance",
			distanceKind: "manhattan",
			expectedErr:  ErrUnknownDistanceKind,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := NewDistance(tt.distanceKind)
			if tt.expectedErr != nil {
				if !errors.Is(err, tt.expectedErr) {
					t.Errorf("NewDistance(%s) error = %v, want %v", tt.distanceKind, err, tt.expectedErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewDistance(%s) unexpected error: %v", tt.distanceKind, err)
			}
			if dist.Kind() != tt.wantKind {
				t.Errorf("Kind() = %s, want %s", dist.Kind(), tt.wantKind)
			}
		})
	}
}

func TestSingletonInstances(t *testing.T) {
	d1, _ := NewDistance(L2Squared)
	d2, _ := NewDistance(L2Squared)
	if d1 != d2 {
		t.Error("NewDistance should return the same singleton instance for L2Squared")
	}
}

func TestDistanceCalculate(t *testing.T) {
	tests := []struct {
		name string
		kind DistanceKind
		a, b []float32
		want float32
	}{
		{"l2 squared 3-4-5", L2Squared, []float32{0, 0}, []float32{3, 4}, 25},
		{"l2 squared identical", L2Squared, []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"euclidean 3-4-5", Euclidean, []float32{0, 0}, []float32{3, 4}, 5},
		{"cosine identical direction", Cosine, []float32{1, 1}, []float32{2, 2}, 0},
		{"cosine orthogonal", Cosine, []float32{1, 0}, []float32{0, 5}, 1},
		{"cosine opposite", Cosine, []float32{1, 0}, []float32{-1, 0}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := NewDistance(tt.kind)
			if err != nil {
				t.Fatal(err)
			}
			a, err := dist.Preprocess(tt.a)
			if err != nil {
				t.Fatal(err)
			}
			b, err := dist.Preprocess(tt.b)
			if err != nil {
				t.Fatal(err)
			}
			if got := dist.Calculate(a, b); !almostEqual(got, tt.want) {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosinePreprocessZeroVector(t *testing.T) {
	dist, _ := NewDistance(Cosine)
	if _, err := dist.Preprocess([]float32{0, 0, 0}); !errors.Is(err, ErrZeroVector) {
		t.Errorf("Preprocess(zero) error = %v, want ErrZeroVector", err)
	}
}

func TestCosinePreprocessDoesNotMutate(t *testing.T) {
	dist, _ := NewDistance(Cosine)
	v := []float32{3, 4}
	if _, err := dist.Preprocess(v); err != nil {
		t.Fatal(err)
	}
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("input mutated to %v", v)
	}
}

func TestNormAndNormalize(t *testing.T) {
	if got := Norm([]float32{3, 4}); !almostEqual(got, 5) {
		t.Errorf("Norm() = %v, want 5", got)
	}
	n := Normalize([]float32{3, 4})
	if !almostEqual(n[0], 0.6) || !almostEqual(n[1], 0.8) {
		t.Errorf("Normalize() = %v, want [0.6 0.8]", n)
	}
	z := Normalize([]float32{0, 0})
	if z[0] != 0 || z[1] != 0 {
		t.Errorf("Normalize(zero) = %v, want zeros", z)
	}
}

func BenchmarkL2Squared(b *testing.B) {
	dist, _ := NewDistance(L2Squared)
	a := make([]float32, 384)
	c := make([]float32, 384)
	for i := range a {
		a[i] = float32(i)
		c[i] = float32(384 - i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dist.Calculate(a, c)
	}
}
