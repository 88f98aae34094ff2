package linkknn

import (
	"fmt"
	"sort"
)

// FusionKind names a strategy for combining the distance ranking with the
// frequency ranking of a candidate set.
type FusionKind string

const (
	// WeightedSumFusion min-max normalizes both signals to [0, 1] relevance
	// and combines them as distanceWeight*d + frequencyWeight*f.
	WeightedSumFusion FusionKind = "weighted_sum"

	// ReciprocalRankFusion (RRF) sums 1/(K + rank) over both rankings.
	// Robust to the two signals having unrelated scales.
	ReciprocalRankFusion FusionKind = "reciprocal_rank"
)

// Fusion combines per-document distances (lower is better) with per-document
// frequency scores (higher is better) into one relevance score (higher is
// better).
type Fusion interface {
	Kind() FusionKind
	Combine(distances map[uint32]float64, frequencies map[uint32]float64) map[uint32]float64
}

// FusionConfig holds the tunables of the fusion strategies.
type FusionConfig struct {
	// DistanceWeight and FrequencyWeight are used by WeightedSumFusion.
	DistanceWeight  float64
	FrequencyWeight float64

	// K is the RRF constant (default 60). Lower K favours top ranks.
	K float64
}

// DefaultFusionConfig returns equal weights and K = 60.
func DefaultFusionConfig() *FusionConfig {
	return &FusionConfig{
		DistanceWeight:  1.0,
		FrequencyWeight: 1.0,
		K:               60.0,
	}
}

// NewFusion creates a fusion strategy. A nil config uses the defaults.
func NewFusion(kind FusionKind, config *FusionConfig) (Fusion, error) {
	if config == nil {
		config = DefaultFusionConfig()
	}
	switch kind {
	case WeightedSumFusion:
		return &weightedSumFusion{config: config}, nil
	case ReciprocalRankFusion, "":
		return &reciprocalRankFusion{config: config}, nil
	default:
		return nil, fmt.Errorf("unknown fusion kind: %s", kind)
	}
}

type weightedSumFusion struct {
	config *FusionConfig
}

func (f *weightedSumFusion) Kind() FusionKind {
	return WeightedSumFusion
}

func (f *weightedSumFusion) Combine(distances map[uint32]float64, frequencies map[uint32]float64) map[uint32]float64 {
	combined := make(map[uint32]float64)

	for docID, rel := range minMax(distances, true) {
		combined[docID] = rel * f.config.DistanceWeight
	}
	for docID, rel := range minMax(frequencies, false) {
		combined[docID] += rel * f.config.FrequencyWeight
	}

	return combined
}

// minMax maps scores onto [0, 1] relevance. With invert, the lowest score
// becomes 1. A constant map maps to 1 everywhere.
func minMax(scores map[uint32]float64, invert bool) map[uint32]float64 {
	out := make(map[uint32]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	first := true
	var lo, hi float64
	for _, s := range scores {
		if first || s < lo {
			lo = s
		}
		if first || s > hi {
			hi = s
		}
		first = false
	}
	for docID, s := range scores {
		if hi == lo {
			out[docID] = 1
			continue
		}
		rel := (s - lo) / (hi - lo)
		if invert {
			rel = 1 - rel
		}
		out[docID] = rel
	}
	return out
}

type reciprocalRankFusion struct {
	config *FusionConfig
}

func (f *reciprocalRankFusion) Kind() FusionKind {
	return ReciprocalRankFusion
}

func (f *reciprocalRankFusion) Combine(distances map[uint32]float64, frequencies map[uint32]float64) map[uint32]float64 {
	combined := make(map[uint32]float64)
	k := f.config.K

	for docID, rank := range scoreMapToRanks(distances, true) {
		combined[docID] = 1.0 / (k + float64(rank))
	}
	for docID, rank := range scoreMapToRanks(frequencies, false) {
		combined[docID] += 1.0 / (k + float64(rank))
	}

	return combined
}

// scoreMapToRanks converts scores to 0-based ranks. ascending=true ranks low
// scores first (distances). Ties rank by document index.
func scoreMapToRanks(scores map[uint32]float64, ascending bool) map[uint32]int {
	ids := make([]uint32, 0, len(scores))
	for docID := range scores {
		ids = append(ids, docID)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := scores[ids[i]], scores[ids[j]]
		if si != sj {
			if ascending {
				return si < sj
			}
			return si > sj
		}
		return ids[i] < ids[j]
	})

	ranks := make(map[uint32]int, len(ids))
	for i, docID := range ids {
		ranks[docID] = i
	}
	return ranks
}

// rankFused orders documents by descending fused score, ties by index.
func rankFused(scores map[uint32]float64) []uint32 {
	ranks := scoreMapToRanks(scores, false)
	out := make([]uint32, len(ranks))
	for docID, r := range ranks {
		out[r] = docID
	}
	return out
}
