// Package embedder turns link contexts and documents into embedding matrices
// through an OpenAI-compatible embeddings API.
package embedder

import (
	"context"
	"fmt"

	"github.com/wizenheimer/linkknn"
)

// Embedder generates text embeddings.
type Embedder interface {
	Model() string
	Dimensions() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedMatrix embeds texts in batches of batchSize and returns one row per
// text, in order. progress, when set, is called after every batch.
func EmbedMatrix(ctx context.Context, e Embedder, texts []string, batchSize int, progress linkknn.ProgressFunc) (linkknn.Matrix, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	out := make(linkknn.Matrix, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+batchSize, len(texts))
		vecs, err := e.EmbedTexts(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed rows %d-%d: %w", start, end-1, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed rows %d-%d: expected %d embeddings, got %d", start, end-1, end-start, len(vecs))
		}
		out = append(out, vecs...)
		if progress != nil {
			progress(end, len(texts))
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}
