// Package embedding maps text to fixed-dimension vectors via ONNX, OpenAI or feature hashing.
package embedding

import "context"

// Embedder produces vector embeddings for text. EmbedBatch returns one vector per
// input, in input order. Vectors from the same ModelID are comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelID() string
	Close() error
}
