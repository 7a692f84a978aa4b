// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface used by the knowledge dedup batch to
// embed candidate facts for nearest-neighbor comparison.
package embedder

import "context"

// Provider defines the interface for embedding providers.
type Provider interface {
	// Embed converts a single text to a vector.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple texts to vectors in batch.
	// The returned order matches the input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the vector dimensions.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
