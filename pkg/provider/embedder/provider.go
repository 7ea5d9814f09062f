// Package embedder defines the Provider interface for text-embedding
// backends used by the semantic search engine (internal/embed).
//
// All vectors returned by a single Provider instance share the same
// dimensionality (Dimensions). Callers must not mix vectors produced by
// different models or Provider instances in one similarity computation.
//
// Implementations must be safe for concurrent use.
package embedder

import "context"

// Provider is the abstraction over any text-embedding backend.
type Provider interface {
	// Embed computes the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector this provider
	// produces.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, persisted
	// alongside each EmbeddingRecord for auditability.
	ModelID() string
}
