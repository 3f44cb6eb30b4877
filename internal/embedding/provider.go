// Package embedding turns text into vectors via an external provider, with
// error classification the ingestion pipeline uses to decide on retries.
package embedding

import (
	"context"
)

// Provider produces one vector per input text, in input order.
type Provider interface {
	// Embed returns one vector per text. Errors carry an AppError code:
	// RATE_LIMITED and DEPENDENCY_UNAVAILABLE are retried by the pipeline,
	// VALIDATION (invalid input) and anything else surface immediately.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector size this provider produces, or 0 when
	// unknown until the first call.
	Dimension() int

	// Ping probes the provider.
	Ping(ctx context.Context) error
}

// Batch splits texts into batches of at most size, preserving order.
func Batch(texts []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var out [][]string
	for len(texts) > size {
		out = append(out, texts[:size])
		texts = texts[size:]
	}
	if len(texts) > 0 {
		out = append(out, texts)
	}
	return out
}
