// Package embedding turns product text into fixed-length vectors via an
// OpenAI-compatible backend. The rest of the system must keep working when
// the backend is down, so every failure surfaces as an unavailability
// signal instead of an error on the ingestion path.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors.
var (
	// ErrUnavailable marks the backend as unreachable, unauthorized or
	// timed out. Callers degrade to lexical-only behavior on it.
	ErrUnavailable = errors.New("embedding: backend unavailable")
	// ErrEmptyText rejects blank input items.
	ErrEmptyText = errors.New("embedding: empty text")
)

// Provider is one embedding backend. embedBatch returns exactly one vector
// per input text, preserving order.
type Provider interface {
	embedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Result is the per-item outcome of a batch request. Vector is nil when Err
// is set.
type Result struct {
	Vector []float32
	Err    error
}

// Service batches embedding requests against a Provider and tracks each
// item's success individually, so one failing chunk never discards vectors
// already computed for its siblings.
type Service struct {
	provider  Provider
	batchSize int
	cache     *lru.Cache[string, []float32]
}

// Config controls Service batching and caching.
type Config struct {
	// MaxBatchSize bounds how many texts go into one backend call.
	MaxBatchSize int
	// QueryCacheSize bounds the LRU cache used by EmbedQuery. Zero
	// disables caching.
	QueryCacheSize int
}

const defaultBatchSize = 50

// NewService wraps a provider. A nil provider yields a permanently
// unavailable service, which is the correct degraded behavior when no
// backend is configured.
func NewService(provider Provider, cfg Config) *Service {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultBatchSize
	}
	var cache *lru.Cache[string, []float32]
	if cfg.QueryCacheSize > 0 {
		cache, _ = lru.New[string, []float32](cfg.QueryCacheSize)
	}
	return &Service{
		provider:  provider,
		batchSize: cfg.MaxBatchSize,
		cache:     cache,
	}
}

// Available reports whether a backend is configured at all. Transient
// outages are still discovered per call.
func (s *Service) Available() bool {
	return s != nil && s.provider != nil
}

// Model returns the configured model identifier, or "" when unavailable.
func (s *Service) Model() string {
	if !s.Available() {
		return ""
	}
	return s.provider.Model()
}

// Dimension returns the configured vector width, or 0 when unavailable.
func (s *Service) Dimension() int {
	if !s.Available() {
		return 0
	}
	return s.provider.Dimension()
}

// EmbedTexts computes one vector per input, preserving order. Items are
// grouped into bounded chunks; a chunk-level backend failure is recorded on
// each of that chunk's items while other chunks keep their vectors.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([]Result, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	results := make([]Result, len(texts))

	// Collect the indexes of non-empty texts; empty items fail locally
	// without wasting a backend call.
	indexes := make([]int, 0, len(texts))
	for i, text := range texts {
		if text == "" {
			results[i] = Result{Err: ErrEmptyText}
			continue
		}
		indexes = append(indexes, i)
	}

	for start := 0; start < len(indexes); start += s.batchSize {
		end := min(start+s.batchSize, len(indexes))
		chunkIdx := indexes[start:end]

		chunk := make([]string, len(chunkIdx))
		for i, idx := range chunkIdx {
			chunk[i] = texts[idx]
		}

		vectors, err := s.provider.embedBatch(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embed batch: %w", ctx.Err())
			}
			for _, idx := range chunkIdx {
				results[idx] = Result{Err: err}
			}
			continue
		}
		if len(vectors) != len(chunk) {
			err := fmt.Errorf("%w: got %d vectors for %d texts", ErrUnavailable, len(vectors), len(chunk))
			for _, idx := range chunkIdx {
				results[idx] = Result{Err: err}
			}
			continue
		}
		for i, idx := range chunkIdx {
			results[idx] = Result{Vector: vectors[i]}
		}
	}
	return results, nil
}

// EmbedQuery computes a single vector, with an LRU cache keyed by the text
// hash so repeated searches skip the backend.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if !s.Available() {
		return nil, ErrUnavailable
	}
	if text == "" {
		return nil, ErrEmptyText
	}

	key := hashText(text)
	if s.cache != nil {
		if vec, ok := s.cache.Get(key); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			return out, nil
		}
	}

	vectors, err := s.provider.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one text", ErrUnavailable, len(vectors))
	}
	if s.cache != nil {
		stored := make([]float32, len(vectors[0]))
		copy(stored, vectors[0])
		s.cache.Add(key, stored)
	}
	return vectors[0], nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
