// Package embedding generates vector embeddings for semantic intent
// matching. Two backends are supported: a local Ollama server and the
// Google GenAI API. The same engine must embed both the pattern corpus
// and incoming queries so the vectors stay comparable.
package embedding

import (
	"context"
	"fmt"
	"math"

	"mindmate/backend/internal/config"
)

type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in corpus order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name returns the backend name for logging.
	Name() string
}

// NewEngine builds an engine from app configuration.
func NewEngine(cfg config.Config) (Engine, error) {
	switch cfg.EmbeddingProvider {
	case "ollama":
		return NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel), nil
	case "genai":
		return NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.EmbeddingProvider)
	}
}

// CosineSimilarity returns the cosine of the angle between two vectors,
// in [-1, 1]. A zero-magnitude vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// BestMatch returns the index and similarity of the corpus vector most
// similar to the query. The first index achieving the maximum wins, so
// results are stable for a static corpus. Returns index -1 for an empty
// corpus.
func BestMatch(query []float32, corpus [][]float32) (int, float64, error) {
	bestIdx := -1
	bestScore := math.Inf(-1)
	for i, vec := range corpus {
		score, err := CosineSimilarity(query, vec)
		if err != nil {
			return -1, 0, fmt.Errorf("corpus vector %d: %w", i, err)
		}
		if score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}
	if bestIdx < 0 {
		return -1, 0, nil
	}
	return bestIdx, bestScore, nil
}
