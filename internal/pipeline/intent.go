package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"mindmate/backend/internal/embedding"
)

const (
	IntentUnknown = "unknown"

	// FallbackAnchor is returned whenever no corpus pattern clears the
	// similarity threshold.
	FallbackAnchor = "I'm not sure I understand, but I'm here to listen."
)

// Crisis-class intents that force the safety script regardless of risk
// score.
const (
	IntentCrisis   = "crisis"
	IntentSuicidal = "suicidal"
)

// IntentIndex maps free text to an intent tag and a verified anchor
// response via nearest-neighbor search over pre-embedded patterns.
// Built once at startup; reads need no synchronization apart from the
// random anchor pick.
type IntentIndex struct {
	engine    embedding.Engine
	patterns  []string
	tags      []string
	vectors   [][]float32
	responses map[string][]string
	threshold float64

	mu  sync.Mutex
	rng *rand.Rand
}

// BuildIntentIndex flattens the corpus and pre-embeds every pattern with
// the same engine later used for queries. The supplied rng drives anchor
// selection; tests pin it for determinism.
func BuildIntentIndex(ctx context.Context, corpus *Corpus, engine embedding.Engine, threshold float64, rng *rand.Rand) (*IntentIndex, error) {
	if corpus == nil || len(corpus.Intents) == 0 {
		return nil, fmt.Errorf("intent corpus is empty")
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("similarity threshold must be in (0,1), got %v", threshold)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}

	index := &IntentIndex{
		engine:    engine,
		responses: make(map[string][]string, len(corpus.Intents)),
		threshold: threshold,
		rng:       rng,
	}
	for _, intent := range corpus.Intents {
		index.responses[intent.Tag] = intent.Responses
		for _, pattern := range intent.Patterns {
			index.patterns = append(index.patterns, pattern)
			index.tags = append(index.tags, intent.Tag)
		}
	}

	vectors, err := engine.EmbedBatch(ctx, index.patterns)
	if err != nil {
		return nil, fmt.Errorf("embed intent patterns: %w", err)
	}
	if len(vectors) != len(index.patterns) {
		return nil, fmt.Errorf("embedded %d vectors for %d patterns", len(vectors), len(index.patterns))
	}
	index.vectors = vectors
	return index, nil
}

// PatternCount reports how many patterns are indexed.
func (ix *IntentIndex) PatternCount() int {
	return len(ix.patterns)
}

// DetectIntent embeds the query and returns the tag of the closest
// pattern plus a randomly chosen verified response for that tag. Below
// the threshold it returns ("unknown", FallbackAnchor). The random
// anchor pick is intentional: repeated identical inputs may get
// different anchor text but always the same tag.
func (ix *IntentIndex) DetectIntent(ctx context.Context, text string) (string, string, error) {
	query, err := ix.engine.Embed(ctx, text)
	if err != nil {
		return IntentUnknown, FallbackAnchor, fmt.Errorf("embed query: %w", err)
	}

	bestIdx, bestScore, err := embedding.BestMatch(query, ix.vectors)
	if err != nil {
		return IntentUnknown, FallbackAnchor, err
	}
	if bestIdx < 0 || bestScore < ix.threshold {
		return IntentUnknown, FallbackAnchor, nil
	}

	tag := ix.tags[bestIdx]
	pool := ix.responses[tag]
	return tag, pool[ix.pick(len(pool))], nil
}

func (ix *IntentIndex) pick(n int) int {
	if n <= 1 {
		return 0
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.rng.Intn(n)
}
