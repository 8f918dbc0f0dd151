package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Corpus is the verified intent pattern set, loaded once at startup and
// immutable afterwards.
type Corpus struct {
	Intents []CorpusIntent `json:"intents"`
}

type CorpusIntent struct {
	Tag       string   `json:"tag"`
	Patterns  []string `json:"patterns"`
	Responses []string `json:"responses"`
}

// LoadCorpus reads and validates the intent corpus file. Schema
// violations here are startup errors, never per-request errors.
func LoadCorpus(path string) (*Corpus, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intent corpus: %w", err)
	}
	var corpus Corpus
	if err := json.Unmarshal(raw, &corpus); err != nil {
		return nil, fmt.Errorf("parse intent corpus %s: %w", path, err)
	}
	if err := corpus.validate(); err != nil {
		return nil, fmt.Errorf("invalid intent corpus %s: %w", path, err)
	}
	return &corpus, nil
}

func (c *Corpus) validate() error {
	if len(c.Intents) == 0 {
		return fmt.Errorf("no intents defined")
	}
	seen := make(map[string]struct{}, len(c.Intents))
	for i, intent := range c.Intents {
		tag := strings.TrimSpace(intent.Tag)
		if tag == "" {
			return fmt.Errorf("intent %d has empty tag", i)
		}
		if _, dup := seen[tag]; dup {
			return fmt.Errorf("duplicate intent tag %q", tag)
		}
		seen[tag] = struct{}{}
		if len(intent.Patterns) == 0 {
			return fmt.Errorf("intent %q has no patterns", tag)
		}
		if len(intent.Responses) == 0 {
			return fmt.Errorf("intent %q has no responses", tag)
		}
		for j, pattern := range intent.Patterns {
			if strings.TrimSpace(pattern) == "" {
				return fmt.Errorf("intent %q pattern %d is empty", tag, j)
			}
		}
		for j, response := range intent.Responses {
			if strings.TrimSpace(response) == "" {
				return fmt.Errorf("intent %q response %d is empty", tag, j)
			}
		}
	}
	return nil
}
