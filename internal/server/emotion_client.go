package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/pipeline"
)

// GoEmotionsClient calls the external emotion classifier and reduces
// its per-label scores to the single highest-scoring reading.
type GoEmotionsClient struct {
	url        string
	httpClient *http.Client
}

// NewEmotionClassifier selects the HTTP classifier when a URL is
// configured and the neutral mock otherwise.
func NewEmotionClassifier(cfg config.Config) pipeline.EmotionClassifier {
	url := strings.TrimSpace(cfg.EmotionsAPIURL)
	if url == "" {
		return MockEmotionClassifier{}
	}
	timeoutSeconds := cfg.EmotionTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 5
	}
	return &GoEmotionsClient{
		url: url,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (c *GoEmotionsClient) Classify(ctx context.Context, text string) (pipeline.EmotionReading, error) {
	bodyRaw, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return pipeline.EmotionReading{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(bodyRaw))
	if err != nil {
		return pipeline.EmotionReading{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return pipeline.EmotionReading{}, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return pipeline.EmotionReading{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return pipeline.EmotionReading{}, fmt.Errorf("emotions api error (%d): %s", response.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var parsed struct {
		Predictions map[string]float64 `json:"predictions"`
	}
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return pipeline.EmotionReading{}, fmt.Errorf("emotions api response malformed: %w", err)
	}
	if len(parsed.Predictions) == 0 {
		return pipeline.EmotionReading{}, errors.New("emotions api returned no predictions")
	}

	// Map iteration order is random; break exact-score ties on the
	// lexicographically smaller label so repeated calls agree.
	top := ""
	best := 0.0
	for label, score := range parsed.Predictions {
		if top == "" || score > best || (score == best && label < top) {
			top = label
			best = score
		}
	}
	return pipeline.EmotionReading{Label: top, Confidence: best}, nil
}

// MockEmotionClassifier is the unconfigured-deployment path: every
// message reads as fully confident neutral so blending stays on the
// classifier branch.
type MockEmotionClassifier struct{}

func (MockEmotionClassifier) Classify(context.Context, string) (pipeline.EmotionReading, error) {
	return pipeline.EmotionReading{Label: pipeline.EmotionNeutral, Confidence: 1.0}, nil
}
