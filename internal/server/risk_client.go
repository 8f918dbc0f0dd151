package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/pipeline"
)

// RiskPrediction is the risk model's classification plus its ranked
// feature attributions.
type RiskPrediction struct {
	Prediction  string                   `json:"prediction"`
	Confidence  float64                  `json:"confidence"`
	TopFeatures []pipeline.FeatureImpact `json:"top_features"`
}

// RiskPredictor scores an assessment form. The hosted model runs out of
// process; the mock keeps local development self-contained.
type RiskPredictor interface {
	PredictAndExplain(ctx context.Context, input map[string]any) (RiskPrediction, error)
}

func NewRiskPredictor(cfg config.Config) RiskPredictor {
	url := strings.TrimSpace(cfg.RiskModelURL)
	if url == "" {
		return MockRiskPredictor{}
	}
	return &RiskModelClient{
		url: strings.TrimRight(url, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type RiskModelClient struct {
	url        string
	httpClient *http.Client
}

func (c *RiskModelClient) PredictAndExplain(ctx context.Context, input map[string]any) (RiskPrediction, error) {
	bodyRaw, err := json.Marshal(input)
	if err != nil {
		return RiskPrediction{}, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/predict", bytes.NewReader(bodyRaw))
	if err != nil {
		return RiskPrediction{}, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return RiskPrediction{}, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return RiskPrediction{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return RiskPrediction{}, fmt.Errorf("risk model error (%d): %s", response.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var prediction RiskPrediction
	if err := json.Unmarshal(responseBody, &prediction); err != nil {
		return RiskPrediction{}, fmt.Errorf("risk model response malformed: %w", err)
	}
	if strings.TrimSpace(prediction.Prediction) == "" {
		return RiskPrediction{}, fmt.Errorf("risk model returned no prediction")
	}
	return prediction, nil
}

// MockRiskPredictor scores the form with a transparent additive
// heuristic over the strongest depression-risk factors, so local runs
// exercise the full assessment flow without the model server.
type MockRiskPredictor struct{}

func (MockRiskPredictor) PredictAndExplain(_ context.Context, input map[string]any) (RiskPrediction, error) {
	score := 0.0
	features := make([]pipeline.FeatureImpact, 0, 4)

	if isYes(input["History of Mental Illness"]) {
		score += 0.35
		features = append(features, pipeline.FeatureImpact{Feature: "encoder__History of Mental Illness_Yes", Impact: 0.35})
	}
	if isYes(input["Family History of Depression"]) {
		score += 0.2
		features = append(features, pipeline.FeatureImpact{Feature: "encoder__Family History of Depression_Yes", Impact: 0.2})
	}
	if strings.EqualFold(toString(input["Physical Activity Level"]), "sedentary") {
		score += 0.15
		features = append(features, pipeline.FeatureImpact{Feature: "encoder__Physical Activity Level_Sedentary", Impact: 0.15})
	}
	if strings.EqualFold(toString(input["Employment Status"]), "unemployed") {
		score += 0.15
		features = append(features, pipeline.FeatureImpact{Feature: "encoder__Employment Status_Unemployed", Impact: 0.15})
	}
	if strings.EqualFold(toString(input["Sleep Patterns"]), "poor") {
		score += 0.1
		features = append(features, pipeline.FeatureImpact{Feature: "encoder__Sleep Patterns_Poor", Impact: 0.1})
	}
	if len(features) == 0 {
		features = append(features, pipeline.FeatureImpact{Feature: "remainder__Age", Impact: 0.05})
	}

	prediction := "Low"
	confidence := 0.9 - score
	switch {
	case score >= 0.5:
		prediction = "High"
		confidence = 0.5 + score/2
	case score >= 0.25:
		prediction = "Medium"
		confidence = 0.6
	}

	return RiskPrediction{
		Prediction:  prediction,
		Confidence:  confidence,
		TopFeatures: features,
	}, nil
}

func isYes(value any) bool {
	return strings.EqualFold(strings.TrimSpace(toString(value)), "yes")
}
