package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mindmate/backend/internal/config"
)

func TestRiskModelClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var input map[string]any
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Errorf("decode input: %v", err)
		}
		if input["Employment Status"] != "Unemployed" {
			t.Errorf("unexpected input %v", input)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"prediction": "High",
			"confidence": 0.87,
			"top_features": []map[string]any{
				{"feature": "encoder__Employment Status_Unemployed", "shap_value": 0.42},
			},
		})
	}))
	defer srv.Close()

	predictor := NewRiskPredictor(config.Config{RiskModelURL: srv.URL})
	result, err := predictor.PredictAndExplain(context.Background(), map[string]any{
		"Employment Status": "Unemployed",
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if result.Prediction != "High" || result.Confidence != 0.87 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.TopFeatures) != 1 || result.TopFeatures[0].Impact != 0.42 {
		t.Fatalf("unexpected features %+v", result.TopFeatures)
	}
}

func TestRiskModelClientRejectsEmptyPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"prediction": ""})
	}))
	defer srv.Close()

	predictor := NewRiskPredictor(config.Config{RiskModelURL: srv.URL})
	if _, err := predictor.PredictAndExplain(context.Background(), map[string]any{}); err == nil {
		t.Fatalf("expected error on empty prediction")
	}
}

func TestMockRiskPredictorScoresFactors(t *testing.T) {
	predictor := MockRiskPredictor{}

	high, err := predictor.PredictAndExplain(context.Background(), map[string]any{
		"History of Mental Illness":    "Yes",
		"Family History of Depression": "Yes",
		"Physical Activity Level":      "Sedentary",
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if high.Prediction != "High" {
		t.Fatalf("expected High, got %+v", high)
	}
	if len(high.TopFeatures) != 3 {
		t.Fatalf("expected 3 features, got %+v", high.TopFeatures)
	}

	low, err := predictor.PredictAndExplain(context.Background(), map[string]any{
		"History of Mental Illness": "No",
	})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if low.Prediction != "Low" {
		t.Fatalf("expected Low, got %+v", low)
	}
	if len(low.TopFeatures) == 0 {
		t.Fatalf("mock must always report at least one feature")
	}
}
