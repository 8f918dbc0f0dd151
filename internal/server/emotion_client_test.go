package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/pipeline"
)

func TestGoEmotionsClientPicksTopPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text != "I feel awful" {
			t.Errorf("unexpected text %q", req.Text)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": map[string]float64{
				"sadness": 0.81,
				"fear":    0.12,
				"neutral": 0.07,
			},
		})
	}))
	defer srv.Close()

	classifier := NewEmotionClassifier(config.Config{EmotionsAPIURL: srv.URL, EmotionTimeoutSeconds: 5})
	reading, err := classifier.Classify(context.Background(), "I feel awful")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if reading.Label != "sadness" || reading.Confidence != 0.81 {
		t.Fatalf("unexpected reading %+v", reading)
	}
}

func TestGoEmotionsClientBreaksTiesDeterministically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"predictions": map[string]float64{
				"sadness": 0.5,
				"anger":   0.5,
				"fear":    0.5,
			},
		})
	}))
	defer srv.Close()

	classifier := NewEmotionClassifier(config.Config{EmotionsAPIURL: srv.URL})
	for i := 0; i < 10; i++ {
		reading, err := classifier.Classify(context.Background(), "hi")
		if err != nil {
			t.Fatalf("classify: %v", err)
		}
		if reading.Label != "anger" || reading.Confidence != 0.5 {
			t.Fatalf("tied scores must resolve to the smallest label, got %+v", reading)
		}
	}
}

func TestGoEmotionsClientErrorPaths(t *testing.T) {
	t.Run("upstream failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		classifier := NewEmotionClassifier(config.Config{EmotionsAPIURL: srv.URL})
		if _, err := classifier.Classify(context.Background(), "hi"); err == nil {
			t.Fatalf("expected error on 503")
		}
	})

	t.Run("no predictions", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"predictions": map[string]float64{}})
		}))
		defer srv.Close()

		classifier := NewEmotionClassifier(config.Config{EmotionsAPIURL: srv.URL})
		if _, err := classifier.Classify(context.Background(), "hi"); err == nil {
			t.Fatalf("expected error on empty predictions")
		}
	})
}

func TestUnconfiguredClassifierIsNeutralMock(t *testing.T) {
	classifier := NewEmotionClassifier(config.Config{})
	if _, ok := classifier.(MockEmotionClassifier); !ok {
		t.Fatalf("expected mock classifier, got %T", classifier)
	}

	reading, err := classifier.Classify(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if reading != (pipeline.EmotionReading{Label: pipeline.EmotionNeutral, Confidence: 1.0}) {
		t.Fatalf("unexpected reading %+v", reading)
	}
}
