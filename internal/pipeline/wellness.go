package pipeline

import "strings"

// CrisisRiskThreshold is the risk score at which the crisis gate fires
// regardless of intent. The trend heuristic currently tops out at
// TrendElevatedScore, so only the keyword heuristic (or a future scorer)
// can reach this gate through the score alone.
const CrisisRiskThreshold = 7

const (
	TrendSadnessMinimum = 3
	TrendElevatedScore  = 5
	KeywordHitScore     = 2
)

// RiskScorer is a named risk heuristic. Two non-unified strategies exist
// with different scales; the orchestrator picks one explicitly rather
// than running whichever happens to be loaded.
type RiskScorer interface {
	// Score rates the current turn given the raw text and the user's
	// recent mood history (newest last).
	Score(text string, history []MoodEntry) int

	// Name identifies the strategy for logging.
	Name() string
}

// TrendHeuristic flags a sustained low mood: three or more sadness
// readings in the recent history window mean elevated risk.
type TrendHeuristic struct{}

func (TrendHeuristic) Score(_ string, history []MoodEntry) int {
	sadness := 0
	for _, entry := range history {
		if entry.Emotion == EmotionSadness {
			sadness++
		}
	}
	if sadness >= TrendSadnessMinimum {
		return TrendElevatedScore
	}
	return 0
}

func (TrendHeuristic) Name() string { return "trend" }

// KeywordHeuristic scores depression-indicator phrases in the message
// text itself, two points per matched phrase.
type KeywordHeuristic struct{}

var riskKeywords = []string{"bed", "tired", "no energy", "didn't move", "slept all day"}

func (KeywordHeuristic) Score(text string, _ []MoodEntry) int {
	lowered := strings.ToLower(text)
	score := 0
	for _, keyword := range riskKeywords {
		if strings.Contains(lowered, keyword) {
			score += KeywordHitScore
		}
	}
	return score
}

func (KeywordHeuristic) Name() string { return "keyword" }

// IsCrisis reports whether the turn must take the fixed safety script:
// a crisis-class intent, or a risk score at or above the gate.
func IsCrisis(intent string, riskScore int) bool {
	return intent == IntentCrisis || intent == IntentSuicidal || riskScore >= CrisisRiskThreshold
}

// RecommendationBank maps an emotion label to an ordered list of coping
// suggestions. Unmapped emotions fall back to the neutral list.
type RecommendationBank map[string][]string

func DefaultRecommendationBank() RecommendationBank {
	return RecommendationBank{
		"anxiety": {
			"Would you be open to a short breathing exercise: inhale 4s, hold 7s, exhale 8s?",
			"Would trying a grounding exercise (name 5 things you can see) feel okay right now?",
		},
		"sadness": {
			"Would you be open to a short 5-minute walk or stepping outside for fresh air?",
			"Would trying a tiny, manageable task (making a cup of tea) feel possible?",
		},
		"lethargy": {
			"Could you try a 2-minute stretch or gentle movement? If you've tried this before, how did it feel?",
		},
		"anger": {
			"Would you like to try a grounding exercise: name 5 things you can see or touch?",
		},
		"neutral": {
			"Would you be open to a short grounding or breathing exercise?",
		},
	}
}

// Select returns the first candidate for the emotion that differs from
// the previous recommendation. When the pool has a single entry it is
// returned even if it repeats.
func (b RecommendationBank) Select(emotion, lastRecommendation string) string {
	candidates, ok := b[emotion]
	if !ok || len(candidates) == 0 {
		candidates = b[EmotionNeutral]
	}
	if len(candidates) == 0 {
		return ""
	}
	for _, candidate := range candidates {
		if candidate != lastRecommendation {
			return candidate
		}
	}
	return candidates[0]
}
