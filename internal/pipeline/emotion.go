package pipeline

const (
	EmotionNeutral   = "neutral"
	EmotionUncertain = "uncertain"
	EmotionSadness   = "sadness"

	SourceClassifier    = "classifier"
	SourceHistory       = "history"
	SourceLowConfidence = "low_confidence"
)

// EmotionReading is one normalized single-turn classification.
type EmotionReading struct {
	Label      string
	Confidence float64
}

// BlendedEmotion is the stabilized result of combining a noisy
// single-turn reading with the user's recent mood history.
type BlendedEmotion struct {
	Label      string
	Confidence float64
	Source     string
}

// HistoricalMode returns the most frequent non-empty emotion label among
// the last window entries of history (newest last). Ties break to the
// label seen first in the windowed slice. Returns "" when no labeled
// history exists.
func HistoricalMode(history []MoodEntry, window int) string {
	if len(history) == 0 || window <= 0 {
		return ""
	}
	start := len(history) - window
	if start < 0 {
		start = 0
	}
	windowed := history[start:]

	counts := make(map[string]int, len(windowed))
	order := make([]string, 0, len(windowed))
	for _, entry := range windowed {
		if entry.Emotion == "" {
			continue
		}
		if _, seen := counts[entry.Emotion]; !seen {
			order = append(order, entry.Emotion)
		}
		counts[entry.Emotion]++
	}

	mode := ""
	best := 0
	for _, label := range order {
		if counts[label] > best {
			mode = label
			best = counts[label]
		}
	}
	return mode
}

// BlendEmotion applies the blending decision table. The branch order is
// load-bearing: the 0.6 history branch is checked before the 0.5
// low-confidence branch, so the low-confidence result is only reachable
// when the user has no historical mode. Deterministic for fixed inputs.
func BlendEmotion(reading EmotionReading, history []MoodEntry, window int) BlendedEmotion {
	mode := HistoricalMode(history, window)

	switch {
	case reading.Confidence < 0.6 && mode != "":
		return BlendedEmotion{Label: mode, Confidence: reading.Confidence, Source: SourceHistory}
	case reading.Confidence < 0.5:
		return BlendedEmotion{Label: EmotionUncertain, Confidence: reading.Confidence, Source: SourceLowConfidence}
	case reading.Label != "":
		return BlendedEmotion{Label: reading.Label, Confidence: reading.Confidence, Source: SourceClassifier}
	case mode != "":
		return BlendedEmotion{Label: mode, Confidence: reading.Confidence, Source: SourceHistory}
	default:
		return BlendedEmotion{Label: EmotionNeutral, Confidence: reading.Confidence, Source: SourceHistory}
	}
}
