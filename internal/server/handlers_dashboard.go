package server

import (
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mindmate/backend/internal/pipeline"
)

// emotionValence maps classifier labels onto a 1-10 pleasantness scale
// for the weekly mood chart. Unknown labels read as a middling 5.
var emotionValence = map[string]int{
	"joy": 9, "love": 9, "admiration": 8, "optimism": 8, "caring": 8,
	"excitement": 9, "gratitude": 9, "pride": 8, "relief": 7,
	"neutral": 6, "realization": 6, "surprise": 6, "curiosity": 7,
	"approval": 7, "desire": 6,
	"sadness": 3, "anger": 2, "fear": 2, "disgust": 1, "grief": 1,
	"remorse": 2, "embarrassment": 3, "disappointment": 3, "annoyance": 3,
	"nervousness": 4, "confusion": 5,
}

type dayValue struct {
	Day   string  `json:"day"`
	Value float64 `json:"value"`
}

type dayLevel struct {
	Day   string  `json:"day"`
	Level float64 `json:"level"`
}

func (a *App) getDashboard(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()

	logs, err := a.store.MoodLogsSince(ctx, user.ID, now.AddDate(0, 0, -7))
	if err != nil {
		log.Printf("mood log read failed user_id=%s err=%v", user.ID, err)
		logs = nil
	}

	dailyScores := make(map[string][]float64)
	dailyStress := make(map[string][]float64)
	for _, item := range logs {
		day := item.CreatedAt.UTC().Format("Mon")

		score, ok := emotionValence[item.Emotion]
		if !ok {
			score = 5
		}
		dailyScores[day] = append(dailyScores[day], float64(score))

		stress := 0.0
		if item.Intensity != nil {
			stress = *item.Intensity * 100
		}
		dailyStress[day] = append(dailyStress[day], stress)
	}

	// Oldest day first, through today.
	days := make([]string, 0, 7)
	for i := 6; i >= 0; i-- {
		days = append(days, now.AddDate(0, 0, -i).Format("Mon"))
	}

	moodData := make([]dayValue, 0, len(days))
	stressData := make([]dayLevel, 0, len(days))
	for _, day := range days {
		moodData = append(moodData, dayValue{Day: day, Value: roundTo1(average(dailyScores[day]))})
		stressData = append(stressData, dayLevel{Day: day, Level: roundTo1(average(dailyStress[day]))})
	}

	c.JSON(http.StatusOK, gin.H{
		"mood_data":       moodData,
		"stress_data":     stressData,
		"analysis":        a.weeklyAnalysis(c, logs),
		"recent_emotions": recentEmotions(logs, 5),
	})
}

// weeklyAnalysis asks the generation backend for a two-sentence
// reflection over the week's emotions. No logs means no analysis;
// generation failure degrades to a fixed message.
func (a *App) weeklyAnalysis(c *gin.Context, logs []MoodLog) string {
	if len(logs) == 0 {
		return "No sufficient data for analysis yet."
	}

	emotions := make([]string, 0, len(logs))
	riskTotal := 0.0
	for _, item := range logs {
		emotions = append(emotions, item.Emotion)
		if item.Intensity != nil {
			riskTotal += *item.Intensity
		}
	}
	if len(emotions) > 20 {
		emotions = emotions[len(emotions)-20:]
	}

	prompt := fmt.Sprintf(
		"Analyze these recent emotions for a user: %s.\n"+
			"Average Risk Score (0-1): %.2f.\n"+
			"Provide a brief, compassionate 2-sentence summary of their mental state and a gentle recommendation.\n"+
			"Address the user directly as 'you'.",
		strings.Join(emotions, ", "),
		riskTotal/float64(len(logs)),
	)

	analysis, err := a.generator.Generate(
		c.Request.Context(),
		"You are an empathetic mental health analyst.",
		[]pipeline.Turn{{Role: pipeline.RoleUser, Content: prompt}},
	)
	if err != nil {
		log.Printf("weekly analysis failed err=%v", err)
		return "Unable to generate analysis at this moment."
	}
	return analysis
}

func recentEmotions(logs []MoodLog, limit int) []string {
	start := len(logs) - limit
	if start < 0 {
		start = 0
	}
	emotions := make([]string, 0, limit)
	for _, item := range logs[start:] {
		emotions = append(emotions, item.Emotion)
	}
	return emotions
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func roundTo1(value float64) float64 {
	return math.Round(value*10) / 10
}
