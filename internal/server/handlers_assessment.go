package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"mindmate/backend/internal/pipeline"
)

const assessmentSummaryFallback = "Thank you for sharing. We'll use this to better support you."

func (a *App) submitAssessment(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	form := wellnessFormRequest{}
	if !mustJSON(c, &form) {
		return
	}

	ctx := c.Request.Context()
	input := form.modelInput()

	result, err := a.predictor.PredictAndExplain(ctx, input)
	if err != nil {
		log.Printf("risk prediction failed user_id=%s err=%v", user.ID, err)
		writeError(c, http.StatusInternalServerError, "Risk assessment is unavailable")
		return
	}

	summary := a.summarizeAssessment(ctx, result, input)

	formData := form.formData(user.ID)
	record := AssessmentRecord{
		FormData:    formData,
		Prediction:  result.Prediction,
		Confidence:  result.Confidence,
		TopFeatures: result.TopFeatures,
		Summary:     summary,
	}
	if err := a.store.SaveAssessment(ctx, user.ID, record); err != nil {
		log.Printf("assessment write failed user_id=%s err=%v", user.ID, err)
	}

	a.profiles.Set(user.ID, &pipeline.RiskProfile{
		Prediction:  result.Prediction,
		Confidence:  result.Confidence,
		TopFeatures: result.TopFeatures,
		Summary:     summary,
		FormData:    formData,
	})

	c.JSON(http.StatusOK, gin.H{
		"prediction":   result.Prediction,
		"confidence":   result.Confidence,
		"top_features": result.TopFeatures,
		"llm_analysis": summary,
	})
}

// summarizeAssessment turns the model output into a few reflective
// observations. A generation failure degrades to a fixed acknowledgment
// rather than failing the submission.
func (a *App) summarizeAssessment(ctx context.Context, result RiskPrediction, input map[string]any) string {
	lines := make([]string, 0, len(result.TopFeatures))
	for _, f := range result.TopFeatures {
		impact := "Moderate"
		if math.Abs(f.Impact) > 0.1 {
			impact = "High"
		}
		lines = append(lines, fmt.Sprintf("- %s (Impact: %s)", pipeline.DescribeFeature(f.Feature, input), impact))
	}

	var b strings.Builder
	b.WriteString("You are a warm, insightful wellness companion. A user just finished a health check-in. ")
	b.WriteString("Based on the analysis below, write 3-4 personalized, non-judgmental observations to help them reflect.\n\n")
	b.WriteString("Analysis Data:\n")
	fmt.Fprintf(&b, "- Risk Level: %s\n", result.Prediction)
	fmt.Fprintf(&b, "- Top Influencing Factors:\n%s\n\n", strings.Join(lines, "\n"))
	b.WriteString("Guidelines:\n")
	b.WriteString("1. **Be Direct but Kind**: Address the factors honestly. If they are sedentary, say 'We noticed physical activity is currently low, which can impact mood.' Don't sugarcoat or hallucinate positive traits not present in the data.\n")
	b.WriteString("2. **Connect the Dots**: Briefly mention *why* a factor matters (e.g., 'Work stress can often drain energy needed for other things').\n")
	b.WriteString("3. **Future Focus**: End each point with a tiny, hopeful look forward (e.g., 'Small steps here can make a big difference').\n")
	b.WriteString("4. **No Jargon**: No 'SHAP', 'algorithms', 'features', 'encoders'.\n")
	b.WriteString("5. **Format**: 3-4 bullet points. Start directly with the bullets.")

	summary, err := a.generator.Generate(ctx, b.String(), nil)
	if err != nil {
		log.Printf("assessment summarization failed err=%v", err)
		return assessmentSummaryFallback
	}
	return summary
}

func (a *App) latestAssessment(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	record, err := a.store.LatestAssessment(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"found": false})
			return
		}
		writeError(c, http.StatusInternalServerError, "Failed to load assessment")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"found":        true,
		"data":         record.FormData,
		"prediction":   record.Prediction,
		"summary":      record.Summary,
		"top_features": record.TopFeatures,
	})
}
