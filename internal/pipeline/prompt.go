package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// FeatureImpact is one ranked feature attribution from the external
// risk model's explainer.
type FeatureImpact struct {
	Feature string  `json:"feature"`
	Impact  float64 `json:"shap_value"`
}

// RiskProfile is the externally computed assessment used to personalize
// generated responses. Absence (nil) is a valid state for a new user.
// Missing fields degrade to a field-absent rendering, never an error.
type RiskProfile struct {
	Prediction  string          `json:"prediction"`
	Confidence  float64         `json:"confidence"`
	TopFeatures []FeatureImpact `json:"top_features"`
	Summary     string          `json:"llm_summary"`
	FormData    map[string]any  `json:"form_data"`
}

const crisisSystemPrompt = `You are a compassionate, safety-focused mental health assistant.
Instructions:
- Begin with explicit validation and gratitude for disclosure (e.g., 'I'm really sorry you're feeling this way; thank you for telling me').
- Ask calm, direct safety questions: 'Are you thinking about hurting yourself right now?', 'Do you have a plan or means?'.
- If imminent danger is confirmed, instruct the user to contact local emergency services and provide geographically-relevant helplines. If country is unknown, ask: 'Which country are you in so I can give local resources?'
- Avoid abrupt policy-only refusals. Use supportive, non-judgmental language throughout.
- Do not provide instructions for self-harm or attempt to minimize the user's feelings.
`

// ComposeSystemPrompt builds the system instruction for the generation
// backend. The crisis branch is a fixed safety script that bypasses
// both the risk profile and the coping recommendation. The standard
// branch carries intent, blended emotion, recommendation, anchor text
// and, when available, the structured risk profile. Never returns "".
func ComposeSystemPrompt(state ConversationState, profile *RiskProfile) string {
	if IsCrisis(state.CurrentIntent, state.RiskScore) {
		return crisisSystemPrompt
	}

	riskContext := ""
	if profile != nil {
		riskContext = buildProfileContext(profile)
	}

	var b strings.Builder
	b.WriteString("You are a supportive, empathetic AI companion. You are NOT a clinical therapist. You are a friend here to listen.\n")
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- User's current intent: %s\n", state.CurrentIntent)
	fmt.Fprintf(&b, "- User's detected emotion: %s (Confidence: %v)\n", state.CurrentEmotion, state.EmotionConfidence)
	fmt.Fprintf(&b, "- Suggested coping strategy: %s\n", state.WellnessRecommendation)
	fmt.Fprintf(&b, "- Expert anchor text: %s", state.RetrievedResponse)
	b.WriteString(riskContext)
	b.WriteString("\n\nGuidelines:\n")
	b.WriteString("1. **Natural Conversation**: Speak naturally and casually. Avoid formal greetings like 'It is nice to connect with you'.\n")
	b.WriteString("2. **Emotion Handling**: Use the detected emotion to guide your tone, but NEVER explicitly state 'I sense you are feeling X' or 'I detect Y'. Just match their energy.\n")
	b.WriteString("   - If they are down, be there for them. (e.g., 'I'm sorry, that sounds tough.').\n")
	b.WriteString("   - If the emotion label conflicts with their words, trust their words.\n")
	b.WriteString("3. **Recommendations**: If a coping strategy is suggested, offer it casually. (e.g., 'Sometimes a quick walk helps.').\n")
	b.WriteString("4. **Style**: Warm, genuine, and concise. Avoid robotic or overly flowery language. Don't psychoanalyze them.\n")
	b.WriteString("5. **Safety**: Do not provide medical advice.")
	return b.String()
}

func buildProfileContext(profile *RiskProfile) string {
	features := make([]string, 0, len(profile.TopFeatures))
	for _, f := range profile.TopFeatures {
		features = append(features, fmt.Sprintf("%s (Impact: %.2f)", featureContext(f.Feature, profile.FormData), f.Impact))
	}

	name := formString(profile.FormData, "Name", "name")
	age := formString(profile.FormData, "Age", "age")

	details := make([]string, 0, len(profile.FormData))
	keys := make([]string, 0, len(profile.FormData))
	for k := range profile.FormData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch strings.ToLower(k) {
		case "user_id", "name", "age":
			continue
		}
		cleanKey := titleCase(strings.ReplaceAll(k, "_", " "))
		details = append(details, fmt.Sprintf("%s: %v", cleanKey, profile.FormData[k]))
	}

	var b strings.Builder
	b.WriteString("\n- **User Profile**:\n")
	fmt.Fprintf(&b, "  - Name: %s\n", name)
	fmt.Fprintf(&b, "  - Age: %s\n", age)
	fmt.Fprintf(&b, "  - Full Assessment Details: %s\n", strings.Join(details, ", "))
	fmt.Fprintf(&b, "  - Predicted Risk Class: %s (Confidence: %.2f%%)\n", profile.Prediction, profile.Confidence*100)
	fmt.Fprintf(&b, "  - Key Influencing Factors: %s\n", strings.Join(features, ", "))
	fmt.Fprintf(&b, "  - Summary shown to user: %s\n", profile.Summary)
	b.WriteString("  - INSTRUCTION: The user has seen the summary above. Use these insights to personalize your advice. ")
	b.WriteString("Address them by name occasionally if known. ")
	b.WriteString("You have access to their full assessment details above - use them to provide specific, relevant support. ")
	b.WriteString("For example, if 'Employment Status: Unemployed' is a factor, gently ask about work stress. ")
	b.WriteString("If 'Physical Activity: Sedentary' is a factor, suggest small movements. ")
	b.WriteString("Do NOT mention 'SHAP values' or 'risk scores' directly to the user. ")
	b.WriteString("Just use the insight to be more helpful.")
	return b.String()
}

// DescribeFeature renders an encoded model feature name as readable
// text for user-facing summaries.
func DescribeFeature(featureName string, form map[string]any) string {
	return featureContext(featureName, form)
}

// featureContext decodes an encoded feature name into a readable
// "Category: Value" pairing. One-hot encoded names split on the last
// underscore; numeric features match the raw form fields directly,
// first by exact name then by snake_case.
func featureContext(featureName string, form map[string]any) string {
	clean := strings.ReplaceAll(featureName, "encoder__", "")
	clean = strings.ReplaceAll(clean, "remainder__", "")

	if idx := strings.LastIndex(clean, "_"); idx > 0 && idx < len(clean)-1 {
		return fmt.Sprintf("%s: %s", clean[:idx], clean[idx+1:])
	}

	if value, ok := form[clean]; ok {
		return fmt.Sprintf("%s: %v", clean, value)
	}
	snake := strings.ToLower(strings.ReplaceAll(clean, " ", "_"))
	if value, ok := form[snake]; ok {
		return fmt.Sprintf("%s: %v", clean, value)
	}

	return strings.ReplaceAll(clean, "_", " ")
}

func formString(form map[string]any, keys ...string) string {
	for _, key := range keys {
		if raw, ok := form[key]; ok {
			value := strings.TrimSpace(fmt.Sprintf("%v", raw))
			if value != "" {
				return value
			}
		}
	}
	return ""
}

func titleCase(value string) string {
	words := strings.Fields(value)
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}
