// Package pipeline implements the conversational analysis pipeline:
// semantic intent matching over a verified pattern corpus, emotion
// blending against recent mood history, heuristic risk scoring with a
// crisis gate, anti-repeat coping recommendations, and the prompt
// assembly that feeds the generation backend.
package pipeline

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ConversationState is carried across the turns of one chat session.
// The orchestrator owns it exclusively while a turn is in flight; stages
// receive a snapshot and return deltas, so a half-finished stage can
// never leave partial mutations behind.
type ConversationState struct {
	UserID                 string
	Messages               []Turn
	CurrentIntent          string
	CurrentEmotion         string
	EmotionConfidence      float64
	EmotionSource          string
	RetrievedResponse      string
	RiskScore              int
	WellnessRecommendation string
	LastRecommendation     string
}

func NewConversationState(userID string, history []Turn) *ConversationState {
	messages := make([]Turn, len(history))
	copy(messages, history)
	return &ConversationState{
		UserID:   userID,
		Messages: messages,
	}
}

// Snapshot returns a copy safe to hand to a stage. Messages share no
// backing array with the original, so appends cannot alias.
func (s *ConversationState) Snapshot() ConversationState {
	snapshot := *s
	snapshot.Messages = make([]Turn, len(s.Messages))
	copy(snapshot.Messages, s.Messages)
	return snapshot
}

func (s *ConversationState) AppendMessage(role, content string) {
	s.Messages = append(s.Messages, Turn{Role: role, Content: content})
}

// LastUserMessage returns the content of the most recent user turn, or
// "" if none exists.
func (s *ConversationState) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// MoodEntry is one raw classifier reading from the audit mood log,
// newest-last when returned as history.
type MoodEntry struct {
	Emotion   string
	CreatedAt time.Time
}

// perceptionDelta is the output of the perception stage.
type perceptionDelta struct {
	Intent     string
	Emotion    string
	Confidence float64
	Source     string
	Anchor     string
}

func (d perceptionDelta) apply(s *ConversationState) {
	s.CurrentIntent = d.Intent
	s.CurrentEmotion = d.Emotion
	s.EmotionConfidence = d.Confidence
	s.EmotionSource = d.Source
	s.RetrievedResponse = d.Anchor
}

// wellnessDelta is the output of the risk-assessment stage.
type wellnessDelta struct {
	RiskScore      int
	Recommendation string
}

func (d wellnessDelta) apply(s *ConversationState) {
	s.RiskScore = d.RiskScore
	s.WellnessRecommendation = d.Recommendation
}
