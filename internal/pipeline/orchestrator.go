package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Collaborator contracts. Stage-local failures from the classifier and
// the stores degrade to safe defaults; only generation failures abort
// the turn.

type IntentDetector interface {
	DetectIntent(ctx context.Context, text string) (tag, anchor string, err error)
}

type EmotionClassifier interface {
	Classify(ctx context.Context, text string) (EmotionReading, error)
}

type GenerationClient interface {
	Generate(ctx context.Context, systemPrompt string, history []Turn) (string, error)
}

type MoodStore interface {
	RecentMoods(ctx context.Context, userID string, limit int) ([]MoodEntry, error)
	LogMood(ctx context.Context, userID, emotion, note string) error
}

// ProfileSource resolves the user's latest risk profile, or (nil, nil)
// when none exists.
type ProfileSource interface {
	LatestProfile(ctx context.Context, userID string) (*RiskProfile, error)
}

// Orchestrator runs one conversational turn through perception, risk
// assessment, composition and generation, merging each stage's delta
// into the conversation state. Turns within one session are strictly
// serialized; turns across sessions run independently.
type Orchestrator struct {
	intents   IntentDetector
	emotions  EmotionClassifier
	moods     MoodStore
	profiles  ProfileSource
	generator GenerationClient
	scorer    RiskScorer
	bank      RecommendationBank

	moodLimit     int
	emotionWindow int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// sessionState carries the turn lock and the anti-repeat marker so the
// marker survives callers that rebuild ConversationState from stored
// history each turn.
type sessionState struct {
	mu                 sync.Mutex
	lastRecommendation string
}

type OrchestratorConfig struct {
	Intents   IntentDetector
	Emotions  EmotionClassifier
	Moods     MoodStore
	Profiles  ProfileSource
	Generator GenerationClient

	// Scorer picks the risk strategy explicitly; defaults to
	// TrendHeuristic when nil.
	Scorer RiskScorer

	// Bank defaults to DefaultRecommendationBank when nil.
	Bank RecommendationBank

	MoodLimit     int
	EmotionWindow int
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Intents == nil {
		return nil, fmt.Errorf("intent detector is required")
	}
	if cfg.Emotions == nil {
		return nil, fmt.Errorf("emotion classifier is required")
	}
	if cfg.Moods == nil {
		return nil, fmt.Errorf("mood store is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generation client is required")
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = TrendHeuristic{}
	}
	bank := cfg.Bank
	if bank == nil {
		bank = DefaultRecommendationBank()
	}
	moodLimit := cfg.MoodLimit
	if moodLimit <= 0 {
		moodLimit = 5
	}
	window := cfg.EmotionWindow
	if window <= 0 {
		window = 6
	}
	return &Orchestrator{
		intents:       cfg.Intents,
		emotions:      cfg.Emotions,
		moods:         cfg.Moods,
		profiles:      cfg.Profiles,
		generator:     cfg.Generator,
		scorer:        scorer,
		bank:          bank,
		moodLimit:     moodLimit,
		emotionWindow: window,
		sessions:      make(map[string]*sessionState),
	}, nil
}

// RunTurn appends the user message, runs the analysis stages and the
// generation call, and on success appends exactly one assistant turn and
// updates the last-recommendation marker. On generation failure the
// state keeps the user message but gains no assistant message and the
// anti-repeat marker is untouched.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionKey string, state *ConversationState, userMessage string) (string, error) {
	session := o.session(sessionKey)
	session.mu.Lock()
	defer session.mu.Unlock()

	if state.LastRecommendation == "" {
		state.LastRecommendation = session.lastRecommendation
	}

	state.AppendMessage(RoleUser, userMessage)

	perception := o.perceive(ctx, state.UserID, userMessage)
	perception.apply(state)

	wellness := o.assessRisk(ctx, state.UserID, userMessage, state.CurrentEmotion, state.LastRecommendation)
	wellness.apply(state)

	systemPrompt := o.compose(ctx, state)

	snapshot := state.Snapshot()
	reply, err := o.generator.Generate(ctx, systemPrompt, snapshot.Messages)
	if err != nil {
		return "", fmt.Errorf("generation failed: %w", err)
	}

	state.AppendMessage(RoleAssistant, reply)
	state.LastRecommendation = state.WellnessRecommendation
	session.lastRecommendation = state.WellnessRecommendation
	return reply, nil
}

// perceive runs intent matching and emotion blending. The mood-log
// write records the raw classifier label and happens after the history
// read so future historical modes are built from unblended signals.
func (o *Orchestrator) perceive(ctx context.Context, userID, message string) perceptionDelta {
	tag, anchor, err := o.intents.DetectIntent(ctx, message)
	if err != nil {
		log.Printf("intent detection degraded user_id=%s err=%v", userID, err)
		tag, anchor = IntentUnknown, FallbackAnchor
	}

	reading, err := o.emotions.Classify(ctx, message)
	if err != nil {
		log.Printf("emotion classifier unavailable user_id=%s err=%v", userID, err)
		reading = EmotionReading{Label: EmotionNeutral, Confidence: 0.0}
	}

	history, err := o.moods.RecentMoods(ctx, userID, o.moodLimit)
	if err != nil {
		log.Printf("mood history read failed user_id=%s err=%v", userID, err)
		history = nil
	}

	blended := BlendEmotion(reading, history, o.emotionWindow)

	if err := o.moods.LogMood(ctx, userID, reading.Label, message); err != nil {
		log.Printf("mood log write failed user_id=%s err=%v", userID, err)
	}

	return perceptionDelta{
		Intent:     tag,
		Emotion:    blended.Label,
		Confidence: blended.Confidence,
		Source:     blended.Source,
		Anchor:     anchor,
	}
}

// assessRisk re-reads recent moods so the trend includes the entry just
// logged by perception, matching the audit log the dashboard reports on.
func (o *Orchestrator) assessRisk(ctx context.Context, userID, message, emotion, lastRecommendation string) wellnessDelta {
	history, err := o.moods.RecentMoods(ctx, userID, o.moodLimit)
	if err != nil {
		log.Printf("mood history read failed user_id=%s err=%v", userID, err)
		history = nil
	}

	return wellnessDelta{
		RiskScore:      o.scorer.Score(message, history),
		Recommendation: o.bank.Select(emotion, lastRecommendation),
	}
}

// compose resolves the optional risk profile and assembles the system
// instruction. Profile lookups that fail degrade to the profile-less
// rendering.
func (o *Orchestrator) compose(ctx context.Context, state *ConversationState) string {
	var profile *RiskProfile
	if o.profiles != nil && !IsCrisis(state.CurrentIntent, state.RiskScore) {
		resolved, err := o.profiles.LatestProfile(ctx, state.UserID)
		if err != nil {
			log.Printf("risk profile lookup failed user_id=%s err=%v", state.UserID, err)
		} else {
			profile = resolved
		}
	}
	return ComposeSystemPrompt(state.Snapshot(), profile)
}

func (o *Orchestrator) session(sessionKey string) *sessionState {
	o.mu.Lock()
	defer o.mu.Unlock()
	session, ok := o.sessions[sessionKey]
	if !ok {
		session = &sessionState{}
		o.sessions[sessionKey] = session
	}
	return session
}

// ScorerName reports the active risk strategy.
func (o *Orchestrator) ScorerName() string {
	return o.scorer.Name()
}
