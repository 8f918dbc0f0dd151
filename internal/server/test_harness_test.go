package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/pipeline"
)

var baseTestConfig config.Config

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	baseTestConfig = newTestConfig()
	os.Exit(m.Run())
}

func newTestConfig() config.Config {
	return config.Config{
		AppEnv:              "test",
		AppName:             "MindMate API Test",
		APIPrefix:           "/api/v1",
		AppPort:             "0",
		DatabaseURL:         "test",
		JWTSecret:           "test-secret-1234567890",
		JWTAlgorithm:        "HS256",
		AuthAutoCreateUser:  true,
		CORSAllowOrigins:    []string{"http://localhost:5173"},
		SimilarityThreshold: 0.4,
		IntentsPath:         "data/intents.json",
		EmbeddingProvider:   "ollama",
		MoodHistoryLimit:    5,
		EmotionWindow:       6,
	}
}

// memStorage is the in-memory Storage used by handler tests. Ordering
// follows a monotonic counter instead of the wall clock so inserts in
// the same test tick stay ordered.
type memStorage struct {
	mu    sync.Mutex
	clock time.Time

	users       map[string]AuthUser
	moods       map[string][]MoodLog
	messages    []ChatMessage
	owners      map[string]string
	assessments map[string][]AssessmentRecord
}

func newMemStorage() *memStorage {
	return &memStorage{
		clock:       time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		users:       make(map[string]AuthUser),
		moods:       make(map[string][]MoodLog),
		owners:      make(map[string]string),
		assessments: make(map[string][]AssessmentRecord),
	}
}

func (m *memStorage) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memStorage) GetUser(_ context.Context, userID string) (AuthUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return AuthUser{}, ErrNotFound
	}
	return user, nil
}

func (m *memStorage) CreateUser(_ context.Context, user AuthUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *memStorage) RecentMoods(_ context.Context, userID string, limit int) ([]pipeline.MoodEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := m.moods[userID]
	start := len(logs) - limit
	if start < 0 {
		start = 0
	}
	entries := make([]pipeline.MoodEntry, 0, limit)
	for _, item := range logs[start:] {
		entries = append(entries, pipeline.MoodEntry{Emotion: item.Emotion, CreatedAt: item.CreatedAt})
	}
	return entries, nil
}

func (m *memStorage) LogMood(_ context.Context, userID, emotion, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moods[userID] = append(m.moods[userID], MoodLog{Emotion: emotion, CreatedAt: m.tick()})
	return nil
}

func (m *memStorage) seedMood(userID, emotion string, intensity *float64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moods[userID] = append(m.moods[userID], MoodLog{Emotion: emotion, Intensity: intensity, CreatedAt: at})
}

func (m *memStorage) MoodLogsSince(_ context.Context, userID string, since time.Time) ([]MoodLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	logs := make([]MoodLog, 0)
	for _, item := range m.moods[userID] {
		if !item.CreatedAt.Before(since) {
			logs = append(logs, item)
		}
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })
	return logs, nil
}

func (m *memStorage) SaveChatMessage(_ context.Context, userID, sessionID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: m.tick(),
	})
	m.owners[sessionID] = userID
	return nil
}

func (m *memStorage) ChatHistory(_ context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]ChatMessage, 0)
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			matched = append(matched, msg)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (m *memStorage) UserSessions(_ context.Context, userID string, limit int) ([]SessionPreview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]SessionPreview)
	for _, msg := range m.messages {
		if m.owners[msg.SessionID] != userID {
			continue
		}
		latest[msg.SessionID] = SessionPreview{ID: msg.SessionID, Preview: msg.Content, CreatedAt: msg.CreatedAt}
	}
	sessions := make([]SessionPreview, 0, len(latest))
	for _, item := range latest {
		sessions = append(sessions, item)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.After(sessions[j].CreatedAt) })
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (m *memStorage) SaveAssessment(_ context.Context, userID string, record AssessmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.CreatedAt = m.tick()
	m.assessments[userID] = append(m.assessments[userID], record)
	return nil
}

func (m *memStorage) LatestAssessment(_ context.Context, userID string) (*AssessmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := m.assessments[userID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	latest := records[len(records)-1]
	return &latest, nil
}

func (m *memStorage) messagesForSession(sessionID string) []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]ChatMessage, 0)
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			matched = append(matched, msg)
		}
	}
	return matched
}

type fixedIntentDetector struct {
	tag    string
	anchor string
}

func (d fixedIntentDetector) DetectIntent(context.Context, string) (string, string, error) {
	return d.tag, d.anchor, nil
}

type fixedClassifier struct {
	reading pipeline.EmotionReading
}

func (c fixedClassifier) Classify(context.Context, string) (pipeline.EmotionReading, error) {
	return c.reading, nil
}

type scriptedGenerator struct {
	reply string
	err   error
}

func (g scriptedGenerator) Generate(context.Context, string, []pipeline.Turn) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

var errGeneratorDown = errors.New("generation backend unavailable")

type testAppOptions struct {
	generator  pipeline.GenerationClient
	predictor  RiskPredictor
	intent     pipeline.IntentDetector
	classifier pipeline.EmotionClassifier
}

func newTestApp(t *testing.T, store *memStorage, opts testAppOptions) *App {
	t.Helper()

	if opts.generator == nil {
		opts.generator = scriptedGenerator{reply: "I'm here with you."}
	}
	if opts.predictor == nil {
		opts.predictor = MockRiskPredictor{}
	}
	if opts.intent == nil {
		opts.intent = fixedIntentDetector{tag: "greeting", anchor: "Hi there."}
	}
	if opts.classifier == nil {
		opts.classifier = fixedClassifier{reading: pipeline.EmotionReading{Label: pipeline.EmotionNeutral, Confidence: 0.9}}
	}

	profiles := NewProfileCache()
	orchestrator, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Intents:   opts.intent,
		Emotions:  opts.classifier,
		Moods:     store,
		Profiles:  NewProfileResolver(profiles, store),
		Generator: opts.generator,
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return New(baseTestConfig, store, orchestrator, opts.generator, opts.predictor, profiles)
}

func signToken(t *testing.T, sub string, overrides map[string]any) string {
	t.Helper()

	claims := jwt.MapClaims{
		"exp": time.Now().UTC().Add(1 * time.Hour).Unix(),
		"iat": time.Now().UTC().Add(-1 * time.Minute).Unix(),
	}
	if strings.TrimSpace(sub) != "" {
		claims["sub"] = sub
	}
	for key, value := range overrides {
		if value == nil {
			delete(claims, key)
			continue
		}
		claims[key] = value
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(baseTestConfig.JWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func performRequest(
	t *testing.T,
	router http.Handler,
	method, targetPath, token string,
	body any,
) *httptest.ResponseRecorder {
	t.Helper()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, targetPath, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSONMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response JSON: %v; body=%s", err, rec.Body.String())
	}
	return payload
}

func responseDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeJSONMap(t, rec)
	detail, _ := body["detail"].(string)
	return detail
}
