package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"mindmate/backend/internal/pipeline"
)

// MoodLog is one row of the mood audit log, including the optional
// intensity the dashboard reads as a stress signal.
type MoodLog struct {
	Emotion   string
	Intensity *float64
	CreatedAt time.Time
}

type ChatMessage struct {
	ID        string
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}

type SessionPreview struct {
	ID        string    `json:"id"`
	Preview   string    `json:"preview"`
	CreatedAt time.Time `json:"created_at"`
}

type AssessmentRecord struct {
	FormData    map[string]any
	Prediction  string
	Confidence  float64
	TopFeatures []pipeline.FeatureImpact
	Summary     string
	CreatedAt   time.Time
}

// Storage is the persistence surface the handlers and the auth
// middleware depend on. *Store implements it over Postgres; tests use
// an in-memory stub.
type Storage interface {
	GetUser(ctx context.Context, userID string) (AuthUser, error)
	CreateUser(ctx context.Context, user AuthUser) error

	RecentMoods(ctx context.Context, userID string, limit int) ([]pipeline.MoodEntry, error)
	LogMood(ctx context.Context, userID, emotion, note string) error
	MoodLogsSince(ctx context.Context, userID string, since time.Time) ([]MoodLog, error)

	SaveChatMessage(ctx context.Context, userID, sessionID, role, content string) error
	ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error)
	UserSessions(ctx context.Context, userID string, limit int) ([]SessionPreview, error)

	SaveAssessment(ctx context.Context, userID string, record AssessmentRecord) error
	LatestAssessment(ctx context.Context, userID string) (*AssessmentRecord, error)
}

// ErrNotFound reports a missing row without leaking the driver error.
var ErrNotFound = errors.New("record not found")

type Store struct {
	db dbQuerier
}

func NewStore(db dbQuerier) *Store {
	return &Store{db: db}
}

func (s *Store) GetUser(ctx context.Context, userID string) (AuthUser, error) {
	user := AuthUser{}
	err := s.db.QueryRow(
		ctx,
		`SELECT id, provider, name FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Provider, &user.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return AuthUser{}, ErrNotFound
	}
	if err != nil {
		return AuthUser{}, err
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, user AuthUser) error {
	_, err := s.db.Exec(
		ctx,
		`INSERT INTO users (id, provider, name, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (id) DO NOTHING`,
		user.ID,
		user.Provider,
		user.Name,
	)
	return err
}

// RecentMoods returns the last `limit` mood labels newest-last, the
// order the blending and trend stages expect.
func (s *Store) RecentMoods(ctx context.Context, userID string, limit int) ([]pipeline.MoodEntry, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT emotion, created_at FROM mood_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]pipeline.MoodEntry, 0, limit)
	for rows.Next() {
		var entry pipeline.MoodEntry
		if err := rows.Scan(&entry.Emotion, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (s *Store) LogMood(ctx context.Context, userID, emotion, note string) error {
	_, err := s.db.Exec(
		ctx,
		`INSERT INTO mood_logs (id, user_id, emotion, note, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		uuid.NewString(),
		userID,
		emotion,
		note,
	)
	return err
}

func (s *Store) MoodLogsSince(ctx context.Context, userID string, since time.Time) ([]MoodLog, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT emotion, intensity, created_at FROM mood_logs
		 WHERE user_id = $1 AND created_at >= $2
		 ORDER BY created_at ASC`,
		userID,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]MoodLog, 0)
	for rows.Next() {
		var item MoodLog
		if err := rows.Scan(&item.Emotion, &item.Intensity, &item.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, item)
	}
	return logs, rows.Err()
}

func (s *Store) SaveChatMessage(ctx context.Context, userID, sessionID, role, content string) error {
	_, err := s.db.Exec(
		ctx,
		`INSERT INTO chat_messages (id, user_id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.NewString(),
		userID,
		sessionID,
		role,
		content,
	)
	return err
}

// ChatHistory returns up to `limit` most recent messages of a session
// in chronological order, oldest first.
func (s *Store) ChatHistory(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT id, session_id, role, content, created_at FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]ChatMessage, 0, limit)
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *Store) UserSessions(ctx context.Context, userID string, limit int) ([]SessionPreview, error) {
	rows, err := s.db.Query(
		ctx,
		`SELECT DISTINCT ON (session_id) session_id, content, created_at
		 FROM chat_messages
		 WHERE user_id = $1
		 ORDER BY session_id, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]SessionPreview, 0)
	for rows.Next() {
		var item SessionPreview
		if err := rows.Scan(&item.ID, &item.Preview, &item.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive ordered by session_id; reorder newest first, capped.
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func (s *Store) SaveAssessment(ctx context.Context, userID string, record AssessmentRecord) error {
	formJSON, err := json.Marshal(record.FormData)
	if err != nil {
		return err
	}
	featuresJSON, err := json.Marshal(record.TopFeatures)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		ctx,
		`INSERT INTO user_assessments
		   (id, user_id, form_data, risk_prediction, risk_confidence, top_features, llm_summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		uuid.NewString(),
		userID,
		string(formJSON),
		record.Prediction,
		record.Confidence,
		string(featuresJSON),
		record.Summary,
	)
	return err
}

func (s *Store) LatestAssessment(ctx context.Context, userID string) (*AssessmentRecord, error) {
	var (
		record       AssessmentRecord
		formJSON     []byte
		featuresJSON []byte
	)
	err := s.db.QueryRow(
		ctx,
		`SELECT form_data, risk_prediction, risk_confidence, top_features, llm_summary, created_at
		 FROM user_assessments
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID,
	).Scan(&formJSON, &record.Prediction, &record.Confidence, &featuresJSON, &record.Summary, &record.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	record.FormData = parseJSONStringMap(formJSON)
	if len(featuresJSON) > 0 {
		if err := json.Unmarshal(featuresJSON, &record.TopFeatures); err != nil {
			record.TopFeatures = nil
		}
	}
	return &record, nil
}

// ProfileResolver serves the generation pipeline's profile lookups,
// checking the in-process cache before the assessment table. A user with
// no stored assessment resolves to (nil, nil).
type ProfileResolver struct {
	cache *ProfileCache
	store Storage
}

func NewProfileResolver(cache *ProfileCache, store Storage) *ProfileResolver {
	return &ProfileResolver{cache: cache, store: store}
}

func (r *ProfileResolver) LatestProfile(ctx context.Context, userID string) (*pipeline.RiskProfile, error) {
	if profile, ok := r.cache.Get(userID); ok {
		return profile, nil
	}

	record, err := r.store.LatestAssessment(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile := &pipeline.RiskProfile{
		Prediction:  record.Prediction,
		Confidence:  record.Confidence,
		TopFeatures: record.TopFeatures,
		Summary:     record.Summary,
		FormData:    record.FormData,
	}
	r.cache.Set(userID, profile)
	return profile, nil
}
