package server

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mindmate/backend/internal/pipeline"
)

const chatHistoryLimit = 50

func (a *App) chatSessions(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	sessions, err := a.store.UserSessions(c.Request.Context(), user.ID, chatHistoryLimit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load sessions")
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (a *App) chatHistory(c *gin.Context) {
	if _, ok := authUserFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}
	sessionID := strings.TrimSpace(c.Param("session_id"))
	if sessionID == "" {
		writeError(c, http.StatusBadRequest, "session_id is required")
		return
	}

	messages, err := a.store.ChatHistory(c.Request.Context(), sessionID, chatHistoryLimit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "Failed to load history")
		return
	}

	payload := make([]gin.H, 0, len(messages))
	for _, msg := range messages {
		payload = append(payload, gin.H{
			"role":      normalizeRole(msg.Role),
			"content":   msg.Content,
			"timestamp": msg.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (a *App) chatQuery(c *gin.Context) {
	user, ok := authUserFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	req := chatQueryRequest{}
	if !mustJSON(c, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(c, http.StatusBadRequest, "message is required")
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	reply, state, err := a.runChatTurn(c.Request.Context(), user, sessionID, message)
	if err != nil {
		log.Printf("chat turn failed user_id=%s session_id=%s err=%v", user.ID, sessionID, err)
		writeError(c, http.StatusBadGateway, "Assistant is unavailable right now")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":     sessionID,
		"reply":          reply,
		"intent":         state.CurrentIntent,
		"emotion":        state.CurrentEmotion,
		"risk_score":     state.RiskScore,
		"recommendation": state.WellnessRecommendation,
	})
}

// runChatTurn rebuilds the conversation state from the stored history,
// persists the user message, runs one pipeline turn, and persists the
// assistant reply. A failed turn keeps the user message and stores no
// assistant message, so a retry replays cleanly.
func (a *App) runChatTurn(ctx context.Context, user AuthUser, sessionID, message string) (string, *pipeline.ConversationState, error) {
	history, err := a.store.ChatHistory(ctx, sessionID, chatHistoryLimit)
	if err != nil {
		log.Printf("chat history read failed session_id=%s err=%v", sessionID, err)
		history = nil
	}
	turns := make([]pipeline.Turn, 0, len(history))
	for _, msg := range history {
		role := pipeline.RoleAssistant
		if strings.EqualFold(msg.Role, "user") {
			role = pipeline.RoleUser
		}
		turns = append(turns, pipeline.Turn{Role: role, Content: msg.Content})
	}
	state := pipeline.NewConversationState(user.ID, turns)

	if err := a.store.SaveChatMessage(ctx, user.ID, sessionID, "user", message); err != nil {
		log.Printf("chat message write failed session_id=%s err=%v", sessionID, err)
	}

	reply, err := a.orchestrator.RunTurn(ctx, sessionID, state, message)
	if err != nil {
		return "", state, err
	}

	if err := a.store.SaveChatMessage(ctx, user.ID, sessionID, "assistant", reply); err != nil {
		log.Printf("chat message write failed session_id=%s err=%v", sessionID, err)
	}
	return reply, state, nil
}
