package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/coder/websocket"
)

// chatWebsocket serves a chat session over a websocket: it replays the
// stored history as one payload, then answers each text frame with one
// pipeline turn. A failed turn produces an error frame and keeps the
// connection open. It runs outside gin so the upgrade hijacks the raw
// connection.
func (a *App) chatWebsocket(w http.ResponseWriter, r *http.Request) {
	user, detail := a.authenticate(r.Context(), r.Header.Get("Authorization"))
	if detail != "" {
		writeDetail(w, http.StatusUnauthorized, detail)
		return
	}
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	if sessionID == "" {
		writeDetail(w, http.StatusBadRequest, "session_id is required")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept failed user_id=%s err=%v", user.ID, err)
		return
	}
	defer ws.Close(websocket.StatusNormalClosure, "session ended")

	ctx := r.Context()

	history, err := a.store.ChatHistory(ctx, sessionID, chatHistoryLimit)
	if err != nil {
		log.Printf("chat history read failed session_id=%s err=%v", sessionID, err)
		history = nil
	}
	if len(history) > 0 {
		payload := make([]map[string]any, 0, len(history))
		for _, msg := range history {
			payload = append(payload, map[string]any{
				"role":      normalizeRole(msg.Role),
				"content":   msg.Content,
				"timestamp": msg.CreatedAt,
			})
		}
		if err := writeWSJSON(ctx, ws, map[string]any{"type": "history", "data": payload}); err != nil {
			log.Printf("websocket history write failed session_id=%s err=%v", sessionID, err)
			return
		}
	}

	for {
		kind, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Printf("websocket read failed session_id=%s err=%v", sessionID, err)
			}
			return
		}
		if kind != websocket.MessageText {
			continue
		}
		message := strings.TrimSpace(string(data))
		if message == "" {
			continue
		}

		reply, _, err := a.runChatTurn(ctx, user, sessionID, message)
		if err != nil {
			log.Printf("chat turn failed user_id=%s session_id=%s err=%v", user.ID, sessionID, err)
			if err := writeWSJSON(ctx, ws, map[string]any{
				"type":   "error",
				"detail": "Assistant is unavailable right now",
			}); err != nil {
				return
			}
			continue
		}

		if err := writeWSJSON(ctx, ws, map[string]any{
			"type":    "message",
			"role":    "model",
			"content": reply,
		}); err != nil {
			return
		}
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func writeWSJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
