package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type wsFrame struct {
	Type    string           `json:"type"`
	Role    string           `json:"role"`
	Content string           `json:"content"`
	Detail  string           `json:"detail"`
	Data    []map[string]any `json:"data"`
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) wsFrame {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("websocket read: %v", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v; raw=%s", err, data)
	}
	return frame
}

func dialChat(t *testing.T, ctx context.Context, serverURL, sessionID, token string) *websocket.Conn {
	t.Helper()
	target := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/v1/ws/chat/" + sessionID
	ws, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	return ws
}

func TestChatWebsocketReplaysHistoryThenAnswers(t *testing.T) {
	store := newMemStorage()
	_ = store.SaveChatMessage(context.Background(), "user-1", "session-1", "user", "earlier message")
	_ = store.SaveChatMessage(context.Background(), "user-1", "session-1", "assistant", "earlier reply")

	app := newTestApp(t, store, testAppOptions{
		generator: scriptedGenerator{reply: "I'm listening."},
	})
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws := dialChat(t, ctx, srv.URL, "session-1", signToken(t, "user-1", nil))
	defer ws.Close(websocket.StatusNormalClosure, "done")

	history := readFrame(t, ctx, ws)
	if history.Type != "history" {
		t.Fatalf("expected history frame first, got %q", history.Type)
	}
	if len(history.Data) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history.Data))
	}
	if history.Data[1]["role"] != "model" {
		t.Fatalf("assistant role must normalize to model: %v", history.Data[1])
	}

	if err := ws.Write(ctx, websocket.MessageText, []byte("how are you")); err != nil {
		t.Fatalf("websocket write: %v", err)
	}

	reply := readFrame(t, ctx, ws)
	if reply.Type != "message" || reply.Role != "model" {
		t.Fatalf("unexpected reply frame %+v", reply)
	}
	if reply.Content != "I'm listening." {
		t.Fatalf("unexpected reply content %q", reply.Content)
	}

	if messages := store.messagesForSession("session-1"); len(messages) != 4 {
		t.Fatalf("expected 4 stored messages after one turn, got %d", len(messages))
	}
}

func TestChatWebsocketTurnFailureSendsErrorFrame(t *testing.T) {
	store := newMemStorage()
	app := newTestApp(t, store, testAppOptions{
		generator: scriptedGenerator{err: errGeneratorDown},
	})
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ws := dialChat(t, ctx, srv.URL, "session-1", signToken(t, "user-1", nil))
	defer ws.Close(websocket.StatusNormalClosure, "done")

	if err := ws.Write(ctx, websocket.MessageText, []byte("hello")); err != nil {
		t.Fatalf("websocket write: %v", err)
	}

	frame := readFrame(t, ctx, ws)
	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
	if messages := store.messagesForSession("session-1"); len(messages) != 1 {
		t.Fatalf("expected only the user message to persist, got %d", len(messages))
	}
}

func TestChatWebsocketRejectsUnauthenticated(t *testing.T) {
	app := newTestApp(t, newMemStorage(), testAppOptions{})
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/chat/session-1"
	if _, _, err := websocket.Dial(ctx, target, nil); err == nil {
		t.Fatalf("expected dial to fail without a token")
	}
}
