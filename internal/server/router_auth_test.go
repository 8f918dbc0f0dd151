package server

import (
	"context"
	"net/http"
	"testing"
)

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	router := newTestApp(t, newMemStorage(), testAppOptions{}).Router()

	rec := performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if detail := responseDetail(t, rec); detail != "Bearer token required" {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestAuthMiddlewareRejectsGarbageToken(t *testing.T) {
	router := newTestApp(t, newMemStorage(), testAppOptions{}).Router()

	rec := performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthMiddlewareRejectsMissingSubject(t *testing.T) {
	router := newTestApp(t, newMemStorage(), testAppOptions{}).Router()

	token := signToken(t, "", nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if detail := responseDetail(t, rec); detail != "Token subject missing" {
		t.Fatalf("unexpected detail %q", detail)
	}
}

func TestAuthMiddlewareAutoCreatesUser(t *testing.T) {
	store := newMemStorage()
	router := newTestApp(t, store, testAppOptions{}).Router()

	token := signToken(t, "user-auto", map[string]any{"name": "Jamie", "provider": "google"})
	rec := performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	user, err := store.GetUser(context.Background(), "user-auto")
	if err != nil {
		t.Fatalf("user was not created: %v", err)
	}
	if user.Name != "Jamie" || user.Provider != "google" {
		t.Fatalf("unexpected user %+v", user)
	}
}

func TestAuthMiddlewareUnknownUserWithoutAutoCreate(t *testing.T) {
	app := newTestApp(t, newMemStorage(), testAppOptions{})
	app.cfg.AuthAutoCreateUser = false
	router := app.Router()

	token := signToken(t, "user-unknown", nil)
	rec := performRequest(t, router, http.MethodGet, "/api/v1/chat/sessions", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if detail := responseDetail(t, rec); detail != "User not found" {
		t.Fatalf("unexpected detail %q", detail)
	}
}
