package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/pipeline"
)

type dbQuerier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type App struct {
	cfg          config.Config
	store        Storage
	orchestrator *pipeline.Orchestrator
	generator    pipeline.GenerationClient
	predictor    RiskPredictor
	profiles     *ProfileCache
}

type AuthUser struct {
	ID       string
	Provider string
	Name     string
}

func New(
	cfg config.Config,
	store Storage,
	orchestrator *pipeline.Orchestrator,
	generator pipeline.GenerationClient,
	predictor RiskPredictor,
	profiles *ProfileCache,
) *App {
	return &App{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		generator:    generator,
		predictor:    predictor,
		profiles:     profiles,
	}
}

// Router mounts the websocket route on a plain ServeMux branch: the
// hijack needs the raw http.ResponseWriter, which gin's buffered writer
// refuses once the handshake response is written.
func (a *App) Router() http.Handler {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.authMiddleware())

	api.GET("/chat/sessions", a.chatSessions)
	api.GET("/chat/history/:session_id", a.chatHistory)
	api.POST("/chat/query", a.chatQuery)
	api.POST("/assessment/submit", a.submitAssessment)
	api.GET("/assessment/latest", a.latestAssessment)
	api.GET("/dashboard", a.getDashboard)

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+a.cfg.APIPrefix+"/ws/chat/{session_id}", a.chatWebsocket)
	mux.Handle("/", router)
	return mux
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "mindmate-api",
	})
}

func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, detail := a.authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if detail != "" {
			writeError(c, http.StatusUnauthorized, detail)
			return
		}
		c.Set("authUser", user)
		c.Next()
	}
}

// authenticate verifies the bearer token and resolves the user. A
// non-empty detail means rejection; both the gin middleware and the
// websocket handler use it.
func (a *App) authenticate(ctx context.Context, authHeader string) (AuthUser, string) {
	if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return AuthUser{}, "Bearer token required"
	}
	tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
	if tokenString == "" {
		return AuthUser{}, "Bearer token required"
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return AuthUser{}, "Invalid bearer token"
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return AuthUser{}, "Invalid token payload"
	}
	if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
		return AuthUser{}, "Invalid token audience"
	}
	if a.cfg.JWTIssuer != "" {
		issuer, _ := claims["iss"].(string)
		if issuer != a.cfg.JWTIssuer {
			return AuthUser{}, "Invalid token issuer"
		}
	}
	sub, _ := claims["sub"].(string)
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return AuthUser{}, "Token subject missing"
	}

	user, err := a.getOrCreateUser(ctx, sub, claims)
	if err != nil {
		return AuthUser{}, err.Error()
	}
	return user, ""
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func providerFromClaim(raw any) string {
	if s, ok := raw.(string); ok {
		switch s {
		case "apple", "google", "email":
			return s
		}
	}
	return "email"
}

func (a *App) getOrCreateUser(ctx context.Context, userID string, claims jwt.MapClaims) (AuthUser, error) {
	user, err := a.store.GetUser(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return AuthUser{}, err
	}
	if !a.cfg.AuthAutoCreateUser {
		return AuthUser{}, errors.New("User not found")
	}

	name := ""
	if rawName, ok := claims["name"].(string); ok {
		name = strings.TrimSpace(rawName)
	}
	if name == "" {
		name = fmt.Sprintf("user-%s", truncate(userID, 8))
	}

	user = AuthUser{
		ID:       userID,
		Provider: providerFromClaim(claims["provider"]),
		Name:     name,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return AuthUser{}, err
	}
	return user, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}

func authUserFromContext(c *gin.Context) (AuthUser, bool) {
	raw, ok := c.Get("authUser")
	if !ok {
		return AuthUser{}, false
	}
	user, ok := raw.(AuthUser)
	return user, ok
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}
