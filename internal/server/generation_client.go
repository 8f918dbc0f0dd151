package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"mindmate/backend/internal/config"
	"mindmate/backend/internal/pipeline"
)

// GroqChatClient calls an OpenAI-compatible chat completions endpoint
// (Groq by default) to produce the assistant reply for a composed
// system instruction and conversation history.
type GroqChatClient struct {
	apiKey          string
	baseURL         string
	model           string
	maxOutputTokens int
	httpClient      *http.Client
}

func NewGroqChatClient(cfg config.Config) *GroqChatClient {
	timeoutSeconds := cfg.GenTimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &GroqChatClient{
		apiKey:          strings.TrimSpace(cfg.GroqAPIKey),
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.GroqBaseURL), "/"),
		model:           strings.TrimSpace(cfg.GroqModel),
		maxOutputTokens: cfg.GenMaxOutputTokens,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *GroqChatClient) Generate(ctx context.Context, systemPrompt string, history []pipeline.Turn) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("GROQ_API_KEY is not configured")
	}
	if c.baseURL == "" {
		return "", errors.New("GROQ_BASE_URL is not configured")
	}
	if c.model == "" {
		return "", errors.New("GROQ_MODEL is not configured")
	}

	messages := make([]chatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatCompletionMessage{
			Role:    "system",
			Content: strings.TrimSpace(systemPrompt),
		})
	}
	for _, turn := range history {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		messages = append(messages, chatCompletionMessage{Role: role, Content: content})
	}
	if len(messages) == 0 {
		return "", errors.New("generation request is empty")
	}

	maxTokens := c.maxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}
	payload := map[string]any{
		"model":      c.model,
		"messages":   messages,
		"max_tokens": maxTokens,
	}
	bodyRaw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	request, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/chat/completions",
		bytes.NewReader(bodyRaw),
	)
	if err != nil {
		return "", err
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return "", fmt.Errorf("groq chat error (%d): %s", response.StatusCode, strings.TrimSpace(string(responseBody)))
	}

	var parsed struct {
		Choices []struct {
			Message chatCompletionMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		return "", fmt.Errorf("groq chat response malformed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		log.Printf("groq response had no choices: %s", truncateForLog(string(responseBody), 1200))
		return "", errors.New("groq chat response has no choices")
	}
	answer := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if answer == "" {
		return "", errors.New("groq chat response answer is empty")
	}
	return answer, nil
}

// MockGenerationClient replaces the hosted model in local development
// and tests.
type MockGenerationClient struct{}

func (MockGenerationClient) Generate(_ context.Context, systemPrompt string, history []pipeline.Turn) (string, error) {
	lastUser := ""
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == pipeline.RoleUser {
			lastUser = strings.TrimSpace(history[i].Content)
			break
		}
	}
	if strings.Contains(systemPrompt, "safety-focused") {
		return "I'm really sorry you're feeling this way; thank you for telling me. Are you safe right now?", nil
	}
	if lastUser == "" {
		return "I'm here whenever you want to talk.", nil
	}
	return "Thanks for sharing that with me. Tell me more about what's on your mind.", nil
}
