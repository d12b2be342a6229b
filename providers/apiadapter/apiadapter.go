// Package apiadapter implements the hosted-JSON-API provider adapter
// (type=api), modeled on the teacher framework's AI provider BaseClient:
// a small chat-completion envelope posted with a bearer token, retrying
// on 429/5xx with exponential backoff before surfacing a failure.
package apiadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CraigThomasParsons/mason/domain"
)

// Config configures one hosted-API-backed provider instance.
type Config struct {
	Name           string
	BaseURL        string // e.g. https://api.example.com/v1
	Model          string
	BearerToken    string
	TimeoutSeconds int
	MaxRetries     int
	RetryDelay     time.Duration
	HTTPClient     *http.Client
}

// Adapter posts generation requests to a hosted chat-completion-style API.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New builds an Adapter. TimeoutSeconds defaults to 300, MaxRetries to
// 3, RetryDelay to 1s, matching the teacher framework's BaseClient
// defaults.
func New(cfg Config) *Adapter {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	return &Adapter{cfg: cfg, client: client}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate posts packet's goal/constraints as a single user message to
// the hosted API, retrying transient failures with backoff.
func (a *Adapter) Generate(ctx context.Context, packet domain.TaskPacket) domain.ArtifactBundle {
	taskID := packet.Identity.TaskID
	start := time.Now()

	payload, err := json.Marshal(chatRequest{
		Model:    a.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: buildPrompt(packet)}},
	})
	if err != nil {
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error()}
	}

	resp, body, err := a.executeWithRetry(ctx, payload)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		if a.DetectRateLimit(err) {
			return domain.ArtifactBundle{
				TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusProviderFailure,
				Error: err.Error(), IsRateLimit: true, DurationMS: durationMS,
			}
		}
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error(), DurationMS: durationMS}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.ArtifactBundle{
			TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusProviderFailure,
			Error: "rate limit exceeded", IsRateLimit: true, DurationMS: durationMS,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ArtifactBundle{
			TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure,
			Error: fmt.Sprintf("hosted API error (status %d): %s", resp.StatusCode, body), DurationMS: durationMS,
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error(), DurationMS: durationMS}
	}
	var text string
	if len(decoded.Choices) > 0 {
		text = decoded.Choices[0].Message.Content
	}

	return domain.ArtifactBundle{
		TaskID:          taskID,
		Provider:        a.cfg.Name,
		ExecutionStatus: domain.StatusSuccess,
		Logs:            text,
		DurationMS:      durationMS,
	}
}

// executeWithRetry issues the request, retrying 429/5xx and network
// errors with exponential backoff up to MaxRetries times.
func (a *Adapter) executeWithRetry(ctx context.Context, payload []byte) (*http.Response, []byte, error) {
	var lastErr error

	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if a.cfg.BearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+a.cfg.BearerToken)
		}

		resp, err := a.client.Do(req)
		if err == nil && resp.StatusCode < 400 {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			return resp, body, readErr
		}
		if err == nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			return resp, body, readErr
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt < a.cfg.MaxRetries {
			delay := a.cfg.RetryDelay * time.Duration(1<<uint(attempt))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, nil, ctx.Err()
			}
		}
	}

	return nil, nil, fmt.Errorf("request failed after %d retries: %w", a.cfg.MaxRetries, lastErr)
}

// IsAvailable reports true if BaseURL is configured; the hosted API has
// no cheap liveness endpoint to probe.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.cfg.BaseURL != ""
}

// DetectRateLimit classifies an error that escaped the internal flow by
// the same status markers the teacher's HandleError recognizes.
func (a *Adapter) DetectRateLimit(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

func buildPrompt(packet domain.TaskPacket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n\nSuccess Criteria:\n", packet.Goal.Title, packet.Goal.Description)
	for _, c := range packet.Goal.SuccessCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}
