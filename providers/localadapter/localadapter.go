// Package localadapter implements the local-HTTP-model-server provider
// adapter (type=local), grounded on the original Ollama direct-API
// provider: no rate limiting (fully local execution), preferred under
// high system load.
package localadapter

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

// Config configures one local-model-server-backed provider instance.
type Config struct {
	Name           string
	Host           string // e.g. http://localhost:11434
	Model          string
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// Adapter POSTs generation requests to an Ollama-compatible /api/generate
// endpoint.
type Adapter struct {
	cfg    Config
	client *http.Client
}

// New builds an Adapter. Host defaults to http://localhost:11434, Model
// to "qwen2.5-coder:14b", TimeoutSeconds to 300, matching the original
// provider's defaults.
func New(cfg Config) *Adapter {
	if cfg.Host == "" {
		cfg.Host = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5-coder:14b"
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 300
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	return &Adapter{cfg: cfg, client: client}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate POSTs a prompt built from packet to the local model server.
func (a *Adapter) Generate(ctx context.Context, packet domain.TaskPacket) domain.ArtifactBundle {
	taskID := packet.Identity.TaskID
	start := time.Now()

	payload, err := json.Marshal(generateRequest{
		Model:  a.cfg.Model,
		Prompt: buildPrompt(packet),
		Stream: false,
	})
	if err != nil {
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.Host, "/")+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	durationMS := time.Since(start).Milliseconds()
	if err != nil {
		return domain.ArtifactBundle{
			TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure,
			Error: err.Error(), DurationMS: durationMS,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error(), DurationMS: durationMS}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.ArtifactBundle{
			TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure,
			Error: fmt.Sprintf("local model server status %d: %s", resp.StatusCode, body), DurationMS: durationMS,
		}
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.ArtifactBundle{TaskID: taskID, Provider: a.cfg.Name, ExecutionStatus: domain.StatusFailure, Error: err.Error(), DurationMS: durationMS}
	}

	return domain.ArtifactBundle{
		TaskID:          taskID,
		Provider:        a.cfg.Name,
		ExecutionStatus: domain.StatusSuccess,
		Logs:            decoded.Response,
		DurationMS:      durationMS,
	}
}

// IsAvailable probes the server's /api/tags endpoint.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(a.cfg.Host, "/")+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// DetectRateLimit always returns false: local execution has no rate
// limiter, matching the original provider.
func (a *Adapter) DetectRateLimit(err error) bool {
	return false
}

func buildPrompt(packet domain.TaskPacket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a senior software developer. Complete the following task:\n\n# Task: %s\n\n%s\n\n## Success Criteria\n",
		packet.Goal.Title, packet.Goal.Description)
	for _, c := range packet.Goal.SuccessCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	if len(packet.Constraints.FileScope) > 0 {
		b.WriteString("\n## File Scope\n")
		for _, f := range packet.Constraints.FileScope {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(packet.Constraints.StyleRules) > 0 {
		b.WriteString("\n## Style Rules\n")
		for _, r := range packet.Constraints.StyleRules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	if len(packet.Inputs.RetryGuidance) > 0 {
		b.WriteString("\n## Previous Attempt Feedback\n")
		for _, g := range packet.Inputs.RetryGuidance {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}
	b.WriteString("\n## Instructions\n1. Write the complete code solution\n2. Explain your approach briefly\n3. List any assumptions made\n")
	return b.String()
}
