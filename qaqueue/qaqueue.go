// Package qaqueue is an HTTP client for the QAQueue API: the
// quality-tracking service Mason reports run outcomes to and consults
// for system load and historical provider statistics.
package qaqueue

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
	"github.com/CraigThomasParsons/mason/internal/retry"
)

// Client talks to the QAQueue API over HTTP/JSON. It implements
// selector.LoadAndStatsSource and engine.RunReporter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
}

// New builds a Client. transport may be nil (http.DefaultTransport is
// used); wrap it with telemetry.Tracer.Transport to enable tracing.
func New(baseURL string, transport http.RoundTripper) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		retryCfg: retry.DefaultConfig(),
	}
}

// Stats fetches the current queue lifecycle counters.
func (c *Client) Stats(ctx context.Context) (domain.QueueStats, error) {
	var stats domain.QueueStats
	err := retry.Do(ctx, c.retryCfg, func() error {
		body, err := c.get(ctx, "/queue/stats")
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &stats)
	})
	return stats, err
}

// IsHighLoad reports whether total_active exceeds threshold. Satisfies
// selector.LoadAndStatsSource.
func (c *Client) IsHighLoad(ctx context.Context, threshold int) (bool, error) {
	stats, err := c.Stats(ctx)
	if err != nil {
		return false, err
	}
	return stats.TotalActive > threshold, nil
}

// ProviderStats fetches per-provider historical performance. Satisfies
// selector.LoadAndStatsSource.
func (c *Client) ProviderStats(ctx context.Context) (map[string]domain.ProviderStats, error) {
	var raw map[string]domain.ProviderStats
	err := retry.Do(ctx, c.retryCfg, func() error {
		body, err := c.get(ctx, "/queue/provider-stats")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return err
		}
		for name, s := range raw {
			s.Name = name
			raw[name] = s
		}
		return nil
	})
	return raw, err
}

// RetryQueue fetches tasks awaiting a retry attempt.
func (c *Client) RetryQueue(ctx context.Context) ([]domain.RetryTask, error) {
	var tasks []domain.RetryTask
	err := retry.Do(ctx, c.retryCfg, func() error {
		body, err := c.get(ctx, "/tasks/retry-queue")
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &tasks)
	})
	return tasks, err
}

// GetTask fetches the original TaskPacket for a retry-queue entry, so
// the engine can re-dispatch it (GET /tasks/{id}). The poll loop calls it
// for every retry-queue task before invoking the engine.
func (c *Client) GetTask(ctx context.Context, taskID string) (domain.TaskPacket, error) {
	var packet domain.TaskPacket
	err := retry.Do(ctx, c.retryCfg, func() error {
		body, err := c.get(ctx, "/tasks/"+taskID)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &packet)
	})
	return packet, err
}

// SubmitTask creates a new task in QAQueue for a freshly compiled packet.
func (c *Client) SubmitTask(ctx context.Context, packet domain.TaskPacket) error {
	_, err := c.post(ctx, "/tasks", packet)
	return err
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

// StartRun begins tracking one provider invocation for taskID. Satisfies
// engine.RunReporter.
func (c *Client) StartRun(ctx context.Context, taskID, providerName string, confidenceWeight float64) (string, error) {
	body, err := c.post(ctx, "/tasks/"+taskID+"/start-run", map[string]interface{}{
		"provider_name":     providerName,
		"confidence_weight": confidenceWeight,
	})
	if err != nil {
		return "", err
	}
	var resp startRunResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("qaqueue: decoding start-run response: %w", err)
	}
	return resp.RunID, nil
}

// CompleteRun reports the outcome of one provider invocation. Satisfies
// engine.RunReporter.
func (c *Client) CompleteRun(ctx context.Context, taskID, runID string, bundle domain.ArtifactBundle) error {
	_, err := c.post(ctx, "/tasks/"+taskID+"/complete-run", map[string]interface{}{
		"run_id":           runID,
		"execution_status": bundle.ExecutionStatus,
		"files_modified":   bundle.FilesModified,
		"diff_summary":     bundle.DiffSummary,
		"logs":             bundle.Logs,
		"duration_ms":      bundle.DurationMS,
		"artifacts_path":   bundle.ArtifactsPath,
	})
	return err
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qaqueue: %s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}
