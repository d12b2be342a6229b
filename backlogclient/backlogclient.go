// Package backlogclient is an HTTP client for the DevBacklog API, the
// work-source service Mason polls for stories ready to decompose.
package backlogclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CraigThomasParsons/mason/domain"
	"github.com/CraigThomasParsons/mason/internal/retry"
)

// Client talks to the DevBacklog API over HTTP/JSON.
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

type wireStory struct {
	ID                 int64  `json:"id"`
	Title              string `json:"title"`
	Narrative          string `json:"narrative"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
	EpicID             *int64 `json:"epic_id"`
	Priority           int    `json:"priority"`
	EstPoints          *int   `json:"est_points"`
}

func (w wireStory) toDomain() domain.Story {
	return domain.Story{
		ID:                 w.ID,
		Title:              w.Title,
		Narrative:          w.Narrative,
		AcceptanceCriteria: w.AcceptanceCriteria,
		EpicID:             w.EpicID,
		Priority:           w.Priority,
		EstPoints:          w.EstPoints,
	}
}

// ReadyStories fetches stories with status=ready_for_dev. The response
// may be a bare array or an envelope of the shape {"data": [...]}.
func (c *Client) ReadyStories(ctx context.Context) ([]domain.Story, error) {
	var stories []domain.Story
	err := retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stories?status=ready_for_dev", nil)
		if err != nil {
			return err
		}
		body, err := c.do(req)
		if err != nil {
			return err
		}

		var envelope struct {
			Data []wireStory `json:"data"`
		}
		var bare []wireStory
		if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
			stories = toDomainStories(envelope.Data)
			return nil
		}
		if err := json.Unmarshal(body, &bare); err != nil {
			return fmt.Errorf("backlogclient: decoding stories: %w", err)
		}
		stories = toDomainStories(bare)
		return nil
	})
	return stories, err
}

// Story fetches a single story by id.
func (c *Client) Story(ctx context.Context, storyID int64) (domain.Story, error) {
	var story domain.Story
	err := retry.Do(ctx, c.retryCfg, func() error {
		url := c.baseURL + "/stories/" + strconv.FormatInt(storyID, 10)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		body, err := c.do(req)
		if err != nil {
			return err
		}
		var w wireStory
		if err := json.Unmarshal(body, &w); err != nil {
			return fmt.Errorf("backlogclient: decoding story: %w", err)
		}
		story = w.toDomain()
		return nil
	})
	return story, err
}

// MarkInProgress notifies DevBacklog that a story is being decomposed.
// Failures are swallowed (returns false), matching the original
// best-effort semantics.
func (c *Client) MarkInProgress(ctx context.Context, storyID int64) bool {
	url := c.baseURL + "/stories/" + strconv.FormatInt(storyID, 10) + "/in-progress"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
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
		return nil, fmt.Errorf("backlogclient: %s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

func toDomainStories(wires []wireStory) []domain.Story {
	out := make([]domain.Story, len(wires))
	for i, w := range wires {
		out[i] = w.toDomain()
	}
	return out
}
