package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/session"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/google/uuid"
)

// HTTPClient implements DataSource by calling the SprintCoach REST API.
// Used for remote MCP mode where the binary runs locally (stdio) but
// data lives on the remote server (accessed over Tailscale).
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an HTTPClient targeting the given base URL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("httpclient: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("httpclient: %s: %w", path, storage.ErrNotFound)
	}
	return nil, fmt.Errorf("httpclient: %s returned %d: %s", path, resp.StatusCode, body)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, params url.Values, what string, v any) error {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("httpclient: decode %s: %w", what, err)
	}
	return nil
}

func timeParams(start, end time.Time) url.Values {
	v := url.Values{}
	v.Set("start", start.Format(time.RFC3339))
	v.Set("end", end.Format(time.RFC3339))
	return v
}

// ListSessions ignores f.UserID; the server scopes history to the caller.
func (c *HTTPClient) ListSessions(ctx context.Context, f storage.SessionFilter) ([]models.SessionRecord, error) {
	params := timeParams(f.Start, f.End)
	if f.Variation != "" {
		params.Set("variation", string(f.Variation))
	}

	var recs []models.SessionRecord
	if err := c.getJSON(ctx, "/api/v1/sessions", params, "sessions", &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *HTTPClient) GetSession(ctx context.Context, id uuid.UUID, _ int) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	if err := c.getJSON(ctx, "/api/v1/sessions/"+id.String(), nil, "session", &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) PersonalBests(ctx context.Context, _ int) ([]models.PersonalBest, error) {
	var bests []models.PersonalBest
	if err := c.getJSON(ctx, "/api/v1/leaderboard", nil, "leaderboard", &bests); err != nil {
		return nil, err
	}
	return bests, nil
}

func (c *HTTPClient) Stats(ctx context.Context, _ int) (*storage.HistoryStats, error) {
	var st storage.HistoryStats
	if err := c.getJSON(ctx, "/api/v1/stats", nil, "stats", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) Workout(ctx context.Context) (session.State, error) {
	var state session.State
	if err := c.getJSON(ctx, "/api/v1/workout", nil, "workout", &state); err != nil {
		return session.State{}, err
	}
	return state, nil
}

func (c *HTTPClient) SyncStatus(ctx context.Context) (companion.SyncStatus, error) {
	var st companion.SyncStatus
	if err := c.getJSON(ctx, "/api/v1/sync", nil, "sync status", &st); err != nil {
		return companion.SyncStatus{}, err
	}
	return st, nil
}

// IsNotFound reports whether err came from a 404 response.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
