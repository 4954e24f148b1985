package wearable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claude/sprintcoach/internal/companion"
)

// Client sends companion messages to the SprintCoach server over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client
	backoff    time.Duration
}

// NewClient creates a new HTTP client for the SprintCoach server.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: time.Second,
	}
}

// Send POSTs msg to the server's companion endpoint.
// Retries up to 3 times with exponential backoff on failure.
func (c *Client) Send(msg companion.Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = companion.UnixSeconds(time.Now())
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	var lastErr error
	for attempt := range 3 {
		if attempt > 0 {
			time.Sleep(c.backoff << uint(attempt-1))
		}

		req, err := http.NewRequest(http.MethodPost, c.serverURL+"/api/v1/companion/messages", bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode/100 == 2:
			return nil
		case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%s rejected (status %d): %s", msg.Type, resp.StatusCode, body)
		}
		lastErr = fmt.Errorf("%s failed (status %d): %s", msg.Type, resp.StatusCode, body)
	}

	return fmt.Errorf("after 3 attempts: %w", lastErr)
}

// ReportReps sends rep times measured on the companion. final marks the
// workout as finished on the companion side.
func (c *Client) ReportReps(sessionID string, times []float64, final bool) error {
	t := companion.MsgPhaseUpdate
	if final {
		t = companion.MsgWorkoutCompleted
	}
	return c.Send(companion.Message{Type: t, SessionID: sessionID, RepTimes: times})
}

// SyncStatus fetches the server's view of the pairing.
func (c *Client) SyncStatus() (companion.SyncStatus, error) {
	resp, err := c.httpClient.Get(c.serverURL + "/api/v1/sync")
	if err != nil {
		return companion.SyncStatus{}, fmt.Errorf("fetching sync status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return companion.SyncStatus{}, fmt.Errorf("sync status request failed (status %d): %s", resp.StatusCode, body)
	}

	var st companion.SyncStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return companion.SyncStatus{}, fmt.Errorf("decoding sync status: %w", err)
	}
	return st, nil
}
