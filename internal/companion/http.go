package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// HTTPChannelConfig configures an HTTPChannel.
type HTTPChannelConfig struct {
	BaseURL       string
	APIKey        string
	OutboxSize    int
	ProbeInterval time.Duration
}

// HTTPChannel delivers messages to a companion that exposes the sprintcoach
// companion endpoint, and probes its /healthz to track reachability.
type HTTPChannel struct {
	baseURL    string
	apiKey     string
	probeEvery time.Duration
	httpClient *http.Client
	outbox     chan Message
	log        *slog.Logger

	onReachable func(bool)
	onDelivered func(Message)
	onFailed    func(Message)
}

var _ Channel = (*HTTPChannel)(nil)

// NewHTTPChannel creates an HTTPChannel. Nothing is sent until Run is called.
func NewHTTPChannel(cfg HTTPChannelConfig, log *slog.Logger) *HTTPChannel {
	if cfg.OutboxSize <= 0 {
		cfg.OutboxSize = 64
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 5 * time.Second
	}
	return &HTTPChannel{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		probeEvery: cfg.ProbeInterval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		outbox:     make(chan Message, cfg.OutboxSize),
		log:        log,
	}
}

// Notify registers callbacks for reachability changes, successful deliveries
// and failed deliveries. Any of them may be nil. It must be called before Run.
func (c *HTTPChannel) Notify(onReachable func(bool), onDelivered, onFailed func(Message)) {
	c.onReachable = onReachable
	c.onDelivered = onDelivered
	c.onFailed = onFailed
}

// Send queues msg. It never blocks; a full outbox drops the message.
func (c *HTTPChannel) Send(msg Message) error {
	select {
	case c.outbox <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Run delivers queued messages and probes the companion until ctx is canceled.
func (c *HTTPChannel) Run(ctx context.Context) error {
	c.log.Info("companion channel started", "url", c.baseURL, "probe_interval", c.probeEvery)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.deliver(ctx) })
	g.Go(func() error { return c.probe(ctx) })
	return g.Wait()
}

func (c *HTTPChannel) deliver(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.outbox:
			if err := c.post(ctx, msg); err != nil {
				// Best effort: the message is gone, the prober notices outages.
				c.log.Warn("companion delivery failed", "type", msg.Type, "error", err)
				if c.onFailed != nil {
					c.onFailed(msg)
				}
				continue
			}
			if c.onDelivered != nil {
				c.onDelivered(msg)
			}
		}
	}
}

func (c *HTTPChannel) probe(ctx context.Context) error {
	ticker := time.NewTicker(c.probeEvery)
	defer ticker.Stop()

	last, known := false, false
	check := func() {
		ok := c.Healthy(ctx)
		if known && ok == last {
			return
		}
		last, known = ok, true
		if c.onReachable != nil {
			c.onReachable(ok)
		}
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			check()
		}
	}
}

// Healthy reports whether the companion answers its health check.
func (c *HTTPChannel) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *HTTPChannel) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("companion: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/companion/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("companion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("companion: post %s: %w", msg.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("companion: post %s returned %d: %s", msg.Type, resp.StatusCode, respBody)
	}
	return nil
}
