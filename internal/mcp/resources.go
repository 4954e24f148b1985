package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/claude/sprintcoach/internal/models"
	"github.com/claude/sprintcoach/internal/storage"
	"github.com/mark3labs/mcp-go/mcp"
)

func (h *handlers) recentSessions(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	end := time.Now()
	recs, err := h.ds.ListSessions(ctx, storage.SessionFilter{
		UserID: UserIDFromContext(ctx),
		Start:  end.AddDate(0, 0, -14),
		End:    end,
	})
	if err != nil {
		return nil, err
	}

	out := make([]sessionSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, summarize(rec))
	}
	return jsonResource(req.Params.URI, out)
}

func (h *handlers) leaderboard(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	bests, err := h.ds.PersonalBests(ctx, UserIDFromContext(ctx))
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, bests)
}

func (h *handlers) presetLibrary(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(req.Params.URI, models.Presets)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
