package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

const historyBodyLimit = 4 << 20

// FetchRecentMessages reads up to limit recent messages from a channel via
// the paged read endpoint and returns them in chronological order. A
// non-success response is logged and yields an empty list, not an error.
func (s *Session) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	endpoint := fmt.Sprintf("%s/channels/%s/messages?limit=%s",
		strings.TrimRight(s.cfg.APIBase, "/"), url.PathEscape(channelID), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", s.cfg.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		log.Printf("gateway[%s]: history %s status %s: %s",
			s.cfg.Tag, channelID, resp.Status, strings.TrimSpace(string(body)))
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, historyBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("history read: %w", err)
	}

	var payload []messagePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("gateway[%s]: history %s malformed payload: %v", s.cfg.Tag, channelID, err)
		return nil, nil
	}

	// newest-first on the wire; reverse to chronological
	out := make([]core.Message, 0, len(payload))
	for i := len(payload) - 1; i >= 0; i-- {
		out = append(out, s.normalizeMessage(payload[i]))
	}
	return out, nil
}
