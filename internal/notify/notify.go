// Package notify delivers push notifications on a best-effort basis.
// Delivery failures are logged and never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}

type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a client posting to endpoint. An empty endpoint yields a nil
// client; Send on a nil client is a no-op.
func New(endpoint string) *Client {
	if endpoint == "" {
		return nil
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send fires the notification and forgets it.
func (c *Client) Send(ctx context.Context, n Notification) {
	if c == nil {
		return
	}
	body, err := json.Marshal(n)
	if err != nil {
		log.Printf("notify: encode: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify: build request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Printf("notify: send %q: %v", n.Title, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Printf("notify: send %q: status %d", n.Title, resp.StatusCode)
	}
}
