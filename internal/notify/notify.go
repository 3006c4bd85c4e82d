// Package notify delivers push notifications through the external gateway.
// Calls are fire-and-forget: gateway failures never affect message delivery
// to connected clients.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MrBlankCoding/ChannelChat/internal/log"
)

// FCM rejects batches above 500 tokens.
const tokenBatchSize = 500

// Gateway sends a notification to a set of device tokens.
type Gateway interface {
	SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// HTTPGateway posts notification batches to a configured gateway URL.
type HTTPGateway struct {
	url    string
	client *http.Client
}

func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type pushRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

func (g *HTTPGateway) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if g.url == "" || len(tokens) == 0 {
		return nil
	}

	for start := 0; start < len(tokens); start += tokenBatchSize {
		end := start + tokenBatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		if err := g.sendBatch(ctx, tokens[start:end], title, body, data); err != nil {
			// Failures are logged, not propagated; remaining batches still go out.
			l := log.L()
			l.Warn().Err(err).Int("tokens", end-start).Msg("push notification batch failed")
		}
	}
	return nil
}

func (g *HTTPGateway) sendBatch(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	payload, err := json.Marshal(pushRequest{Tokens: tokens, Title: title, Body: body, Data: data})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// NopGateway discards notifications. Used when no gateway is configured and
// in tests.
type NopGateway struct{}

func (NopGateway) SendToTokens(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	return nil
}
