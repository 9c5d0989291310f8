package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/high-cuisine/vetclinic-bot/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// Transport delivers outbound chat messages through the messaging sidecar
// and fans moderator notifications out to the configured phones.
type Transport struct {
	baseURL         string
	moderatorPhones []string
	httpClient      *http.Client
	logger          *logging.Logger
}

// Option configures the Transport.
type Option func(*Transport)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// NewTransport creates a Transport for the sidecar at baseURL.
func NewTransport(baseURL string, moderatorPhones []string, opts ...Option) *Transport {
	t := &Transport{
		baseURL:         strings.TrimRight(baseURL, "/"),
		moderatorPhones: moderatorPhones,
		httpClient:      &http.Client{Timeout: defaultTimeout},
		logger:          logging.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendMessage delivers one message to a phone through the sidecar.
func (t *Transport) SendMessage(ctx context.Context, phone, message string) error {
	payload, err := json.Marshal(map[string]string{
		"phone":   phone,
		"message": message,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/send-message", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify: send message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// NotifyModerators sends the message to every moderator phone. Delivery
// failures are logged and counted, not fatal for the remaining phones.
func (t *Transport) NotifyModerators(ctx context.Context, message string) error {
	if len(t.moderatorPhones) == 0 {
		t.logger.Warn("moderator notification dropped, no phones configured")
		return nil
	}
	failed := 0
	for _, phone := range t.moderatorPhones {
		if err := t.SendMessage(ctx, phone, message); err != nil {
			t.logger.Error("moderator notification failed", "phone", phone, "error", err)
			failed++
		}
	}
	if failed == len(t.moderatorPhones) {
		return fmt.Errorf("notify: all %d moderator notifications failed", failed)
	}
	return nil
}
