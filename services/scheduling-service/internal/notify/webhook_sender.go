package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPSender posts {to, body, channel} as JSON to a gateway URL, for SMS
// providers without a native SDK.
type HTTPSender struct {
	url   string
	token string
	http  *http.Client
}

func NewHTTPSender(url, token string, timeout time.Duration) *HTTPSender {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSender{
		url:   url,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (s *HTTPSender) Name() string { return "sms-webhook" }

func (s *HTTPSender) Send(ctx context.Context, msg Message) (string, error) {
	raw, err := json.Marshal(map[string]string{
		"to":      msg.To,
		"body":    msg.Body,
		"channel": string(msg.Channel),
	})
	if err != nil {
		return "", Permanent(err, "encode sms payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return "", Permanent(err, "build sms request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", classifyTransport(err, "sms webhook")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", classifyHTTP(resp.StatusCode, errors.New(resp.Status), "sms webhook")
	}
	var out struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.ID, nil
}

// NoopSender accepts every message; used when a channel has no provider configured.
type NoopSender struct {
	name string
}

func NewNoopSender(name string) *NoopSender {
	return &NoopSender{name: name}
}

func (s *NoopSender) Name() string { return s.name }

func (s *NoopSender) Send(context.Context, Message) (string, error) {
	return "noop-" + uuid.NewString(), nil
}
