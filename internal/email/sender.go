// Package email sends transactional licensing emails (grace period
// warnings, downgrade notices) through Postmark, with a log-only fallback
// for deployments that have no provider configured.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultEndpoint = "https://api.postmarkapp.com/email"
	sendTimeout     = 10 * time.Second
	maxResponseBody = 4096
)

// Sender delivers one transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a provider-independent email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
}

// PostmarkSender delivers messages through the Postmark transactional API.
type PostmarkSender struct {
	token    string
	endpoint string
	stream   string
	client   *http.Client
}

// PostmarkOption adjusts a PostmarkSender.
type PostmarkOption func(*PostmarkSender)

// WithEndpoint points the sender at a different API URL. Tests use it to
// target an httptest server.
func WithEndpoint(url string) PostmarkOption {
	return func(p *PostmarkSender) { p.endpoint = url }
}

// WithMessageStream routes messages through a named Postmark stream
// instead of the default "outbound" transactional stream.
func WithMessageStream(stream string) PostmarkOption {
	return func(p *PostmarkSender) { p.stream = stream }
}

// WithHTTPClient substitutes the HTTP client.
func WithHTTPClient(c *http.Client) PostmarkOption {
	return func(p *PostmarkSender) { p.client = c }
}

// NewPostmarkSender creates a sender authenticated by a Postmark server
// token.
func NewPostmarkSender(token string, opts ...PostmarkOption) *PostmarkSender {
	p := &PostmarkSender{
		token:    token,
		endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: sendTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// outboundMessage is the Postmark /email request shape.
type outboundMessage struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody,omitempty"`
	TextBody      string `json:"TextBody,omitempty"`
	MessageStream string `json:"MessageStream,omitempty"`
}

// apiResult is the subset of the Postmark response we act on. Postmark can
// report a non-zero ErrorCode on an HTTP 200, so both must be checked.
type apiResult struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
}

// Send delivers the message. Any API-level ErrorCode is an error even when
// the HTTP status is 200.
func (p *PostmarkSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(outboundMessage{
		From:          msg.From,
		To:            msg.To,
		Subject:       msg.Subject,
		HtmlBody:      msg.HTML,
		TextBody:      msg.Text,
		MessageStream: p.stream,
	})
	if err != nil {
		return fmt.Errorf("encode outbound email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	var result apiResult
	_ = json.Unmarshal(raw, &result)

	if resp.StatusCode != http.StatusOK || result.ErrorCode != 0 {
		return fmt.Errorf("postmark rejected email (HTTP %d, code %d): %s",
			resp.StatusCode, result.ErrorCode, result.Message)
	}

	log.Debug().
		Str("to", msg.To).
		Str("message_id", result.MessageID).
		Msg("Email delivered")
	return nil
}

// LogSender records emails in the service log instead of delivering them.
// It is the fallback when no Postmark token is configured, and keeps grace
// warnings visible to operators running without a provider.
type LogSender struct {
	maxBody int
}

// NewLogSender creates a log-only sender.
func NewLogSender() *LogSender {
	return &LogSender{maxBody: maxResponseBody}
}

// Send logs the message and reports success.
func (l *LogSender) Send(_ context.Context, msg Message) error {
	body := msg.Text
	if len(body) > l.maxBody {
		body = body[:l.maxBody] + "...(truncated)"
	}
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", body).
		Msg("Email (log-only, no provider configured)")
	return nil
}
