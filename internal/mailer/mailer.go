// Package mailer delivers outbound correspondence. The production transport
// speaks the SendGrid v3 JSON API; without an API key it runs in dev mode
// and logs the message instead of sending it.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"aegis/internal/platform/config"
	dErrors "aegis/pkg/domain-errors"
)

// OutboundMail is one message handed to the transport. Headers carry the
// correlation token so replies can be matched without heuristics.
type OutboundMail struct {
	From     string
	FromName string
	To       string
	Cc       []string
	ReplyTo  string
	Subject  string
	BodyText string
	BodyHTML string
	Headers  map[string]string
}

// Receipt is the transport's acknowledgement of a send.
type Receipt struct {
	ProviderMessageID string
	SentAt            time.Time
}

// Transport sends one message. Implementations must not retry internally:
// a legally significant message must never be sent twice by accident.
type Transport interface {
	Send(ctx context.Context, mail OutboundMail) (Receipt, error)
}

// HTTPTransport sends via the SendGrid-compatible JSON API.
type HTTPTransport struct {
	apiURL string
	apiKey string
	client *http.Client
	logger *slog.Logger
}

func NewHTTPTransport(cfg config.MailerConfig, logger *slog.Logger) *HTTPTransport {
	return &HTTPTransport{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridPersonalization struct {
	To []sendgridAddress `json:"to"`
	Cc []sendgridAddress `json:"cc,omitempty"`
}

type sendgridRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	ReplyTo          *sendgridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
	Headers          map[string]string         `json:"headers,omitempty"`
}

// Send delivers one message. In dev mode (no API key) the message is logged
// and acknowledged locally so the rest of the pipeline behaves normally.
func (t *HTTPTransport) Send(ctx context.Context, mail OutboundMail) (Receipt, error) {
	if t.apiKey == "" {
		t.logger.InfoContext(ctx, "dev mode: outbound mail logged, not sent",
			"to", mail.To,
			"subject", mail.Subject,
			"reply_to", mail.ReplyTo,
		)
		return Receipt{ProviderMessageID: "dev-" + uuid.NewString(), SentAt: time.Now().UTC()}, nil
	}

	personalization := sendgridPersonalization{To: []sendgridAddress{{Email: mail.To}}}
	for _, cc := range mail.Cc {
		personalization.Cc = append(personalization.Cc, sendgridAddress{Email: cc})
	}
	payload := sendgridRequest{
		Personalizations: []sendgridPersonalization{personalization},
		From:             sendgridAddress{Email: mail.From, Name: mail.FromName},
		Subject:          mail.Subject,
		Headers:          mail.Headers,
	}
	if mail.ReplyTo != "" {
		payload.ReplyTo = &sendgridAddress{Email: mail.ReplyTo}
	}
	if mail.BodyText != "" {
		payload.Content = append(payload.Content, sendgridContent{Type: "text/plain", Value: mail.BodyText})
	}
	if mail.BodyHTML != "" {
		payload.Content = append(payload.Content, sendgridContent{Type: "text/html", Value: mail.BodyHTML})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return Receipt{}, dErrors.Wrap(dErrors.CodeDeliveryFailed, "mail transport unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Receipt{}, dErrors.New(dErrors.CodeDeliveryFailed,
			fmt.Sprintf("mail provider returned %d: %s", resp.StatusCode, string(detail)))
	}

	providerID := resp.Header.Get("X-Message-Id")
	if providerID == "" {
		providerID = uuid.NewString()
	}
	return Receipt{ProviderMessageID: providerID, SentAt: time.Now().UTC()}, nil
}

// MemoryTransport records sends for tests. FailNext makes the next Send
// return a delivery error.
type MemoryTransport struct {
	Sent     []OutboundMail
	FailNext bool
}

func (t *MemoryTransport) Send(_ context.Context, mail OutboundMail) (Receipt, error) {
	if t.FailNext {
		t.FailNext = false
		return Receipt{}, dErrors.New(dErrors.CodeDeliveryFailed, "transport failure injected")
	}
	t.Sent = append(t.Sent, mail)
	return Receipt{ProviderMessageID: fmt.Sprintf("mem-%d", len(t.Sent)), SentAt: time.Now().UTC()}, nil
}
