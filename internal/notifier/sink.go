package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zwy923/onebox/internal/model"
)

// Sink delivers an Event to one external endpoint. Send makes a single attempt.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// WebhookSink posts the generic interested_lead payload.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{url: url, client: newHTTPClient(timeout)}
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Type  string       `json:"type"`
	Email webhookEmail `json:"email"`
}

type webhookEmail struct {
	Account  string         `json:"account"`
	ID       string         `json:"id"`
	From     string         `json:"from"`
	Subject  string         `json:"subject"`
	Category model.Category `json:"category"`
	Date     time.Time      `json:"date"`
	Preview  string         `json:"preview"`
}

func (s *WebhookSink) Send(ctx context.Context, e Event) error {
	return postJSON(ctx, s.client, s.url, webhookPayload{
		Type: "interested_lead",
		Email: webhookEmail{
			Account:  e.Account,
			ID:       e.MessageID,
			From:     e.From,
			Subject:  e.Subject,
			Category: e.Category,
			Date:     e.ReceivedAt,
			Preview:  e.BodyPreview,
		},
	})
}

const slackPreviewRunes = 150

// SlackSink posts a Block Kit message to an incoming webhook.
type SlackSink struct {
	url    string
	client *http.Client
}

func NewSlackSink(url string, timeout time.Duration) *SlackSink {
	return &SlackSink{url: url, client: newHTTPClient(timeout)}
}

func (s *SlackSink) Name() string { return "slack" }

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func (s *SlackSink) Send(ctx context.Context, e Event) error {
	return postJSON(ctx, s.client, s.url, slackMessage(e))
}

func slackMessage(e Event) slackPayload {
	return slackPayload{
		Text: "New Interested Lead from " + e.From,
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: "🎯 New Interested Lead!", Emoji: true},
			},
			{
				Type: "section",
				Fields: []slackText{
					{Type: "mrkdwn", Text: "*From:*\n" + e.From},
					{Type: "mrkdwn", Text: "*Subject:*\n" + e.Subject},
				},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*Preview:*\n" + slackPreview(e.BodyPreview)},
			},
		},
	}
}

// slackPreview cuts text to 150 runes and marks the cut with "...".
func slackPreview(text string) string {
	cut := model.Truncate(text, slackPreviewRunes)
	if cut != text {
		return cut + "..."
	}
	return text
}
