package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"os"
	"strings"
	"time"
)

// Notifier delivers an alert over one channel. Implementations must be
// safe for concurrent use; a failing channel only affects itself.
type Notifier interface {
	Name() string
	Send(ctx context.Context, a *Alert) error
}

// Registry holds notifiers keyed by channel identifier.
type Registry struct {
	notifiers map[string]Notifier
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

// Register adds or replaces a notifier.
func (r *Registry) Register(n Notifier) {
	r.notifiers[n.Name()] = n
}

// Get returns the notifier for the channel, or nil if unregistered.
func (r *Registry) Get(channel string) Notifier {
	return r.notifiers[channel]
}

// DefaultRegistry returns a registry with every recognized channel kind.
// Endpoints and credentials come from environment variables so secrets
// stay out of config files.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&WebhookNotifier{name: "slack", urlEnv: "SLACK_WEBHOOK_URL", format: formatSlack})
	r.Register(&WebhookNotifier{name: "webhook", urlEnv: "ALERT_WEBHOOK_URL", format: formatRaw})
	r.Register(&WebhookNotifier{name: "discord", urlEnv: "DISCORD_WEBHOOK_URL", format: formatDiscord})
	r.Register(&PagerDutyNotifier{routingKeyEnv: "PAGERDUTY_ROUTING_KEY"})
	r.Register(&EmailNotifier{})
	return r
}

var channelHTTPClient = &http.Client{Timeout: 10 * time.Second}

// WebhookNotifier posts a JSON payload to a webhook URL. Slack, Discord,
// and generic webhooks differ only in payload shape.
type WebhookNotifier struct {
	name   string
	urlEnv string
	format func(a *Alert) any
}

// Name returns the channel identifier.
func (n *WebhookNotifier) Name() string { return n.name }

// Send posts the alert to the configured webhook.
func (n *WebhookNotifier) Send(ctx context.Context, a *Alert) error {
	url := os.Getenv(n.urlEnv)
	if url == "" {
		return fmt.Errorf("%s webhook URL not found in env var: %s", n.name, n.urlEnv)
	}
	return postJSON(ctx, url, n.format(a))
}

func formatRaw(a *Alert) any { return a }

func formatSlack(a *Alert) any {
	return map[string]any{
		"text": fmt.Sprintf("[%s] %s", a.Severity, a.Title),
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": fmt.Sprintf("*%s*\n%s\nType: `%s`  IP: `%s`", a.Title, a.Description, a.Type, a.Context.IPAddress),
				},
			},
		},
	}
}

func formatDiscord(a *Alert) any {
	return map[string]any{
		"content": fmt.Sprintf("**[%s] %s**\n%s", a.Severity, a.Title, a.Description),
	}
}

// PagerDutyNotifier triggers an incident via the Events v2 API.
type PagerDutyNotifier struct {
	routingKeyEnv string
	// BaseURL overrides the PagerDuty endpoint, used by tests.
	BaseURL string
}

// Name returns the channel identifier.
func (n *PagerDutyNotifier) Name() string { return "pagerduty" }

// Send triggers a PagerDuty incident for the alert.
func (n *PagerDutyNotifier) Send(ctx context.Context, a *Alert) error {
	key := os.Getenv(n.routingKeyEnv)
	if key == "" {
		return fmt.Errorf("PagerDuty routing key not found in env var: %s", n.routingKeyEnv)
	}

	url := n.BaseURL
	if url == "" {
		url = "https://events.pagerduty.com"
	}
	payload := map[string]any{
		"routing_key":  key,
		"event_action": "trigger",
		"dedup_key":    a.ID,
		"payload": map[string]any{
			"summary":   a.Title,
			"source":    "watchtower",
			"severity":  strings.ToLower(string(a.Severity)),
			"timestamp": a.Timestamp.Format(time.RFC3339),
			"custom_details": map[string]any{
				"description": a.Description,
				"type":        a.Type,
				"ip_address":  a.Context.IPAddress,
				"user_id":     a.Context.UserID,
			},
		},
	}
	return postJSON(ctx, strings.TrimSuffix(url, "/")+"/v2/enqueue", payload)
}

// EmailNotifier sends plain-text mail through an SMTP relay. Host, sender,
// and recipients come from SMTP_ADDR, SMTP_FROM, and ALERT_EMAIL_TO
// (comma-separated).
type EmailNotifier struct{}

// Name returns the channel identifier.
func (n *EmailNotifier) Name() string { return "email" }

// Send mails the alert.
func (n *EmailNotifier) Send(ctx context.Context, a *Alert) error {
	addr := os.Getenv("SMTP_ADDR")
	from := os.Getenv("SMTP_FROM")
	to := os.Getenv("ALERT_EMAIL_TO")
	if addr == "" || from == "" || to == "" {
		return fmt.Errorf("email channel requires SMTP_ADDR, SMTP_FROM, and ALERT_EMAIL_TO")
	}

	recipients := strings.Split(to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [%s] %s\r\n\r\n%s\r\n\r\nType: %s\nIP: %s\nUser: %s\nTime: %s\r\n",
		from, to, a.Severity, a.Title, a.Description,
		a.Type, a.Context.IPAddress, a.Context.UserID, a.Timestamp.Format(time.RFC3339))

	if err := smtp.SendMail(addr, nil, from, recipients, []byte(msg)); err != nil {
		return fmt.Errorf("failed to send alert mail: %w", err)
	}
	return nil
}

// postJSON posts a JSON body and treats any non-2xx status as an error.
func postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := channelHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
