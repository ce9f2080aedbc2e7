package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/api-monitor/api-monitor/internal/safego"
	"github.com/api-monitor/api-monitor/internal/telemetry"
)

// DefaultWebhookTimeout bounds one webhook delivery attempt
const DefaultWebhookTimeout = 3 * time.Second

// MailSender delivers a plain-text email
type MailSender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Notifier alerts administrators about critical errors over email and a chat webhook.
//
// NotifyCritical never blocks and never reports back. Each channel runs in its own
// goroutine, a failure in one does not affect the other, and nothing is retried.
// Deliveries still in flight at shutdown are lost.
type Notifier struct {
	mail       MailSender
	recipients []string
	webhookURL string
	client     *http.Client
}

// NewNotifier creates a Notifier. A nil mail sender or empty recipient list disables
// email; an empty webhookURL disables the webhook. timeout <= 0 uses DefaultWebhookTimeout.
func NewNotifier(mail MailSender, recipients []string, webhookURL string, timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &Notifier{
		mail:       mail,
		recipients: recipients,
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// NotifyCritical starts delivery of subject and text on every configured channel
// and returns immediately.
func (n *Notifier) NotifyCritical(subject, text string) {
	if n.mail != nil && len(n.recipients) > 0 {
		safego.Go("notify-email", func() { n.sendEmail(subject, text) })
	} else {
		telemetry.CriticalNotificationsTotal.WithLabelValues(telemetry.ChannelEmail, telemetry.ResultSkipped).Inc()
	}

	if n.webhookURL != "" {
		safego.Go("notify-webhook", func() { n.postWebhook(subject, text) })
	} else {
		telemetry.CriticalNotificationsTotal.WithLabelValues(telemetry.ChannelWebhook, telemetry.ResultSkipped).Inc()
	}
}

func (n *Notifier) sendEmail(subject, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := n.mail.Send(ctx, n.recipients, subject, text); err != nil {
		telemetry.CriticalNotificationsTotal.WithLabelValues(telemetry.ChannelEmail, telemetry.ResultFailed).Inc()
		slog.Warn("critical notification email failed", "subject", subject, "error", err)
		return
	}
	telemetry.CriticalNotificationsTotal.WithLabelValues(telemetry.ChannelEmail, telemetry.ResultSent).Inc()
}

type webhookPayload struct {
	Text string `json:"text"`
}

func (n *Notifier) postWebhook(subject, text string) {
	if err := n.doPost(subject, text); err != nil {
		telemetry.CriticalNotificationsTotal.WithLabelValues(telemetry.ChannelWebhook, telemetry.ResultFailed).Inc()
		slog.Warn("critical notification webhook failed", "subject", subject, "error", err)
		return
	}
	telemetry.CriticalNotificationsTotal.WithLabelValues(telemetry.ChannelWebhook, telemetry.ResultSent).Inc()
}

func (n *Notifier) doPost(subject, text string) error {
	body, err := json.Marshal(webhookPayload{Text: fmt.Sprintf("*%s*\n%s", subject, text)})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
