package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kjstillabower/aqi-watch/internal/models"
	"github.com/kjstillabower/aqi-watch/internal/observability"
)

// Notifier forwards accepted reports to an external system.
type Notifier interface {
	Notify(ctx context.Context, r models.Report) error
}

// WebhookNotifier POSTs reports as JSON to a fixed URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Location  string `json:"location"`
	Complaint string `json:"complaint"`
	Timestamp string `json:"timestamp"`
}

// NewWebhookNotifier returns a notifier posting to url with the given timeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: timeout}}
}

// Notify posts r. Any non-2xx status is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, r models.Report) error {
	body, err := json.Marshal(webhookPayload{
		Name:      r.Name,
		Email:     r.Email,
		Location:  r.Location,
		Complaint: r.Complaint,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := w.client.Do(req)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("webhook", "error").Inc()
		observability.UpstreamDuration.WithLabelValues("webhook", "error").Observe(duration)
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	status := "success"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "error"
	}
	observability.UpstreamCallsTotal.WithLabelValues("webhook", status).Inc()
	observability.UpstreamDuration.WithLabelValues("webhook", status).Observe(duration)
	if status != "success" {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
