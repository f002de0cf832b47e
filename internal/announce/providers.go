package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider delivers a rendered announcement to a display or speaker.
type Provider interface {
	Send(ctx context.Context, a Announcement, message string) error
}

type ProviderConfig struct {
	Kind         string
	WebhookURL   string
	WebhookToken string
	Timeout      time.Duration
}

// NewProvider picks a provider by kind. An http(s) URL as kind is a webhook
// target; unknown kinds and a webhook without a URL fall back to logging.
func NewProvider(cfg ProviderConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch cfg.Kind {
	case "", "log":
		return logProvider{log: logger}
	case "noop":
		return noopProvider{}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{log: logger}
		}
		return newWebhookProvider(cfg.WebhookURL, cfg.WebhookToken, timeout)
	default:
		if strings.HasPrefix(cfg.Kind, "http://") || strings.HasPrefix(cfg.Kind, "https://") {
			return newWebhookProvider(cfg.Kind, cfg.WebhookToken, timeout)
		}
		return logProvider{log: logger}
	}
}

type logProvider struct {
	log *slog.Logger
}

func (p logProvider) Send(ctx context.Context, a Announcement, message string) error {
	p.log.InfoContext(ctx, "announce",
		"kind", a.Kind,
		"service", a.ServiceCode,
		"display_no", a.DisplayNo,
		"message", message,
	)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(ctx context.Context, a Announcement, message string) error {
	return nil
}

type webhookProvider struct {
	url    string
	token  string
	client *http.Client
}

func newWebhookProvider(url, token string, timeout time.Duration) webhookProvider {
	return webhookProvider{url: url, token: token, client: &http.Client{Timeout: timeout}}
}

func (p webhookProvider) Send(ctx context.Context, a Announcement, message string) error {
	payload := map[string]any{
		"kind":        a.Kind,
		"serviceId":   a.ServiceID,
		"serviceCode": a.ServiceCode,
		"serviceName": a.ServiceName,
		"displayNo":   a.DisplayNo,
		"message":     message,
	}
	// Guests have no name on record.
	if a.Name != "" {
		payload["name"] = a.Name
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("announce webhook: %w (status %d)", errRejected, resp.StatusCode)
	}
	return nil
}

var errRejected = errors.New("provider rejected request")
