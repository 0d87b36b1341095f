// Package notification delivers incident escalations to humans over a
// configured webhook. Delivery is best-effort; the incident row in the
// store remains the durable trace either way.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// Dispatcher posts incident escalations to a webhook.
// Includes SSRF protection: blocks requests to private IP ranges.
type Dispatcher struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDispatcher creates a Dispatcher from the notification config.
// Returns nil when cfg is nil or carries no webhook URL; callers treat a
// nil dispatcher as escalation disabled.
func NewDispatcher(cfg *config.NotificationConfig, logger *slog.Logger) *Dispatcher {
	if cfg == nil || cfg.WebhookURL == "" {
		return nil
	}
	return &Dispatcher{
		url: cfg.WebhookURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout(),
			// Do not follow redirects. Prevents SSRF via redirect to internal hosts.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// Escalate posts one incident to the webhook.
func (d *Dispatcher) Escalate(ctx context.Context, inc *domain.Incident) error {
	if err := validateWebhookURL(d.url); err != nil {
		return fmt.Errorf("webhook URL rejected: %w", err)
	}

	payload := map[string]any{
		"incident_id": inc.ID.String(),
		"tenant_id":   inc.TenantID.String(),
		"severity":    inc.Severity,
		"source":      inc.Source,
		"summary":     inc.Summary,
		"detail":      json.RawMessage(inc.Detail),
		"created_at":  inc.CreatedAt,
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Steward-Webhook/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	d.logger.InfoContext(ctx, "incident escalated",
		slog.String("incident_id", inc.ID.String()),
		slog.String("severity", inc.Severity),
	)
	return nil
}

// validateWebhookURL checks that the URL points to a public host.
// Blocks private IPs, loopback, link-local, and non-HTTP schemes.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}

	hostname := u.Hostname()

	// Block obvious loopback names.
	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "127.0.0.1" || lower == "::1" || lower == "0.0.0.0" {
		return fmt.Errorf("loopback addresses not allowed")
	}

	// Resolve and check IP ranges.
	ips, err := net.LookupHost(hostname)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for %q: %w", hostname, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP %s not allowed", ipStr)
		}
	}
	return nil
}
