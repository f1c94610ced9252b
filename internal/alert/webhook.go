package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"autotrader/internal/domain"
)

// Embed colours by severity.
const (
	colorCritical = 0xE74C3C
	colorWarning  = 0xF1C40F
)

// Webhook posts alerts as Discord-style embeds to a webhook URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook notifier for url.
func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: 10 * time.Second}}
}

// Send posts a to the webhook.
func (w *Webhook) Send(ctx context.Context, a domain.Alert) error {
	color := colorWarning
	switch a.Kind {
	case KindRiskBreach, KindEmergencyStop, KindEmergencyCloseFailed:
		color = colorCritical
	}

	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       strings.ToUpper(strings.ReplaceAll(a.Kind, "_", " ")),
				"description": describe(a.Payload),
				"color":       color,
				"footer":      map[string]string{"text": "autotrader"},
				"timestamp":   a.CreatedAt.Format(time.RFC3339),
			},
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}
	return nil
}

// describe renders the payload as sorted key: value lines.
func describe(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %v\n", k, payload[k])
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
