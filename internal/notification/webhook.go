// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// WebhookNotifier posts claim notifications to a configured endpoint
type WebhookNotifier struct {
	config     *config.NotificationConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

// webhookPayload is the body posted for a claim-ready notification
type webhookPayload struct {
	Type        string    `json:"type"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	User        string    `json:"user"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint      `json:"log_index"`
	Rarity      string    `json:"rarity"`
	Merchandise []string  `json:"merchandise"`
	ClaimURL    string    `json:"claim_url"`
}

// NewWebhookNotifier creates a webhook-channel notifier
func NewWebhookNotifier(cfg *config.NotificationConfig) *WebhookNotifier {
	return &WebhookNotifier{
		config: cfg,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Channel returns the channel name
func (n *WebhookNotifier) Channel() string {
	return "webhook"
}

// Send posts the notification, retrying with exponential backoff
func (n *WebhookNotifier) Send(ctx context.Context, intent *models.ClaimNotification) error {
	payload := &webhookPayload{
		Type:        "claim_ready",
		Source:      "fof-fulfillment-service",
		Timestamp:   time.Now().UTC(),
		User:        intent.User,
		TxHash:      intent.TxHash,
		LogIndex:    intent.LogIndex,
		Rarity:      intent.Rarity,
		Merchandise: intent.Merchandise,
		ClaimURL:    intent.ClaimURL,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal webhook payload", err.Error())
	}

	var lastErr error
	delay := n.config.RetryDelay
	maxDelay := 30 * time.Second

	for attempt := 1; attempt <= n.config.RetryAttempts; attempt++ {
		lastErr = n.post(ctx, body)
		if lastErr == nil {
			n.logger.WithFields(logrus.Fields{
				"notification_id": intent.ID,
				"url":             n.config.WebhookURL,
				"attempt":         attempt,
			}).Debug("Webhook delivered")
			return nil
		}

		n.logger.WithError(lastErr).WithFields(logrus.Fields{
			"notification_id": intent.ID,
			"attempt":         attempt,
		}).Warn("Webhook delivery failed")

		if attempt < n.config.RetryAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}

	return utils.NewAppError(utils.ErrCodeExternal, "Webhook delivery exhausted retries", lastErr.Error())
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "fof-fulfillment-service")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
