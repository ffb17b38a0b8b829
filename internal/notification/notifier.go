// File: internal/notification/notifier.go
package notification

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// Notifier delivers a claim notification over one channel. Delivery is
// best effort; failures are recorded against the intent, never against
// the fulfillment record.
type Notifier interface {
	Send(ctx context.Context, intent *models.ClaimNotification) error
	Channel() string
}

// LogNotifier writes claim notifications to the application log. Used
// in development and as the fallback channel.
type LogNotifier struct {
	logger *logrus.Logger
}

// NewLogNotifier creates a log-channel notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: utils.GetLogger()}
}

// Channel returns the channel name
func (n *LogNotifier) Channel() string {
	return "log"
}

// Send logs the claim notification
func (n *LogNotifier) Send(ctx context.Context, intent *models.ClaimNotification) error {
	n.logger.WithFields(logrus.Fields{
		"notification_id": intent.ID,
		"user":            intent.User,
		"tx_hash":         intent.TxHash,
		"log_index":       intent.LogIndex,
		"rarity":          intent.Rarity,
		"merchandise":     intent.Merchandise,
		"claim_url":       intent.ClaimURL,
	}).Info("Claim ready")
	return nil
}
