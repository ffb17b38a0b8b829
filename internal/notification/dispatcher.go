// File: internal/notification/dispatcher.go
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

const dispatchBatchSize = 100

// maxDeliveryAttempts bounds how often a single intent is retried across
// dispatch cycles before it is parked as failed
const maxDeliveryAttempts = 5

// Dispatcher drains persisted claim-notification intents and delivers
// them over the configured channel. It runs beside the pipeline so a
// slow or failing endpoint never blocks event processing.
type Dispatcher struct {
	store    storage.Store
	notifier Notifier
	config   *config.NotificationConfig
	metrics  *metrics.Metrics
	logger   *logrus.Logger

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher creates a notification dispatcher
func NewDispatcher(store storage.Store, notifier Notifier, cfg *config.NotificationConfig, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		config:   cfg,
		metrics:  m,
		logger:   utils.GetLogger(),
		wake:     make(chan struct{}, 1),
	}
}

// Start runs the dispatch loop until ctx is cancelled
func (d *Dispatcher) Start(ctx context.Context) {
	if !d.config.Enabled {
		d.logger.Info("Notification dispatch disabled")
		return
	}

	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.WithField("channel", d.notifier.Channel()).Info("Notification dispatcher started")
}

// Wait blocks until the dispatch loop has exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Wake nudges the dispatcher to drain immediately. Non-blocking; a
// pending wake-up is enough.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := newDispatchTicker(d.config.DispatchEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-d.wake:
		}

		if err := d.drain(ctx); err != nil {
			d.logger.WithError(err).Error("Notification drain failed")
		}
	}
}

// drain delivers all currently pending intents
func (d *Dispatcher) drain(ctx context.Context) error {
	for {
		intents, err := d.store.PendingNotifications(ctx, dispatchBatchSize)
		if err != nil {
			return err
		}
		if len(intents) == 0 {
			return nil
		}

		for _, intent := range intents {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.deliver(ctx, intent)
		}

		if len(intents) < dispatchBatchSize {
			return nil
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, intent *models.ClaimNotification) {
	err := d.notifier.Send(ctx, intent)
	if err == nil {
		if markErr := d.store.MarkNotificationSent(ctx, intent.ID); markErr != nil {
			d.logger.WithError(markErr).WithField("notification_id", intent.ID).
				Error("Failed to mark notification sent")
		}
		d.metrics.NotificationsSentTotal.WithLabelValues(d.notifier.Channel(), "sent").Inc()
		return
	}

	terminal := intent.Attempts+1 >= maxDeliveryAttempts
	if markErr := d.store.MarkNotificationFailed(ctx, intent.ID, err.Error(), terminal); markErr != nil {
		d.logger.WithError(markErr).WithField("notification_id", intent.ID).
			Error("Failed to record notification failure")
	}

	outcome := "retry"
	if terminal {
		outcome = "failed"
		d.logger.WithError(err).WithFields(logrus.Fields{
			"notification_id": intent.ID,
			"attempts":        intent.Attempts + 1,
		}).Error("Notification permanently failed")
	}
	d.metrics.NotificationsSentTotal.WithLabelValues(d.notifier.Channel(), outcome).Inc()
}

func newDispatchTicker(every time.Duration) *time.Ticker {
	if every <= 0 {
		every = 30 * time.Second
	}
	return time.NewTicker(every)
}

// NewNotifier selects the channel implementation from configuration
func NewNotifier(cfg *config.NotificationConfig) (Notifier, error) {
	switch cfg.Channel {
	case "log", "":
		return NewLogNotifier(), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration,
				"Webhook channel requires a webhook URL", "")
		}
		return NewWebhookNotifier(cfg), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported notification channel", cfg.Channel)
	}
}
