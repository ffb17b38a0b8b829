// File: internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/chain"
	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/merch"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// Waker is poked after a notification intent is persisted so delivery
// starts without waiting for the next dispatch tick
type Waker interface {
	Wake()
}

// Outcome describes what processing one event did
type Outcome struct {
	Record    *models.FulfillmentRecord
	Duplicate bool
}

// Pipeline applies burn events exactly once: resolve merchandise, write
// the fulfillment record, mark the event processed and advance the
// watermark in a single transaction.
type Pipeline struct {
	source   chain.Source
	store    storage.Store
	config   *config.PipelineConfig
	notifCfg *config.NotificationConfig
	metrics  *metrics.Metrics
	waker    Waker
	logger   *logrus.Logger

	mu            sync.Mutex
	gaugeHighMark uint64
}

// New creates an event processing pipeline. waker may be nil when no
// dispatcher runs (replay-only invocations).
func New(source chain.Source, store storage.Store, cfg *config.PipelineConfig, notifCfg *config.NotificationConfig, m *metrics.Metrics, waker Waker) *Pipeline {
	return &Pipeline{
		source:   source,
		store:    store,
		config:   cfg,
		notifCfg: notifCfg,
		metrics:  m,
		waker:    waker,
		logger:   utils.GetLogger(),
	}
}

// ProcessEvent applies one burn event. Redelivered identities return a
// duplicate outcome with the existing record and change nothing.
func (p *Pipeline) ProcessEvent(ctx context.Context, event *models.BurnEvent) (*Outcome, error) {
	start := time.Now()
	defer p.metrics.ObserveProcessing(start)

	key := event.Key()

	processed, err := p.store.HasProcessed(ctx, key.TxHash, key.LogIndex)
	if err != nil {
		return nil, err
	}
	if processed {
		return p.duplicateOutcome(ctx, key)
	}

	record, intent, err := p.buildRecord(event)
	if err != nil {
		return nil, err
	}

	if err := p.store.ApplyBurn(ctx, record, intent); err != nil {
		// Lost a race against a concurrent apply of the same identity
		if utils.HasCode(err, utils.ErrCodeDuplicateKey) {
			return p.duplicateOutcome(ctx, key)
		}
		return nil, err
	}

	p.advanceGauge(record.BlockNumber)

	rarityLabel := record.Rarity
	if record.NeedsReview {
		rarityLabel = "unknown"
		p.metrics.DataQualityFlagsTotal.Inc()
		p.logger.WithFields(logrus.Fields{
			"tx_hash":   record.TxHash,
			"log_index": record.LogIndex,
			"rarity":    record.Rarity,
		}).Warn("Unknown rarity, record flagged for review")
	}
	p.metrics.BurnsProcessedTotal.WithLabelValues(rarityLabel, string(record.Status)).Inc()

	p.logger.WithFields(logrus.Fields{
		"tx_hash":     record.TxHash,
		"log_index":   record.LogIndex,
		"block":       record.BlockNumber,
		"user":        record.User,
		"rarity":      record.Rarity,
		"merchandise": record.Merchandise,
	}).Info("Burn event applied")

	if intent != nil && p.waker != nil {
		p.waker.Wake()
	}

	return &Outcome{Record: record}, nil
}

func (p *Pipeline) duplicateOutcome(ctx context.Context, key models.EventKey) (*Outcome, error) {
	p.metrics.DuplicatesSkippedTotal.Inc()
	p.logger.WithFields(logrus.Fields{
		"tx_hash":   key.TxHash,
		"log_index": key.LogIndex,
	}).Debug("Skipping already processed event")

	record, err := p.store.GetRecord(ctx, key.TxHash, key.LogIndex)
	if err != nil {
		return nil, err
	}
	return &Outcome{Record: record, Duplicate: true}, nil
}

// buildRecord maps a burn event to its fulfillment record and, when
// notifications are enabled, the claim intent persisted alongside it
func (p *Pipeline) buildRecord(event *models.BurnEvent) (*models.FulfillmentRecord, *models.ClaimNotification, error) {
	items := merch.Resolve(event.Rarity)
	needsReview := !merch.IsKnownRarity(event.Rarity)

	now := time.Now().UTC()
	record := &models.FulfillmentRecord{
		TxHash:           utils.NormalizeHash(event.TxHash.Hex()),
		LogIndex:         event.LogIndex,
		BlockNumber:      event.BlockNumber,
		User:             utils.NormalizeAddress(event.User.Hex()),
		TokenID:          tokenIDString(event.TokenID),
		Rarity:           event.Rarity,
		Merchandise:      items,
		UserRewardWei:    orZero(event.UserRewardWei),
		CharityAmountWei: orZero(event.CharityAmountWei),
		Status:           models.StatusPendingClaim,
		NeedsReview:      needsReview,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if p.notifCfg == nil || !p.notifCfg.Enabled {
		return record, nil, nil
	}

	id, err := utils.GenerateID()
	if err != nil {
		return nil, nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to generate notification ID", err.Error())
	}

	intent := &models.ClaimNotification{
		ID:          id,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		User:        record.User,
		Rarity:      record.Rarity,
		Merchandise: record.Merchandise,
		ClaimURL:    p.notifCfg.ClaimURL,
		Status:      models.NotificationPending,
		CreatedAt:   now,
	}

	return record, intent, nil
}

// Run replays the window behind the watermark, then follows the live
// feed. Returns when ctx is cancelled or on a fatal error.
func (p *Pipeline) Run(ctx context.Context) error {
	watermark, err := p.store.CurrentWatermark(ctx)
	if err != nil {
		return err
	}
	p.advanceGauge(watermark)

	from := p.replayStart(watermark)

	head, err := p.source.LatestBlock(ctx)
	if err != nil {
		return err
	}
	confirmed := head
	if c := uint64(p.config.ConfirmationBlocks); head >= c {
		confirmed = head - c
	} else {
		confirmed = 0
	}

	if confirmed >= from {
		p.logger.WithFields(logrus.Fields{
			"from":      from,
			"to":        confirmed,
			"watermark": watermark,
		}).Info("Replaying confirmed window")

		if _, err := p.replayRange(ctx, from, confirmed); err != nil {
			return err
		}
	}

	events, errs, err := p.source.Subscribe(ctx, confirmed+1)
	if err != nil {
		return err
	}

	p.logger.WithField("from", confirmed+1).Info("Following live events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				return ctx.Err()
			}
			// Source errors are transient; the poll loop keeps going
			p.metrics.PipelineErrorsTotal.WithLabelValues("source").Inc()
			p.logger.WithError(err).Warn("Event source error")
		case event, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := p.applyWithRetry(ctx, event); err != nil {
				return err
			}
		}
	}
}

// Replay reprocesses history from a block chosen by the operator. The
// idempotency store turns already applied events into no-ops, so this
// is safe to run at any time. The watermark never moves backwards.
func (p *Pipeline) Replay(ctx context.Context, fromBlock uint64) (int, error) {
	head, err := p.source.LatestBlock(ctx)
	if err != nil {
		return 0, err
	}

	confirmed := head
	if c := uint64(p.config.ConfirmationBlocks); head >= c {
		confirmed = head - c
	} else {
		confirmed = 0
	}

	if fromBlock > confirmed {
		return 0, nil
	}
	return p.replayRange(ctx, fromBlock, confirmed)
}

// replayRange applies all events in [from, to], counting fresh applies
func (p *Pipeline) replayRange(ctx context.Context, from, to uint64) (int, error) {
	events, err := p.source.QueryHistorical(ctx, from, to)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		outcome, err := p.processWithRetry(ctx, event)
		if err != nil {
			return applied, err
		}
		if !outcome.Duplicate {
			applied++
		}
	}

	// The whole window is processed even if it held no events
	if err := p.ensureWatermark(ctx, to); err != nil {
		return applied, err
	}

	return applied, nil
}

func (p *Pipeline) applyWithRetry(ctx context.Context, event *models.BurnEvent) error {
	outcome, err := p.processWithRetry(ctx, event)
	if err != nil {
		return err
	}
	if !outcome.Duplicate {
		if err := p.ensureWatermark(ctx, event.BlockNumber); err != nil {
			return err
		}
	}
	return nil
}

// processWithRetry retries transient failures; a watermark regression
// is fatal and surfaces immediately
func (p *Pipeline) processWithRetry(ctx context.Context, event *models.BurnEvent) (*Outcome, error) {
	var lastErr error

	attempts := p.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		outcome, err := p.ProcessEvent(ctx, event)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if utils.HasCode(err, utils.ErrCodeWatermark) || utils.HasCode(err, utils.ErrCodeValidation) {
			return nil, err
		}

		p.metrics.PipelineErrorsTotal.WithLabelValues("apply").Inc()
		p.logger.WithError(err).WithFields(logrus.Fields{
			"tx_hash":   event.TxHash.Hex(),
			"log_index": event.LogIndex,
			"attempt":   attempt,
		}).Warn("Event application failed")

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}
	}

	return nil, lastErr
}

// ensureWatermark advances the watermark to block if it is behind.
// Regression errors are fatal and must stop the pipeline.
func (p *Pipeline) ensureWatermark(ctx context.Context, block uint64) error {
	current, err := p.store.CurrentWatermark(ctx)
	if err != nil {
		return err
	}
	if current >= block {
		return nil
	}
	if err := p.store.AdvanceWatermark(ctx, block); err != nil {
		return err
	}
	p.advanceGauge(block)
	return nil
}

// replayStart picks where to resume after a restart: the configured
// reorg margin behind the watermark, clamped at the configured start
func (p *Pipeline) replayStart(watermark uint64) uint64 {
	if watermark == 0 {
		return p.config.StartBlock
	}

	from := uint64(0)
	if watermark > p.config.ReorgMargin {
		from = watermark - p.config.ReorgMargin
	}
	if from < p.config.StartBlock {
		from = p.config.StartBlock
	}
	return from
}

// advanceGauge keeps the watermark gauge monotonic even while replaying
// old blocks
func (p *Pipeline) advanceGauge(block uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if block > p.gaugeHighMark {
		p.gaugeHighMark = block
		p.metrics.WatermarkBlock.Set(float64(block))
	}
}

func tokenIDString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
