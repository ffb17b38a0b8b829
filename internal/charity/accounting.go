// File: internal/charity/accounting.go
package charity

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/chain"
	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// Accountant reconciles the charity-collection wallet against the sum
// of charity amounts recorded by the pipeline. Discrepancies beyond the
// configured tolerance are flagged, never corrected: the chain balance
// is ground truth and snapshot history is append-only.
type Accountant struct {
	source    chain.Source
	store     storage.Store
	wallet    common.Address
	tolerance *big.Int
	metrics   *metrics.Metrics
	logger    *logrus.Logger
}

// NewAccountant creates a charity accountant from configuration
func NewAccountant(source chain.Source, store storage.Store, cfg *config.CharityConfig, m *metrics.Metrics) (*Accountant, error) {
	if !utils.IsValidAddress(cfg.WalletAddress) {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Invalid charity wallet address", cfg.WalletAddress)
	}

	tolerance := big.NewInt(0)
	if cfg.ToleranceWei != "" {
		v, ok := new(big.Int).SetString(cfg.ToleranceWei, 10)
		if !ok || v.Sign() < 0 {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration,
				"Invalid charity tolerance", cfg.ToleranceWei)
		}
		tolerance = v
	}

	return &Accountant{
		source:    source,
		store:     store,
		wallet:    common.HexToAddress(cfg.WalletAddress),
		tolerance: tolerance,
		metrics:   m,
		logger:    utils.GetLogger(),
	}, nil
}

// GenerateSnapshot runs one reconciliation cycle and appends the result
// to the snapshot history
func (a *Accountant) GenerateSnapshot(ctx context.Context) (*models.CharitySnapshot, error) {
	previous, err := a.store.LatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	since := time.Time{}
	prevBalance := big.NewInt(0)
	if previous != nil {
		since = previous.GeneratedAt
		prevBalance = previous.ObservedBalanceWei
	}

	accumulated, err := a.accumulatedSince(ctx, since)
	if err != nil {
		return nil, err
	}

	balance, err := a.source.GetBalance(ctx, a.wallet)
	if err != nil {
		return nil, err
	}

	snapshot := &models.CharitySnapshot{
		ObservedBalanceWei: balance,
		ObservedDeltaWei:   new(big.Int).Sub(balance, prevBalance),
		AccumulatedWei:     accumulated,
		GeneratedAt:        time.Now().UTC(),
	}
	snapshot.Anomalous = snapshot.Discrepancy().Cmp(a.tolerance) > 0

	if err := a.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	a.metrics.SnapshotsGeneratedTotal.Inc()

	fields := logrus.Fields{
		"snapshot_id":      snapshot.ID,
		"observed_balance": snapshot.ObservedBalanceWei.String(),
		"observed_delta":   snapshot.ObservedDeltaWei.String(),
		"accumulated":      snapshot.AccumulatedWei.String(),
		"discrepancy":      snapshot.Discrepancy().String(),
	}
	if snapshot.Anomalous {
		a.metrics.SnapshotAnomaliesTotal.Inc()
		a.logger.WithFields(fields).Warn("Charity reconciliation anomaly")
	} else {
		a.logger.WithFields(fields).Info("Charity snapshot generated")
	}

	return snapshot, nil
}

// accumulatedSince sums the charity amounts of records created after
// the previous snapshot
func (a *Accountant) accumulatedSince(ctx context.Context, since time.Time) (*big.Int, error) {
	records, err := a.store.ListRecordsCreatedAfter(ctx, since)
	if err != nil {
		return nil, err
	}

	total := big.NewInt(0)
	for _, record := range records {
		if record.CharityAmountWei != nil {
			total.Add(total, record.CharityAmountWei)
		}
	}
	return total, nil
}

// Run generates snapshots on the configured cadence. A zero interval
// means the cadence is externally driven and this returns immediately.
func (a *Accountant) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.GenerateSnapshot(ctx); err != nil {
				a.logger.WithError(err).Error("Scheduled charity snapshot failed")
			}
		}
	}
}
