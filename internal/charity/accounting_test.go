package charity

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arawrdn/fof-fulfillment-service/internal/config"
	"github.com/arawrdn/fof-fulfillment-service/internal/metrics"
	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/internal/storage"
)

// balanceSource serves a settable wallet balance
type balanceSource struct {
	balance *big.Int
}

func (s *balanceSource) QueryHistorical(ctx context.Context, fromBlock, toBlock uint64) ([]*models.BurnEvent, error) {
	return nil, nil
}

func (s *balanceSource) Subscribe(ctx context.Context, fromBlock uint64) (<-chan *models.BurnEvent, <-chan error, error) {
	return nil, nil, nil
}

func (s *balanceSource) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return new(big.Int).Set(s.balance), nil
}

func (s *balanceSource) LatestBlock(ctx context.Context) (uint64, error) { return 0, nil }

func (s *balanceSource) Close() error { return nil }

func newTestAccountant(t *testing.T, source *balanceSource, tolerance string) (*Accountant, storage.Store) {
	t.Helper()

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "charity.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	accountant, err := NewAccountant(source, store, &config.CharityConfig{
		WalletAddress: "0x2222222222222222222222222222222222222222",
		ToleranceWei:  tolerance,
	}, metrics.New(prometheus.NewRegistry()))
	require.NoError(t, err)

	return accountant, store
}

func addRecord(t *testing.T, store storage.Store, txHash string, charityWei int64, createdAt time.Time) {
	t.Helper()

	record := &models.FulfillmentRecord{
		TxHash:           txHash,
		LogIndex:         0,
		BlockNumber:      1,
		User:             "0x1111111111111111111111111111111111111111",
		TokenID:          "1",
		Rarity:           "Uncommon",
		Merchandise:      []string{"T-Shirt"},
		UserRewardWei:    big.NewInt(0),
		CharityAmountWei: big.NewInt(charityWei),
		Status:           models.StatusPendingClaim,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
	require.NoError(t, store.ApplyBurn(context.Background(), record, nil))
}

func TestGenerateSnapshotBalanced(t *testing.T) {
	source := &balanceSource{balance: big.NewInt(1500)}
	accountant, store := newTestAccountant(t, source, "0")
	ctx := context.Background()

	now := time.Now().UTC()
	addRecord(t, store, "0xc1", 1000, now)
	addRecord(t, store, "0xc2", 500, now)

	snapshot, err := accountant.GenerateSnapshot(ctx)
	require.NoError(t, err)

	// First cycle: delta is the full balance, matching the recorded sum
	assert.Equal(t, 0, snapshot.ObservedBalanceWei.Cmp(big.NewInt(1500)))
	assert.Equal(t, 0, snapshot.ObservedDeltaWei.Cmp(big.NewInt(1500)))
	assert.Equal(t, 0, snapshot.AccumulatedWei.Cmp(big.NewInt(1500)))
	assert.Equal(t, 0, snapshot.Discrepancy().Sign())
	assert.False(t, snapshot.Anomalous)
}

func TestGenerateSnapshotAnomalous(t *testing.T) {
	source := &balanceSource{balance: big.NewInt(900)}
	accountant, store := newTestAccountant(t, source, "50")
	ctx := context.Background()

	addRecord(t, store, "0xc3", 1000, time.Now().UTC())

	snapshot, err := accountant.GenerateSnapshot(ctx)
	require.NoError(t, err)

	// 100 wei short against a 50 wei tolerance
	assert.Equal(t, 0, snapshot.Discrepancy().Cmp(big.NewInt(100)))
	assert.True(t, snapshot.Anomalous)

	// The anomaly is recorded, never corrected
	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Anomalous)
	assert.Equal(t, 0, latest.ObservedBalanceWei.Cmp(big.NewInt(900)))
}

func TestGenerateSnapshotWithinTolerance(t *testing.T) {
	source := &balanceSource{balance: big.NewInt(960)}
	accountant, store := newTestAccountant(t, source, "50")
	ctx := context.Background()

	addRecord(t, store, "0xc4", 1000, time.Now().UTC())

	snapshot, err := accountant.GenerateSnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, snapshot.Discrepancy().Cmp(big.NewInt(40)))
	assert.False(t, snapshot.Anomalous)
}

func TestGenerateSnapshotWindows(t *testing.T) {
	source := &balanceSource{balance: big.NewInt(1000)}
	accountant, store := newTestAccountant(t, source, "0")
	ctx := context.Background()

	addRecord(t, store, "0xc5", 1000, time.Now().UTC())

	first, err := accountant.GenerateSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, first.Anomalous)

	// Next cycle: new record, balance grows by the same amount
	source.balance = big.NewInt(1600)
	addRecord(t, store, "0xc6", 600, time.Now().UTC().Add(time.Millisecond))

	second, err := accountant.GenerateSnapshot(ctx)
	require.NoError(t, err)

	// Only the new window is compared
	assert.Equal(t, 0, second.ObservedDeltaWei.Cmp(big.NewInt(600)))
	assert.Equal(t, 0, second.AccumulatedWei.Cmp(big.NewInt(600)))
	assert.False(t, second.Anomalous)

	snapshots, err := store.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestNewAccountantRejectsBadConfig(t *testing.T) {
	source := &balanceSource{balance: big.NewInt(0)}
	m := metrics.New(prometheus.NewRegistry())

	_, err := NewAccountant(source, nil, &config.CharityConfig{
		WalletAddress: "not-an-address",
	}, m)
	assert.Error(t, err)

	_, err = NewAccountant(source, nil, &config.CharityConfig{
		WalletAddress: "0x2222222222222222222222222222222222222222",
		ToleranceWei:  "-5",
	}, m)
	assert.Error(t, err)
}
