package storage

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	store := openTestStore(t, filepath.Join(t.TempDir(), "test.db"))
	t.Cleanup(func() { store.Close() })
	return store
}

func openTestStore(t *testing.T, path string) Store {
	t.Helper()

	store, err := NewStorage(&StorageConfig{
		Type:             "sqlite",
		ConnectionString: path,
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, err)
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	return store
}

func testRecord(txHash string, logIndex uint, block uint64, rarity string, items []string) *models.FulfillmentRecord {
	now := time.Now().UTC()
	return &models.FulfillmentRecord{
		TxHash:           txHash,
		LogIndex:         logIndex,
		BlockNumber:      block,
		User:             "0x1111111111111111111111111111111111111111",
		TokenID:          "42",
		Rarity:           rarity,
		Merchandise:      items,
		UserRewardWei:    big.NewInt(1000),
		CharityAmountWei: big.NewInt(500),
		Status:           models.StatusPendingClaim,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func testIntent(record *models.FulfillmentRecord) *models.ClaimNotification {
	id, _ := utils.GenerateID()
	return &models.ClaimNotification{
		ID:          id,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		User:        record.User,
		Rarity:      record.Rarity,
		Merchandise: record.Merchandise,
		ClaimURL:    "https://example.com/claim",
		Status:      models.NotificationPending,
		CreatedAt:   record.CreatedAt,
	}
}

func TestApplyBurnIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("0xaaa1", 0, 100, "Elite", []string{"T-Shirt", "Hat"})
	require.NoError(t, store.ApplyBurn(ctx, record, testIntent(record)))

	processed, err := store.HasProcessed(ctx, record.TxHash, record.LogIndex)
	require.NoError(t, err)
	assert.True(t, processed)

	// Redelivery of the same identity must be rejected atomically
	again := testRecord("0xaaa1", 0, 100, "Elite", []string{"T-Shirt", "Hat"})
	err = store.ApplyBurn(ctx, again, testIntent(again))
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeDuplicateKey))

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Exactly one notification intent survives
	intents, err := store.PendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestApplyBurnDistinctLogIndexes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Two burns in the same transaction are distinct events
	first := testRecord("0xbbb2", 0, 50, "Uncommon", []string{"T-Shirt"})
	second := testRecord("0xbbb2", 1, 50, "Epic", []string{"T-Shirt", "Backpack"})

	require.NoError(t, store.ApplyBurn(ctx, first, nil))
	require.NoError(t, store.ApplyBurn(ctx, second, nil))

	count, err := store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestApplyBurnAdvancesWatermark(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("0xccc3", 0, 120, "Legend", []string{"T-Shirt", "Hat", "Backpack"})
	require.NoError(t, store.ApplyBurn(ctx, record, nil))

	watermark, err := store.CurrentWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), watermark)

	// Replaying an older block never moves the watermark backwards
	older := testRecord("0xccc4", 0, 110, "Uncommon", []string{"T-Shirt"})
	require.NoError(t, store.ApplyBurn(ctx, older, nil))

	watermark, err = store.CurrentWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(120), watermark)

	newer := testRecord("0xccc5", 0, 130, "Uncommon", []string{"T-Shirt"})
	require.NoError(t, store.ApplyBurn(ctx, newer, nil))

	watermark, err = store.CurrentWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(130), watermark)
}

func TestUnknownRarityRecordRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("0xddd6", 0, 10, "Mythic", []string{})
	record.NeedsReview = true
	require.NoError(t, store.ApplyBurn(ctx, record, nil))

	loaded, err := store.GetRecord(ctx, record.TxHash, record.LogIndex)
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "Mythic", loaded.Rarity)
	assert.Equal(t, []string{}, loaded.Merchandise)
	assert.True(t, loaded.NeedsReview)
	assert.Equal(t, models.StatusPendingClaim, loaded.Status)
	assert.Equal(t, 0, loaded.UserRewardWei.Cmp(big.NewInt(1000)))
	assert.Equal(t, 0, loaded.CharityAmountWei.Cmp(big.NewInt(500)))
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)

	record, err := store.GetRecord(context.Background(), "0xnope", 0)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestTransitionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("0xeee7", 0, 10, "Elite", []string{"T-Shirt", "Hat"})
	require.NoError(t, store.ApplyBurn(ctx, record, nil))

	require.NoError(t, store.TransitionRecord(ctx, record.TxHash, record.LogIndex, models.StatusClaimed))
	require.NoError(t, store.TransitionRecord(ctx, record.TxHash, record.LogIndex, models.StatusShipped))

	loaded, err := store.GetRecord(ctx, record.TxHash, record.LogIndex)
	require.NoError(t, err)
	assert.Equal(t, models.StatusShipped, loaded.Status)

	// SHIPPED is terminal
	err = store.TransitionRecord(ctx, record.TxHash, record.LogIndex, models.StatusCancelled)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeInvalidTransition))

	// Skipping CLAIMED is not allowed
	other := testRecord("0xeee8", 0, 11, "Uncommon", []string{"T-Shirt"})
	require.NoError(t, store.ApplyBurn(ctx, other, nil))
	err = store.TransitionRecord(ctx, other.TxHash, other.LogIndex, models.StatusShipped)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeInvalidTransition))
}

func TestTransitionUnknownRecord(t *testing.T) {
	store := newTestStore(t)

	err := store.TransitionRecord(context.Background(), "0xmissing", 0, models.StatusClaimed)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestTransitionUnknownStatus(t *testing.T) {
	store := newTestStore(t)

	err := store.TransitionRecord(context.Background(), "0xany", 0, models.ClaimStatus("DELIVERED"))
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeValidation))
}

func TestWatermarkMonotonicAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "restart.db")

	store := openTestStore(t, path)
	require.NoError(t, store.AdvanceWatermark(ctx, 100))
	require.NoError(t, store.Close())

	// Reopen simulates a process restart
	store = openTestStore(t, path)
	defer store.Close()

	watermark, err := store.CurrentWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), watermark)

	err = store.AdvanceWatermark(ctx, 90)
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeWatermark))

	// Equal is a no-op, not a regression
	require.NoError(t, store.AdvanceWatermark(ctx, 100))
	require.NoError(t, store.AdvanceWatermark(ctx, 105))

	watermark, err = store.CurrentWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(105), watermark)
}

func TestSnapshotHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := &models.CharitySnapshot{
		ObservedBalanceWei: big.NewInt(1000),
		ObservedDeltaWei:   big.NewInt(1000),
		AccumulatedWei:     big.NewInt(1000),
		GeneratedAt:        time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.SaveSnapshot(ctx, first))
	assert.NotZero(t, first.ID)

	second := &models.CharitySnapshot{
		ObservedBalanceWei: big.NewInt(1500),
		ObservedDeltaWei:   big.NewInt(500),
		AccumulatedWei:     big.NewInt(700),
		Anomalous:          true,
		GeneratedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.SaveSnapshot(ctx, second))

	latest, err = store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.True(t, latest.Anomalous)
	assert.Equal(t, 0, latest.ObservedBalanceWei.Cmp(big.NewInt(1500)))

	snapshots, err := store.ListSnapshots(ctx, 1)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, second.ID, snapshots[0].ID)

	snapshots, err = store.ListSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestNotificationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("0xfff9", 0, 10, "Elite", []string{"T-Shirt", "Hat"})
	intent := testIntent(record)
	require.NoError(t, store.ApplyBurn(ctx, record, intent))

	pending, err := store.PendingNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, intent.ID, pending[0].ID)
	assert.Equal(t, []string{"T-Shirt", "Hat"}, pending[0].Merchandise)

	// A retryable failure stays pending with the error recorded
	require.NoError(t, store.MarkNotificationFailed(ctx, intent.ID, "connection refused", false))
	pending, err = store.PendingNotifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "connection refused", *pending[0].LastError)

	require.NoError(t, store.MarkNotificationSent(ctx, intent.ID))
	pending, err = store.PendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNotificationTerminalFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := testRecord("0xfffa", 0, 10, "Uncommon", []string{"T-Shirt"})
	intent := testIntent(record)
	require.NoError(t, store.ApplyBurn(ctx, record, intent))

	require.NoError(t, store.MarkNotificationFailed(ctx, intent.ID, "410 gone", true))

	pending, err := store.PendingNotifications(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarkNotificationSentUnknown(t *testing.T) {
	store := newTestStore(t)

	err := store.MarkNotificationSent(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, utils.HasCode(err, utils.ErrCodeNotFound))
}

func TestListRecordsByStatusAndCreatedAfter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cutoff := time.Now().UTC().Add(-time.Minute)

	old := testRecord("0xold1", 0, 5, "Uncommon", []string{"T-Shirt"})
	old.CreatedAt = cutoff.Add(-time.Hour)
	old.UpdatedAt = old.CreatedAt
	require.NoError(t, store.ApplyBurn(ctx, old, nil))

	fresh := testRecord("0xnew1", 0, 6, "Elite", []string{"T-Shirt", "Hat"})
	require.NoError(t, store.ApplyBurn(ctx, fresh, nil))

	pendingRecords, err := store.ListRecordsByStatus(ctx, models.StatusPendingClaim)
	require.NoError(t, err)
	assert.Len(t, pendingRecords, 2)

	require.NoError(t, store.TransitionRecord(ctx, fresh.TxHash, fresh.LogIndex, models.StatusClaimed))

	claimed, err := store.ListRecordsByStatus(ctx, models.StatusClaimed)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, fresh.TxHash, claimed[0].TxHash)

	recent, err := store.ListRecordsCreatedAfter(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, fresh.TxHash, recent[0].TxHash)
}
