// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/arawrdn/fof-fulfillment-service/internal/models"
)

// Store defines the durable state of the fulfillment service: the fulfillment
// ledger, the idempotency marker set, the processing watermark, the charity
// snapshot history, and persisted claim-notification intents.
type Store interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Idempotency markers
	HasProcessed(ctx context.Context, txHash string, logIndex uint) (bool, error)

	// ApplyBurn commits the full side effect of one burn as a single
	// transaction: the fulfillment record, the idempotency marker, the
	// watermark advance (only when the event's block is a new frontier) and
	// the claim-notification intent. A duplicate event identity fails with
	// ErrCodeDuplicateKey and leaves no partial state.
	ApplyBurn(ctx context.Context, record *models.FulfillmentRecord, intent *models.ClaimNotification) error

	// Fulfillment ledger
	CreateRecord(ctx context.Context, record *models.FulfillmentRecord) error
	GetRecord(ctx context.Context, txHash string, logIndex uint) (*models.FulfillmentRecord, error)
	ListRecordsByStatus(ctx context.Context, status models.ClaimStatus) ([]*models.FulfillmentRecord, error)
	ListRecordsCreatedAfter(ctx context.Context, since time.Time) ([]*models.FulfillmentRecord, error)
	CountRecords(ctx context.Context) (int64, error)
	TransitionRecord(ctx context.Context, txHash string, logIndex uint, newStatus models.ClaimStatus) error

	// Processing watermark
	CurrentWatermark(ctx context.Context) (uint64, error)
	AdvanceWatermark(ctx context.Context, blockNumber uint64) error

	// Charity snapshot history (append-only)
	SaveSnapshot(ctx context.Context, snapshot *models.CharitySnapshot) error
	LatestSnapshot(ctx context.Context) (*models.CharitySnapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]*models.CharitySnapshot, error)

	// Claim-notification intents
	PendingNotifications(ctx context.Context, limit int) ([]*models.ClaimNotification, error)
	MarkNotificationSent(ctx context.Context, id string) error
	MarkNotificationFailed(ctx context.Context, id string, errMsg string, terminal bool) error
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
