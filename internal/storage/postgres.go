// File: internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// PostgresStorage implements the Store interface using PostgreSQL
type PostgresStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(config *StorageConfig) *PostgresStorage {
	return &PostgresStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (s *PostgresStorage) Connect() error {
	db, err := sql.Open("postgres", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open PostgreSQL database", err.Error())
	}

	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping PostgreSQL database", err.Error())
	}

	s.db = db
	s.logger.Info("PostgreSQL database connected")

	return nil
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *PostgresStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// HasProcessed checks whether an event identity was already applied
func (s *PostgresStorage) HasProcessed(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM processed_events WHERE tx_hash = $1 AND log_index = $2",
		utils.NormalizeHash(txHash), logIndex).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, utils.NewAppError(utils.ErrCodeDatabase, "Failed to check idempotency marker", err.Error())
	}
	return true, nil
}

// ApplyBurn commits record, idempotency marker, watermark advance and
// notification intent as one transaction
func (s *PostgresStorage) ApplyBurn(ctx context.Context, record *models.FulfillmentRecord, intent *models.ClaimNotification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if err := s.insertRecord(ctx, tx, record); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO processed_events (tx_hash, log_index, block_number, processed_at) VALUES ($1, $2, $3, $4)",
		utils.NormalizeHash(record.TxHash), record.LogIndex, record.BlockNumber, time.Now().UTC())
	if err != nil {
		if isPostgresUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeDuplicateKey, "Event identity already marked processed",
				models.EventKey{TxHash: record.TxHash, LogIndex: record.LogIndex}.String())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert idempotency marker", err.Error())
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE watermark SET block_number = $1, updated_at = $2 WHERE id = 1 AND block_number < $1",
		record.BlockNumber, time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to advance watermark", err.Error())
	}

	if intent != nil {
		if err := s.insertNotification(ctx, tx, intent); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit burn transaction", err.Error())
	}

	return nil
}

func (s *PostgresStorage) insertRecord(ctx context.Context, tx *sql.Tx, record *models.FulfillmentRecord) error {
	merchJSON, err := marshalItems(record.Merchandise)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fulfillment_records
		(tx_hash, log_index, block_number, user_address, token_id, rarity,
		 merchandise, user_reward_wei, charity_amount_wei, status, needs_review,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, query,
		utils.NormalizeHash(record.TxHash), record.LogIndex, record.BlockNumber,
		utils.NormalizeAddress(record.User), record.TokenID, record.Rarity,
		merchJSON, weiString(record.UserRewardWei), weiString(record.CharityAmountWei),
		string(record.Status), record.NeedsReview, record.CreatedAt, record.UpdatedAt)

	if err != nil {
		if isPostgresUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeDuplicateKey, "Fulfillment record already exists",
				record.Key().String())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert fulfillment record", err.Error())
	}
	return nil
}

func (s *PostgresStorage) insertNotification(ctx context.Context, tx *sql.Tx, intent *models.ClaimNotification) error {
	merchJSON, err := marshalItems(intent.Merchandise)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO claim_notifications
		(id, tx_hash, log_index, user_address, rarity, merchandise, claim_url,
		 status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		intent.ID, utils.NormalizeHash(intent.TxHash), intent.LogIndex,
		utils.NormalizeAddress(intent.User), intent.Rarity, merchJSON,
		intent.ClaimURL, intent.Status, intent.Attempts, intent.CreatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert claim notification", err.Error())
	}
	return nil
}

// CreateRecord inserts a fulfillment record outside of ApplyBurn
func (s *PostgresStorage) CreateRecord(ctx context.Context, record *models.FulfillmentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if err := s.insertRecord(ctx, tx, record); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit record", err.Error())
	}
	return nil
}

// GetRecord retrieves a fulfillment record by event identity
func (s *PostgresStorage) GetRecord(ctx context.Context, txHash string, logIndex uint) (*models.FulfillmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM fulfillment_records WHERE tx_hash = $1 AND log_index = $2",
		utils.NormalizeHash(txHash), logIndex)

	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if appErr, ok := err.(*utils.AppError); ok {
			return nil, appErr
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get fulfillment record", err.Error())
	}
	return record, nil
}

func (s *PostgresStorage) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.FulfillmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query fulfillment records", err.Error())
	}
	defer rows.Close()

	var records []*models.FulfillmentRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			if appErr, ok := err.(*utils.AppError); ok {
				return nil, appErr
			}
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan fulfillment record", err.Error())
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ListRecordsByStatus returns all records in the given lifecycle state
func (s *PostgresStorage) ListRecordsByStatus(ctx context.Context, status models.ClaimStatus) ([]*models.FulfillmentRecord, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM fulfillment_records WHERE status = $1 ORDER BY created_at ASC",
		string(status))
}

// ListRecordsCreatedAfter returns records created strictly after since
func (s *PostgresStorage) ListRecordsCreatedAfter(ctx context.Context, since time.Time) ([]*models.FulfillmentRecord, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM fulfillment_records WHERE created_at > $1 ORDER BY created_at ASC",
		since)
}

// CountRecords returns the total number of fulfillment records
func (s *PostgresStorage) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fulfillment_records").Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count fulfillment records", err.Error())
	}
	return count, nil
}

// TransitionRecord moves a record through the claim lifecycle
func (s *PostgresStorage) TransitionRecord(ctx context.Context, txHash string, logIndex uint, newStatus models.ClaimStatus) error {
	if !models.IsValidStatus(newStatus) {
		return utils.NewAppError(utils.ErrCodeValidation, "Unknown claim status", string(newStatus))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		"SELECT status FROM fulfillment_records WHERE tx_hash = $1 AND log_index = $2 FOR UPDATE",
		utils.NormalizeHash(txHash), logIndex).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return utils.NewAppError(utils.ErrCodeNotFound, "Fulfillment record not found",
				models.EventKey{TxHash: txHash, LogIndex: logIndex}.String())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read record status", err.Error())
	}

	if !models.CanTransition(models.ClaimStatus(current), newStatus) {
		return utils.NewAppError(utils.ErrCodeInvalidTransition,
			"Claim status transition not allowed",
			fmt.Sprintf("%s -> %s", current, newStatus))
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE fulfillment_records SET status = $1, updated_at = $2 WHERE tx_hash = $3 AND log_index = $4",
		string(newStatus), time.Now().UTC(), utils.NormalizeHash(txHash), logIndex)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update record status", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit status transition", err.Error())
	}
	return nil
}

// CurrentWatermark returns the highest fully processed block number
func (s *PostgresStorage) CurrentWatermark(ctx context.Context) (uint64, error) {
	var blockNumber uint64
	err := s.db.QueryRowContext(ctx, "SELECT block_number FROM watermark WHERE id = 1").Scan(&blockNumber)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get watermark", err.Error())
	}
	return blockNumber, nil
}

// AdvanceWatermark moves the watermark forward, rejecting regressions
func (s *PostgresStorage) AdvanceWatermark(ctx context.Context, blockNumber uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var current uint64
	if err := tx.QueryRowContext(ctx, "SELECT block_number FROM watermark WHERE id = 1 FOR UPDATE").Scan(&current); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read watermark", err.Error())
	}

	if blockNumber < current {
		return utils.NewAppError(utils.ErrCodeWatermark, "Watermark regression rejected",
			fmt.Sprintf("current %d, requested %d", current, blockNumber))
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE watermark SET block_number = $1, updated_at = $2 WHERE id = 1",
		blockNumber, time.Now().UTC())
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to update watermark", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to commit watermark", err.Error())
	}
	return nil
}

// SaveSnapshot appends a charity snapshot to the history
func (s *PostgresStorage) SaveSnapshot(ctx context.Context, snapshot *models.CharitySnapshot) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO charity_snapshots
		(observed_balance_wei, observed_delta_wei, accumulated_wei, anomalous, generated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		weiString(snapshot.ObservedBalanceWei), weiString(snapshot.ObservedDeltaWei),
		weiString(snapshot.AccumulatedWei), snapshot.Anomalous, snapshot.GeneratedAt).Scan(&snapshot.ID)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save charity snapshot", err.Error())
	}
	return nil
}

// LatestSnapshot returns the most recent charity snapshot, or nil if none exist
func (s *PostgresStorage) LatestSnapshot(ctx context.Context) (*models.CharitySnapshot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+snapshotColumns+" FROM charity_snapshots ORDER BY generated_at DESC, id DESC LIMIT 1")

	snapshot, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if appErr, ok := err.(*utils.AppError); ok {
			return nil, appErr
		}
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get latest snapshot", err.Error())
	}
	return snapshot, nil
}

// ListSnapshots returns snapshot history, newest first
func (s *PostgresStorage) ListSnapshots(ctx context.Context, limit int) ([]*models.CharitySnapshot, error) {
	query := "SELECT " + snapshotColumns + " FROM charity_snapshots ORDER BY generated_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query snapshots", err.Error())
	}
	defer rows.Close()

	var snapshots []*models.CharitySnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan snapshot", err.Error())
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// PendingNotifications returns undelivered claim-notification intents
func (s *PostgresStorage) PendingNotifications(ctx context.Context, limit int) ([]*models.ClaimNotification, error) {
	query := `
		SELECT id, tx_hash, log_index, user_address, rarity, merchandise,
		       claim_url, status, attempts, last_error, created_at, sent_at
		FROM claim_notifications WHERE status = 'pending' ORDER BY created_at ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to query pending notifications", err.Error())
	}
	defer rows.Close()

	var intents []*models.ClaimNotification
	for rows.Next() {
		var intent models.ClaimNotification
		var merchJSON string
		var lastError sql.NullString
		var sentAt sql.NullTime

		err := rows.Scan(&intent.ID, &intent.TxHash, &intent.LogIndex,
			&intent.User, &intent.Rarity, &merchJSON, &intent.ClaimURL,
			&intent.Status, &intent.Attempts, &lastError, &intent.CreatedAt, &sentAt)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to scan notification", err.Error())
		}

		if intent.Merchandise, err = unmarshalItems(merchJSON); err != nil {
			return nil, err
		}
		if lastError.Valid {
			intent.LastError = &lastError.String
		}
		if sentAt.Valid {
			intent.SentAt = &sentAt.Time
		}

		intents = append(intents, &intent)
	}
	return intents, rows.Err()
}

// MarkNotificationSent marks an intent delivered
func (s *PostgresStorage) MarkNotificationSent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE claim_notifications SET status = $1, attempts = attempts + 1, sent_at = $2 WHERE id = $3",
		models.NotificationSent, time.Now().UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark notification sent", err.Error())
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Notification not found", id)
	}
	return nil
}

// MarkNotificationFailed records a delivery failure; terminal failures stop retries
func (s *PostgresStorage) MarkNotificationFailed(ctx context.Context, id string, errMsg string, terminal bool) error {
	status := models.NotificationPending
	if terminal {
		status = models.NotificationFailed
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE claim_notifications SET status = $1, attempts = attempts + 1, last_error = $2 WHERE id = $3",
		status, errMsg, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark notification failed", err.Error())
	}
	return nil
}

// isPostgresUniqueViolation detects a primary-key/unique-index conflict
func isPostgresUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
