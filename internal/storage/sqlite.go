// File: internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/arawrdn/fof-fulfillment-service/internal/models"
	"github.com/arawrdn/fof-fulfillment-service/pkg/utils"
)

// SQLiteStorage implements the Store interface using SQLite
type SQLiteStorage struct {
	db         *sql.DB
	config     *StorageConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to enable foreign keys", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.ConnectionString).Info("SQLite database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStorage) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStorage) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying migration")

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
func (s *SQLiteStorage) HasProcessed(ctx context.Context, txHash string, logIndex uint) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM processed_events WHERE tx_hash = ? AND log_index = ?",
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
func (s *SQLiteStorage) ApplyBurn(ctx context.Context, record *models.FulfillmentRecord, intent *models.ClaimNotification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if err := s.insertRecord(ctx, tx, record); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO processed_events (tx_hash, log_index, block_number, processed_at) VALUES (?, ?, ?, ?)",
		utils.NormalizeHash(record.TxHash), record.LogIndex, record.BlockNumber, time.Now().UTC())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeDuplicateKey, "Event identity already marked processed",
				models.EventKey{TxHash: record.TxHash, LogIndex: record.LogIndex}.String())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert idempotency marker", err.Error())
	}

	// Advance only when this block is a new frontier; monotonic by construction
	_, err = tx.ExecContext(ctx,
		"UPDATE watermark SET block_number = ?, updated_at = ? WHERE id = 1 AND block_number < ?",
		record.BlockNumber, time.Now().UTC(), record.BlockNumber)
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

func (s *SQLiteStorage) insertRecord(ctx context.Context, tx *sql.Tx, record *models.FulfillmentRecord) error {
	merchJSON, err := marshalItems(record.Merchandise)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fulfillment_records
		(tx_hash, log_index, block_number, user_address, token_id, rarity,
		 merchandise, user_reward_wei, charity_amount_wei, status, needs_review,
		 created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		utils.NormalizeHash(record.TxHash), record.LogIndex, record.BlockNumber,
		utils.NormalizeAddress(record.User), record.TokenID, record.Rarity,
		merchJSON, weiString(record.UserRewardWei), weiString(record.CharityAmountWei),
		string(record.Status), record.NeedsReview, record.CreatedAt, record.UpdatedAt)

	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return utils.NewAppError(utils.ErrCodeDuplicateKey, "Fulfillment record already exists",
				record.Key().String())
		}
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert fulfillment record", err.Error())
	}
	return nil
}

func (s *SQLiteStorage) insertNotification(ctx context.Context, tx *sql.Tx, intent *models.ClaimNotification) error {
	merchJSON, err := marshalItems(intent.Merchandise)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO claim_notifications
		(id, tx_hash, log_index, user_address, rarity, merchandise, claim_url,
		 status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		intent.ID, utils.NormalizeHash(intent.TxHash), intent.LogIndex,
		utils.NormalizeAddress(intent.User), intent.Rarity, merchJSON,
		intent.ClaimURL, intent.Status, intent.Attempts, intent.CreatedAt)

	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to insert claim notification", err.Error())
	}
	return nil
}

// CreateRecord inserts a fulfillment record outside of ApplyBurn. Kept as the
// duplicate-key backstop even if the idempotency check is bypassed.
func (s *SQLiteStorage) CreateRecord(ctx context.Context, record *models.FulfillmentRecord) error {
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

const recordColumns = `tx_hash, log_index, block_number, user_address, token_id, rarity,
	merchandise, user_reward_wei, charity_amount_wei, status, needs_review, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.FulfillmentRecord, error) {
	var record models.FulfillmentRecord
	var merchJSON, rewardStr, charityStr, status string

	err := row.Scan(&record.TxHash, &record.LogIndex, &record.BlockNumber,
		&record.User, &record.TokenID, &record.Rarity, &merchJSON,
		&rewardStr, &charityStr, &status, &record.NeedsReview,
		&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.Status = models.ClaimStatus(status)

	if record.Merchandise, err = unmarshalItems(merchJSON); err != nil {
		return nil, err
	}
	if record.UserRewardWei, err = parseWei(rewardStr); err != nil {
		return nil, err
	}
	if record.CharityAmountWei, err = parseWei(charityStr); err != nil {
		return nil, err
	}

	return &record, nil
}

// GetRecord retrieves a fulfillment record by event identity
func (s *SQLiteStorage) GetRecord(ctx context.Context, txHash string, logIndex uint) (*models.FulfillmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM fulfillment_records WHERE tx_hash = ? AND log_index = ?",
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

func (s *SQLiteStorage) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*models.FulfillmentRecord, error) {
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
func (s *SQLiteStorage) ListRecordsByStatus(ctx context.Context, status models.ClaimStatus) ([]*models.FulfillmentRecord, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM fulfillment_records WHERE status = ? ORDER BY created_at ASC",
		string(status))
}

// ListRecordsCreatedAfter returns records created strictly after since,
// ordered by creation time
func (s *SQLiteStorage) ListRecordsCreatedAfter(ctx context.Context, since time.Time) ([]*models.FulfillmentRecord, error) {
	return s.queryRecords(ctx,
		"SELECT "+recordColumns+" FROM fulfillment_records WHERE created_at > ? ORDER BY created_at ASC",
		since)
}

// CountRecords returns the total number of fulfillment records
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fulfillment_records").Scan(&count); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to count fulfillment records", err.Error())
	}
	return count, nil
}

// TransitionRecord moves a record through the claim lifecycle. Illegal
// transitions fail with ErrCodeInvalidTransition and change nothing.
func (s *SQLiteStorage) TransitionRecord(ctx context.Context, txHash string, logIndex uint, newStatus models.ClaimStatus) error {
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
		"SELECT status FROM fulfillment_records WHERE tx_hash = ? AND log_index = ?",
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
		"UPDATE fulfillment_records SET status = ?, updated_at = ? WHERE tx_hash = ? AND log_index = ?",
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
func (s *SQLiteStorage) CurrentWatermark(ctx context.Context) (uint64, error) {
	var blockNumber uint64
	err := s.db.QueryRowContext(ctx, "SELECT block_number FROM watermark WHERE id = 1").Scan(&blockNumber)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeDatabase, "Failed to get watermark", err.Error())
	}
	return blockNumber, nil
}

// AdvanceWatermark moves the watermark forward. A regression is an invariant
// violation and is rejected, never clamped.
func (s *SQLiteStorage) AdvanceWatermark(ctx context.Context, blockNumber uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	var current uint64
	if err := tx.QueryRowContext(ctx, "SELECT block_number FROM watermark WHERE id = 1").Scan(&current); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read watermark", err.Error())
	}

	if blockNumber < current {
		return utils.NewAppError(utils.ErrCodeWatermark, "Watermark regression rejected",
			fmt.Sprintf("current %d, requested %d", current, blockNumber))
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE watermark SET block_number = ?, updated_at = ? WHERE id = 1",
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
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snapshot *models.CharitySnapshot) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO charity_snapshots
		(observed_balance_wei, observed_delta_wei, accumulated_wei, anomalous, generated_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		weiString(snapshot.ObservedBalanceWei), weiString(snapshot.ObservedDeltaWei),
		weiString(snapshot.AccumulatedWei), snapshot.Anomalous, snapshot.GeneratedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to save charity snapshot", err.Error())
	}

	if id, err := result.LastInsertId(); err == nil {
		snapshot.ID = id
	}
	return nil
}

func scanSnapshot(row rowScanner) (*models.CharitySnapshot, error) {
	var snapshot models.CharitySnapshot
	var balanceStr, deltaStr, accumulatedStr string

	err := row.Scan(&snapshot.ID, &balanceStr, &deltaStr, &accumulatedStr,
		&snapshot.Anomalous, &snapshot.GeneratedAt)
	if err != nil {
		return nil, err
	}

	if snapshot.ObservedBalanceWei, err = parseWei(balanceStr); err != nil {
		return nil, err
	}
	if snapshot.ObservedDeltaWei, err = parseWei(deltaStr); err != nil {
		return nil, err
	}
	if snapshot.AccumulatedWei, err = parseWei(accumulatedStr); err != nil {
		return nil, err
	}

	return &snapshot, nil
}

const snapshotColumns = `id, observed_balance_wei, observed_delta_wei, accumulated_wei, anomalous, generated_at`

// LatestSnapshot returns the most recent charity snapshot, or nil if none exist
func (s *SQLiteStorage) LatestSnapshot(ctx context.Context) (*models.CharitySnapshot, error) {
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
func (s *SQLiteStorage) ListSnapshots(ctx context.Context, limit int) ([]*models.CharitySnapshot, error) {
	query := "SELECT " + snapshotColumns + " FROM charity_snapshots ORDER BY generated_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
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
func (s *SQLiteStorage) PendingNotifications(ctx context.Context, limit int) ([]*models.ClaimNotification, error) {
	query := `
		SELECT id, tx_hash, log_index, user_address, rarity, merchandise,
		       claim_url, status, attempts, last_error, created_at, sent_at
		FROM claim_notifications WHERE status = 'pending' ORDER BY created_at ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
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
func (s *SQLiteStorage) MarkNotificationSent(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE claim_notifications SET status = ?, attempts = attempts + 1, sent_at = ? WHERE id = ?",
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
func (s *SQLiteStorage) MarkNotificationFailed(ctx context.Context, id string, errMsg string, terminal bool) error {
	status := models.NotificationPending
	if terminal {
		status = models.NotificationFailed
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE claim_notifications SET status = ?, attempts = attempts + 1, last_error = ? WHERE id = ?",
		status, errMsg, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to mark notification failed", err.Error())
	}
	return nil
}

// isSQLiteUniqueViolation detects a primary-key/unique-index conflict
func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
