package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create fulfillment_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS fulfillment_records (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					block_number INTEGER NOT NULL,
					user_address TEXT NOT NULL,
					token_id TEXT NOT NULL,
					rarity TEXT NOT NULL,
					merchandise TEXT NOT NULL, -- JSON array
					user_reward_wei TEXT NOT NULL,
					charity_amount_wei TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING_CLAIM',
					needs_review BOOLEAN NOT NULL DEFAULT FALSE,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL,
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_records_status ON fulfillment_records(status);
				CREATE INDEX IF NOT EXISTS idx_records_user ON fulfillment_records(user_address);
				CREATE INDEX IF NOT EXISTS idx_records_created_at ON fulfillment_records(created_at);
			`,
		},
		{
			Version:     "002",
			Description: "Create processed_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS processed_events (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					block_number INTEGER NOT NULL,
					processed_at DATETIME NOT NULL,
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_processed_block ON processed_events(block_number);
			`,
		},
		{
			Version:     "003",
			Description: "Create watermark singleton",
			SQL: `
				CREATE TABLE IF NOT EXISTS watermark (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					block_number INTEGER NOT NULL DEFAULT 0,
					updated_at DATETIME
				);

				INSERT OR IGNORE INTO watermark (id, block_number) VALUES (1, 0);
			`,
		},
		{
			Version:     "004",
			Description: "Create charity_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS charity_snapshots (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					observed_balance_wei TEXT NOT NULL,
					observed_delta_wei TEXT NOT NULL,
					accumulated_wei TEXT NOT NULL,
					anomalous BOOLEAN NOT NULL DEFAULT FALSE,
					generated_at DATETIME NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_snapshots_generated_at ON charity_snapshots(generated_at);
			`,
		},
		{
			Version:     "005",
			Description: "Create claim_notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS claim_notifications (
					id TEXT PRIMARY KEY,
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					user_address TEXT NOT NULL,
					rarity TEXT NOT NULL,
					merchandise TEXT NOT NULL, -- JSON array
					claim_url TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					attempts INTEGER NOT NULL DEFAULT 0,
					last_error TEXT,
					created_at DATETIME NOT NULL,
					sent_at DATETIME
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_status ON claim_notifications(status);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create fulfillment_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS fulfillment_records (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					block_number BIGINT NOT NULL,
					user_address TEXT NOT NULL,
					token_id TEXT NOT NULL,
					rarity TEXT NOT NULL,
					merchandise JSONB NOT NULL,
					user_reward_wei NUMERIC(78, 0) NOT NULL,
					charity_amount_wei NUMERIC(78, 0) NOT NULL,
					status TEXT NOT NULL DEFAULT 'PENDING_CLAIM',
					needs_review BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_records_status ON fulfillment_records(status);
				CREATE INDEX IF NOT EXISTS idx_records_user ON fulfillment_records(user_address);
				CREATE INDEX IF NOT EXISTS idx_records_created_at ON fulfillment_records(created_at);
			`,
		},
		{
			Version:     "002",
			Description: "Create processed_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS processed_events (
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					block_number BIGINT NOT NULL,
					processed_at TIMESTAMP WITH TIME ZONE NOT NULL,
					PRIMARY KEY (tx_hash, log_index)
				);

				CREATE INDEX IF NOT EXISTS idx_processed_block ON processed_events(block_number);
			`,
		},
		{
			Version:     "003",
			Description: "Create watermark singleton",
			SQL: `
				CREATE TABLE IF NOT EXISTS watermark (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					block_number BIGINT NOT NULL DEFAULT 0,
					updated_at TIMESTAMP WITH TIME ZONE
				);

				INSERT INTO watermark (id, block_number) VALUES (1, 0)
				ON CONFLICT (id) DO NOTHING;
			`,
		},
		{
			Version:     "004",
			Description: "Create charity_snapshots table",
			SQL: `
				CREATE TABLE IF NOT EXISTS charity_snapshots (
					id BIGSERIAL PRIMARY KEY,
					observed_balance_wei NUMERIC(78, 0) NOT NULL,
					observed_delta_wei NUMERIC(78, 0) NOT NULL,
					accumulated_wei NUMERIC(78, 0) NOT NULL,
					anomalous BOOLEAN NOT NULL DEFAULT FALSE,
					generated_at TIMESTAMP WITH TIME ZONE NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_snapshots_generated_at ON charity_snapshots(generated_at);
			`,
		},
		{
			Version:     "005",
			Description: "Create claim_notifications table",
			SQL: `
				CREATE TABLE IF NOT EXISTS claim_notifications (
					id TEXT PRIMARY KEY,
					tx_hash TEXT NOT NULL,
					log_index INTEGER NOT NULL,
					user_address TEXT NOT NULL,
					rarity TEXT NOT NULL,
					merchandise JSONB NOT NULL,
					claim_url TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'pending',
					attempts INTEGER NOT NULL DEFAULT 0,
					last_error TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL,
					sent_at TIMESTAMP WITH TIME ZONE
				);

				CREATE INDEX IF NOT EXISTS idx_notifications_status ON claim_notifications(status);
			`,
		},
	}
}
