package database

// Migration is one versioned, forward-only schema change. Migrations are
// applied in ascending Version order inside a single transaction each,
// and recorded in the migrations table so Migrate() is idempotent across
// restarts.
type Migration struct {
	Version int
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE accounts (
				email TEXT PRIMARY KEY,
				provider TEXT NOT NULL,
				custom_host TEXT,
				custom_port INTEGER,
				display_name TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				account_email TEXT NOT NULL REFERENCES accounts(email) ON DELETE CASCADE,
				uid TEXT NOT NULL,
				sender_email TEXT NOT NULL,
				sender_display TEXT,
				subject TEXT NOT NULL,
				date TEXT,
				snippet TEXT,
				body TEXT,
				flags TEXT NOT NULL DEFAULT '',
				remote_deleted_at DATETIME,
				remote_error TEXT,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(account_email, uid)
			);

			CREATE INDEX idx_messages_account_sender ON messages(account_email, sender_email);
			CREATE INDEX idx_messages_account_uid_numeric ON messages(account_email, CAST(uid AS INTEGER));
			CREATE INDEX idx_messages_pending_remote_delete ON messages(account_email, remote_deleted_at, remote_error);

			CREATE TABLE analysis_results (
				message_id INTEGER PRIMARY KEY REFERENCES messages(id) ON DELETE CASCADE,
				summary TEXT,
				sentiment TEXT,
				categories TEXT NOT NULL DEFAULT '[]',
				metadata TEXT NOT NULL DEFAULT '{}',
				model_id TEXT,
				analyzed INTEGER NOT NULL DEFAULT 0,
				analyzed_at DATETIME,
				analysis_confidence REAL,
				validator_model_id TEXT,
				validation_status TEXT,
				validation_confidence REAL,
				validation_notes TEXT,
				validated_at DATETIME
			);

			CREATE TABLE sender_status (
				sender_email TEXT PRIMARY KEY,
				status TEXT NOT NULL DEFAULT 'neutral',
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE account_sync_state (
				account_email TEXT PRIMARY KEY REFERENCES accounts(email) ON DELETE CASCADE,
				last_full_sync DATETIME,
				last_incremental_sync DATETIME,
				last_uid TEXT,
				total_messages INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE app_settings (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);
		`,
	},
}
