package database

import (
	"fmt"
)

// migration is one forward-only schema step, applied inside a single
// transaction together with the schema_version bump.
type migration struct {
	Version int
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		SQL: `
			CREATE TABLE schema_meta (
				key TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			-- Folders: discovered lazily by LIST, never authoritative for account
			-- configuration (that lives in state/accounts.toml, outside this DB).
			CREATE TABLE folders (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				name TEXT NOT NULL,
				full_name TEXT NOT NULL,
				delimiter TEXT NOT NULL DEFAULT '/',
				attrs TEXT NOT NULL DEFAULT '[]',
				parent_id TEXT REFERENCES folders(id) ON DELETE SET NULL,
				missed_syncs INTEGER NOT NULL DEFAULT 0,
				dead INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(account_id, full_name)
			);
			CREATE INDEX idx_folders_account ON folders(account_id);

			-- FolderSyncState: exactly one row per folder, enforced at the application layer.
			CREATE TABLE folder_sync_state (
				folder_id TEXT PRIMARY KEY REFERENCES folders(id) ON DELETE CASCADE,
				account_id TEXT NOT NULL,
				uid_validity INTEGER NOT NULL DEFAULT 0,
				uid_next INTEGER NOT NULL DEFAULT 0,
				highest_modseq INTEGER,
				message_count INTEGER NOT NULL DEFAULT 0,
				unread_count INTEGER NOT NULL DEFAULT 0,
				last_sync_at DATETIME,
				status TEXT NOT NULL DEFAULT 'Idle',
				status_detail TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE messages (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				imap_uid INTEGER NOT NULL,
				message_id TEXT NOT NULL DEFAULT '',
				in_reply_to TEXT NOT NULL DEFAULT '',
				refs TEXT NOT NULL DEFAULT '[]',
				thread_id TEXT NOT NULL DEFAULT '',

				subject TEXT NOT NULL DEFAULT '',
				from_name TEXT NOT NULL DEFAULT '',
				from_email TEXT NOT NULL DEFAULT '',
				to_list TEXT NOT NULL DEFAULT '[]',
				cc_list TEXT NOT NULL DEFAULT '[]',
				bcc_list TEXT NOT NULL DEFAULT '[]',
				reply_to TEXT NOT NULL DEFAULT '',
				date DATETIME,

				body_text TEXT NOT NULL DEFAULT '',
				body_html TEXT NOT NULL DEFAULT '',
				body_fetched INTEGER NOT NULL DEFAULT 0,
				attachments TEXT NOT NULL DEFAULT '[]',

				flag_seen INTEGER NOT NULL DEFAULT 0,
				flag_answered INTEGER NOT NULL DEFAULT 0,
				flag_flagged INTEGER NOT NULL DEFAULT 0,
				flag_deleted INTEGER NOT NULL DEFAULT 0,
				flag_draft INTEGER NOT NULL DEFAULT 0,
				flag_recent INTEGER NOT NULL DEFAULT 0,
				custom_flags TEXT NOT NULL DEFAULT '[]',
				labels TEXT NOT NULL DEFAULT '[]',

				size INTEGER NOT NULL DEFAULT 0,
				priority TEXT NOT NULL DEFAULT '',

				is_draft INTEGER NOT NULL DEFAULT 0,
				is_deleted INTEGER NOT NULL DEFAULT 0,
				pending_local_flags TEXT NOT NULL DEFAULT '',

				sync_version INTEGER NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				last_synced_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

				UNIQUE(account_id, folder_id, imap_uid)
			);
			CREATE INDEX idx_messages_listing ON messages(account_id, folder_id, date DESC);
			CREATE INDEX idx_messages_unread ON messages(account_id, folder_id, is_deleted, flag_seen);
			CREATE INDEX idx_messages_message_id ON messages(message_id);
			CREATE INDEX idx_messages_thread ON messages(account_id, thread_id);

			CREATE VIRTUAL TABLE messages_fts USING fts5(
				subject, from_name, from_email, body_text,
				content='messages', content_rowid='rowid'
			);
			CREATE TRIGGER messages_fts_ai AFTER INSERT ON messages BEGIN
				INSERT INTO messages_fts(rowid, subject, from_name, from_email, body_text)
				VALUES (new.rowid, new.subject, new.from_name, new.from_email, new.body_text);
			END;
			CREATE TRIGGER messages_fts_ad AFTER DELETE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, subject, from_name, from_email, body_text)
				VALUES ('delete', old.rowid, old.subject, old.from_name, old.from_email, old.body_text);
			END;
			CREATE TRIGGER messages_fts_au AFTER UPDATE ON messages BEGIN
				INSERT INTO messages_fts(messages_fts, rowid, subject, from_name, from_email, body_text)
				VALUES ('delete', old.rowid, old.subject, old.from_name, old.from_email, old.body_text);
				INSERT INTO messages_fts(rowid, subject, from_name, from_email, body_text)
				VALUES (new.rowid, new.subject, new.from_name, new.from_email, new.body_text);
			END;

			-- Conflict records queued for AskUser adjudication.
			CREATE TABLE conflicts (
				id TEXT PRIMARY KEY,
				account_id TEXT NOT NULL,
				folder_id TEXT NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				local_flags TEXT NOT NULL,
				server_flags TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				resolved INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX idx_conflicts_pending ON conflicts(account_id, resolved);
		`,
	},
}

// migrate brings the database up to the latest schema version. Each step
// runs in its own transaction together with the version bump, so a crash
// mid-migration never leaves a half-applied step recorded as complete.
// A stored version higher than the code knows about is a refusal to open,
// a stored version newer than the running binary understands is refused rather than guessed at.
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	current := 0
	row := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	_ = row.Scan(&current)

	latest := migrations[len(migrations)-1].Version
	if current > latest {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, latest)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.Version, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.Version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}
