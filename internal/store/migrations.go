package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS email_history (
	message_id        TEXT PRIMARY KEY,
	sender            TEXT NOT NULL,
	subject           TEXT NOT NULL,
	snippet           TEXT NOT NULL DEFAULT '',
	thread_id         TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL,
	priority          TEXT NOT NULL CHECK(priority IN ('HIGH', 'MEDIUM', 'LOW')),
	reply_text        TEXT NOT NULL DEFAULT '',
	reasoning         TEXT NOT NULL DEFAULT '',
	needs_reply       INTEGER NOT NULL DEFAULT 0 CHECK(needs_reply IN (0, 1)),
	automation_action TEXT,
	sent              INTEGER NOT NULL DEFAULT 0 CHECK(sent IN (0, 1)),
	sent_at           DATETIME,
	archived          INTEGER NOT NULL DEFAULT 0 CHECK(archived IN (0, 1)),
	deleted           INTEGER NOT NULL DEFAULT 0 CHECK(deleted IN (0, 1)),
	is_fallback       INTEGER NOT NULL DEFAULT 0 CHECK(is_fallback IN (0, 1)),
	processed_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_history_processed_at ON email_history(processed_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_category ON email_history(category);
CREATE INDEX IF NOT EXISTS idx_history_sent ON email_history(sent);

CREATE TABLE IF NOT EXISTS analytics (
	date             TEXT PRIMARY KEY,
	total_emails     INTEGER NOT NULL DEFAULT 0,
	important_count  INTEGER NOT NULL DEFAULT 0,
	personal_count   INTEGER NOT NULL DEFAULT 0,
	newsletter_count INTEGER NOT NULL DEFAULT 0,
	spam_count       INTEGER NOT NULL DEFAULT 0,
	replies_sent     INTEGER NOT NULL DEFAULT 0,
	emails_archived  INTEGER NOT NULL DEFAULT 0,
	emails_deleted   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snoozes (
	message_id TEXT PRIMARY KEY,
	wake_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snoozes_wake_at ON snoozes(wake_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_history_priority ON email_history(priority);
CREATE INDEX IF NOT EXISTS idx_history_deleted ON email_history(deleted);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
