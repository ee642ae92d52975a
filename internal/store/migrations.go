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

CREATE TABLE IF NOT EXISTS processed_emails (
	email_id        TEXT PRIMARY KEY,
	thread_id       TEXT NOT NULL DEFAULT '',
	sender          TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	received_at     DATETIME NOT NULL,
	processed_at    DATETIME NOT NULL,
	classification  TEXT NOT NULL,
	confidence      REAL NOT NULL DEFAULT 0,
	reasoning       TEXT NOT NULL DEFAULT '',
	content_summary TEXT NOT NULL DEFAULT '',
	labels_applied  TEXT NOT NULL DEFAULT '[]',
	action_taken    TEXT NOT NULL DEFAULT 'labeled',
	content_format  TEXT NOT NULL DEFAULT 'standard',
	digest_id       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS digests (
	id            TEXT PRIMARY KEY,
	cleanup_token TEXT NOT NULL UNIQUE,
	status        TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'sent', 'cleaned')),
	generated_at  DATETIME NOT NULL,
	sent_at       DATETIME,
	cleaned_at    DATETIME,
	email_count   INTEGER NOT NULL DEFAULT 0,
	summary       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS corrections (
	id                       TEXT PRIMARY KEY,
	email_id                 TEXT NOT NULL,
	original_classification  TEXT NOT NULL,
	corrected_classification TEXT NOT NULL,
	reasoning                TEXT NOT NULL DEFAULT '',
	subject                  TEXT NOT NULL DEFAULT '',
	sender                   TEXT NOT NULL DEFAULT '',
	preview                  TEXT NOT NULL DEFAULT '',
	created_at               DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS app_config (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_processed_digest_id
	ON processed_emails(digest_id);
CREATE INDEX IF NOT EXISTS idx_processed_classification
	ON processed_emails(classification);
CREATE INDEX IF NOT EXISTS idx_digests_status ON digests(status);
CREATE INDEX IF NOT EXISTS idx_corrections_email_id
	ON corrections(email_id);
CREATE INDEX IF NOT EXISTS idx_corrections_created
	ON corrections(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS sender_profiles (
	address             TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	message_count       INTEGER NOT NULL DEFAULT 0,
	last_classification TEXT NOT NULL DEFAULT '',
	first_seen          DATETIME NOT NULL,
	last_seen           DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
DELETE FROM digests WHERE status = 'pending' AND id NOT IN (
	SELECT id FROM digests WHERE status = 'pending'
	ORDER BY generated_at LIMIT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_digests_one_pending
	ON digests(status) WHERE status = 'pending';

INSERT INTO schema_version (version) VALUES (3);
`,
	},
}
