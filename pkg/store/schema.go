package store

// SQLiteSchema creates the corpus tables against an in-memory or file
// SQLite database. It is used by package tests and by local tooling; the
// ingester (out of scope here) owns the production schema.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS experts (
	id             TEXT PRIMARY KEY,
	display_name   TEXT NOT NULL,
	channel_handle TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id                 INTEGER PRIMARY KEY,
	expert_id          TEXT NOT NULL,
	channel_id         TEXT NOT NULL,
	per_channel_msg_id INTEGER NOT NULL,
	authored_at        DATETIME NOT NULL,
	author             TEXT NOT NULL,
	body_markdown      TEXT NOT NULL,
	forwarded_from     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS links (
	expert_id      TEXT NOT NULL,
	source_post_id INTEGER NOT NULL,
	target_post_id INTEGER NOT NULL,
	type           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS comments (
	anchor_post_id   INTEGER NOT NULL,
	comment_local_id INTEGER NOT NULL,
	author           TEXT NOT NULL,
	body_markdown    TEXT NOT NULL,
	authored_at      DATETIME NOT NULL,
	PRIMARY KEY (anchor_post_id, comment_local_id)
);

CREATE TABLE IF NOT EXISTS drift_records (
	post_id     INTEGER PRIMARY KEY,
	expert_id   TEXT NOT NULL,
	has_drift   INTEGER NOT NULL DEFAULT 0,
	topics_json TEXT NOT NULL DEFAULT '[]',
	analyzed_at DATETIME,
	analyzed_by TEXT NOT NULL DEFAULT 'pending'
);
`
