// Package storage provides the subscription ledger using SQLite.
package storage

// Schema definitions for the ledger database
const (
	// SchemaV1 is the initial database schema
	SchemaV1 = `
CREATE TABLE IF NOT EXISTS feeds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	rss_url TEXT NOT NULL UNIQUE,
	title TEXT,
	schedule_minutes INTEGER NOT NULL DEFAULT 1440,
	last_run_at TEXT,
	last_error TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transcripts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	feed_id INTEGER NOT NULL,
	episode_title TEXT,
	episode_url TEXT,
	mp3_url TEXT NOT NULL,
	transcript_text TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY (feed_id) REFERENCES feeds(id)
);

CREATE INDEX IF NOT EXISTS idx_transcripts_feed_id ON transcripts(feed_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at);

CREATE TABLE IF NOT EXISTS episode_done (
	feed_id INTEGER NOT NULL,
	mp3_url TEXT NOT NULL,
	PRIMARY KEY (feed_id, mp3_url),
	FOREIGN KEY (feed_id) REFERENCES feeds(id)
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at INTEGER NOT NULL
);
`
)

// Migrations represents all available migrations
var Migrations = []struct {
	Version int
	SQL     string
}{
	{
		Version: 1,
		SQL:     SchemaV1,
	},
}
