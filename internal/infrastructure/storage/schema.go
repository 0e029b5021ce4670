package storage

// Statements are executed one by one so the same list runs on SQLite and
// Postgres. Timestamps are stored as fixed-width UTC text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS papers (
	id               TEXT PRIMARY KEY,
	arxiv_id         TEXT NOT NULL UNIQUE,
	title            TEXT NOT NULL,
	authors          TEXT NOT NULL DEFAULT '',
	summary          TEXT NOT NULL DEFAULT '',
	published        TEXT NOT NULL,
	link             TEXT NOT NULL DEFAULT '',
	pdf_link         TEXT NOT NULL DEFAULT '',
	categories       TEXT NOT NULL DEFAULT '',
	relevance_score  DOUBLE PRECISION NOT NULL DEFAULT 0,
	relevance_reason TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL,
	sent_at          TEXT,
	last_accessed    TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_papers_arxiv_id ON papers(arxiv_id)`,
	`CREATE INDEX IF NOT EXISTS idx_papers_published ON papers(published)`,
	`CREATE INDEX IF NOT EXISTS idx_papers_last_accessed ON papers(last_accessed)`,
}

var paperColumns = []string{
	"id", "arxiv_id", "title", "authors", "summary", "published", "link", "pdf_link",
	"categories", "relevance_score", "relevance_reason", "created_at", "sent_at", "last_accessed",
}

// evictionOrder puts never-accessed rows first, then the least recently
// accessed, then the oldest created.
var evictionOrder = []string{
	"CASE WHEN last_accessed IS NULL THEN 0 ELSE 1 END",
	"last_accessed ASC",
	"created_at ASC",
}
