package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"PaperSieve/internal/domain"
	"PaperSieve/internal/ports"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	timeLayout  = "2006-01-02T15:04:05.000000000Z"
	listSep     = ", "
	statsOldest = 5
	touchChunk  = 500
)

// ErrCapacityInvariant means eviction failed to make room for a new paper.
var ErrCapacityInvariant = errors.New("storage: capacity invariant violated")

// SQLCache persists processed papers and evicts the least recently accessed
// ones once Capacity is reached.
type SQLCache struct {
	db       *sql.DB
	sb       sq.StatementBuilderType
	capacity int
	now      func() time.Time
	logger   *zap.Logger

	// mu serializes writers so eviction and insert never interleave.
	mu sync.Mutex
}

var _ ports.PaperStore = (*SQLCache)(nil)

// Options configures Open.
type Options struct {
	Driver   string
	DSN      string
	Capacity int
	Logger   *zap.Logger
}

// Open connects to the database, applies engine pragmas and migrates the schema.
func Open(ctx context.Context, opts Options) (*SQLCache, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	db, err := sql.Open(driver, opts.DSN)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", driver)
	}

	if driver == DriverSQLite {
		// one connection keeps in-memory databases and the write lock coherent
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, eris.Wrapf(err, "storage: exec %s", pragma)
			}
		}
	}

	c := NewSQLCache(db, driver, opts.Capacity, opts.Logger)
	if err := c.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewSQLCache wraps an already opened database.
func NewSQLCache(db *sql.DB, driver string, capacity int, log *zap.Logger) *SQLCache {
	if log == nil {
		log = zap.NewNop()
	}
	var format sq.PlaceholderFormat = sq.Question
	if driver == DriverPostgres {
		format = sq.Dollar
	}
	return &SQLCache{
		db:       db,
		sb:       sq.StatementBuilder.PlaceholderFormat(format),
		capacity: max(capacity, 0),
		now:      time.Now,
		logger:   log,
	}
}

// Migrate creates the papers table and its indexes.
func (c *SQLCache) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return eris.Wrap(err, "storage: migrate")
		}
	}
	return nil
}

// Close releases the database handle.
func (c *SQLCache) Close() error {
	return c.db.Close()
}

// Capacity is the configured bound, 0 when unbounded.
func (c *SQLCache) Capacity() int {
	return c.capacity
}

// Exists reports whether id is stored. A hit counts as an access.
func (c *SQLCache) Exists(ctx context.Context, id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	query, args, err := c.sb.Update("papers").
		Set("last_accessed", formatTime(c.now())).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, eris.Wrap(err, "storage: build touch")
	}
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, eris.Wrapf(err, "storage: touch %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "storage: rows affected")
	}
	return n > 0, nil
}

// Put inserts or updates an entry. A new id first evicts enough entries to
// stay within capacity. last_accessed is always set to now; sent_at only when
// markNotified, otherwise the stored value is kept.
func (c *SQLCache) Put(ctx context.Context, entry domain.CacheEntry, markNotified bool) error {
	if entry.Paper.ID == "" {
		return eris.New("storage: entry without id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "storage: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if c.capacity > 0 {
		exists, err := c.existsTx(ctx, tx, entry.Paper.ID)
		if err != nil {
			return err
		}
		if !exists {
			if err := c.makeRoom(ctx, tx); err != nil {
				return err
			}
		}
	}

	if err := c.upsert(ctx, tx, entry, markNotified); err != nil {
		return err
	}

	return eris.Wrap(tx.Commit(), "storage: commit")
}

// PutMany stores papers one by one with their cascade annotation.
func (c *SQLCache) PutMany(ctx context.Context, papers []domain.Paper, markNotified bool) error {
	for _, p := range papers {
		if err := c.Put(ctx, domain.NewCacheEntry(p), markNotified); err != nil {
			return eris.Wrapf(err, "storage: put %s", p.ID)
		}
	}
	return nil
}

// FilterNew returns the papers whose id is not stored yet.
func (c *SQLCache) FilterNew(ctx context.Context, papers []domain.Paper) ([]domain.Paper, error) {
	fresh := make([]domain.Paper, 0, len(papers))
	for _, p := range papers {
		seen, err := c.Exists(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if !seen {
			fresh = append(fresh, p)
		}
	}
	c.logger.Info("filtered already seen papers",
		zap.Int("new", len(fresh)),
		zap.Int("total", len(papers)),
	)
	return fresh, nil
}

// GetRecent returns entries published within windowDays, newest first, and
// touches every returned entry.
func (c *SQLCache) GetRecent(ctx context.Context, windowDays int) ([]domain.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cutoff := now.AddDate(0, 0, -windowDays)

	query, args, err := c.sb.Select(paperColumns...).
		From("papers").
		Where(sq.GtOrEq{"published": formatTime(cutoff)}).
		OrderBy("published DESC").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "storage: build recent")
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query recent")
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	stamp := formatTime(now)
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Paper.ID)
	}
	for start := 0; start < len(ids); start += touchChunk {
		part := ids[start:min(start+touchChunk, len(ids))]
		query, args, err := c.sb.Update("papers").
			Set("last_accessed", stamp).
			Where(sq.Eq{"id": part}).
			ToSql()
		if err != nil {
			return nil, eris.Wrap(err, "storage: build bulk touch")
		}
		if _, err := c.db.ExecContext(ctx, query, args...); err != nil {
			return nil, eris.Wrap(err, "storage: bulk touch")
		}
	}

	touched := now.UTC()
	for i := range entries {
		entries[i].LastAccessed = &touched
	}
	return entries, nil
}

// Stats aggregates the table without touching any entry.
func (c *SQLCache) Stats(ctx context.Context) (domain.CacheStats, error) {
	stats := domain.CacheStats{Capacity: c.capacity}

	query, args, err := c.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN sent_at IS NOT NULL THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN last_accessed IS NULL THEN 1 ELSE 0 END), 0)",
	).From("papers").ToSql()
	if err != nil {
		return stats, eris.Wrap(err, "storage: build stats")
	}
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.Sent, &stats.NeverAccessed); err != nil {
		return stats, eris.Wrap(err, "storage: stats")
	}
	stats.Unsent = stats.Total - stats.Sent

	query, args, err = c.sb.Select("id", "arxiv_id", "title", "last_accessed", "created_at").
		From("papers").
		OrderBy(evictionOrder...).
		Limit(statsOldest).
		ToSql()
	if err != nil {
		return stats, eris.Wrap(err, "storage: build oldest")
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return stats, eris.Wrap(err, "storage: query oldest")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cand     domain.EvictionCandidate
			accessed sql.NullString
			created  string
		)
		if err := rows.Scan(&cand.ID, &cand.ExternalID, &cand.Title, &accessed, &created); err != nil {
			return stats, eris.Wrap(err, "storage: scan oldest")
		}
		if cand.LastAccessed, err = parseNullTime(accessed); err != nil {
			return stats, err
		}
		if cand.CreatedAt, err = parseTime(created); err != nil {
			return stats, err
		}
		stats.Oldest = append(stats.Oldest, cand)
	}
	return stats, eris.Wrap(rows.Err(), "storage: iterate oldest")
}

func (c *SQLCache) existsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	query, args, err := c.sb.Select("COUNT(*)").From("papers").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return false, eris.Wrap(err, "storage: build exists")
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, eris.Wrapf(err, "storage: exists %s", id)
	}
	return n > 0, nil
}

func (c *SQLCache) count(ctx context.Context, tx *sql.Tx) (int, error) {
	query, args, err := c.sb.Select("COUNT(*)").From("papers").ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "storage: build count")
	}
	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "storage: count")
	}
	return n, nil
}

// makeRoom evicts count-capacity+1 entries when the table is full.
func (c *SQLCache) makeRoom(ctx context.Context, tx *sql.Tx) error {
	total, err := c.count(ctx, tx)
	if err != nil {
		return err
	}
	if total < c.capacity {
		return nil
	}
	excess := total - c.capacity + 1

	query, args, err := c.sb.Select("id", "title").
		From("papers").
		OrderBy(evictionOrder...).
		Limit(uint64(excess)).
		ToSql()
	if err != nil {
		return eris.Wrap(err, "storage: build eviction")
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return eris.Wrap(err, "storage: select eviction")
	}
	var ids, titles []string
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			rows.Close()
			return eris.Wrap(err, "storage: scan eviction")
		}
		ids = append(ids, id)
		titles = append(titles, title)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return eris.Wrap(err, "storage: iterate eviction")
	}
	rows.Close()

	if len(ids) > 0 {
		query, args, err = c.sb.Delete("papers").Where(sq.Eq{"id": ids}).ToSql()
		if err != nil {
			return eris.Wrap(err, "storage: build delete")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrap(err, "storage: evict")
		}
		c.logger.Info("evicted least recently used papers", zap.Int("count", len(ids)))
		c.logger.Debug("evicted papers", zap.Strings("titles", titles[:min(len(titles), statsOldest)]))
	}

	after, err := c.count(ctx, tx)
	if err != nil {
		return err
	}
	if after >= c.capacity {
		return eris.Wrapf(ErrCapacityInvariant, "%d entries left with capacity %d", after, c.capacity)
	}
	return nil
}

func (c *SQLCache) upsert(ctx context.Context, tx *sql.Tx, entry domain.CacheEntry, markNotified bool) error {
	query, args, err := c.upsertQuery(entry, markNotified)
	if err != nil {
		return eris.Wrap(err, "storage: build upsert")
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrapf(err, "storage: upsert %s", entry.Paper.ID)
	}
	return nil
}

func (c *SQLCache) upsertQuery(entry domain.CacheEntry, markNotified bool) (string, []any, error) {
	p := entry.Paper
	now := formatTime(c.now())

	created := now
	if !entry.CreatedAt.IsZero() {
		created = formatTime(entry.CreatedAt)
	}
	var sent any
	if markNotified {
		sent = now
	}
	externalID := p.ExternalID
	if externalID == "" {
		externalID = p.ID
	}

	onConflict := "ON CONFLICT (id) DO UPDATE SET " +
		"arxiv_id = excluded.arxiv_id, title = excluded.title, authors = excluded.authors, " +
		"summary = excluded.summary, published = excluded.published, link = excluded.link, " +
		"pdf_link = excluded.pdf_link, categories = excluded.categories, " +
		"relevance_score = excluded.relevance_score, relevance_reason = excluded.relevance_reason, " +
		"last_accessed = excluded.last_accessed"
	if markNotified {
		onConflict += ", sent_at = excluded.sent_at"
	}

	return c.sb.Insert("papers").
		Columns(paperColumns...).
		Values(
			p.ID, externalID, p.Title, strings.Join(p.Authors, listSep), p.Summary,
			formatTime(p.Published), p.Link, p.PDFLink, strings.Join(p.Categories, listSep),
			entry.RelevanceScore, entry.RelevanceReason, created, sent, now,
		).
		Suffix(onConflict).
		ToSql()
}

func scanEntries(rows *sql.Rows) ([]domain.CacheEntry, error) {
	defer rows.Close()

	var out []domain.CacheEntry
	for rows.Next() {
		var (
			e                   domain.CacheEntry
			authors, categories string
			published, created  string
			sent, accessed      sql.NullString
		)
		if err := rows.Scan(
			&e.Paper.ID, &e.Paper.ExternalID, &e.Paper.Title, &authors, &e.Paper.Summary,
			&published, &e.Paper.Link, &e.Paper.PDFLink, &categories,
			&e.RelevanceScore, &e.RelevanceReason, &created, &sent, &accessed,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan entry")
		}

		var err error
		if e.Paper.Published, err = parseTime(published); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if e.SentAt, err = parseNullTime(sent); err != nil {
			return nil, err
		}
		if e.LastAccessed, err = parseNullTime(accessed); err != nil {
			return nil, err
		}
		e.Paper.Authors = splitList(authors)
		e.Paper.Categories = splitList(categories)
		e.Paper.Annotation.Score = e.RelevanceScore
		e.Paper.Annotation.Reason = e.RelevanceReason
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate entries")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	return t, eris.Wrapf(err, "storage: parse time %q", s)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}
