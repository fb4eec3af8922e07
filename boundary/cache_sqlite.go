package boundary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/paulmach/orb"
	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS geometry_cache (
	url        TEXT PRIMARY KEY,
	wkb        BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
)`

// SQLiteCache persists boundaries in a local SQLite file across runs.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// OpenSQLiteCache opens (creating if needed) the cache database at path.
// Entries older than ttl are treated as misses; a zero ttl never expires.
func OpenSQLiteCache(ctx context.Context, path string, ttl time.Duration) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}

	return &SQLiteCache{db: db, ttl: ttl, now: time.Now}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (orb.MultiPolygon, bool, error) {
	var (
		data      []byte
		fetchedAt int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT wkb, fetched_at FROM geometry_cache WHERE url = ?`, key,
	).Scan(&data, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}

	if c.ttl > 0 && c.now().Sub(time.Unix(fetchedAt, 0)) > c.ttl {
		return nil, false, nil
	}

	g, err := decodeGeometry(data)
	if err != nil {
		return nil, false, err
	}
	return g, true, nil
}

func (c *SQLiteCache) Put(ctx context.Context, key string, g orb.MultiPolygon) error {
	data, err := encodeGeometry(g)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO geometry_cache (url, wkb, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET wkb = excluded.wkb, fetched_at = excluded.fetched_at`,
		key, data, c.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
