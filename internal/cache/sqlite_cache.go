package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	apperrors "ipocli/internal/errors"
)

const (
	cacheTable  = "cache_entries"
	cacheSchema = `CREATE TABLE IF NOT EXISTS cache_entries (
	key TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	stored_at INTEGER NOT NULL
)`
)

// SQLiteCache keeps every entry as a row of a single table
type SQLiteCache struct {
	db     *sql.DB
	path   string
	sb     sq.StatementBuilderType
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteCache opens (or creates) the database at path
func NewSQLiteCache(path string, logger *slog.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, apperrors.NewStorageError("failed to create cache directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open cache database", err)
	}
	// modernc serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 10000", cacheSchema} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, apperrors.NewStorageError("failed to initialize cache database", err)
		}
	}

	return &SQLiteCache{
		db:     db,
		path:   path,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
		logger: logger.With("component", "sqlite_cache"),
		now:    time.Now,
	}, nil
}

// Get implements Cache
func (c *SQLiteCache) Get(ctx context.Context, key string) (Records, bool) {
	var payload string
	err := c.sb.Select("payload").
		From(cacheTable).
		Where(sq.Eq{"key": key}).
		QueryRowContext(ctx).
		Scan(&payload)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
		}
		return nil, false
	}

	var records Records
	if err := json.Unmarshal([]byte(payload), &records); err != nil {
		c.logger.WarnContext(ctx, "cache entry unreadable, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if records == nil {
		records = Records{}
	}
	return records, true
}

// Set implements Cache
func (c *SQLiteCache) Set(ctx context.Context, key string, records Records) {
	if records == nil {
		records = Records{}
	}
	payload, err := json.Marshal(records)
	if err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
		return
	}

	_, err = c.sb.Insert(cacheTable).
		Columns("key", "payload", "stored_at").
		Values(key, string(payload), c.now().Unix()).
		Suffix("ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, stored_at = excluded.stored_at").
		ExecContext(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

// Has implements Cache. Entries Get would reject count as absent.
func (c *SQLiteCache) Has(ctx context.Context, key string) bool {
	var payload string
	err := c.sb.Select("payload").
		From(cacheTable).
		Where(sq.Eq{"key": key}).
		QueryRowContext(ctx).
		Scan(&payload)
	if err != nil {
		return false
	}
	var records Records
	return json.Unmarshal([]byte(payload), &records) == nil
}

// Delete implements Cache
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.sb.Delete(cacheTable).Where(sq.Eq{"key": key}).ExecContext(ctx); err != nil {
		return apperrors.NewStorageError("failed to delete cache entry", err).WithContext("key", key)
	}
	return nil
}

// ClearAll implements Cache
func (c *SQLiteCache) ClearAll(ctx context.Context) (int, error) {
	res, err := c.sb.Delete(cacheTable).ExecContext(ctx)
	if err != nil {
		return 0, apperrors.NewStorageError("failed to clear cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.NewStorageError("failed to count cleared entries", err)
	}
	c.logger.InfoContext(ctx, "cache cleared", "removed", n)
	return int(n), nil
}

// Stats implements Cache
func (c *SQLiteCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: BackendSQLite, Location: c.path}
	err := c.sb.Select("COUNT(*)", "COALESCE(SUM(LENGTH(payload)), 0)").
		From(cacheTable).
		QueryRowContext(ctx).
		Scan(&stats.Entries, &stats.TotalBytes)
	if err != nil {
		return Stats{}, apperrors.NewStorageError("failed to read cache stats", err)
	}
	return stats, nil
}

// Close implements Cache
func (c *SQLiteCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	return nil
}
