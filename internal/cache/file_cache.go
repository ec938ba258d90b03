package cache

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	apperrors "ipocli/internal/errors"
	"ipocli/internal/files"
)

const entryExt = ".json"

// envelope is the on-disk form of one cache entry
type envelope struct {
	Key      string    `json:"key"`
	StoredAt time.Time `json:"stored_at"`
	Checksum string    `json:"checksum"`
	Records  Records   `json:"records"`
}

// FileCache keeps one JSON envelope per key in a directory
type FileCache struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewFileCache creates the cache directory if needed
func NewFileCache(dir string, logger *slog.Logger) (*FileCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewStorageError("failed to create cache directory", err)
	}
	return &FileCache{
		dir:    dir,
		logger: logger.With("component", "file_cache"),
		now:    time.Now,
	}, nil
}

func (c *FileCache) path(key string) string {
	return filepath.Join(c.dir, files.SanitizeName(key)+entryExt)
}

// Get implements Cache
func (c *FileCache) Get(ctx context.Context, key string) (Records, bool) {
	records, err := c.read(key)
	switch {
	case err == nil:
		return records, true
	case errors.Is(err, fs.ErrNotExist):
	case errors.Is(err, errChecksum):
		c.logger.WarnContext(ctx, "cache entry checksum mismatch, treating as miss", "key", key)
	case errors.Is(err, errUnreadable):
		c.logger.WarnContext(ctx, "cache entry unreadable, treating as miss", "key", key, "error", err)
	default:
		c.logger.WarnContext(ctx, "cache read failed", "key", key, "error", err)
	}
	return nil, false
}

var (
	errUnreadable = errors.New("cache entry unreadable")
	errChecksum   = errors.New("cache entry checksum mismatch")
)

// read loads and verifies one entry
func (c *FileCache) read(key string) (Records, error) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errUnreadable, err)
	}

	sum, err := checksum(env.Records)
	if err != nil || sum != env.Checksum {
		return nil, errChecksum
	}

	if env.Records == nil {
		env.Records = Records{}
	}
	return env.Records, nil
}

// Set implements Cache
func (c *FileCache) Set(ctx context.Context, key string, records Records) {
	if err := c.set(key, records); err != nil {
		c.logger.WarnContext(ctx, "cache write failed", "key", key, "error", err)
	}
}

func (c *FileCache) set(key string, records Records) error {
	if records == nil {
		records = Records{}
	}
	sum, err := checksum(records)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{
		Key:      key,
		StoredAt: c.now().UTC(),
		Checksum: sum,
		Records:  records,
	})
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	return files.WriteFileAtomic(c.path(key), data, 0644)
}

// Has implements Cache. Entries Get would reject count as absent.
func (c *FileCache) Has(_ context.Context, key string) bool {
	_, err := c.read(key)
	return err == nil
}

// Delete implements Cache
func (c *FileCache) Delete(_ context.Context, key string) error {
	if err := files.RemoveIfExists(c.path(key)); err != nil {
		return apperrors.NewStorageError("failed to delete cache entry", err).WithContext("key", key)
	}
	return nil
}

// ClearAll implements Cache
func (c *FileCache) ClearAll(ctx context.Context) (int, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range entries {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
			c.logger.WarnContext(ctx, "failed to remove cache entry", "file", name, "error", err)
			continue
		}
		removed++
	}

	c.logger.InfoContext(ctx, "cache cleared", "removed", removed)
	return removed, nil
}

// Stats implements Cache
func (c *FileCache) Stats(_ context.Context) (Stats, error) {
	entries, err := c.entries()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Backend: BackendFile, Entries: len(entries), Location: c.dir}
	for _, name := range entries {
		if info, err := os.Stat(filepath.Join(c.dir, name)); err == nil {
			stats.TotalBytes += info.Size()
		}
	}
	return stats, nil
}

// Close implements Cache
func (c *FileCache) Close() error { return nil }

func (c *FileCache) entries() ([]string, error) {
	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to list cache directory", err)
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entryExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// checksum hashes the compact form of each record
func checksum(records Records) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	for _, r := range records {
		buf.Reset()
		if err := json.Compact(&buf, r); err != nil {
			return "", fmt.Errorf("invalid record: %w", err)
		}
		h.Write(buf.Bytes())
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
