// Package digest computes blake3 content digests and caches them by file identity.
package digest

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/incbuild/internal/logfields"
)

// FileName is the cache database inside the state directory.
const FileName = "digests.db"

// RacyWindow is the timestamp granularity assumed for source filesystems. A file
// whose mtime is this close to the moment it was hashed may have been rewritten
// within the same tick, so its cached digest is not trusted.
const RacyWindow = 2 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS file_digest (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime_ns INTEGER NOT NULL,
	hashed_ns INTEGER NOT NULL,
	digest TEXT NOT NULL
);
`

// Bytes returns the hex blake3-256 digest of data.
func Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader returns the hex blake3-256 digest of everything read from r.
func Reader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File digests the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return Reader(f)
}

type entry struct {
	size   int64
	mtime  int64
	hashed int64
	digest string
}

// matches reports whether e still describes a file of the given size and mtime.
func (e entry) matches(size, mtime int64) bool {
	return e.size == size && e.mtime == mtime && e.hashed-e.mtime > int64(RacyWindow)
}

// Cache maps (path, size, mtime) to a content digest. Lookups hit an in-memory LRU
// first, then the optional sqlite table; misses are computed and written to both.
type Cache struct {
	db     *sql.DB
	mem    *lru.Cache[string, entry]
	logger *slog.Logger

	mu     sync.Mutex
	hits   int
	misses int
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for non-fatal persistence errors.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// DefaultSize is the in-memory entry count.
const DefaultSize = 4096

// Open returns a cache persisted in dir/digests.db. An empty dir keeps the cache in
// memory only.
func Open(dir string, opts ...Option) (*Cache, error) {
	mem, err := lru.New[string, entry](DefaultSize)
	if err != nil {
		return nil, err
	}
	c := &Cache{mem: mem, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if dir == "" {
		return c, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create digest cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("open digest cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init digest cache: %w", err)
	}
	c.db = db
	return c, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Stats returns the hit and miss counts since Open.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *Cache) count(hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hit {
		c.hits++
	} else {
		c.misses++
	}
}

// Digest returns the digest of the file at path described by info.
func (c *Cache) Digest(path string, info fs.FileInfo) (string, error) {
	size, mtime := info.Size(), info.ModTime().UnixNano()

	if e, ok := c.mem.Get(path); ok && e.matches(size, mtime) {
		c.count(true)
		return e.digest, nil
	}
	if c.db != nil {
		var e entry
		err := c.db.QueryRow(
			"SELECT size, mtime_ns, hashed_ns, digest FROM file_digest WHERE path = ?", path,
		).Scan(&e.size, &e.mtime, &e.hashed, &e.digest)
		if err == nil && e.matches(size, mtime) {
			c.mem.Add(path, e)
			c.count(true)
			return e.digest, nil
		}
	}

	c.count(false)
	hashed := time.Now().UnixNano()
	d, err := File(path)
	if err != nil {
		return "", err
	}
	e := entry{size: size, mtime: mtime, hashed: hashed, digest: d}
	c.mem.Add(path, e)
	if c.db != nil {
		if _, err := c.db.Exec(
			`INSERT OR REPLACE INTO file_digest (path, size, mtime_ns, hashed_ns, digest) VALUES (?, ?, ?, ?, ?)`,
			path, size, mtime, hashed, d,
		); err != nil {
			c.logger.Warn("Failed to persist digest", logfields.Path(path), logfields.Error(err))
		}
	}
	return d, nil
}

// Forget drops every entry whose path is not in keep.
func (c *Cache) Forget(keep map[string]bool) error {
	for _, k := range c.mem.Keys() {
		if !keep[k] {
			c.mem.Remove(k)
		}
	}
	if c.db == nil {
		return nil
	}
	rows, err := c.db.Query("SELECT path FROM file_digest")
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return err
		}
		if !keep[p] {
			stale = append(stale, p)
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, p := range stale {
		if _, err := c.db.Exec("DELETE FROM file_digest WHERE path = ?", p); err != nil {
			return err
		}
	}
	return nil
}
