package urlsession

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cached_responses (
	key       TEXT PRIMARY KEY,
	url       TEXT NOT NULL,
	status    INTEGER NOT NULL,
	proto     TEXT NOT NULL,
	header    TEXT NOT NULL,
	data      BLOB,
	stored_at INTEGER NOT NULL
)`

// SQLiteCache is a disk-backed URLCache. Entries stored with
// StorageAllowedInMemoryOnly are not written.
type SQLiteCache struct {
	db      *sql.DB
	logger  *zap.Logger
	timeout time.Duration
}

// NewSQLiteCache opens or creates the cache database at path.
func NewSQLiteCache(path string, logger *zap.Logger) (*SQLiteCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	// sqlite3 serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}

	return &SQLiteCache{db: db, logger: logger, timeout: 5 * time.Second}, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *SQLiteCache) CachedResponse(req *URLRequest) *CachedURLResponse {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var (
		rawURL   string
		status   int
		proto    string
		header   string
		data     []byte
		storedAt int64
	)
	row := c.db.QueryRowContext(ctx,
		`SELECT url, status, proto, header, data, stored_at FROM cached_responses WHERE key = ?`,
		cacheKey(req))
	if err := row.Scan(&rawURL, &status, &proto, &header, &data, &storedAt); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Warn("cache lookup failed", zap.String("key", cacheKey(req)), zap.Error(err))
		}
		return nil
	}

	h := make(http.Header)
	if err := json.Unmarshal([]byte(header), &h); err != nil {
		c.logger.Warn("corrupt cached header", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}

	return &CachedURLResponse{
		Response: &HTTPURLResponse{
			URL:                   u,
			StatusCode:            status,
			Header:                h,
			Proto:                 proto,
			ExpectedContentLength: int64(len(data)),
		},
		Data:          data,
		StoredAt:      time.Unix(0, storedAt),
		StoragePolicy: StorageAllowed,
	}
}

func (c *SQLiteCache) StoreCachedResponse(cached *CachedURLResponse, req *URLRequest) {
	if cached == nil || cached.StoragePolicy != StorageAllowed {
		return
	}
	header, err := json.Marshal(cached.Response.Header)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cached_responses (key, url, status, proto, header, data, stored_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cacheKey(req), cached.Response.URL.String(), cached.Response.StatusCode, cached.Response.Proto,
		string(header), cached.Data, cached.StoredAt.UnixNano())
	if err != nil {
		c.logger.Warn("cache store failed", zap.String("key", cacheKey(req)), zap.Error(err))
	}
}

func (c *SQLiteCache) RemoveCachedResponse(req *URLRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cached_responses WHERE key = ?`, cacheKey(req)); err != nil {
		c.logger.Warn("cache remove failed", zap.Error(err))
	}
}

func (c *SQLiteCache) RemoveAllCachedResponses() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM cached_responses`); err != nil {
		c.logger.Warn("cache clear failed", zap.Error(err))
	}
}
