// Package postgres delivers page records into Postgres tables.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/campus-crawler/internal/delivery"
)

// DefaultTable receives records when a db:// target names no table.
const DefaultTable = "page_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for page records.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore writes page records into Postgres, one row per record.
type RecordStore struct {
	pool  execCloser
	table string

	mu      sync.Mutex
	ensured map[string]bool
}

var _ delivery.Sink = (*RecordStore)(nil)

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRecordStoreWithPool(pool, table)
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table, ensured: make(map[string]bool)}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates table when it does not exist yet.
func (s *RecordStore) EnsureSchema(ctx context.Context, table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[table] {
		return nil
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	domain TEXT NOT NULL,
	url TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	relevance_score INTEGER NOT NULL,
	depth INTEGER NOT NULL,
	extraction_method TEXT NOT NULL
)`, table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	s.ensured[table] = true
	return nil
}

// Send implements delivery.Sink. Error envelopes carry no rows and are skipped.
func (s *RecordStore) Send(ctx context.Context, target *url.URL, payload delivery.Payload) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if payload.Failure != nil {
		return nil
	}
	table := s.table
	if name := strings.Trim(target.Host+target.Path, "/"); name != "" {
		table = name
	}
	if err := s.EnsureSchema(ctx, table); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	domain,
	url,
	title,
	content,
	captured_at,
	relevance_score,
	depth,
	extraction_method
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, table)
	for _, record := range payload.Records {
		args := []any{
			record.Domain,
			record.URL,
			record.Title,
			record.Content,
			record.Timestamp,
			record.RelevanceScore,
			record.Depth,
			record.ExtractionMethod,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert record %s: %w", record.URL, err)
		}
	}
	return nil
}
