package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite delivery journal: one row per webhook attempt plus the last
// observed block per chain/contract. It is an audit log and is never replayed.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  source_id   TEXT PRIMARY KEY,
  height      INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
  id              TEXT PRIMARY KEY,
  event           TEXT NOT NULL,
  provider        TEXT NOT NULL,
  subscription_id TEXT NOT NULL,
  endpoint        TEXT NOT NULL,
  block_number    INTEGER NOT NULL,
  tx_hash         TEXT NOT NULL,
  log_index       INTEGER NOT NULL,
  outcome         TEXT NOT NULL,
  status_code     INTEGER,
  reason          TEXT,
  duration_ms     INTEGER NOT NULL,
  created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS deliveries_created_at ON deliveries (created_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// UpsertCursor records the latest observed height/hash for a source. Older heights never
// overwrite newer ones, since events are handled concurrently.
func (s *Store) UpsertCursor(ctx context.Context, sourceID string, height uint64, hash string) error {
	return upsertCursor(ctx, s.db, sourceID, height, hash)
}

func upsertCursor(ctx context.Context, db execer, sourceID string, height uint64, hash string) error {
	if sourceID == "" {
		return errors.New("sourceID required")
	}
	_, err := db.ExecContext(ctx, `
INSERT INTO cursors (source_id, height, hash, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(source_id) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=excluded.updated_at
WHERE excluded.height >= cursors.height;
`, sourceID, height, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source.
func (s *Store) GetCursor(ctx context.Context, sourceID string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE source_id = ?;
`, sourceID)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// Cursor is one row of the cursors table.
type Cursor struct {
	SourceID  string
	Height    uint64
	Hash      string
	UpdatedAt time.Time
}

// ListCursors returns every cursor ordered by source.
func (s *Store) ListCursors(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT source_id, height, hash, updated_at FROM cursors ORDER BY source_id;
`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var c Cursor
		if err := rows.Scan(&c.SourceID, &c.Height, &c.Hash, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Delivery is one journaled webhook attempt.
type Delivery struct {
	ID             string
	Event          string
	Provider       string
	SubscriptionID string
	Endpoint       string
	BlockNumber    uint64
	BlockHash      string
	TxHash         string
	LogIndex       uint
	Outcome        string
	StatusCode     int
	Reason         string
	Duration       time.Duration
	CreatedAt      time.Time
}

// RecordDelivery journals a delivery and advances the source cursor in one transaction.
// An empty ID is filled with a random UUID.
func (s *Store) RecordDelivery(ctx context.Context, sourceID string, d Delivery) error {
	if d.Event == "" || d.Outcome == "" {
		return errors.New("event and outcome are required")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO deliveries (id, event, provider, subscription_id, endpoint, block_number, tx_hash,
  log_index, outcome, status_code, reason, duration_ms, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, d.ID, d.Event, d.Provider, d.SubscriptionID, d.Endpoint, d.BlockNumber, d.TxHash,
			d.LogIndex, d.Outcome, nullInt(d.StatusCode), nullString(d.Reason), d.Duration.Milliseconds(), d.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert delivery: %w", err)
		}
		if sourceID == "" {
			return nil
		}
		return upsertCursor(ctx, tx, sourceID, d.BlockNumber, d.BlockHash)
	})
}

// ListDeliveries returns the most recent deliveries, newest first. limit <= 0 returns all.
func (s *Store) ListDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, event, provider, subscription_id, endpoint, block_number, tx_hash, log_index,
  outcome, COALESCE(status_code, 0), COALESCE(reason, ''), duration_ms, created_at
FROM deliveries
ORDER BY created_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var (
			d  Delivery
			ms int64
		)
		if err := rows.Scan(&d.ID, &d.Event, &d.Provider, &d.SubscriptionID, &d.Endpoint, &d.BlockNumber,
			&d.TxHash, &d.LogIndex, &d.Outcome, &d.StatusCode, &d.Reason, &ms, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeliveryStats counts journaled deliveries per outcome.
func (s *Store) DeliveryStats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT outcome, COUNT(*) FROM deliveries GROUP BY outcome;
`)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
