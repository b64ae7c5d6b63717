package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ashureev/batteryshell/internal/clock"
	"github.com/ashureev/batteryshell/internal/domain"
)

// SnapshotTimeLayout is the layout of Snapshot.Timestamp.
const SnapshotTimeLayout = time.RFC3339Nano

const defaultListLimit = 50

// SQLiteStore implements Archive using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLite opens (creating if needed) the archive at dbPath.
func NewSQLite(dbPath string, c clock.Clock) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, clock: clock.OrReal(c)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		exported_by TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_kind ON snapshots(kind, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveSnapshot stores snap.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error) {
	if snap.Kind == "" {
		return snap, fmt.Errorf("%w: snapshot kind is required", domain.ErrInvalidInput)
	}
	now := s.clock.Now()
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.Timestamp == "" {
		snap.Timestamp = now.UTC().Format(SnapshotTimeLayout)
	}

	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return snap, fmt.Errorf("%w: encode snapshot payload: %v", domain.ErrInvalidInput, err)
	}

	query := `
	INSERT INTO snapshots (id, kind, timestamp, exported_by, payload_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	err = withRetry(ctx, "save snapshot", func() error {
		_, err := s.db.ExecContext(ctx, query, snap.ID, snap.Kind, snap.Timestamp, snap.ExportedBy, string(payload), now.Unix())
		return err
	})
	if err != nil {
		return snap, fmt.Errorf("insert snapshot: %w", err)
	}
	snap.Payload = json.RawMessage(payload)
	return snap, nil
}

// GetSnapshot retrieves a snapshot by id.
func (s *SQLiteStore) GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error) {
	query := `SELECT id, kind, timestamp, exported_by, payload_json FROM snapshots WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot row: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns up to limit snapshots, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, kind string, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `
		SELECT id, kind, timestamp, exported_by, payload_json
		FROM snapshots WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, timestamp DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, kind, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := []domain.Snapshot{}
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// PruneSnapshots deletes snapshots created before cutoff.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := withRetry(ctx, "prune snapshots", func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE created_at < ?`, cutoff.Unix())
		if err != nil {
			return err
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var payload string
	if err := row.Scan(&snap.ID, &snap.Kind, &snap.Timestamp, &snap.ExportedBy, &payload); err != nil {
		return snap, err
	}
	snap.Payload = json.RawMessage(payload)
	return snap, nil
}
