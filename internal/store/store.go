// Package store persists exported log and data snapshots.
package store

import (
	"context"
	"time"

	"github.com/ashureev/batteryshell/internal/domain"
)

// Archive stores exported snapshots.
type Archive interface {
	// SaveSnapshot stores snap, assigning an id and timestamp when missing.
	SaveSnapshot(ctx context.Context, snap domain.Snapshot) (domain.Snapshot, error)

	// GetSnapshot returns the snapshot with id, or nil when there is none.
	GetSnapshot(ctx context.Context, id string) (*domain.Snapshot, error)

	// ListSnapshots returns the newest snapshots first. An empty kind matches all.
	ListSnapshots(ctx context.Context, kind string, limit int) ([]domain.Snapshot, error)

	// PruneSnapshots deletes snapshots created before cutoff.
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
