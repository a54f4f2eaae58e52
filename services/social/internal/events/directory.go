// Package events answers whether an academy event exists. Events are owned
// by the scheduling side of the platform; this service only reads them.
package events

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reports event existence.
type Directory interface {
	Exists(ctx context.Context, eventID int64) (bool, error)
}

// MemoryDirectory is a fixed set of known events.
type MemoryDirectory struct {
	mu  sync.RWMutex
	ids map[int64]struct{}
}

func NewMemoryDirectory(ids ...int64) *MemoryDirectory {
	d := &MemoryDirectory{ids: make(map[int64]struct{}, len(ids))}
	d.Add(ids...)
	return d
}

func (d *MemoryDirectory) Add(ids ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range ids {
		d.ids[id] = struct{}{}
	}
}

func (d *MemoryDirectory) Exists(_ context.Context, eventID int64) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.ids[eventID]
	return ok, nil
}

// PostgresDirectory reads the shared events table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (d *PostgresDirectory) Exists(ctx context.Context, eventID int64) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE event_id = $1)`, eventID).Scan(&exists)
	return exists, err
}
