package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/wattflow/wattflow/pkg/types"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrEmptyCardID      = errors.New("cardID cannot be empty")
)

// Database persists the latest snapshot of every card. Only the current
// snapshot is kept, every put overwrites the previous one.
type Database interface {
	PutSnapshot(ctx context.Context, cardID string, s types.States) error
	// GetSnapshot returns ErrSnapshotNotFound if the card has no snapshot.
	GetSnapshot(ctx context.Context, cardID string) (types.States, error)
	ListCards(ctx context.Context) ([]string, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
