// Package app implements the store accessor, change notification and sync
// coordination use cases, and defines the ports they depend on.
package app

import (
	"context"
	"errors"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// ErrUnknownKind is returned by a RecordEngine asked for an entity kind it does not store.
var ErrUnknownKind = errors.New("unknown entity kind")

// ChangeSet is a batch of pending inserts and deletes committed in one transaction.
// Deletes are stamped with the commit time; Tombstones are deletions that
// already carry their time (imported from the remote) and keep it.
type ChangeSet struct {
	Inserts    []domain.Record
	Deletes    []string
	Tombstones []domain.Tombstone
}

// Empty reports whether the change set holds nothing to commit.
func (c ChangeSet) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Deletes) == 0 && len(c.Tombstones) == 0
}

// RecordEngine is the on-disk store shared by every process of the group.
// Implementation: internal/repository/sqlite.
type RecordEngine interface {
	FetchAll(ctx context.Context, kind string) ([]domain.Record, error)
	Tombstones(ctx context.Context) ([]domain.Tombstone, error)
	Commit(ctx context.Context, changes ChangeSet) error
	EraseAll(ctx context.Context) error
	Close() error
}
