package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// StoreContext is an in-memory working set over a store. A root context
// commits to a RecordEngine; a staging context (see NewStagingContext) merges
// its changes into its parent on Save.
type StoreContext struct {
	engine RecordEngine
	parent *StoreContext
	now    func() time.Time
	newID  func() string

	// commitMu is held for reading across a fetch (base read plus overlay)
	// and for writing across a save, so a fetch never sees a commit without
	// the pending changes it cleared.
	commitMu sync.RWMutex

	mu      sync.Mutex
	inserts map[string]domain.Record
	deletes map[string]time.Time // zero time: stamped at commit
}

// NewStoreContext returns a root context committing to engine.
func NewStoreContext(engine RecordEngine) *StoreContext {
	return &StoreContext{
		engine:  engine,
		now:     time.Now,
		newID:   uuid.NewString,
		inserts: make(map[string]domain.Record),
		deletes: make(map[string]time.Time),
	}
}

// NewStagingContext returns a child context whose Save merges into c.
func (c *StoreContext) NewStagingContext() *StoreContext {
	return &StoreContext{
		parent:  c,
		now:     c.now,
		newID:   c.newID,
		inserts: make(map[string]domain.Record),
		deletes: make(map[string]time.Time),
	}
}

// Insert creates a record named name and returns it. The record is pending
// until Save.
func (c *StoreContext) Insert(name string) domain.Record {
	rec := domain.Record{
		ID:      c.newID(),
		Kind:    domain.KindRecord,
		Name:    name,
		Created: c.now().UTC(),
	}
	c.InsertRecord(rec)
	return rec
}

// InsertRecord stages rec as-is, keeping its ID. Used for imported records.
func (c *StoreContext) InsertRecord(rec domain.Record) {
	if rec.Kind == "" {
		rec.Kind = domain.KindRecord
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deletes, rec.ID)
	c.inserts[rec.ID] = rec
}

// Delete stages the removal of the record with id. Deleting a record that was
// inserted in this context and never saved simply drops the insert.
func (c *StoreContext) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inserts[id]; ok {
		delete(c.inserts, id)
		return
	}
	c.deletes[id] = time.Time{}
}

// DeleteTombstone stages the removal of t.ID keeping t.Deleted as the
// deletion time. Used for deletions imported from the remote.
func (c *StoreContext) DeleteTombstone(t domain.Tombstone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inserts, t.ID)
	c.deletes[t.ID] = t.Deleted
}

// HasChanges reports whether the context holds unsaved inserts or deletes.
func (c *StoreContext) HasChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inserts) > 0 || len(c.deletes) > 0
}

// Pending returns a copy of the unsaved changes.
func (c *StoreContext) Pending() ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *StoreContext) pendingLocked() ChangeSet {
	var cs ChangeSet
	for _, rec := range c.inserts {
		cs.Inserts = append(cs.Inserts, rec)
	}
	domain.SortRecords(cs.Inserts)
	for id, at := range c.deletes {
		if at.IsZero() {
			cs.Deletes = append(cs.Deletes, id)
		} else {
			cs.Tombstones = append(cs.Tombstones, domain.Tombstone{ID: id, Deleted: at})
		}
	}
	sort.Strings(cs.Deletes)
	sort.Slice(cs.Tombstones, func(i, j int) bool { return cs.Tombstones[i].ID < cs.Tombstones[j].ID })
	return cs
}

// Rollback discards unsaved changes.
func (c *StoreContext) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inserts = make(map[string]domain.Record)
	c.deletes = make(map[string]time.Time)
}

// FetchAll returns the records of kind visible through this context: the
// persisted (or parent) records with pending deletes removed and pending
// inserts added.
func (c *StoreContext) FetchAll(ctx context.Context, kind string) ([]domain.Record, error) {
	c.commitMu.RLock()
	defer c.commitMu.RUnlock()

	var base []domain.Record
	var err error
	if c.parent != nil {
		base, err = c.parent.FetchAll(ctx, kind)
	} else {
		base, err = c.engine.FetchAll(ctx, kind)
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Record, 0, len(base)+len(c.inserts))
	seen := make(map[string]bool, len(base))
	for _, rec := range base {
		if _, gone := c.deletes[rec.ID]; gone {
			continue
		}
		if _, replaced := c.inserts[rec.ID]; replaced {
			continue
		}
		seen[rec.ID] = true
		out = append(out, rec)
	}
	for _, rec := range c.inserts {
		if rec.Kind == kind && !seen[rec.ID] {
			out = append(out, rec)
		}
	}
	domain.SortRecords(out)
	return out, nil
}

// Save persists pending changes. A root context commits them to the engine in
// one transaction; a staging context merges them into its parent. Pending
// changes are kept when the commit fails.
func (c *StoreContext) Save(ctx context.Context) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inserts) == 0 && len(c.deletes) == 0 {
		return nil
	}
	cs := c.pendingLocked()
	if c.parent != nil {
		c.parent.merge(cs)
	} else {
		if c.engine == nil {
			return errors.New("store context has no engine")
		}
		if err := c.engine.Commit(ctx, cs); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	c.inserts = make(map[string]domain.Record)
	c.deletes = make(map[string]time.Time)
	return nil
}

func (c *StoreContext) merge(cs ChangeSet) {
	for _, id := range cs.Deletes {
		c.Delete(id)
	}
	for _, t := range cs.Tombstones {
		c.DeleteTombstone(t)
	}
	for _, rec := range cs.Inserts {
		c.InsertRecord(rec)
	}
}
