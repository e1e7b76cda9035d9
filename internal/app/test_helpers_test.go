package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// memEngine is an in-memory RecordEngine.
type memEngine struct {
	mu        sync.Mutex
	records   map[string]domain.Record
	tombs     map[string]domain.Tombstone
	commits   int
	commitErr error
	fetchErr  error
}

func newMemEngine() *memEngine {
	return &memEngine{records: make(map[string]domain.Record), tombs: make(map[string]domain.Tombstone)}
}

func (m *memEngine) FetchAll(_ context.Context, kind string) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if kind != domain.KindRecord {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	var out []domain.Record
	for _, r := range m.records {
		out = append(out, r)
	}
	domain.SortRecords(out)
	return out, nil
}

func (m *memEngine) Tombstones(context.Context) ([]domain.Tombstone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Tombstone
	for _, t := range m.tombs {
		out = append(out, t)
	}
	return out, nil
}

// Commit fails on a done ctx, like a database transaction would.
func (m *memEngine) Commit(ctx context.Context, cs ChangeSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.commitErr != nil {
		return m.commitErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, r := range cs.Inserts {
		m.records[r.ID] = r
		delete(m.tombs, r.ID)
	}
	for _, id := range cs.Deletes {
		delete(m.records, id)
		m.tombs[id] = domain.Tombstone{ID: id, Deleted: time.Now()}
	}
	for _, t := range cs.Tombstones {
		delete(m.records, t.ID)
		m.tombs[t.ID] = t
	}
	return nil
}

func (m *memEngine) EraseAll(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]domain.Record)
	m.tombs = make(map[string]domain.Tombstone)
	return nil
}

func (m *memEngine) Close() error { return nil }

func (m *memEngine) commitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// countingTrigger records Synchronize calls.
type countingTrigger struct {
	mu    sync.Mutex
	calls int
}

func (c *countingTrigger) Synchronize(context.Context) error {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return nil
}

func (c *countingTrigger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// countingPublisher counts Publish calls.
type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (p *countingPublisher) Publish() {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func names(recs []domain.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Name)
	}
	return out
}
