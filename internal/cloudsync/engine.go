package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/domain"
)

const (
	documentName    = "records.json"
	defaultMaxTries = 4
)

// Engine is the reference app.SyncEngine. Each container id maps to one
// remote document holding every record and tombstone of the store.
type Engine struct {
	container Container
	key       string
	group     string
	local     app.LocalStore
	logger    *log.Logger

	maxTries   uint
	newBackOff func() backoff.BackOff
	retention  time.Duration
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxTries bounds attempts per container call (default 4).
func WithMaxTries(n uint) EngineOption {
	return func(e *Engine) {
		e.maxTries = n
	}
}

// WithBackOff sets the retry policy used between attempts.
func WithBackOff(fn func() backoff.BackOff) EngineOption {
	return func(e *Engine) {
		e.newBackOff = fn
	}
}

// WithTombstoneRetention prunes tombstones older than d from the remote
// document. Zero (the default) keeps them forever.
func WithTombstoneRetention(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.retention = d
	}
}

// NewEngine returns an engine syncing cfg.Local with container.
func NewEngine(container Container, cfg app.SyncEngineConfig, logger *log.Logger, opts ...EngineOption) (*Engine, error) {
	if container == nil {
		return nil, errors.New("cloudsync: no container")
	}
	if cfg.Local == nil {
		return nil, errors.New("cloudsync: no local store")
	}
	if cfg.ContainerID == "" {
		return nil, errors.New("cloudsync: empty container id")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		container: container,
		key:       path.Join(cfg.ContainerID, documentName),
		group:     cfg.GroupID,
		local:     cfg.Local,
		logger:    logger,
		maxTries:  defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Factory returns an app.SyncEngineFactory building engines over container.
func Factory(container Container, logger *log.Logger, opts ...EngineOption) app.SyncEngineFactory {
	return func(cfg app.SyncEngineConfig) (app.SyncEngine, error) {
		return NewEngine(container, cfg, logger, opts...)
	}
}

// Key returns the remote key of the engine's document.
func (e *Engine) Key() string { return e.key }

// Synchronize implements app.SyncEngine.
func (e *Engine) Synchronize(ctx context.Context, delegate app.ChangeDelegate) error {
	if err := delegate.PersistLocalChanges(ctx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	local, err := e.local.Snapshot(ctx)
	if err != nil {
		return err
	}
	remote, err := e.fetch(ctx)
	if err != nil {
		return err
	}
	pruned := e.pruneTombstones(&local, &remote)
	plan := planMerge(local, remote)
	plan.push = plan.push || pruned > 0

	if len(plan.imports) > 0 || len(plan.deletes) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		staging := e.local.NewStagingContext()
		for _, r := range plan.imports {
			staging.InsertRecord(r)
		}
		for _, t := range plan.deletes {
			staging.DeleteTombstone(t)
		}
		e.logger.Printf("sync %s: importing %d records, %d deletions", e.key, len(plan.imports), len(plan.deletes))
		if err := delegate.ApplyImportedChanges(ctx, staging); err != nil {
			return err
		}
	}

	if !plan.push {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	plan.merged.Group = e.group
	data, err := encodeDocument(plan.merged)
	if err != nil {
		return err
	}
	e.logger.Printf("sync %s: pushing %d records, %d tombstones", e.key, len(plan.merged.Records), len(plan.merged.Tombstones))
	return e.retry(ctx, "put", func() error {
		return e.container.Put(ctx, e.key, data)
	})
}

// SubscribeForUpdates implements app.SyncEngine.
func (e *Engine) SubscribeForUpdates(ctx context.Context, onUpdate func()) error {
	return e.container.Watch(ctx, e.key, onUpdate)
}

// EraseRemoteAndLocalData implements app.SyncEngine. The remote document is
// removed before the local store is erased.
func (e *Engine) EraseRemoteAndLocalData(ctx context.Context, _ app.ChangeDelegate) error {
	err := e.retry(ctx, "delete", func() error {
		return e.container.Delete(ctx, e.key)
	})
	if err != nil {
		return err
	}
	return e.local.EraseAll(ctx)
}

// pruneTombstones drops expired tombstones from both sides before merging so
// neither side reintroduces what the other pruned. Returns the number pruned
// from the remote document.
func (e *Engine) pruneTombstones(local *domain.Snapshot, remote *document) int {
	now := e.now()
	local.Tombstones, _ = app.PruneTombstones(local.Tombstones, e.retention, now)
	var pruned int
	remote.Tombstones, pruned = app.PruneTombstones(remote.Tombstones, e.retention, now)
	if pruned > 0 {
		e.logger.Printf("sync %s: pruning %d expired tombstones", e.key, pruned)
	}
	return pruned
}

func (e *Engine) fetch(ctx context.Context) (document, error) {
	var data []byte
	err := e.retry(ctx, "get", func() error {
		var err error
		data, err = e.container.Get(ctx, e.key)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return document{}, nil
	}
	if err != nil {
		return document{}, err
	}
	doc, err := decodeDocument(data)
	if err != nil {
		return document{}, err
	}
	if doc.Group != "" && e.group != "" && doc.Group != e.group {
		return document{}, fmt.Errorf("%s belongs to group %q, not %q", e.key, doc.Group, e.group)
	}
	return doc, nil
}

// retry runs op until it succeeds, fails permanently or ctx is done.
func (e *Engine) retry(ctx context.Context, name string, op func() error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		e.logger.Printf("%s %s: attempt %d: %v", name, e.key, attempt, err)
		return struct{}{}, err
	}, backoff.WithBackOff(e.newBackOff()), backoff.WithMaxTries(e.maxTries))
	if err != nil {
		return fmt.Errorf("%s %s: %w", name, e.key, err)
	}
	return nil
}

func permanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// compile-time check
var _ app.SyncEngine = (*Engine)(nil)
