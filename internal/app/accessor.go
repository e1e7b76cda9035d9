package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// SyncTrigger is something that can be asked to synchronize after a save
// (e.g. *SyncCoordinator).
type SyncTrigger interface {
	Synchronize(ctx context.Context) error
}

// StoreAccessor owns the process's root StoreContext over the shared store.
// Local I/O failures are logged and reported on the error channel but never
// returned: fetches degrade to "no data" and saves to "nothing happened".
//
// StoreAccessor is also the ChangeDelegate handed to the sync engine and the
// LocalStore the engine reads from.
type StoreAccessor struct {
	engine     RecordEngine
	local      *StoreContext
	signalPath string
	origin     string
	logger     *log.Logger
	errs       *ErrorChannel

	mu      sync.Mutex
	trigger SyncTrigger // optional; set via SetSyncTrigger after construction
	syncs   sync.WaitGroup
}

// NewStoreAccessor returns an accessor over engine. signalPath may be empty to
// disable cross-process change signals; errs may be nil.
func NewStoreAccessor(engine RecordEngine, signalPath string, logger *log.Logger, errs *ErrorChannel) *StoreAccessor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &StoreAccessor{
		engine:     engine,
		local:      NewStoreContext(engine),
		signalPath: signalPath,
		origin:     NewOrigin(),
		logger:     logger,
		errs:       errs,
	}
}

// SetSyncTrigger attaches the trigger poked after every successful Save.
func (a *StoreAccessor) SetSyncTrigger(t SyncTrigger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.trigger = t
}

// Origin identifies this accessor's writes in the change signal.
func (a *StoreAccessor) Origin() string { return a.origin }

// Context returns the process's root store context.
func (a *StoreAccessor) Context() *StoreContext { return a.local }

// Insert stages a new record named name.
func (a *StoreAccessor) Insert(name string) domain.Record {
	return a.local.Insert(name)
}

// Delete stages the removal of the record with id.
func (a *StoreAccessor) Delete(id string) {
	a.local.Delete(id)
}

// NextName returns the default name for a new record, "Object: <count>".
func (a *StoreAccessor) NextName(ctx context.Context) string {
	return fmt.Sprintf("Object: %d", len(a.FetchAll(ctx, domain.KindRecord)))
}

// FetchAll returns every record of kind visible to this process. On failure
// the error is logged and reported, and nil is returned.
func (a *StoreAccessor) FetchAll(ctx context.Context, kind string) []domain.Record {
	recs, err := a.local.FetchAll(ctx, kind)
	if err != nil {
		a.logger.Printf("fetch %s: %v", kind, err)
		a.errs.Report(&OpError{Op: "fetch", Kind: FailureLocalIO, Err: err})
		return nil
	}
	return recs
}

// Save persists pending changes if there are any. On success it signals other
// processes and triggers a synchronize in the background; on failure the
// error is logged and reported and the pending changes are kept.
func (a *StoreAccessor) Save(ctx context.Context) {
	if !a.local.HasChanges() {
		return
	}
	a.logger.Printf("Saving and syncing")
	if err := a.local.Save(context.WithoutCancel(ctx)); err != nil {
		a.logger.Printf("save: %v", err)
		a.errs.Report(&OpError{Op: "save", Kind: FailureLocalIO, Err: err})
		return
	}
	a.signal()

	a.mu.Lock()
	trigger := a.trigger
	a.mu.Unlock()
	if trigger == nil {
		a.logger.Printf("not syncing, disabled")
		return
	}
	a.syncs.Add(1)
	go func() {
		defer a.syncs.Done()
		// Superseded and failed runs are already logged by the trigger.
		_ = trigger.Synchronize(context.WithoutCancel(ctx))
	}()
}

// Wait blocks until every synchronize triggered by Save has returned.
func (a *StoreAccessor) Wait() {
	a.syncs.Wait()
}

// PersistLocalChanges saves the local context on behalf of the sync engine.
// It does not trigger another sync. The save is not cancelled with ctx: once
// started, a local save always completes.
func (a *StoreAccessor) PersistLocalChanges(ctx context.Context) error {
	a.logger.Printf("context save requested")
	if err := a.local.Save(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("persist local changes: %w", err)
	}
	a.signal()
	return nil
}

// ApplyImportedChanges saves staging (a child of the local context holding
// changes imported from the remote) and then the local context, in that order.
// Like PersistLocalChanges, the saves run to completion even if ctx is cancelled.
func (a *StoreAccessor) ApplyImportedChanges(ctx context.Context, staging *StoreContext) error {
	a.logger.Printf("changes imported from remote")
	if staging == nil {
		a.logger.Printf("ApplyImportedChanges called without a staging context")
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	if err := staging.Save(ctx); err != nil {
		return fmt.Errorf("save staging context: %w", err)
	}
	if err := a.local.Save(ctx); err != nil {
		return fmt.Errorf("save local context: %w", err)
	}
	a.signal()
	return nil
}

// NewStagingContext returns a child of the local context for imported changes.
func (a *StoreAccessor) NewStagingContext() *StoreContext {
	return a.local.NewStagingContext()
}

// Snapshot returns the persisted records and tombstones.
func (a *StoreAccessor) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	recs, err := a.engine.FetchAll(ctx, domain.KindRecord)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot records: %w", err)
	}
	tombs, err := a.engine.Tombstones(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("snapshot tombstones: %w", err)
	}
	return domain.Snapshot{Records: recs, Tombstones: tombs}, nil
}

// EraseAll discards pending changes and removes every persisted record and tombstone.
func (a *StoreAccessor) EraseAll(ctx context.Context) error {
	a.local.Rollback()
	if err := a.engine.EraseAll(ctx); err != nil {
		return fmt.Errorf("erase local store: %w", err)
	}
	a.signal()
	return nil
}

func (a *StoreAccessor) signal() {
	if err := TouchChangeSignal(a.signalPath, a.origin); err != nil {
		a.logger.Printf("touch change signal: %v", err)
	}
}
