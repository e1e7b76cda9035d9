package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaakkos/sharedstore/internal/domain"
)

const defaultAccountCheckTimeout = 30 * time.Second

// ChangeDelegate is called back by the sync engine during a run.
type ChangeDelegate interface {
	// PersistLocalChanges asks the owner to save its local context.
	PersistLocalChanges(ctx context.Context) error
	// ApplyImportedChanges hands over remote changes staged in a child of the
	// local context. The owner saves staging, then its local context.
	ApplyImportedChanges(ctx context.Context, staging *StoreContext) error
}

// LocalStore is the local store handle a sync engine is bound to.
type LocalStore interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	NewStagingContext() *StoreContext
	EraseAll(ctx context.Context) error
}

// SyncEngine is the connection to the remote backend. Cancelling the context
// passed to a call cancels that operation.
type SyncEngine interface {
	Synchronize(ctx context.Context, delegate ChangeDelegate) error
	// SubscribeForUpdates establishes a remote update subscription and calls
	// onUpdate for each notification until ctx is done. It returns once the
	// subscription is live.
	SubscribeForUpdates(ctx context.Context, onUpdate func()) error
	EraseRemoteAndLocalData(ctx context.Context, delegate ChangeDelegate) error
}

// SyncEngineConfig is what a SyncEngine is constructed with.
type SyncEngineConfig struct {
	ContainerID string
	GroupID     string
	Local       LocalStore
}

// SyncEngineFactory builds the sync engine once the account is known to be available.
type SyncEngineFactory func(cfg SyncEngineConfig) (SyncEngine, error)

// AccountService reports remote account availability.
type AccountService interface {
	AccountStatus(ctx context.Context) (domain.AccountStatus, error)
}

// SyncCoordinator owns the single sync engine of the process and serializes
// runs against it. A new run cancels and supersedes the one in flight; only
// the latest run moves the coordinator back to idle.
type SyncCoordinator struct {
	accounts     AccountService
	factory      SyncEngineFactory
	engineCfg    SyncEngineConfig
	delegate     ChangeDelegate
	publisher    Publisher
	logger       *log.Logger
	errs         *ErrorChannel
	accountCheck time.Duration

	setupMu sync.Mutex // serializes Setup

	mu      sync.Mutex
	engine  SyncEngine
	role    domain.Role
	phase   domain.SyncPhase
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool // set by Stop; no update-triggered syncs start afterwards

	updates sync.WaitGroup // syncs started by remote update notifications
	onIdle  func()         // test hook: called on each syncing -> idle transition
}

// CoordinatorOption configures a SyncCoordinator.
type CoordinatorOption func(*SyncCoordinator)

// WithPublisher sets where EventStoreChanged is published after a run that
// changed the store.
func WithPublisher(p Publisher) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.publisher = p
	}
}

// WithErrorChannel sets where swallowed failures are reported.
func WithErrorChannel(e *ErrorChannel) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.errs = e
	}
}

// WithAccountCheckTimeout bounds the account status query made by Setup.
func WithAccountCheckTimeout(d time.Duration) CoordinatorOption {
	return func(c *SyncCoordinator) {
		c.accountCheck = d
	}
}

// NewSyncCoordinator returns an uninitialized coordinator. The engine is only
// built by Setup once the account is available.
func NewSyncCoordinator(accounts AccountService, factory SyncEngineFactory, engineCfg SyncEngineConfig, delegate ChangeDelegate, logger *log.Logger, opts ...CoordinatorOption) *SyncCoordinator {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &SyncCoordinator{
		accounts:     accounts,
		factory:      factory,
		engineCfg:    engineCfg,
		delegate:     delegate,
		logger:       logger,
		accountCheck: defaultAccountCheckTimeout,
		phase:        domain.PhaseUninitialized,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Phase returns the current coordinator phase.
func (c *SyncCoordinator) Phase() domain.SyncPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Ready reports whether the sync engine has been constructed.
func (c *SyncCoordinator) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine != nil
}

// Setup verifies the remote account and, only if it is available, builds the
// sync engine, runs a first synchronize and, for the application role,
// registers for remote update notifications. Any other account status leaves
// the coordinator uninitialized; nothing is retried.
func (c *SyncCoordinator) Setup(ctx context.Context, role domain.Role) {
	c.setupMu.Lock()
	defer c.setupMu.Unlock()

	if !c.verifyAccount(ctx) {
		return
	}

	c.mu.Lock()
	c.role = role
	if c.engine == nil {
		engine, err := c.factory(c.engineCfg)
		if err != nil {
			c.mu.Unlock()
			c.logger.Printf("sync engine: %v", err)
			c.errs.Report(&OpError{Op: "setup", Kind: FailureRemoteSync, Err: err})
			return
		}
		c.engine = engine
		c.phase = domain.PhaseIdle
	}
	c.mu.Unlock()

	_ = c.Synchronize(ctx)
	if role == domain.RoleApplication {
		c.RegisterForUpdates(ctx)
	}
}

func (c *SyncCoordinator) verifyAccount(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, c.accountCheck)
	defer cancel()

	status, err := c.accounts.AccountStatus(checkCtx)
	if err != nil {
		c.logger.Printf("account status: %v", err)
		status = domain.AccountIndeterminate
	}
	switch status {
	case domain.AccountAvailable:
		c.logger.Printf("Remote account available")
		return true
	case domain.AccountNoAccount:
		c.logger.Printf("No remote account")
	case domain.AccountRestricted:
		c.logger.Printf("Remote account restricted")
	default:
		c.logger.Printf("Unable to determine remote account status")
	}
	c.errs.Report(&OpError{
		Op:   "setup",
		Kind: FailureAccountUnavailable,
		Err:  fmt.Errorf("%w: %s", ErrAccountUnavailable, status),
	})
	return false
}

// Synchronize runs the sync engine, cancelling any run in flight. It is a
// no-op when the engine has not been set up. A run superseded by a later call
// returns context.Canceled.
func (c *SyncCoordinator) Synchronize(ctx context.Context) error {
	return c.run(ctx, "sync", func(ctx context.Context, engine SyncEngine, d *trackingDelegate) error {
		return engine.Synchronize(ctx, d)
	})
}

// Erase removes all remote and local data, superseding any run in flight.
func (c *SyncCoordinator) Erase(ctx context.Context) error {
	return c.run(ctx, "erase", func(ctx context.Context, engine SyncEngine, d *trackingDelegate) error {
		if err := engine.EraseRemoteAndLocalData(ctx, d); err != nil {
			return err
		}
		d.mutated.Store(true)
		return nil
	})
}

// RegisterForUpdates subscribes to remote update notifications; each one
// triggers a Synchronize. Only the application role registers.
func (c *SyncCoordinator) RegisterForUpdates(ctx context.Context) {
	c.mu.Lock()
	engine, role := c.engine, c.role
	c.mu.Unlock()

	if engine == nil {
		c.logger.Printf("not registering for updates, sync disabled")
		return
	}
	if role != domain.RoleApplication {
		c.logger.Printf("not registering for updates in %s role", role)
		return
	}
	err := engine.SubscribeForUpdates(ctx, func() {
		c.logger.Printf("remote update notification received")
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return
		}
		c.updates.Add(1)
		c.mu.Unlock()
		go func() {
			defer c.updates.Done()
			_ = c.Synchronize(ctx)
		}()
	})
	if err != nil {
		c.logger.Printf("subscribe for updates: %v", err)
		c.errs.Report(&OpError{Op: "subscribe", Kind: FailureRemoteSync, Err: err})
		return
	}
	c.logger.Printf("Remote update notifications live")
}

// Stop cancels the run in flight and waits for update-triggered runs to return.
// Update notifications arriving afterwards are ignored.
func (c *SyncCoordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.updates.Wait()
}

type runBody func(ctx context.Context, engine SyncEngine, d *trackingDelegate) error

func (c *SyncCoordinator) run(ctx context.Context, op string, body runBody) error {
	c.mu.Lock()
	engine := c.engine
	if engine == nil {
		c.mu.Unlock()
		c.logger.Printf("%s: not syncing, disabled", op)
		return nil
	}
	if c.cancel != nil {
		c.logger.Printf("%s: cancelling sync in progress", op)
		c.cancel()
	}
	c.gen++
	gen := c.gen
	runCtx, cancel := context.WithCancel(ctx)
	prev := c.done
	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.phase = domain.PhaseSyncing
	c.mu.Unlock()
	defer cancel()

	// The superseded run must unwind before this one reaches the engine.
	if prev != nil {
		<-prev
	}

	d := &trackingDelegate{ChangeDelegate: c.delegate}
	err := runCtx.Err()
	if err == nil {
		err = body(runCtx, engine, d)
	}
	close(done)

	c.mu.Lock()
	idle := c.gen == gen
	if idle {
		c.phase = domain.PhaseIdle
		c.cancel, c.done = nil, nil
	}
	onIdle := c.onIdle
	c.mu.Unlock()
	if idle && onIdle != nil {
		onIdle()
	}

	if d.mutated.Load() && c.publisher != nil {
		c.publisher.Publish()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.logger.Printf("%s cancelled", op)
		} else {
			c.logger.Printf("%s failed: %v", op, err)
		}
		c.errs.Report(syncFailure(op, err))
		return err
	}
	c.logger.Printf("%s complete", op)
	return nil
}

// trackingDelegate records whether a run applied imported changes to the store.
type trackingDelegate struct {
	ChangeDelegate
	mutated atomic.Bool
}

func (d *trackingDelegate) ApplyImportedChanges(ctx context.Context, staging *StoreContext) error {
	if d.ChangeDelegate == nil {
		return errors.New("no change delegate")
	}
	if err := d.ChangeDelegate.ApplyImportedChanges(ctx, staging); err != nil {
		return err
	}
	d.mutated.Store(true)
	return nil
}

func (d *trackingDelegate) PersistLocalChanges(ctx context.Context) error {
	if d.ChangeDelegate == nil {
		return nil
	}
	return d.ChangeDelegate.PersistLocalChanges(ctx)
}
