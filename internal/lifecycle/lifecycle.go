// Package lifecycle wires one process's store, notifier and sync coordinator
// and runs them between Start and Terminate.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/cloudsync"
	"github.com/jaakkos/sharedstore/internal/config"
	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/repository"
)

// Process is the explicit per-process context: everything an observer needs
// to read, edit and sync the shared store.
type Process struct {
	Config      *config.Config
	Role        domain.Role
	Logger      *log.Logger
	Accessor    *app.StoreAccessor
	Notifier    *app.ChangeNotifier
	Coordinator *app.SyncCoordinator
	Errors      *app.ErrorChannel

	engine    app.RecordEngine
	watcher   *app.SignalWatcher
	cancel    context.CancelFunc
	group     *errgroup.Group
	setupDone chan struct{}
	termOnce  sync.Once
	termErr   error
}

type options struct {
	container cloudsync.Container
	accounts  app.AccountService
	factory   app.SyncEngineFactory
	engineOps []cloudsync.EngineOption
}

// Option customizes Start.
type Option func(*options)

// WithContainer replaces the container built from the remote configuration.
func WithContainer(c cloudsync.Container) Option {
	return func(o *options) {
		o.container = c
	}
}

// WithAccountService replaces the account service derived from the container.
func WithAccountService(a app.AccountService) Option {
	return func(o *options) {
		o.accounts = a
	}
}

// WithSyncEngineFactory replaces the reference sync engine.
func WithSyncEngineFactory(f app.SyncEngineFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithEngineOptions passes options to the reference sync engine.
func WithEngineOptions(opts ...cloudsync.EngineOption) Option {
	return func(o *options) {
		o.engineOps = append(o.engineOps, opts...)
	}
}

// NewContainer builds the remote container selected by cfg.Remote.
func NewContainer(cfg *config.Config) (cloudsync.Container, error) {
	switch cfg.Remote.Type {
	case "", config.RemoteDir:
		return cloudsync.NewDirContainer(cfg.RemoteDirPath()), nil
	case config.RemoteMinio:
		return cloudsync.NewMinioContainer(cloudsync.MinioConfig{
			Endpoint:  cfg.Remote.Endpoint,
			Bucket:    cfg.Remote.Bucket,
			AccessKey: cfg.Remote.AccessKey,
			SecretKey: cfg.Remote.SecretKey,
			Region:    cfg.Remote.Region,
			Secure:    cfg.Remote.Secure,
		})
	case config.RemoteNone:
		return cloudsync.NewDirContainer(""), nil
	}
	return nil, fmt.Errorf("unknown remote type %q", cfg.Remote.Type)
}

// Start opens the shared store and wires the process. The store is usable as
// soon as Start returns; the remote account check and first sync run in the
// background (see SetupDone).
func Start(ctx context.Context, cfg *config.Config, role domain.Role, logger *log.Logger, opts ...Option) (*Process, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	engine, err := repository.NewRecordEngine(cfg.StoreFile())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Printf("Store: %s (role %s)", cfg.StoreFile(), role)

	if o.container == nil {
		container, err := NewContainer(cfg)
		if err != nil {
			_ = engine.Close()
			return nil, err
		}
		o.container = container
	}
	if o.accounts == nil {
		o.accounts = cloudsync.NewAccountService(o.container)
	}
	if o.factory == nil {
		engineOps := append([]cloudsync.EngineOption{cloudsync.WithTombstoneRetention(cfg.TombstoneRetention())}, o.engineOps...)
		o.factory = cloudsync.Factory(o.container, logger, engineOps...)
	}

	errs := app.NewErrorChannel(0)
	notifier := app.NewChangeNotifier()
	accessor := app.NewStoreAccessor(engine, cfg.SignalFilePath(), logger, errs)
	coord := app.NewSyncCoordinator(o.accounts, o.factory, app.SyncEngineConfig{
		ContainerID: cfg.ContainerID,
		GroupID:     cfg.GroupID,
		Local:       accessor,
	}, accessor, logger,
		app.WithPublisher(notifier),
		app.WithErrorChannel(errs),
		app.WithAccountCheckTimeout(cfg.AccountCheckTimeout()),
	)
	accessor.SetSyncTrigger(coord)
	watcher := app.NewSignalWatcher(cfg.SignalFilePath(), notifier, logger,
		app.WithPollInterval(cfg.PollInterval()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	p := &Process{
		Config:      cfg,
		Role:        role,
		Logger:      logger,
		Accessor:    accessor,
		Notifier:    notifier,
		Coordinator: coord,
		Errors:      errs,
		engine:      engine,
		watcher:     watcher,
		cancel:      cancel,
		group:       g,
		setupDone:   make(chan struct{}),
	}
	g.Go(func() error {
		watcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		defer close(p.setupDone)
		coord.Setup(gctx, role)
		return nil
	})
	return p, nil
}

// SetupDone is closed once the remote account check, and the first sync if
// the account is available, have finished.
func (p *Process) SetupDone() <-chan struct{} { return p.setupDone }

// WaitSetup blocks until SetupDone or ctx is done.
func (p *Process) WaitSetup(ctx context.Context) error {
	select {
	case <-p.setupDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate flushes pending changes, waits for the syncs they triggered (or
// ctx), stops background work and closes the store. Safe to call more than once.
func (p *Process) Terminate(ctx context.Context) error {
	p.termOnce.Do(func() {
		p.Logger.Printf("Terminating")
		p.Accessor.Save(ctx)

		flushed := make(chan struct{})
		go func() {
			p.Accessor.Wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-ctx.Done():
			p.Logger.Printf("terminate: not waiting for sync: %v", ctx.Err())
		}

		p.cancel()
		p.watcher.Stop()
		p.Coordinator.Stop()
		_ = p.group.Wait()
		<-flushed
		p.termErr = p.engine.Close()
	})
	return p.termErr
}
