package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaakkos/sharedstore/internal/domain"
)

type fakeAccounts struct {
	status domain.AccountStatus
	err    error
	calls  atomic.Int32
}

func (f *fakeAccounts) AccountStatus(context.Context) (domain.AccountStatus, error) {
	f.calls.Add(1)
	return f.status, f.err
}

// fakeEngine is a SyncEngine whose runs can be held open and made to import records.
type fakeEngine struct {
	mu        sync.Mutex
	running   int
	maxActive int
	runs      int
	subs      int
	erased    int
	onUpdate  func()

	block   chan struct{} // when non-nil, runs wait on it (or ctx)
	started chan struct{}
	imports []domain.Record
	err     error
}

func (e *fakeEngine) Synchronize(ctx context.Context, d ChangeDelegate) error {
	e.mu.Lock()
	e.runs++
	e.running++
	if e.running > e.maxActive {
		e.maxActive = e.running
	}
	block, started, imports, err := e.block, e.started, e.imports, e.err
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running--
		e.mu.Unlock()
	}()

	if started != nil {
		started <- struct{}{}
	}
	if err := d.PersistLocalChanges(ctx); err != nil {
		return err
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(imports) > 0 {
		staging := &StoreContext{inserts: map[string]domain.Record{}, deletes: map[string]time.Time{}}
		for _, r := range imports {
			staging.InsertRecord(r)
		}
		if err := d.ApplyImportedChanges(ctx, staging); err != nil {
			return err
		}
	}
	return err
}

func (e *fakeEngine) SubscribeForUpdates(_ context.Context, onUpdate func()) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs++
	e.onUpdate = onUpdate
	return nil
}

func (e *fakeEngine) EraseRemoteAndLocalData(context.Context, ChangeDelegate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.erased++
	return nil
}

func (e *fakeEngine) stats() (runs, maxActive, subs int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs, e.maxActive, e.subs
}

// recordingDelegate is a ChangeDelegate that counts calls.
type recordingDelegate struct {
	persists atomic.Int32
	imports  atomic.Int32
}

func (d *recordingDelegate) PersistLocalChanges(context.Context) error {
	d.persists.Add(1)
	return nil
}

func (d *recordingDelegate) ApplyImportedChanges(context.Context, *StoreContext) error {
	d.imports.Add(1)
	return nil
}

type coordinatorFixture struct {
	accounts  *fakeAccounts
	engine    *fakeEngine
	built     atomic.Int32
	delegate  *recordingDelegate
	publisher *countingPublisher
	errs      *ErrorChannel
	coord     *SyncCoordinator
}

func newCoordinatorFixture(status domain.AccountStatus) *coordinatorFixture {
	f := &coordinatorFixture{
		accounts:  &fakeAccounts{status: status},
		engine:    &fakeEngine{},
		delegate:  &recordingDelegate{},
		publisher: &countingPublisher{},
		errs:      NewErrorChannel(16),
	}
	factory := func(SyncEngineConfig) (SyncEngine, error) {
		f.built.Add(1)
		return f.engine, nil
	}
	f.coord = NewSyncCoordinator(f.accounts, factory, SyncEngineConfig{ContainerID: "test"}, f.delegate, nil,
		WithPublisher(f.publisher), WithErrorChannel(f.errs))
	return f
}

func TestSyncCoordinator_SetupWithoutAccount(t *testing.T) {
	t.Parallel()
	for _, status := range []domain.AccountStatus{
		domain.AccountNoAccount,
		domain.AccountRestricted,
		domain.AccountIndeterminate,
	} {
		t.Run(string(status), func(t *testing.T) {
			t.Parallel()
			f := newCoordinatorFixture(status)

			f.coord.Setup(context.Background(), domain.RoleApplication)

			if n := f.built.Load(); n != 0 {
				t.Errorf("sync engine built %d times, want 0", n)
			}
			if f.coord.Ready() {
				t.Error("Ready() = true without an account")
			}
			if got := f.coord.Phase(); got != domain.PhaseUninitialized {
				t.Errorf("Phase() = %s, want uninitialized", got)
			}
			if err := <-f.errs.C(); !errors.Is(err, ErrAccountUnavailable) {
				t.Errorf("reported %v, want ErrAccountUnavailable", err)
			}

			// Synchronize afterwards is a safe no-op.
			if err := f.coord.Synchronize(context.Background()); err != nil {
				t.Fatalf("Synchronize: %v", err)
			}
			if runs, _, _ := f.engine.stats(); runs != 0 {
				t.Errorf("engine runs = %d, want 0", runs)
			}
			if n := f.publisher.count(); n != 0 {
				t.Errorf("publishes = %d, want 0", n)
			}
		})
	}
}

func TestSyncCoordinator_SetupAccountError(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.accounts.err = errors.New("network down")

	f.coord.Setup(context.Background(), domain.RoleApplication)

	if n := f.built.Load(); n != 0 {
		t.Errorf("sync engine built %d times, want 0", n)
	}
	if err := <-f.errs.C(); !errors.Is(err, ErrAccountUnavailable) {
		t.Errorf("reported %v, want ErrAccountUnavailable", err)
	}
}

func TestSyncCoordinator_SetupApplication(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)

	f.coord.Setup(context.Background(), domain.RoleApplication)

	if n := f.built.Load(); n != 1 {
		t.Errorf("sync engine built %d times, want 1", n)
	}
	if !f.coord.Ready() || f.coord.Phase() != domain.PhaseIdle {
		t.Errorf("Ready() = %v, Phase() = %s, want true/idle", f.coord.Ready(), f.coord.Phase())
	}
	runs, _, subs := f.engine.stats()
	if runs != 1 {
		t.Errorf("runs = %d, want 1 (setup runs a first synchronize)", runs)
	}
	if subs != 1 {
		t.Errorf("subscriptions = %d, want 1 (application registers for updates)", subs)
	}
	if n := f.delegate.persists.Load(); n != 1 {
		t.Errorf("persists = %d, want 1", n)
	}
}

func TestSyncCoordinator_SetupExtensionDoesNotRegister(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)

	f.coord.Setup(context.Background(), domain.RoleExtension)
	f.coord.RegisterForUpdates(context.Background())

	runs, _, subs := f.engine.stats()
	if runs != 1 {
		t.Errorf("runs = %d, want 1", runs)
	}
	if subs != 0 {
		t.Errorf("subscriptions = %d, extension never registers for updates", subs)
	}
}

func TestSyncCoordinator_SetupTwiceBuildsOnce(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)

	f.coord.Setup(context.Background(), domain.RoleExtension)
	f.coord.Setup(context.Background(), domain.RoleExtension)

	if n := f.built.Load(); n != 1 {
		t.Errorf("sync engine built %d times, want 1", n)
	}
	if runs, _, _ := f.engine.stats(); runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

func TestSyncCoordinator_SetupFactoryFailure(t *testing.T) {
	t.Parallel()
	errs := NewErrorChannel(4)
	factory := func(SyncEngineConfig) (SyncEngine, error) { return nil, errors.New("bad container") }
	c := NewSyncCoordinator(&fakeAccounts{status: domain.AccountAvailable}, factory, SyncEngineConfig{}, &recordingDelegate{}, nil,
		WithErrorChannel(errs))

	c.Setup(context.Background(), domain.RoleApplication)

	if c.Ready() {
		t.Error("Ready() = true after factory failure")
	}
	var op *OpError
	if err := <-errs.C(); !errors.As(err, &op) || op.Kind != FailureRemoteSync {
		t.Errorf("reported %v, want remote-sync failure", err)
	}
}

func TestSyncCoordinator_SupersedeCancelsInFlight(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.coord.Setup(context.Background(), domain.RoleExtension)

	f.engine.mu.Lock()
	f.engine.block = make(chan struct{})
	f.engine.started = make(chan struct{}, 4)
	f.engine.mu.Unlock()

	firstErr := make(chan error, 1)
	go func() { firstErr <- f.coord.Synchronize(context.Background()) }()
	<-f.engine.started
	if got := f.coord.Phase(); got != domain.PhaseSyncing {
		t.Errorf("Phase() = %s, want syncing", got)
	}

	// Second run: unblocked engine so it completes once the first unwinds.
	f.engine.mu.Lock()
	f.engine.block = nil
	f.engine.mu.Unlock()
	if err := f.coord.Synchronize(context.Background()); err != nil {
		t.Fatalf("second Synchronize: %v", err)
	}
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("first run returned %v, want context.Canceled", err)
	}
	if got := f.coord.Phase(); got != domain.PhaseIdle {
		t.Errorf("Phase() = %s, want idle", got)
	}
	if _, maxActive, _ := f.engine.stats(); maxActive != 1 {
		t.Errorf("max concurrent engine runs = %d, want 1", maxActive)
	}

	var cancelled *OpError
	for len(f.errs.C()) > 0 {
		err := <-f.errs.C()
		var op *OpError
		if errors.As(err, &op) && op.Kind == FailureCancelled {
			cancelled = op
		}
	}
	if cancelled == nil {
		t.Error("superseded run was not reported as cancelled")
	}
}

func TestSyncCoordinator_BurstEndsIdleOnce(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.coord.Setup(context.Background(), domain.RoleExtension)

	var idles atomic.Int32
	f.coord.mu.Lock()
	f.coord.onIdle = func() { idles.Add(1) }
	startGen := f.coord.gen
	f.coord.mu.Unlock()

	block := make(chan struct{})
	f.engine.mu.Lock()
	f.engine.block = block
	f.engine.started = make(chan struct{}, 16)
	f.engine.mu.Unlock()

	const burst = 8
	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.coord.Synchronize(context.Background()) == nil {
				succeeded.Add(1)
			}
		}()
	}

	// Release the engine only once every call of the burst has superseded
	// its predecessor.
	deadline := time.Now().Add(5 * time.Second)
	for {
		f.coord.mu.Lock()
		gen := f.coord.gen
		f.coord.mu.Unlock()
		if gen == startGen+burst {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("burst did not start: gen = %d", gen)
		}
		time.Sleep(time.Millisecond)
	}
	close(block)
	wg.Wait()

	if n := idles.Load(); n != 1 {
		t.Errorf("syncing -> idle transitions = %d, want exactly 1", n)
	}
	if n := succeeded.Load(); n != 1 {
		t.Errorf("completed runs = %d, want 1 (the rest are superseded)", n)
	}
	if got := f.coord.Phase(); got != domain.PhaseIdle {
		t.Errorf("Phase() = %s, want idle", got)
	}
	if _, maxActive, _ := f.engine.stats(); maxActive != 1 {
		t.Errorf("max concurrent engine runs = %d, want 1", maxActive)
	}
}

// lateSaveEngine asks for a local save only after its run was cancelled.
type lateSaveEngine struct {
	started chan struct{}
	saveErr chan error
}

func (e *lateSaveEngine) Synchronize(ctx context.Context, d ChangeDelegate) error {
	close(e.started)
	<-ctx.Done()
	e.saveErr <- d.PersistLocalChanges(ctx)
	return ctx.Err()
}

func (e *lateSaveEngine) SubscribeForUpdates(context.Context, func()) error { return nil }

func (e *lateSaveEngine) EraseRemoteAndLocalData(context.Context, ChangeDelegate) error { return nil }

func TestSyncCoordinator_CancelledRunDoesNotCancelLocalSave(t *testing.T) {
	t.Parallel()
	a, eng, _, _ := newTestAccessor(t)
	late := &lateSaveEngine{started: make(chan struct{}), saveErr: make(chan error, 1)}
	c := NewSyncCoordinator(&fakeAccounts{status: domain.AccountAvailable}, nil, SyncEngineConfig{}, a, nil)
	c.engine = late
	c.phase = domain.PhaseIdle

	a.Insert("A")
	runErr := make(chan error, 1)
	go func() { runErr <- c.Synchronize(context.Background()) }()
	<-late.started
	c.Stop()

	if err := <-runErr; !errors.Is(err, context.Canceled) {
		t.Errorf("run returned %v, want context.Canceled", err)
	}
	if err := <-late.saveErr; err != nil {
		t.Errorf("local save after cancellation: %v", err)
	}
	got, _ := eng.FetchAll(context.Background(), domain.KindRecord)
	if n := names(got); len(n) != 1 || n[0] != "A" {
		t.Errorf("persisted = %v, want [A]", n)
	}
}

func TestSyncCoordinator_StopIgnoresLaterUpdates(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.coord.Setup(context.Background(), domain.RoleApplication)

	f.engine.mu.Lock()
	onUpdate := f.engine.onUpdate
	f.engine.mu.Unlock()
	if onUpdate == nil {
		t.Fatal("application did not subscribe for updates")
	}

	f.coord.Stop()
	onUpdate()
	f.coord.updates.Wait()

	if runs, _, _ := f.engine.stats(); runs != 1 {
		t.Errorf("runs = %d, want 1 (update after Stop ignored)", runs)
	}
}

func TestSyncCoordinator_PublishesOnlyWhenImported(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.coord.Setup(context.Background(), domain.RoleExtension)
	if n := f.publisher.count(); n != 0 {
		t.Errorf("publishes = %d, nothing imported, nothing published", n)
	}

	f.engine.mu.Lock()
	f.engine.imports = []domain.Record{{ID: "r1", Name: "remote"}}
	f.engine.mu.Unlock()

	if err := f.coord.Synchronize(context.Background()); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if n := f.publisher.count(); n != 1 {
		t.Errorf("publishes = %d, want 1", n)
	}
	if n := f.delegate.imports.Load(); n != 1 {
		t.Errorf("imports = %d, want 1", n)
	}
}

func TestSyncCoordinator_FailureReportedWithoutPublish(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.coord.Setup(context.Background(), domain.RoleExtension)

	f.engine.mu.Lock()
	f.engine.err = errors.New("remote unreachable")
	f.engine.mu.Unlock()

	if err := f.coord.Synchronize(context.Background()); err == nil {
		t.Fatal("Synchronize: want error")
	}
	if n := f.publisher.count(); n != 0 {
		t.Errorf("publishes = %d, want 0", n)
	}
	if got := f.coord.Phase(); got != domain.PhaseIdle {
		t.Errorf("Phase() = %s, want idle", got)
	}
	var op *OpError
	if err := <-f.errs.C(); !errors.As(err, &op) || op.Kind != FailureRemoteSync {
		t.Errorf("reported %v, want remote-sync failure", err)
	}
}

func TestSyncCoordinator_UpdateNotificationTriggersSync(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	f.coord.Setup(context.Background(), domain.RoleApplication)

	f.engine.mu.Lock()
	onUpdate := f.engine.onUpdate
	f.engine.mu.Unlock()
	if onUpdate == nil {
		t.Fatal("application did not subscribe for updates")
	}

	onUpdate()
	f.coord.updates.Wait()

	if runs, _, _ := f.engine.stats(); runs != 2 {
		t.Errorf("runs = %d, want 2", runs)
	}
}

func TestSyncCoordinator_Erase(t *testing.T) {
	t.Parallel()
	f := newCoordinatorFixture(domain.AccountAvailable)
	if err := f.coord.Erase(context.Background()); err != nil {
		t.Fatalf("erase before setup should be a no-op, got %v", err)
	}
	if n := f.publisher.count(); n != 0 {
		t.Errorf("publishes = %d, want 0", n)
	}

	f.coord.Setup(context.Background(), domain.RoleExtension)
	if err := f.coord.Erase(context.Background()); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	f.engine.mu.Lock()
	erased := f.engine.erased
	f.engine.mu.Unlock()
	if erased != 1 {
		t.Errorf("erased = %d, want 1", erased)
	}
	if n := f.publisher.count(); n != 1 {
		t.Errorf("publishes = %d, want 1", n)
	}
	if got := f.coord.Phase(); got != domain.PhaseIdle {
		t.Errorf("Phase() = %s, want idle", got)
	}
}

func TestSyncCoordinator_AccountCheckTimeout(t *testing.T) {
	t.Parallel()
	slow := accountFunc(func(ctx context.Context) (domain.AccountStatus, error) {
		<-ctx.Done()
		return domain.AccountIndeterminate, ctx.Err()
	})
	var built atomic.Bool
	factory := func(SyncEngineConfig) (SyncEngine, error) { built.Store(true); return &fakeEngine{}, nil }
	c := NewSyncCoordinator(slow, factory, SyncEngineConfig{}, &recordingDelegate{}, nil,
		WithAccountCheckTimeout(20*time.Millisecond))

	c.Setup(context.Background(), domain.RoleApplication)
	if built.Load() {
		t.Error("sync engine built after account check timed out")
	}
}

type accountFunc func(ctx context.Context) (domain.AccountStatus, error)

func (f accountFunc) AccountStatus(ctx context.Context) (domain.AccountStatus, error) { return f(ctx) }
