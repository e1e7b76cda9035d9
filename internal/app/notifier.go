package app

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounceMs   = 200
	defaultPollInterval = 10 * time.Second
)

// SignalWatcher watches the change signal file in the shared directory and
// publishes EventStoreChanged whenever the revision changes. The file holds
// only the latest revision, so a write by this process may hide an earlier
// foreign one; every change is published and observers re-fetch.
type SignalWatcher struct {
	signalPath   string
	publisher    Publisher
	logger       *log.Logger
	debounceMs   int
	pollInterval time.Duration

	mu            sync.Mutex
	lastRev       string
	debounceTimer *time.Timer
	watcher       *fsnotify.Watcher
	useFsnotify   bool
	stopCh        chan struct{}
	doneCh        chan struct{}
	checkMu       sync.Mutex // serializes checkAndPublish between the debounce timer and the poll loop
}

// SignalWatcherOption configures the watcher.
type SignalWatcherOption func(*SignalWatcher)

// WithPollInterval sets the fallback poll interval (default 10s).
func WithPollInterval(d time.Duration) SignalWatcherOption {
	return func(w *SignalWatcher) {
		w.pollInterval = d
	}
}

// WithDebounce sets the delay between a file event and the check.
func WithDebounce(d time.Duration) SignalWatcherOption {
	return func(w *SignalWatcher) {
		w.debounceMs = int(d / time.Millisecond)
	}
}

// NewSignalWatcher creates a watcher for signalPath. The revision present at
// construction time is treated as already seen.
func NewSignalWatcher(signalPath string, publisher Publisher, logger *log.Logger, opts ...SignalWatcherOption) *SignalWatcher {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &SignalWatcher{
		signalPath:   signalPath,
		publisher:    publisher,
		logger:       logger,
		debounceMs:   defaultDebounceMs,
		pollInterval: defaultPollInterval,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.lastRev = w.readRevision()
	return w
}

// Start starts the file watcher and fallback poll. Returns when ctx is cancelled
// or Stop is called. If fsnotify fails to initialize, falls back to poll-only mode.
func (w *SignalWatcher) Start(ctx context.Context) {
	defer close(w.doneCh)

	watchDir := filepath.Dir(w.signalPath)
	signalName := filepath.Base(w.signalPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Printf("SignalWatcher: fsnotify init failed (%v), using poll-only", err)
		w.useFsnotify = false
	} else {
		w.watcher = watcher
		w.useFsnotify = true
		if err := watcher.Add(watchDir); err != nil {
			w.logger.Printf("SignalWatcher: fsnotify add %s failed (%v), using poll-only", watchDir, err)
			_ = watcher.Close()
			w.watcher = nil
			w.useFsnotify = false
		}
	}

	if w.useFsnotify {
		defer w.watcher.Close()
		go w.watchLoop(ctx, signalName)
	}

	w.pollLoop(ctx)
}

// Stop signals the watcher to stop and waits for Start to return.
func (w *SignalWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()
}

// CheckOnce runs one check-and-publish cycle (for testing or manual trigger).
func (w *SignalWatcher) CheckOnce() {
	w.checkAndPublish()
}

func (w *SignalWatcher) watchLoop(ctx context.Context, signalName string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != signalName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.triggerDebounced()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("SignalWatcher: fsnotify error: %v", err)
		}
	}
}

func (w *SignalWatcher) triggerDebounced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(time.Duration(w.debounceMs)*time.Millisecond, func() {
		w.checkAndPublish()
	})
}

func (w *SignalWatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkAndPublish()
		}
	}
}

func (w *SignalWatcher) checkAndPublish() {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	rev := w.readRevision()
	if rev == "" {
		return
	}
	w.mu.Lock()
	if rev == w.lastRev {
		w.mu.Unlock()
		return
	}
	w.lastRev = rev
	w.mu.Unlock()

	w.logger.Printf("store changed by %s", revisionOrigin(rev))
	w.publisher.Publish()
}

func (w *SignalWatcher) readRevision() string {
	data, err := os.ReadFile(w.signalPath)
	if err != nil {
		return ""
	}
	return string(data)
}
