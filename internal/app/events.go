package app

import (
	"sync"
)

// EventStoreChanged is the single event published by ChangeNotifier.
// It carries no payload: observers re-fetch from the store.
const EventStoreChanged = "store changed"

// Publisher announces that the store changed.
type Publisher interface {
	Publish()
}

// ChangeNotifier is a process-local publish/subscribe registry for
// EventStoreChanged. Every Subscribe must be paired with Unsubscribe when the
// observer goes away.
type ChangeNotifier struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func()
}

// NewChangeNotifier returns an empty notifier.
func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{subs: make(map[uint64]func())}
}

// Subscription is a live registration returned by Subscribe.
type Subscription struct {
	n    *ChangeNotifier
	id   uint64
	once sync.Once
}

// Subscribe registers fn to be called on every publish. Handlers run on the
// publisher's goroutine and must not block.
func (n *ChangeNotifier) Subscribe(fn func()) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.subs[n.nextID] = fn
	return &Subscription{n: n, id: n.nextID}
}

// Unsubscribe removes the registration. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.n.mu.Lock()
		delete(s.n.subs, s.id)
		s.n.mu.Unlock()
	})
}

// Publish calls every subscribed handler.
func (n *ChangeNotifier) Publish() {
	n.mu.RLock()
	handlers := make([]func(), 0, len(n.subs))
	for _, fn := range n.subs {
		handlers = append(handlers, fn)
	}
	n.mu.RUnlock()
	for _, fn := range handlers {
		fn()
	}
}

// Len returns the number of live subscriptions.
func (n *ChangeNotifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
