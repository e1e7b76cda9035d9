// Package records exposes the shared record store as MCP tools.
package records

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/domain"
)

// Store is the part of app.StoreAccessor the tools use.
type Store interface {
	FetchAll(ctx context.Context, kind string) []domain.Record
	Insert(name string) domain.Record
	Delete(id string)
	Save(ctx context.Context)
	NextName(ctx context.Context) string
}

// Syncer is the part of app.SyncCoordinator the tools use.
type Syncer interface {
	Synchronize(ctx context.Context) error
	Erase(ctx context.Context) error
	Phase() domain.SyncPhase
	Ready() bool
}

// RegisterOption configures tool registration.
type RegisterOption func(*registerOpts)

type registerOpts struct {
	enabled func(name string) bool
}

// WithToolFilter registers only the tools for which enabled returns true.
func WithToolFilter(enabled func(name string) bool) RegisterOption {
	return func(o *registerOpts) { o.enabled = enabled }
}

// Register registers the record tools with the mcp-go server.
func Register(s *server.MCPServer, store Store, syncer Syncer, logger *log.Logger, opts ...RegisterOption) {
	o := registerOpts{enabled: func(string) bool { return true }}
	for _, opt := range opts {
		opt(&o)
	}

	tools := []struct {
		name     string
		register func()
	}{
		{"list_records", func() { registerListRecords(s, store, syncer, logger) }},
		{"create_record", func() { registerCreateRecord(s, store, logger) }},
		{"delete_record", func() { registerDeleteRecord(s, store, logger) }},
		{"synchronize", func() { registerSynchronize(s, syncer, logger) }},
		{"erase_all", func() { registerEraseAll(s, syncer, logger) }},
	}
	for _, t := range tools {
		if o.enabled(t.name) {
			t.register()
		}
	}
}

// NotificationStoreChanged is the method of the push sent to clients when
// the store changed outside a tool call.
const NotificationStoreChanged = "notifications/store_changed"

// PushStoreChanges forwards every EventStoreChanged from notifier to all
// connected MCP clients with the current record count. The caller must
// Unsubscribe the returned subscription.
func PushStoreChanges(s *server.MCPServer, notifier *app.ChangeNotifier, store Store, logger *log.Logger) *app.Subscription {
	return notifier.Subscribe(func() {
		n := len(store.FetchAll(context.Background(), domain.KindRecord))
		logger.Printf("store changed, pushing %s (count=%d)", NotificationStoreChanged, n)
		s.SendNotificationToAllClients(NotificationStoreChanged, map[string]any{
			"event": app.EventStoreChanged,
			"count": n,
		})
	})
}
