package records

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jaakkos/sharedstore/internal/app"
	"github.com/jaakkos/sharedstore/internal/domain"
)

func TestCreateListDelete(t *testing.T) {
	store := newTestStore(t)
	s := testServer(store, &fakeSyncer{})

	for _, name := range []string{"A", "B"} {
		res, err := callTool(t, s, "create_record", map[string]any{"name": name})
		if err != nil {
			t.Fatalf("create_record %s: %v", name, err)
		}
		if text := resultText(t, res); !strings.Contains(text, `"`+name+`"`) {
			t.Errorf("create_record result = %q", text)
		}
	}

	res, err := callTool(t, s, "list_records", nil)
	if err != nil {
		t.Fatalf("list_records: %v", err)
	}
	text := resultText(t, res)
	if !strings.HasPrefix(text, "2 records (sync: uninitialized)") {
		t.Errorf("list_records = %q", text)
	}
	if strings.Index(text, "- A ") > strings.Index(text, "- B ") {
		t.Errorf("records not in creation order: %q", text)
	}

	recs := store.FetchAll(context.Background(), domain.KindRecord)
	if _, err := callTool(t, s, "delete_record", map[string]any{"id": recs[0].ID}); err != nil {
		t.Fatalf("delete_record: %v", err)
	}
	recs = store.FetchAll(context.Background(), domain.KindRecord)
	if len(recs) != 1 || recs[0].Name != "B" {
		t.Errorf("after delete: %+v, want [B]", recs)
	}
	if store.Context().HasChanges() {
		t.Error("tools should leave no unsaved changes")
	}
}

func TestCreateRecordDefaultName(t *testing.T) {
	store := newTestStore(t)
	s := testServer(store, &fakeSyncer{})

	for i := 0; i < 2; i++ {
		if _, err := callTool(t, s, "create_record", nil); err != nil {
			t.Fatalf("create_record: %v", err)
		}
	}
	recs := store.FetchAll(context.Background(), domain.KindRecord)
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	got := map[string]bool{recs[0].Name: true, recs[1].Name: true}
	if !got["Object: 0"] || !got["Object: 1"] {
		t.Errorf("names = %v, want Object: 0 and Object: 1", got)
	}
}

func TestDeleteRecordErrors(t *testing.T) {
	s := testServer(newTestStore(t), &fakeSyncer{})

	if _, err := callTool(t, s, "delete_record", map[string]any{}); err == nil || !strings.Contains(err.Error(), "id is required") {
		t.Errorf("missing id: err = %v", err)
	}
	if _, err := callTool(t, s, "delete_record", map[string]any{"id": "nope"}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown id: err = %v", err)
	}
}

func TestSynchronizeTool(t *testing.T) {
	syncer := &fakeSyncer{}
	s := testServer(newTestStore(t), syncer)

	res, err := callTool(t, s, "synchronize", nil)
	if err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if text := resultText(t, res); !strings.Contains(text, "disabled") {
		t.Errorf("not ready: %q", text)
	}
	if syncer.syncs != 0 {
		t.Errorf("syncs = %d, want 0 when not ready", syncer.syncs)
	}

	syncer.ready = true
	if _, err := callTool(t, s, "synchronize", nil); err != nil {
		t.Fatalf("synchronize: %v", err)
	}
	if syncer.syncs != 1 {
		t.Errorf("syncs = %d, want 1", syncer.syncs)
	}

	syncer.err = errors.New("remote unreachable")
	if _, err := callTool(t, s, "synchronize", nil); err == nil || !strings.Contains(err.Error(), "remote unreachable") {
		t.Errorf("failing sync: err = %v", err)
	}
}

func TestEraseAllTool(t *testing.T) {
	syncer := &fakeSyncer{ready: true}
	s := testServer(newTestStore(t), syncer)

	if _, err := callTool(t, s, "erase_all", map[string]any{"confirm": false}); err == nil {
		t.Error("erase without confirm should fail")
	}
	if syncer.erases != 0 {
		t.Fatalf("erases = %d, want 0", syncer.erases)
	}
	if _, err := callTool(t, s, "erase_all", map[string]any{"confirm": true}); err != nil {
		t.Fatalf("erase_all: %v", err)
	}
	if syncer.erases != 1 {
		t.Errorf("erases = %d, want 1", syncer.erases)
	}

	syncer.ready = false
	if _, err := callTool(t, s, "erase_all", map[string]any{"confirm": true}); err == nil {
		t.Error("erase without account should fail")
	}
}

func TestToolFilter(t *testing.T) {
	s := testServer(newTestStore(t), &fakeSyncer{}, WithToolFilter(func(name string) bool {
		return name == "list_records"
	}))
	if _, err := callTool(t, s, "list_records", nil); err != nil {
		t.Errorf("list_records: %v", err)
	}
	if _, err := callTool(t, s, "erase_all", map[string]any{"confirm": true}); err == nil {
		t.Error("filtered tool should not be registered")
	}
}

func TestPushStoreChanges(t *testing.T) {
	store := newTestStore(t)
	s := testServer(store, &fakeSyncer{})
	notifier := app.NewChangeNotifier()

	sub := PushStoreChanges(s, notifier, store, discard)
	if notifier.Len() != 1 {
		t.Fatalf("subscriptions = %d, want 1", notifier.Len())
	}
	// No clients connected: publishing must not block or panic.
	notifier.Publish()
	sub.Unsubscribe()
	if notifier.Len() != 0 {
		t.Errorf("subscriptions after unsubscribe = %d, want 0", notifier.Len())
	}
}

func TestArgs(t *testing.T) {
	if _, err := requireString(map[string]any{"id": 3.0}, "id"); err == nil {
		t.Error("non-string id should be rejected")
	}
	if got := optionalString(map[string]any{}, "name", "x"); got != "x" {
		t.Errorf("optionalString fallback = %q", got)
	}
	if !optionalBool(map[string]any{"confirm": true}, "confirm", false) {
		t.Error("optionalBool should read true")
	}
}
