// Package dashboard provides a web dashboard and JSON API for monitoring
// the shared store and its sync state.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// StoreSnapshot is the JSON response from /api/state.
type StoreSnapshot struct {
	Timestamp string           `json:"timestamp"`
	Group     string           `json:"group"`
	Role      string           `json:"role"`
	Phase     string           `json:"phase"`
	SyncReady bool             `json:"sync_ready"`
	Count     int              `json:"count"`
	Records   []RecordSnapshot `json:"records"`
}

// RecordSnapshot is a per-record summary.
type RecordSnapshot struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Created string `json:"created"`
	Age     string `json:"age"`
}

// RecordSource is implemented by app.StoreAccessor.
type RecordSource interface {
	FetchAll(ctx context.Context, kind string) []domain.Record
}

// SyncController is implemented by app.SyncCoordinator.
type SyncController interface {
	Synchronize(ctx context.Context) error
	Phase() domain.SyncPhase
	Ready() bool
}

// Handler holds dependencies for dashboard HTTP handlers.
type Handler struct {
	records RecordSource
	sync    SyncController
	group   string
	role    domain.Role
	now     func() time.Time
}

// NewHandler creates a dashboard handler.
func NewHandler(records RecordSource, sync SyncController, group string, role domain.Role) *Handler {
	return &Handler{records: records, sync: sync, group: group, role: role, now: time.Now}
}

// RegisterRoutes adds dashboard routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", h.handleAPIState)
	mux.HandleFunc("/api/sync", h.handleAPISync)
	mux.HandleFunc("/dashboard", h.handleDashboard)
	mux.HandleFunc("/dashboard/", h.handleDashboard)
}

func (h *Handler) handleAPIState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache")

	now := h.now()
	recs := h.records.FetchAll(r.Context(), domain.KindRecord)
	snap := StoreSnapshot{
		Timestamp: now.Format(time.RFC3339),
		Group:     h.group,
		Role:      string(h.role),
		Phase:     string(h.sync.Phase()),
		SyncReady: h.sync.Ready(),
		Count:     len(recs),
		Records:   make([]RecordSnapshot, 0, len(recs)),
	}
	for _, rec := range recs {
		snap.Records = append(snap.Records, RecordSnapshot{
			ID:      rec.ID,
			Name:    rec.Name,
			Created: rec.Created.Format(time.RFC3339),
			Age:     relTime(rec.Created, now),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}

func (h *Handler) handleAPISync(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"error":"POST required"}`))
		return
	}
	if !h.sync.Ready() {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"sync disabled: no remote account available"}`))
		return
	}
	if err := h.sync.Synchronize(r.Context()); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.Write([]byte(`{"status":"ok","message":"Sync complete"}`))
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return strconv.Itoa(int(d.Seconds())) + "s ago"
	case d < time.Hour:
		return strconv.Itoa(int(d.Minutes())) + "m ago"
	case d < 24*time.Hour:
		return strconv.Itoa(int(d.Hours())) + "h ago"
	default:
		return t.Format("Jan 2 15:04")
	}
}
