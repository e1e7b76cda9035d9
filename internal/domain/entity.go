// Package domain holds the record entities and the small enums shared by the
// store and sync layers. It has no dependencies on other packages.
package domain

import (
	"sort"
	"time"
)

// KindRecord is the entity kind of Record. It is the only kind the store knows.
const KindRecord = "Record"

// Record is a single stored entity.
// Name is the natural key; uniqueness is declared but not enforced.
type Record struct {
	ID      string    `json:"id"` // opaque local identifier assigned by the store context
	Kind    string    `json:"kind"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// Tombstone marks a deleted record so deletions can be propagated by sync.
type Tombstone struct {
	ID      string    `json:"id"`
	Deleted time.Time `json:"deleted"`
}

// Snapshot is the persisted content of the local store at a point in time.
type Snapshot struct {
	Records    []Record    `json:"records"`
	Tombstones []Tombstone `json:"tombstones"`
}

// SortRecords orders records by creation time, then ID.
func SortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].Created.Equal(recs[j].Created) {
			return recs[i].Created.Before(recs[j].Created)
		}
		return recs[i].ID < recs[j].ID
	})
}

// AccountStatus is the availability of the remote backend account.
type AccountStatus string

const (
	AccountAvailable     AccountStatus = "available"
	AccountNoAccount     AccountStatus = "no-account"
	AccountRestricted    AccountStatus = "restricted"
	AccountIndeterminate AccountStatus = "indeterminate"
)

// Role is the kind of process sharing the store.
type Role string

const (
	// RoleApplication is the full application. It owns update registration.
	RoleApplication Role = "application"
	// RoleExtension is a restricted process (e.g. a widget) that shares the store.
	RoleExtension Role = "extension"
)

// ParseRole returns the Role for s, or false if s is not a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleApplication, RoleExtension:
		return Role(s), true
	}
	return "", false
}

// SyncPhase is the state of the sync coordinator.
type SyncPhase string

const (
	PhaseUninitialized SyncPhase = "uninitialized"
	PhaseIdle          SyncPhase = "idle"
	PhaseSyncing       SyncPhase = "syncing"
)
