package cloudsync

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jaakkos/sharedstore/internal/domain"
)

const documentVersion = 1

// document is the remote representation of a container's records.
type document struct {
	Version    int                `json:"version"`
	Group      string             `json:"group,omitempty"`
	Records    []domain.Record    `json:"records"`
	Tombstones []domain.Tombstone `json:"tombstones"`
}

func decodeDocument(data []byte) (document, error) {
	var doc document
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("decode remote document: %w", err)
	}
	if doc.Version > documentVersion {
		return document{}, fmt.Errorf("remote document version %d is newer than supported %d", doc.Version, documentVersion)
	}
	return doc, nil
}

func encodeDocument(doc document) ([]byte, error) {
	doc.Version = documentVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode remote document: %w", err)
	}
	return data, nil
}

// mergePlan is the outcome of merging the local snapshot with the remote document.
type mergePlan struct {
	imports []domain.Record // remote records missing locally
	deletes []domain.Tombstone // local records deleted remotely
	merged  document        // what the remote should hold afterwards
	push    bool            // merged differs from the remote document
}

// planMerge merges local and remote. Records are immutable once created, so
// the result is the union of both record sets minus the union of tombstones.
func planMerge(local domain.Snapshot, remote document) mergePlan {
	tombs := make(map[string]domain.Tombstone)
	for _, t := range remote.Tombstones {
		tombs[t.ID] = t
	}
	localTombs := make(map[string]bool, len(local.Tombstones))
	for _, t := range local.Tombstones {
		localTombs[t.ID] = true
		if prev, ok := tombs[t.ID]; !ok || t.Deleted.After(prev.Deleted) {
			tombs[t.ID] = t
		}
	}

	var plan mergePlan
	localIDs := make(map[string]bool, len(local.Records))
	merged := make(map[string]domain.Record)
	for _, r := range local.Records {
		localIDs[r.ID] = true
		if _, gone := tombs[r.ID]; gone {
			plan.deletes = append(plan.deletes, tombs[r.ID])
			continue
		}
		merged[r.ID] = r
	}
	remoteIDs := make(map[string]bool, len(remote.Records))
	for _, r := range remote.Records {
		remoteIDs[r.ID] = true
		if _, gone := tombs[r.ID]; gone {
			continue
		}
		if !localIDs[r.ID] {
			plan.imports = append(plan.imports, r)
		}
		merged[r.ID] = r
	}

	for _, r := range merged {
		plan.merged.Records = append(plan.merged.Records, r)
	}
	domain.SortRecords(plan.merged.Records)
	for _, t := range tombs {
		plan.merged.Tombstones = append(plan.merged.Tombstones, t)
	}
	sortTombstones(plan.merged.Tombstones)
	domain.SortRecords(plan.imports)

	remoteTombs := make(map[string]bool, len(remote.Tombstones))
	for _, t := range remote.Tombstones {
		remoteTombs[t.ID] = true
	}
	plan.push = !sameIDs(remoteIDs, recordIDs(plan.merged.Records)) || !sameIDs(remoteTombs, tombstoneIDs(plan.merged.Tombstones))
	return plan
}

func recordIDs(recs []domain.Record) map[string]bool {
	out := make(map[string]bool, len(recs))
	for _, r := range recs {
		out[r.ID] = true
	}
	return out
}

func tombstoneIDs(tombs []domain.Tombstone) map[string]bool {
	out := make(map[string]bool, len(tombs))
	for _, t := range tombs {
		out[t.ID] = true
	}
	return out
}

func sameIDs(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if !b[id] {
			return false
		}
	}
	return true
}

func sortTombstones(tombs []domain.Tombstone) {
	sort.Slice(tombs, func(i, j int) bool {
		if !tombs[i].Deleted.Equal(tombs[j].Deleted) {
			return tombs[i].Deleted.Before(tombs[j].Deleted)
		}
		return tombs[i].ID < tombs[j].ID
	})
}
