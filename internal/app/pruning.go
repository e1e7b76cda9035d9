package app

import (
	"time"

	"github.com/jaakkos/sharedstore/internal/domain"
)

// PruneTombstones drops tombstones deleted more than maxAge before now.
// Returns the kept tombstones and the number pruned. A maxAge of zero or
// less keeps everything.
func PruneTombstones(tombs []domain.Tombstone, maxAge time.Duration, now time.Time) ([]domain.Tombstone, int) {
	if maxAge <= 0 || len(tombs) == 0 {
		return tombs, 0
	}
	cutoff := now.Add(-maxAge)
	kept := make([]domain.Tombstone, 0, len(tombs))
	for _, t := range tombs {
		if t.Deleted.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept, len(tombs) - len(kept)
}
