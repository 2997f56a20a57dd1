package syncer

import (
	"sort"

	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

// ReconcileThreads merges a polled thread list with locally written
// threads. An overlay entry survives until the server returns the same id
// with an updatedAt at least as new; until then it shadows the server's
// copy. The merged view is ordered newest updatedAt first.
func ReconcileThreads(server, overlay []models.Thread) (merged, pending []models.Thread) {
	byID := make(map[string]int, len(server))
	merged = make([]models.Thread, 0, len(server)+len(overlay))
	for _, th := range server {
		byID[th.ID] = len(merged)
		merged = append(merged, th)
	}
	for _, local := range overlay {
		i, ok := byID[local.ID]
		if ok && merged[i].UpdatedAt >= local.UpdatedAt {
			continue
		}
		pending = append(pending, local)
		if ok {
			merged[i] = local
			continue
		}
		byID[local.ID] = len(merged)
		merged = append(merged, local)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].UpdatedAt > merged[j].UpdatedAt
	})
	return merged, pending
}

// DropVanished removes overlay threads that the previous poll listed and
// the current one does not: the thread was deleted on the server, so the
// local copy must not outlive it. Threads the server never listed are
// kept, since they may be local writes the server has not served yet.
func DropVanished(previous, current, overlay []models.Thread) []models.Thread {
	if len(overlay) == 0 || len(previous) == 0 {
		return overlay
	}
	listed := make(map[string]bool, len(current))
	for _, th := range current {
		listed[th.ID] = true
	}
	gone := make(map[string]bool)
	for _, th := range previous {
		if !listed[th.ID] {
			gone[th.ID] = true
		}
	}
	if len(gone) == 0 {
		return overlay
	}
	kept := overlay[:0:0]
	for _, th := range overlay {
		if !gone[th.ID] {
			kept = append(kept, th)
		}
	}
	return kept
}

// ReconcileMessages merges a polled message page with locally sent
// messages. An overlay message survives until its id shows up in the
// page. When the page is truncated (hasMore) an overlay message older
// than the page's oldest entry belongs to history the page does not
// cover and is dropped. The merged view is in timestamp order.
func ReconcileMessages(server []models.Message, hasMore bool, overlay []models.Message) (merged, pending []models.Message) {
	seen := make(map[string]bool, len(server))
	for _, m := range server {
		seen[m.ID] = true
	}
	var oldest int64
	if hasMore && len(server) > 0 {
		oldest = server[0].Timestamp
	}
	merged = make([]models.Message, 0, len(server)+len(overlay))
	merged = append(merged, server...)
	for _, local := range overlay {
		if seen[local.ID] {
			continue
		}
		if hasMore && local.Timestamp < oldest {
			continue
		}
		seen[local.ID] = true
		pending = append(pending, local)
		merged = append(merged, local)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Seq < merged[j].Seq
	})
	return merged, pending
}
