// Package reconcile merges a server page with pending mutations into the
// rows a client renders.
package reconcile

import (
	"epic-issues/internal/pending"
	"epic-issues/internal/store"
)

// Reconcile produces the rendered rows:
//
//  1. page is truncated to pageSize plus the number of pending deletes, so
//     removing them still leaves a full page when the server overscanned;
//  2. issues targeted by a pending delete are removed;
//  3. pending create placeholders are appended;
//  4. every row takes the last pending edit that targets it.
//
// A pageSize of 0 means unpaged and disables truncation. The input slice
// is not modified.
func Reconcile(page []store.Issue, deletes pending.Deletes, edits []pending.Edit, creates []store.Issue, pageSize int) []store.Issue {
	if pageSize > 0 {
		if limit := pageSize + deletes.Len(); len(page) > limit {
			page = page[:limit]
		}
	}

	out := make([]store.Issue, 0, len(page)+len(creates))
	for _, it := range page {
		if deletes.Has(it) {
			continue
		}
		out = append(out, it)
	}
	out = append(out, creates...)

	for i, it := range out {
		if e, ok := lastEdit(edits, it.ID); ok {
			out[i] = e.Changeset.Apply(it)
		}
	}
	return out
}

// Snapshot reconciles page against a pending snapshot.
func Snapshot(page []store.Issue, snap pending.Snapshot, pageSize int) []store.Issue {
	return Reconcile(page, snap.Deletes, snap.Edits, snap.Creates, pageSize)
}

func lastEdit(edits []pending.Edit, id string) (pending.Edit, bool) {
	for i := len(edits) - 1; i >= 0; i-- {
		if edits[i].Targets(id) {
			return edits[i], true
		}
	}
	return pending.Edit{}, false
}

// FillerRows is the number of empty rows that keep a paged table at
// pageSize rows while pending deletes under-fill it.
func FillerRows(pageSize, rendered int) int {
	return max(0, pageSize-rendered)
}
