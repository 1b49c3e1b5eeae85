package reconcile

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epic-issues/internal/config"
	"epic-issues/internal/intent"
	"epic-issues/internal/pending"
	"epic-issues/internal/store"
	"epic-issues/internal/tag"
)

func makePage(n int) []store.Issue {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]store.Issue, n)
	for i := range out {
		out[i] = store.Issue{
			ID:        fmt.Sprintf("id-%d", i+1),
			Project:   "EIT",
			Number:    i + 1,
			Title:     fmt.Sprintf("issue %d", i+1),
			Status:    "todo",
			Priority:  "medium",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
	}
	return out
}

func deletesOf(ids ...string) pending.Deletes {
	d := pending.Deletes{IDs: map[string]struct{}{}}
	for _, id := range ids {
		d.IDs[id] = struct{}{}
	}
	return d
}

func strp(s string) *string { return &s }

func ids(in []store.Issue) []string {
	out := make([]string, len(in))
	for i, it := range in {
		out[i] = it.ID
	}
	return out
}

func TestReconcileIdentity(t *testing.T) {
	page := makePage(10)
	got := Reconcile(page, pending.Deletes{}, nil, nil, 10)
	if diff := cmp.Diff(page, got); diff != "" {
		t.Errorf("identity mismatch (-want +got):\n%s", diff)
	}
}

func TestReconcileDeletion(t *testing.T) {
	page := makePage(10)
	got := Reconcile(page, deletesOf("id-4"), nil, nil, 10)
	assert.Len(t, got, 9)
	assert.NotContains(t, ids(got), "id-4")
	assert.Len(t, page, 10, "input is untouched")
}

func TestReconcileOverscan(t *testing.T) {
	// the server fetched pageSize + 2 rows to absorb two pending deletes
	page := makePage(12)

	got := Reconcile(page, deletesOf("id-1", "id-2"), nil, nil, 10)
	assert.Len(t, got, 10)
	assert.Equal(t, "id-3", got[0].ID)
	assert.Equal(t, "id-12", got[9].ID)

	// without pending deletes the overscan is trimmed back to one page
	got = Reconcile(page, pending.Deletes{}, nil, nil, 10)
	assert.Len(t, got, 10)
	assert.Equal(t, "id-10", got[9].ID)

	// pageSize 0 means unpaged
	got = Reconcile(page, pending.Deletes{}, nil, nil, 0)
	assert.Len(t, got, 12)
}

func TestReconcileUnderfillIsAccepted(t *testing.T) {
	page := makePage(10)
	got := Reconcile(page, deletesOf("id-1", "id-2", "id-3"), nil, nil, 10)
	assert.Len(t, got, 7)
	assert.Equal(t, 3, FillerRows(10, len(got)))
	assert.Equal(t, 0, FillerRows(10, 12))
}

func TestReconcileEditPrecedence(t *testing.T) {
	page := makePage(3)
	edits := []pending.Edit{
		{IssueIDs: []string{"id-2"}, Changeset: store.Changeset{Priority: strp("low")}},
		{IssueIDs: []string{"id-1", "id-2"}, Changeset: store.Changeset{Priority: strp("urgent")}},
		{IssueIDs: []string{"id-3"}, Changeset: store.Changeset{Status: strp("done")}},
	}
	got := Reconcile(page, pending.Deletes{}, edits, nil, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "urgent", got[0].Priority)
	assert.Equal(t, "urgent", got[1].Priority, "last submitted edit wins")
	assert.Equal(t, "medium", got[2].Priority)
	assert.Equal(t, "done", got[2].Status)
	assert.Equal(t, "todo", got[1].Status, "edits are shallow merges")
	assert.Equal(t, "medium", page[0].Priority, "input is untouched")
}

func TestReconcileCreatesAppendedAndEditable(t *testing.T) {
	page := makePage(2)
	creates := []store.Issue{{ID: "tmp-1", Project: "EIT", Title: "new", Status: "todo", Priority: "medium"}}
	edits := []pending.Edit{{IssueIDs: []string{"tmp-1"}, Changeset: store.Changeset{Status: strp("testing")}}}

	got := Reconcile(page, deletesOf("tmp-1-not-it"), edits, creates, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "tmp-1", got[2].ID)
	assert.True(t, got[2].Pending())
	assert.Equal(t, "testing", got[2].Status)
}

func TestReconcileTagDeletes(t *testing.T) {
	page := makePage(5)
	d := pending.Deletes{Tags: map[tag.Tag]struct{}{{Project: "EIT", Number: 5}: {}}}
	got := Reconcile(page, d, nil, nil, 10)
	assert.Equal(t, []string{"id-1", "id-2", "id-3", "id-4"}, ids(got))
}

func TestReconcileResolvedOverlappingDeletes(t *testing.T) {
	page := makePage(12)
	d := deletesOf("id-3")
	d.Tags = map[tag.Tag]struct{}{{Project: "EIT", Number: 3}: {}}
	d.Resolve(tag.Tag{Project: "EIT", Number: 3}, "id-3")
	require.Equal(t, 1, d.Len())

	got := Reconcile(page, d, nil, nil, 10)
	require.Len(t, got, 10)
	assert.NotContains(t, ids(got), "id-3")
	assert.Equal(t, "id-11", got[9].ID)
}

// End to end through the tracker: a create with no explicit status or
// priority renders at the end with defaults and no number assigned.
func TestSnapshotFromInflight(t *testing.T) {
	schema := config.Default().Schema
	tracker := pending.NewTracker(intent.NewDecoder(schema))

	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		require.NoError(t, err)
		return b
	}
	snap := tracker.Snapshot([]pending.Inflight{
		{Key: "k1", Payload: raw(map[string]any{"intent": "create-issue", "title": "Fix login bug"})},
		{Key: "k2", Payload: raw(map[string]any{"intent": "delete-issues", "issueIds": []string{"id-1"}})},
		{Key: "k3", Payload: raw(map[string]any{"intent": "edit-issues", "issueIds": []string{"id-2"}, "changeset": map[string]string{"priority": "high"}})},
	})

	got := Snapshot(makePage(11), snap, 10)
	require.Len(t, got, 11)
	assert.Equal(t, "id-2", got[0].ID)
	assert.Equal(t, "high", got[0].Priority)

	last := got[len(got)-1]
	assert.Equal(t, "k1", last.ID)
	assert.Equal(t, "Fix login bug", last.Title)
	assert.Equal(t, 0, last.Number)
	assert.Equal(t, schema.DefaultStatus(), last.Status)
	assert.Equal(t, schema.DefaultPriority, last.Priority)
}
