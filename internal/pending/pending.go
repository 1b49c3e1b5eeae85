// Package pending derives optimistic state from the mutations a client
// has submitted but the server has not yet confirmed.
//
// The input is an explicit snapshot of in-flight submissions in
// submission order. Payloads that fail to decode, or whose intent does
// not take part in optimistic rendering, are dropped without error.
package pending

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"epic-issues/internal/intent"
	"epic-issues/internal/store"
	"epic-issues/internal/tag"
)

// Inflight is one submitted, unsettled mutation. Key is the client
// generated tracking key. A single-issue delete is keyed
// "delete-issue@<TAG>".
type Inflight struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// Deletes is the set of issues targeted by in-flight deletes.
type Deletes struct {
	IDs  map[string]struct{}
	Tags map[tag.Tag]struct{}
}

// Len counts delete entries. An issue targeted both by id and by an
// unresolved tag counts twice; Resolve the tags first for an exact count.
func (d Deletes) Len() int { return len(d.IDs) + len(d.Tags) }

// Resolve replaces the tag delete for t with a delete of id. An empty id
// drops the tag, for issues that no longer exist.
func (d *Deletes) Resolve(t tag.Tag, id string) {
	delete(d.Tags, t)
	if id == "" {
		return
	}
	if d.IDs == nil {
		d.IDs = map[string]struct{}{}
	}
	d.IDs[id] = struct{}{}
}

// Within counts the ids in ids that are pending deletion.
func (d Deletes) Within(ids []string) int {
	n := 0
	for _, id := range ids {
		if _, ok := d.IDs[id]; ok {
			n++
		}
	}
	return n
}

func (d Deletes) Has(it store.Issue) bool {
	if _, ok := d.IDs[it.ID]; ok {
		return true
	}
	_, ok := d.Tags[it.Tag()]
	return ok
}

type Edit struct {
	IssueIDs  []string
	Changeset store.Changeset
}

func (e Edit) Targets(id string) bool { return slices.Contains(e.IssueIDs, id) }

type Snapshot struct {
	Deletes Deletes
	// submission order, later edits win
	Edits   []Edit
	Creates []store.Issue
}

type Tracker struct {
	decoder *intent.Decoder
	parser  tag.Parser
	now     func() time.Time
}

func NewTracker(decoder *intent.Decoder) *Tracker {
	schema := decoder.Schema()
	return &Tracker{
		decoder: decoder,
		parser:  tag.NewParser(schema.Project),
		now:     time.Now,
	}
}

func (t *Tracker) Snapshot(inflight []Inflight) Snapshot {
	snap := Snapshot{
		Deletes: Deletes{IDs: map[string]struct{}{}, Tags: map[tag.Tag]struct{}{}},
	}
	for _, f := range inflight {
		sub, err := t.decoder.Decode(f.Payload)
		if err != nil {
			continue
		}
		switch s := sub.(type) {
		case intent.BulkDelete:
			for _, id := range s.IssueIDs {
				snap.Deletes.IDs[id] = struct{}{}
			}
		case intent.Delete:
			kind, raw, ok := strings.Cut(f.Key, "@")
			if !ok || intent.Kind(kind) != intent.KindDelete {
				continue
			}
			tg, err := t.parser.Parse(raw)
			if err != nil {
				continue
			}
			snap.Deletes.Tags[tg] = struct{}{}
		case intent.BulkEdit:
			snap.Edits = append(snap.Edits, Edit{
				IssueIDs:  s.IssueIDs,
				Changeset: s.Changeset.Changeset(),
			})
		case intent.Create:
			it := t.placeholder(f.Key, s.Title)
			if s.Description != nil {
				it.Description = *s.Description
			}
			if s.Status != nil {
				it.Status = *s.Status
			}
			if s.Priority != nil {
				it.Priority = *s.Priority
			}
			snap.Creates = append(snap.Creates, it)
		case intent.CreateInline:
			snap.Creates = append(snap.Creates, t.placeholder(f.Key, s.Title))
		}
	}
	return snap
}

// placeholder has number 0, meaning not yet assigned.
func (t *Tracker) placeholder(key, title string) store.Issue {
	schema := t.decoder.Schema()
	now := t.now().UTC()
	return store.Issue{
		ID:        key,
		Project:   schema.Project,
		Title:     title,
		Status:    schema.DefaultStatus(),
		Priority:  schema.DefaultPriority,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
