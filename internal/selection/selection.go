// Package selection tracks the rows checked in the issue table. The set
// scopes bulk edits and deletes; it is local to one client session and
// not safe for concurrent use.
package selection

import (
	"slices"

	"epic-issues/internal/store"
)

type Set struct {
	ids map[string]struct{}
}

func New() *Set { return &Set{ids: map[string]struct{}{}} }

func (s *Set) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

func (s *Set) Set(id string, selected bool) {
	if selected {
		s.ids[id] = struct{}{}
		return
	}
	delete(s.ids, id)
}

func (s *Set) Toggle(id string) { s.Set(id, !s.Has(id)) }

// SelectPage adds the first pageSize rows. pageSize 0 adds all of them.
func (s *Set) SelectPage(rows []store.Issue, pageSize int) {
	if pageSize > 0 && len(rows) > pageSize {
		rows = rows[:pageSize]
	}
	for _, it := range rows {
		s.ids[it.ID] = struct{}{}
	}
}

func (s *Set) SelectAll(ids []string) {
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

func (s *Set) Clear() { clear(s.ids) }

func (s *Set) Len() int { return len(s.ids) }

// IDs returns the selection sorted.
func (s *Set) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// PageSelected reports whether every rendered row is selected.
func (s *Set) PageSelected(rows []store.Issue) bool {
	for _, it := range rows {
		if !s.Has(it.ID) {
			return false
		}
	}
	return true
}

func (s *Set) AllSelected(ids []string) bool {
	for _, id := range ids {
		if !s.Has(id) {
			return false
		}
	}
	return true
}
