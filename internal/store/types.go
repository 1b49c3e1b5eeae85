package store

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"epic-issues/internal/tag"
)

type Issue struct {
	ID          string    `db:"id" json:"id"`
	Project     string    `db:"project" json:"project"`
	Number      int       `db:"number" json:"number"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Status      string    `db:"status" json:"status"`
	Priority    string    `db:"priority" json:"priority"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

func (it Issue) Tag() tag.Tag { return tag.Tag{Project: it.Project, Number: it.Number} }

// Pending reports whether the issue is an unconfirmed placeholder that
// has no number yet.
func (it Issue) Pending() bool { return it.Number == 0 }

// times round-trip through DATETIME(6), keep them in UTC at microsecond precision
func (it Issue) normalize() Issue {
	it.CreatedAt = it.CreatedAt.UTC().Truncate(time.Microsecond)
	it.UpdatedAt = it.UpdatedAt.UTC().Truncate(time.Microsecond)
	return it
}

type NewIssue struct {
	ID          string
	Project     string
	Title       string
	Description string
	Status      string
	Priority    string
	// zero means now
	CreatedAt time.Time
}

// Changeset is a partial field set. Nil fields are left untouched.
type Changeset struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
}

func (cs Changeset) Empty() bool {
	return cs.Title == nil && cs.Description == nil && cs.Status == nil && cs.Priority == nil
}

// Apply shallow-merges cs over it.
func (cs Changeset) Apply(it Issue) Issue {
	if cs.Title != nil {
		it.Title = *cs.Title
	}
	if cs.Description != nil {
		it.Description = *cs.Description
	}
	if cs.Status != nil {
		it.Status = *cs.Status
	}
	if cs.Priority != nil {
		it.Priority = *cs.Priority
	}
	return it
}

func (cs Changeset) set(now time.Time) (string, []any) {
	var cols []string
	var args []any
	add := func(col string, v *string) {
		if v != nil {
			cols = append(cols, col+"=?")
			args = append(args, *v)
		}
	}
	add("title", cs.Title)
	add("description", cs.Description)
	add("status", cs.Status)
	add("priority", cs.Priority)
	cols = append(cols, "updated_at=?")
	args = append(args, now.UTC().Truncate(time.Microsecond))
	return strings.Join(cols, ", "), args
}

func newID() string { return uuid.NewString() }
