package matcher

import (
	"net/url"
	"strconv"
	"strings"

	"epic-issues/internal/store"
)

// Any disables the status or priority constraint.
const Any = "any"

type Filter struct {
	Title    string `json:"title,omitempty"`
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
}

type Query struct {
	Skip   int    `json:"skip"`
	Take   int    `json:"take"`
	Filter Filter `json:"filter"`
}

// Paged reports whether the query limits the page size. take 0 shows all.
func (q Query) Paged() bool { return q.Take > 0 }

// ParseQuery reads skip, take, title, status and priority. Malformed or
// negative numbers fall back to their defaults.
func ParseQuery(v url.Values, defaultTake int) Query {
	q := Query{
		Skip: intParam(v, "skip", 0),
		Take: intParam(v, "take", defaultTake),
		Filter: Filter{
			Title:    strings.TrimSpace(v.Get("title")),
			Status:   v.Get("status"),
			Priority: v.Get("priority"),
		},
	}
	return q
}

func intParam(v url.Values, key string, def int) int {
	s := v.Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// Values encodes q back into query parameters, omitting defaults.
func (q Query) Values(defaultTake int) url.Values {
	v := url.Values{}
	if q.Skip > 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Take != defaultTake {
		v.Set("take", strconv.Itoa(q.Take))
	}
	if q.Filter.Title != "" {
		v.Set("title", q.Filter.Title)
	}
	if constrained(q.Filter.Status) {
		v.Set("status", q.Filter.Status)
	}
	if constrained(q.Filter.Priority) {
		v.Set("priority", q.Filter.Priority)
	}
	return v
}

func constrained(v string) bool { return v != "" && v != Any }

func (f Filter) Where() (string, []any) {
	var parts []string
	var args []any
	if f.Title != "" {
		parts = append(parts, "title LIKE ? ESCAPE '!'")
		args = append(args, "%"+escapeLike(f.Title)+"%")
	}
	if constrained(f.Status) {
		parts = append(parts, "status = ?")
		args = append(args, f.Status)
	}
	if constrained(f.Priority) {
		parts = append(parts, "priority = ?")
		args = append(args, f.Priority)
	}
	return strings.Join(parts, " AND "), args
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(s string) string { return likeEscaper.Replace(s) }

// Match applies the same rules as Where to an in-memory issue. Title
// matching is case-insensitive like the default SQL collations.
func (f Filter) Match(it store.Issue) bool {
	if f.Title != "" && !strings.Contains(strings.ToLower(it.Title), strings.ToLower(f.Title)) {
		return false
	}
	if constrained(f.Status) && it.Status != f.Status {
		return false
	}
	if constrained(f.Priority) && it.Priority != f.Priority {
		return false
	}
	return true
}
