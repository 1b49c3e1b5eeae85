package pagination

import (
	"net/url"
	"strconv"
)

// Window is the most page links rendered at once.
const Window = 7

type Link struct {
	Page   int  `json:"page"`
	Skip   int  `json:"skip"`
	Take   int  `json:"take"`
	Active bool `json:"active,omitempty"`
}

// Query returns base with skip and take replaced by the link's values.
func (l Link) Query(base url.Values) url.Values {
	v := url.Values{}
	for k, vals := range base {
		v[k] = append([]string(nil), vals...)
	}
	v.Set("skip", strconv.Itoa(l.Skip))
	v.Set("take", strconv.Itoa(l.Take))
	return v
}

type Range struct {
	Total       int    `json:"total"`
	TotalPages  int    `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
	Pages       []Link `json:"pages"`

	CanPageBackward bool `json:"canPageBackward"`
	CanPageForward  bool `json:"canPageForward"`

	First    Link `json:"first"`
	Previous Link `json:"previous"`
	Next     Link `json:"next"`
	Last     Link `json:"last"`
}

// Calculate computes the links for a page of take records starting at
// skip out of total. take must be positive; take 0 ("show all") is not
// paged and callers should not render pagination for it.
func Calculate(total, skip, take int) Range {
	if take <= 0 {
		return Range{Total: total, TotalPages: 1, CurrentPage: 1}
	}
	skip = max(skip, 0)
	totalPages := (total + take - 1) / take
	current := skip/take + 1

	r := Range{
		Total:           total,
		TotalPages:      totalPages,
		CurrentPage:     current,
		CanPageBackward: skip > 0,
		CanPageForward:  skip+take < total,
	}

	link := func(page int) Link {
		return Link{Page: page, Skip: (page - 1) * take, Take: take, Active: page == current}
	}
	for _, p := range window(current, totalPages) {
		r.Pages = append(r.Pages, link(p))
	}

	r.First = Link{Page: 1, Skip: 0, Take: take, Active: current == 1}
	prevSkip := max(skip-take, 0)
	r.Previous = Link{Page: prevSkip/take + 1, Skip: prevSkip, Take: take}
	r.Next = Link{Page: current + 1, Skip: skip + take, Take: take}
	lastPage := max(totalPages, 1)
	r.Last = Link{Page: lastPage, Skip: (lastPage - 1) * take, Take: take, Active: current == lastPage}
	return r
}

// window centers Window pages on current, shifting it back inside
// [1, totalPages] when it runs off either end.
func window(current, totalPages int) []int {
	var pages []int
	if totalPages <= Window {
		for i := 1; i <= totalPages; i++ {
			pages = append(pages, i)
		}
		return pages
	}
	half := Window / 2
	start, end := current-half, current+half
	if start < 1 {
		end += 1 - start
		start = 1
	}
	if end > totalPages {
		start -= end - totalPages
		end = totalPages
	}
	start = max(start, 1)
	for i := start; i <= end; i++ {
		pages = append(pages, i)
	}
	return pages
}
