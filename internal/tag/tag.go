// Package tag parses the human facing issue identifier, <PROJECT>-<NUMBER>.
package tag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidIdentifier = errors.New("invalid issue identifier")
	ErrUnknownProject    = errors.New("unknown project")
)

type Tag struct {
	Project string
	Number  int
}

func (t Tag) String() string { return fmt.Sprintf("%s-%d", t.Project, t.Number) }

// Display pads the number to three digits, e.g. EIT-007.
func (t Tag) Display() string { return fmt.Sprintf("%s-%03d", t.Project, t.Number) }

// RedirectError is returned for a zero padded number. Canonical holds the
// unpadded form the caller should redirect to.
type RedirectError struct {
	Canonical Tag
}

func (e *RedirectError) Error() string {
	return "non-canonical issue identifier, use " + e.Canonical.String()
}

type Parser struct {
	project string
}

func NewParser(project string) Parser { return Parser{project: project} }

func (p Parser) Parse(s string) (Tag, error) {
	project, num, ok := strings.Cut(s, "-")
	if !ok || num == "" {
		return Tag{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	for _, r := range num {
		if r < '0' || r > '9' {
			return Tag{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
		}
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return Tag{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	t := Tag{Project: project, Number: n}
	if num[0] == '0' {
		return Tag{}, &RedirectError{Canonical: t}
	}
	if project != p.project {
		return Tag{}, fmt.Errorf("%w: %q", ErrUnknownProject, project)
	}
	return t, nil
}
