package sample

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"epic-issues/internal/config"
	"epic-issues/internal/store"
)

// Creator is the part of the store a Generator writes through.
type Creator interface {
	Create(ctx context.Context, in store.NewIssue) (store.Issue, error)
}

var (
	agents = []string{
		"a user", "the idea guy", "a developer", "an admin", "a manager",
		"a customer", "a tester", "a designer", "a product owner", "an intern", "a barista",
	}
	actions = []string{
		"I want to", "I need to", "I would like to", "I should", "I must", "I would love to",
	}
	verbs = []string{
		"create", "read", "update", "delete", "edit", "view", "add", "remove",
		"change", "modify", "assign", "unassign", "filter", "sort", "search",
	}
	nouns = []string{
		"the issues", "the projects", "the users", "the comments", "the tasks",
		"the labels", "the milestones", "the epics", "the groups", "the boards",
		"the sprints", "the releases", "the candidates", "the content",
	}
	reasons = []string{
		"so that I can save time",
		"so that I can save money",
		"so that it's better for the environment",
		"so that we make more sales",
		"to make sure everything is correct",
		"so that I know what to do",
		"so that I can be more organized",
		"so that I can see the state of the project",
		"so that I can find what I want",
		"in order to download them",
		"in order to delete them",
		"in order to test them",
	}
)

// Since is the earliest generated creation date.
var Since = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator produces development issues with random user-story titles.
// It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	schema config.TableSchema
	rng    *rand.Rand
	now    func() time.Time
}

func NewGenerator(schema config.TableSchema, seed uint64) *Generator {
	return &Generator{
		schema: schema,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:    time.Now,
	}
}

func pick[T any](rng *rand.Rand, from []T) T { return from[rng.IntN(len(from))] }

func (g *Generator) StoryTitle() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.storyTitle()
}

func (g *Generator) storyTitle() string {
	return strings.Join([]string{
		"As",
		pick(g.rng, agents),
		pick(g.rng, actions),
		pick(g.rng, verbs),
		pick(g.rng, nouns),
		pick(g.rng, reasons),
	}, " ")
}

func (g *Generator) date() time.Time {
	span := g.now().Sub(Since)
	if span <= 0 {
		return Since
	}
	return Since.Add(time.Duration(g.rng.Int64N(int64(span))))
}

func (g *Generator) Issues(n int) []store.NewIssue {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]store.NewIssue, 0, n)
	for range n {
		out = append(out, store.NewIssue{
			Project:   g.schema.Project,
			Title:     g.storyTitle(),
			Status:    pick(g.rng, g.schema.Statuses),
			Priority:  pick(g.rng, g.schema.Priorities),
			CreatedAt: g.date(),
		})
	}
	return out
}

// Collect creates n sample issues through c, stopping at the first error.
func (g *Generator) Collect(ctx context.Context, c Creator, n int) ([]store.Issue, error) {
	var created []store.Issue
	for _, in := range g.Issues(n) {
		it, err := c.Create(ctx, in)
		if err != nil {
			return created, err
		}
		created = append(created, it)
	}
	return created, nil
}
