package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type titleIs string

func (p titleIs) Where() (string, []any) { return "title=?", []any{string(p)} }

func strp(s string) *string { return &s }

func seed(t *testing.T, st *Store, titles ...string) []Issue {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var out []Issue
	for i, title := range titles {
		it, err := st.Create(context.Background(), NewIssue{
			Project:   "EIT",
			Title:     title,
			Status:    "todo",
			Priority:  "medium",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		out = append(out, it)
	}
	return out
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	issues := seed(t, st, "a", "b", "c")
	for i, it := range issues {
		assert.Equal(t, i+1, it.Number)
		assert.NotEmpty(t, it.ID)
	}

	other, err := st.Create(ctx, NewIssue{Project: "OPS", Title: "x", Status: "todo", Priority: "low"})
	require.NoError(t, err)
	assert.Equal(t, 1, other.Number, "numbers are per project")
}

func TestCreateConcurrentNumbersUnique(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	numbers := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := st.Create(ctx, NewIssue{Project: "EIT", Title: "t", Status: "todo", Priority: "low"})
			if assert.NoError(t, err) {
				numbers <- it.Number
			}
		}()
	}
	wg.Wait()
	close(numbers)

	seen := map[int]bool{}
	for num := range numbers {
		assert.False(t, seen[num], "duplicate number %d", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)
}

func TestListSkipTakeAndCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seed(t, st, "a", "b", "c", "d", "e")

	page, err := st.List(ctx, nil, 1, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Title)
	assert.Equal(t, "c", page[1].Title)

	all, err := st.List(ctx, nil, 3, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2, "take 0 returns the rest")

	n, err := st.Count(ctx, titleIs("d"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ids, err := st.IDs(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, ids, 5)
}

func TestGetAndNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	created := seed(t, st, "first")[0]

	got, err := st.Get(ctx, "EIT", 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	_, err = st.Get(ctx, "EIT", 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdatePartial(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seed(t, st, "first")

	got, err := st.Update(ctx, "EIT", 1, Changeset{Priority: strp("high")})
	require.NoError(t, err)
	assert.Equal(t, "high", got.Priority)
	assert.Equal(t, "first", got.Title, "unset fields are untouched")
	assert.Equal(t, "todo", got.Status)

	_, err = st.Update(ctx, "EIT", 9, Changeset{Title: strp("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateManyAndDeleteMany(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	issues := seed(t, st, "a", "b", "c")

	n, err := st.UpdateMany(ctx, []string{issues[0].ID, issues[2].ID}, Changeset{Status: strp("done")})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	b, err := st.Get(ctx, "EIT", 2)
	require.NoError(t, err)
	assert.Equal(t, "todo", b.Status)

	n, err = st.DeleteMany(ctx, []string{issues[0].ID, issues[1].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	left, err := st.List(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "done", left[0].Status)

	n, err = st.DeleteMany(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeleteAndNumbers(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	seed(t, st, "a", "b", "c")

	require.NoError(t, st.Delete(ctx, "EIT", 2))
	assert.ErrorIs(t, st.Delete(ctx, "EIT", 2), ErrNotFound)

	nums, err := st.Numbers(ctx, "EIT")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, nums)

	// numbering continues from the current max
	it, err := st.Create(ctx, NewIssue{Project: "EIT", Title: "d", Status: "todo", Priority: "low"})
	require.NoError(t, err)
	assert.Equal(t, 4, it.Number)
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New("oracle", "x")
	assert.Error(t, err)
}

func TestChangesetApply(t *testing.T) {
	it := Issue{Title: "t", Status: "todo", Priority: "low"}
	cs := Changeset{Status: strp("done")}
	assert.False(t, cs.Empty())
	assert.True(t, Changeset{}.Empty())

	got := cs.Apply(it)
	assert.Equal(t, "done", got.Status)
	assert.Equal(t, "low", got.Priority)
	assert.Equal(t, "todo", it.Status, "input is not modified")
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"duplicate number", fmt.Errorf("insert issue: %w", &mysql.MySQLError{Number: 1062}), true},
		{"other mysql", &mysql.MySQLError{Number: 1146}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
