package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db      *sqlx.DB
	dialect dialect
}

type dialect struct {
	name string
	// appended to the max-number read inside Create
	lockSuffix string
	// LIMIT value meaning "no limit" when only an offset is wanted
	noLimit string
}

var dialects = map[string]dialect{
	"mysql":  {name: "mysql", lockSuffix: " FOR UPDATE", noLimit: "18446744073709551615"},
	"sqlite": {name: "sqlite", noLimit: "-1"},
}

func NewDefaultStore() (*Store, error) {
	driver := os.Getenv("STORE_DRIVER")
	if driver == "" {
		driver = "mysql"
	}
	dsn := os.Getenv("STORE_DSN")
	if dsn == "" {
		dsn = "root:123456@tcp(127.0.0.1:3306)/issues?parseTime=true"
	}
	return New(driver, dsn)
}

func New(driver, dsn string) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.name == "sqlite" {
		// one connection serializes writers and keeps :memory: databases alive
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{db: db, dialect: d}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	if s.dialect.name == "sqlite" {
		for _, ddl := range []string{
			`CREATE TABLE IF NOT EXISTS issues (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    number INTEGER NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    priority TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS uniq_project_number ON issues(project, number)`,
			`CREATE INDEX IF NOT EXISTS idx_created_at ON issues(created_at)`,
		} {
			if _, err := s.db.ExecContext(ctx, ddl); err != nil {
				return err
			}
		}
		return nil
	}

	createIssues := `CREATE TABLE IF NOT EXISTS issues (
    id VARCHAR(36) PRIMARY KEY,
    project VARCHAR(16) NOT NULL,
    number INT NOT NULL,
    title VARCHAR(500) NOT NULL,
    description TEXT NOT NULL,
    status VARCHAR(32) NOT NULL,
    priority VARCHAR(32) NOT NULL,
    created_at DATETIME(6) NOT NULL,
    updated_at DATETIME(6) NOT NULL
)`
	if _, err := s.db.ExecContext(ctx, createIssues); err != nil {
		return err
	}
	// MySQL lacks IF NOT EXISTS for CREATE INDEX in some versions; ignore duplicates
	if err := s.execIgnoreDupIndex(ctx, `CREATE UNIQUE INDEX uniq_project_number ON issues(project, number)`); err != nil {
		return err
	}
	return s.execIgnoreDupIndex(ctx, `CREATE INDEX idx_created_at ON issues(created_at)`)
}

func (s *Store) execIgnoreDupIndex(ctx context.Context, ddl string) error {
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		e := err.Error()
		if strings.Contains(e, "Duplicate key name") || strings.Contains(e, "1061") {
			return nil
		}
	}
	return err
}

// Predicate narrows list queries. A nil Predicate matches every issue.
type Predicate interface {
	Where() (clause string, args []any)
}

const issueColumns = `id, project, number, title, description, status, priority, created_at, updated_at`

func where(p Predicate) (string, []any) {
	if p == nil {
		return "", nil
	}
	clause, args := p.Where()
	if clause == "" {
		return "", nil
	}
	return " WHERE " + clause, args
}

// List returns issues oldest first. take == 0 returns everything after skip.
func (s *Store) List(ctx context.Context, p Predicate, skip, take int) ([]Issue, error) {
	w, args := where(p)
	limit := s.dialect.noLimit
	if take > 0 {
		limit = fmt.Sprint(take)
	}
	q := `SELECT ` + issueColumns + ` FROM issues` + w +
		` ORDER BY created_at ASC, number ASC LIMIT ` + limit + ` OFFSET ?`
	out := []Issue{}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), append(args, max(skip, 0))...); err != nil {
		return nil, err
	}
	return normalize(out), nil
}

func (s *Store) Count(ctx context.Context, p Predicate) (int, error) {
	w, args := where(p)
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM issues`+w), args...)
	return n, err
}

// IDs returns the ids of every matching issue in list order.
func (s *Store) IDs(ctx context.Context, p Predicate) ([]string, error) {
	w, args := where(p)
	out := []string{}
	err := s.db.SelectContext(ctx, &out,
		s.db.Rebind(`SELECT id FROM issues`+w+` ORDER BY created_at ASC, number ASC`), args...)
	return out, err
}

func (s *Store) Get(ctx context.Context, project string, number int) (Issue, error) {
	return s.get(ctx, s.db, project, number)
}

func (s *Store) get(ctx context.Context, q sqlx.QueryerContext, project string, number int) (Issue, error) {
	var it Issue
	err := sqlx.GetContext(ctx, q, &it, s.db.Rebind(`SELECT `+issueColumns+` FROM issues WHERE project=? AND number=?`), project, number)
	if errors.Is(err, sql.ErrNoRows) {
		return Issue{}, fmt.Errorf("issue %s-%d: %w", project, number, ErrNotFound)
	}
	if err != nil {
		return Issue{}, err
	}
	return it.normalize(), nil
}

// Numbers lists the assigned numbers of a project in ascending order.
func (s *Store) Numbers(ctx context.Context, project string) ([]int, error) {
	out := []int{}
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT number FROM issues WHERE project=? ORDER BY number ASC`), project)
	return out, err
}

// Create assigns the next number of the project inside a transaction.
func (s *Store) Create(ctx context.Context, in NewIssue) (Issue, error) {
	now := time.Now()
	if in.CreatedAt.IsZero() {
		in.CreatedAt = now
	}
	it := Issue{
		ID:          in.ID,
		Project:     in.Project,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   now,
	}.normalize()
	if it.ID == "" {
		it.ID = newID()
	}

	var err error
	for attempt := 1; ; attempt++ {
		var created Issue
		created, err = s.create(ctx, it)
		if err == nil {
			return created, nil
		}
		if attempt == createAttempts || !retryable(err) || ctx.Err() != nil {
			return Issue{}, err
		}
	}
}

// createAttempts bounds retries of a create that lost a number race.
const createAttempts = 3

// retryable reports MySQL deadlocks (1213) and duplicate numbers (1062),
// which concurrent creates in one project can hit under gap locking.
func retryable(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == 1213 || me.Number == 1062
}

func (s *Store) create(ctx context.Context, it Issue) (Issue, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Issue{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var highest int
	q := `SELECT COALESCE(MAX(number), 0) FROM issues WHERE project=?` + s.dialect.lockSuffix
	if err := tx.GetContext(ctx, &highest, tx.Rebind(q), it.Project); err != nil {
		return Issue{}, fmt.Errorf("read highest number: %w", err)
	}
	it.Number = highest + 1

	_, err = tx.NamedExecContext(ctx, `INSERT INTO issues (`+issueColumns+`)
    VALUES (:id, :project, :number, :title, :description, :status, :priority, :created_at, :updated_at)`, it)
	if err != nil {
		return Issue{}, fmt.Errorf("insert issue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Issue{}, err
	}
	return it, nil
}

// Update overwrites the fields set in cs and returns the updated issue.
func (s *Store) Update(ctx context.Context, project string, number int, cs Changeset) (Issue, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Issue{}, err
	}
	defer func() { _ = tx.Rollback() }()

	it, err := s.get(ctx, tx, project, number)
	if err != nil {
		return Issue{}, err
	}
	set, args := cs.set(time.Now())
	args = append(args, it.ID)
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE issues SET `+set+` WHERE id=?`), args...); err != nil {
		return Issue{}, err
	}
	if it, err = s.get(ctx, tx, project, number); err != nil {
		return Issue{}, err
	}
	return it, tx.Commit()
}

// UpdateMany applies cs to every listed issue and reports how many matched.
func (s *Store) UpdateMany(ctx context.Context, ids []string, cs Changeset) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	set, args := cs.set(time.Now())
	q, args, err := sqlx.In(`UPDATE issues SET `+set+` WHERE id IN (?)`, append(args, ids)...)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Delete(ctx context.Context, project string, number int) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM issues WHERE project=? AND number=?`), project, number)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("issue %s-%d: %w", project, number, ErrNotFound)
	}
	return nil
}

// DeleteMany hard deletes the listed issues.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`DELETE FROM issues WHERE id IN (?)`, ids)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func normalize(in []Issue) []Issue {
	for i := range in {
		in[i] = in[i].normalize()
	}
	return in
}
