package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"epic-issues/internal/config"
	"epic-issues/internal/intent"
	"epic-issues/internal/matcher"
	"epic-issues/internal/observability"
	"epic-issues/internal/pagination"
	"epic-issues/internal/pending"
	"epic-issues/internal/reconcile"
	"epic-issues/internal/sample"
	"epic-issues/internal/selection"
	"epic-issues/internal/store"
	"epic-issues/internal/tag"
	"epic-issues/pkg/mq"
)

// ErrMutationRejected wraps persistence failures that happen after a
// submission passed validation.
var ErrMutationRejected = errors.New("mutation rejected")

// EventsTopic carries one Event per applied mutation.
const EventsTopic = "issues"

type Toast struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Event types.
const (
	EventCreated = "issue.created"
	EventEdited  = "issue.edited"
	EventDeleted = "issue.deleted"
)

type Event struct {
	Type     string      `json:"type"`
	Intent   intent.Kind `json:"intent"`
	IssueIDs []string    `json:"issueIds,omitempty"`
	Tag      string      `json:"tag,omitempty"`
	Toast    *Toast      `json:"toast,omitempty"`
	At       time.Time   `json:"at"`
}

// Result describes an applied mutation.
type Result struct {
	Intent   intent.Kind   `json:"intent"`
	Issue    *store.Issue  `json:"issue,omitempty"`
	Created  []store.Issue `json:"created,omitempty"`
	Affected int64         `json:"affected"`
	Toast    *Toast        `json:"-"`
	// Redirect is the location the client should navigate to, if any.
	Redirect string `json:"-"`
}

type Options struct {
	Publisher mq.Publisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	// SampleSeed seeds the sample generator; zero uses the clock.
	SampleSeed uint64
}

type Service struct {
	st          *store.Store
	cfg         config.Config
	parser      tag.Parser
	decoder     *intent.Decoder
	tracker     *pending.Tracker
	samples     *sample.Generator
	creator     sample.Creator
	pub         mq.Publisher
	metrics     *observability.Metrics
	log         *zap.Logger
	sampleCount int
}

func New(st *store.Store, cfg config.Config, opts Options) *Service {
	if opts.Publisher == nil {
		opts.Publisher = mq.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SampleSeed == 0 {
		opts.SampleSeed = uint64(time.Now().UnixNano())
	}
	dec := intent.NewDecoder(cfg.Schema)
	return &Service{
		st:          st,
		cfg:         cfg,
		parser:      tag.NewParser(cfg.Schema.Project),
		decoder:     dec,
		tracker:     pending.NewTracker(dec),
		samples:     sample.NewGenerator(cfg.Schema, opts.SampleSeed),
		creator:     st,
		pub:         opts.Publisher,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		sampleCount: cfg.SampleCount,
	}
}

func (s *Service) Decoder() *intent.Decoder { return s.decoder }
func (s *Service) Parser() tag.Parser       { return s.parser }
func (s *Service) Schema() config.TableSchema {
	return s.cfg.Schema
}

// Apply runs a validated submission. target is the issue addressed by the
// request path and must be set exactly for edit-issue and delete-issue.
func (s *Service) Apply(ctx context.Context, sub intent.Submission, target *tag.Tag) (Result, error) {
	kind := sub.Intent()
	single := kind == intent.KindEdit || kind == intent.KindDelete
	if single != (target != nil) {
		s.metrics.RecordMutation(string(kind), observability.OutcomeInvalid)
		return Result{}, &intent.ValidationError{Fields: map[string][]string{
			"intent": {fmt.Sprintf("intent %q is not valid here", kind)},
		}}
	}

	res, err := s.apply(ctx, sub, target)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.RecordMutation(string(kind), observability.OutcomeInvalid)
			return Result{}, err
		}
		s.metrics.RecordMutation(string(kind), observability.OutcomeRejected)
		s.log.Error("mutation rejected", zap.String("intent", string(kind)), zap.Error(err))
		res.Intent = kind
		res.Toast = &Toast{Type: "error", Description: rejectedMessage(kind)}
		if len(res.Created) > 0 {
			s.publish(res, nil)
		}
		return res, fmt.Errorf("%w: %w", ErrMutationRejected, err)
	}
	res.Intent = kind
	s.metrics.RecordMutation(string(kind), observability.OutcomeSuccess)
	s.publish(res, target)
	return res, nil
}

func (s *Service) apply(ctx context.Context, sub intent.Submission, target *tag.Tag) (Result, error) {
	schema := s.cfg.Schema
	switch v := sub.(type) {
	case intent.Create:
		in := store.NewIssue{
			Project:  schema.Project,
			Title:    v.Title,
			Status:   deref(v.Status, schema.DefaultStatus()),
			Priority: deref(v.Priority, schema.DefaultPriority),
		}
		if v.Description != nil {
			in.Description = *v.Description
		}
		res, err := s.create(ctx, in)
		if err != nil {
			return res, err
		}
		switch v.RedirectPolicy {
		case "index":
			res.Redirect = "/issues"
		case "issue":
			res.Redirect = "/issues/" + res.Issue.Tag().String()
		}
		return res, nil

	case intent.CreateInline:
		return s.create(ctx, store.NewIssue{
			Project:  schema.Project,
			Title:    v.Title,
			Status:   schema.DefaultStatus(),
			Priority: schema.DefaultPriority,
		})

	case intent.CreateSamples:
		created, err := s.samples.Collect(ctx, s.creator, s.sampleCount)
		if err != nil {
			// the issues created before the failure stay
			return Result{Created: created, Affected: int64(len(created))}, err
		}
		s.log.Info("sample issues created", zap.Int("count", len(created)))
		return Result{
			Created:  created,
			Affected: int64(len(created)),
			Toast:    &Toast{Type: "success", Description: fmt.Sprintf("Created %d sample issues", len(created))},
		}, nil

	case intent.Edit:
		it, err := s.st.Update(ctx, target.Project, target.Number, v.Changeset())
		if err != nil {
			return Result{}, err
		}
		s.log.Info("issue edited", zap.String("tag", it.Tag().String()))
		return Result{Issue: &it, Affected: 1}, nil

	case intent.Delete:
		if err := s.st.Delete(ctx, target.Project, target.Number); err != nil {
			return Result{}, err
		}
		s.log.Info("issue deleted", zap.String("tag", target.String()))
		return Result{
			Affected: 1,
			Toast:    &Toast{Type: "success", Description: "Issue deleted"},
			Redirect: "/issues",
		}, nil

	case intent.BulkEdit:
		n, err := s.st.UpdateMany(ctx, v.IssueIDs, v.Changeset.Changeset())
		if err != nil {
			return Result{}, err
		}
		s.log.Info("issues edited", zap.Int("requested", len(v.IssueIDs)), zap.Int64("affected", n))
		return Result{Affected: n}, nil

	case intent.BulkDelete:
		n, err := s.st.DeleteMany(ctx, v.IssueIDs)
		if err != nil {
			return Result{}, err
		}
		s.log.Info("issues deleted", zap.Int("requested", len(v.IssueIDs)), zap.Int64("affected", n))
		return Result{Affected: n}, nil
	}
	return Result{}, fmt.Errorf("unhandled intent %q", sub.Intent())
}

func (s *Service) create(ctx context.Context, in store.NewIssue) (Result, error) {
	it, err := s.st.Create(ctx, in)
	if err != nil {
		return Result{}, err
	}
	s.log.Info("issue created", zap.String("tag", it.Tag().String()), zap.String("id", it.ID))
	return Result{
		Issue:    &it,
		Affected: 1,
		Toast:    &Toast{Type: "success", Description: "Created issue " + it.Tag().Display()},
	}, nil
}

func rejectedMessage(kind intent.Kind) string {
	switch kind {
	case intent.KindDelete:
		return "Issue could not be deleted"
	case intent.KindBulkDelete:
		return "Issues could not be deleted"
	case intent.KindEdit, intent.KindBulkEdit:
		return "Changes could not be saved"
	}
	return "Issue could not be created"
}

func (s *Service) publish(res Result, target *tag.Tag) {
	ev := Event{Type: eventType(res.Intent), Intent: res.Intent, Toast: res.Toast, At: time.Now().UTC()}
	switch {
	case res.Issue != nil:
		ev.IssueIDs = []string{res.Issue.ID}
		ev.Tag = res.Issue.Tag().String()
	case target != nil:
		ev.Tag = target.String()
	}
	for _, it := range res.Created {
		ev.IssueIDs = append(ev.IssueIDs, it.ID)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.log.Warn("encode event", zap.Error(err))
		return
	}
	if err := s.pub.Publish(EventsTopic, b); err != nil {
		s.log.Warn("publish event", zap.String("intent", string(res.Intent)), zap.Error(err))
	}
}

func eventType(kind intent.Kind) string {
	switch kind {
	case intent.KindEdit, intent.KindBulkEdit:
		return EventEdited
	case intent.KindDelete, intent.KindBulkDelete:
		return EventDeleted
	}
	return EventCreated
}

func deref(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

// Page is one list-loader response.
type Page struct {
	Issues []store.Issue `json:"issues"`
	// IssueIDs holds every issue matching the filter, for select-all.
	IssueIDs   []string          `json:"issueIds"`
	Total      int               `json:"total"`
	Query      matcher.Query     `json:"query"`
	Pagination *pagination.Range `json:"pagination,omitempty"`
}

// List loads q.Take issues plus overscan extra rows.
func (s *Service) List(ctx context.Context, q matcher.Query, overscan int) (Page, error) {
	take := q.Take
	if take > 0 {
		take += max(overscan, 0)
	}
	issues, err := s.st.List(ctx, q.Filter, q.Skip, take)
	if err != nil {
		return Page{}, err
	}
	ids, err := s.st.IDs(ctx, q.Filter)
	if err != nil {
		return Page{}, err
	}
	p := Page{Issues: issues, IssueIDs: ids, Total: len(ids), Query: q}
	if q.Paged() {
		r := pagination.Calculate(p.Total, q.Skip, q.Take)
		p.Pagination = &r
	}
	return p, nil
}

// View is the table a client renders while mutations are in flight.
type View struct {
	Page
	// Rows replaces Page.Issues with the reconciled list.
	Rows []store.Issue `json:"rows"`
	// Filler is the number of blank rows that keep the page height.
	Filler int `json:"filler"`
	// Selectable counts issues not pending deletion.
	Selectable int             `json:"selectable"`
	Selection  *SelectionState `json:"selection,omitempty"`
}

// SelectionState is a client's checked rows resolved against a view.
type SelectionState struct {
	IDs          []string `json:"ids"`
	PageSelected bool     `json:"pageSelected"`
	AllSelected  bool     `json:"allSelected"`
}

// Selection shortcuts.
const (
	SelectPage = "page"
	SelectAll  = "all"
	SelectNone = "none"
)

// Select resolves the ids a client has checked, after applying shortcut
// (SelectPage, SelectAll, SelectNone or ""). Ids outside the filtered
// result set and placeholder rows are dropped.
func (v *View) Select(ids []string, shortcut string) {
	set := selection.New()
	set.SelectAll(ids)
	persisted := make([]store.Issue, 0, len(v.Rows))
	for _, it := range v.Rows {
		if !it.Pending() {
			persisted = append(persisted, it)
		}
	}
	switch shortcut {
	case SelectPage:
		set.SelectPage(persisted, v.Query.Take)
	case SelectAll:
		set.SelectAll(v.IssueIDs)
	case SelectNone:
		set.Clear()
	}

	live := make(map[string]struct{}, len(v.IssueIDs))
	for _, id := range v.IssueIDs {
		live[id] = struct{}{}
	}
	for _, id := range set.IDs() {
		if _, ok := live[id]; !ok {
			set.Set(id, false)
		}
	}
	v.Selection = &SelectionState{
		IDs:          set.IDs(),
		PageSelected: len(persisted) > 0 && set.PageSelected(persisted),
		AllSelected:  len(v.IssueIDs) > 0 && set.AllSelected(v.IssueIDs),
	}
}

// Optimistic loads the page for q, overscanning by the number of pending
// deletes, and reconciles it with the in-flight submissions.
func (s *Service) Optimistic(ctx context.Context, q matcher.Query, inflight []pending.Inflight) (View, error) {
	snap := s.tracker.Snapshot(inflight)
	if err := s.resolveDeletes(ctx, &snap.Deletes); err != nil {
		return View{}, err
	}
	page, err := s.List(ctx, q, snap.Deletes.Len())
	if err != nil {
		return View{}, err
	}
	rows := reconcile.Snapshot(page.Issues, snap, q.Take)
	v := View{
		Page:       page,
		Rows:       rows,
		Selectable: page.Total - snap.Deletes.Within(page.IssueIDs),
	}
	v.Page.Issues = nil
	if q.Paged() {
		v.Filler = reconcile.FillerRows(q.Take, len(rows))
	}
	return v, nil
}

// resolveDeletes turns tag deletes into id deletes so an issue targeted
// both ways counts once. Tags of issues that are already gone are dropped.
func (s *Service) resolveDeletes(ctx context.Context, d *pending.Deletes) error {
	for t := range d.Tags {
		it, err := s.st.Get(ctx, t.Project, t.Number)
		switch {
		case errors.Is(err, store.ErrNotFound):
			d.Resolve(t, "")
		case err != nil:
			return err
		default:
			d.Resolve(t, it.ID)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, t tag.Tag) (store.Issue, error) {
	return s.st.Get(ctx, t.Project, t.Number)
}

// Next returns the issue after t by number, wrapping to the first.
func (s *Service) Next(ctx context.Context, t tag.Tag) (tag.Tag, error) {
	return s.neighbor(ctx, t, 1)
}

// Prev returns the issue before t by number, wrapping to the last.
func (s *Service) Prev(ctx context.Context, t tag.Tag) (tag.Tag, error) {
	return s.neighbor(ctx, t, -1)
}

func (s *Service) neighbor(ctx context.Context, t tag.Tag, step int) (tag.Tag, error) {
	nums, err := s.st.Numbers(ctx, t.Project)
	if err != nil {
		return tag.Tag{}, err
	}
	if len(nums) == 0 {
		return tag.Tag{}, fmt.Errorf("project %s has no issues: %w", t.Project, store.ErrNotFound)
	}
	idx := -1
	for i, n := range nums {
		if n == t.Number {
			idx = i
			break
		}
	}
	var next int
	switch {
	case idx == -1 && step > 0:
		next = nums[0]
	case idx == -1:
		next = nums[len(nums)-1]
	default:
		next = nums[(idx+step+len(nums))%len(nums)]
	}
	return tag.Tag{Project: t.Project, Number: next}, nil
}
