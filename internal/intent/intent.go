// Package intent decodes mutation submissions. Every payload carries an
// "intent" discriminator naming the mutation; Decode and DecodeForm turn
// the raw payload into one of the concrete types below and validate it
// against the configured status and priority vocabularies.
package intent

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"epic-issues/internal/store"
)

type Kind string

const (
	KindCreate        Kind = "create-issue"
	KindCreateInline  Kind = "create-issue-inline"
	KindCreateSamples Kind = "create-sample-issues"
	KindEdit          Kind = "edit-issue"
	KindDelete        Kind = "delete-issue"
	KindBulkEdit      Kind = "edit-issues"
	KindBulkDelete    Kind = "delete-issues"
)

type Submission interface {
	Intent() Kind
}

type Create struct {
	Title          string  `json:"title" validate:"required,max=500"`
	Description    *string `json:"description,omitempty"`
	Status         *string `json:"status,omitempty" validate:"omitempty,status"`
	Priority       *string `json:"priority,omitempty" validate:"omitempty,priority"`
	RedirectPolicy string  `json:"redirectPolicy,omitempty" validate:"omitempty,oneof=none index issue"`
}

type CreateInline struct {
	Title string `json:"title" validate:"required,max=500"`
}

type CreateSamples struct{}

type Edit struct {
	Title       string  `json:"title" validate:"required,max=500"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" validate:"omitempty,status"`
	Priority    *string `json:"priority,omitempty" validate:"omitempty,priority"`
}

type Delete struct{}

// BulkChangeset is the field set a bulk edit may touch.
type BulkChangeset struct {
	Status   *string `json:"status,omitempty" validate:"omitempty,status"`
	Priority *string `json:"priority,omitempty" validate:"omitempty,priority"`
}

type BulkEdit struct {
	IssueIDs  []string      `json:"issueIds" validate:"required,min=1,dive,required"`
	Changeset BulkChangeset `json:"changeset"`
}

type BulkDelete struct {
	IssueIDs []string `json:"issueIds" validate:"required,min=1,dive,required"`
}

func (Create) Intent() Kind        { return KindCreate }
func (CreateInline) Intent() Kind  { return KindCreateInline }
func (CreateSamples) Intent() Kind { return KindCreateSamples }
func (Edit) Intent() Kind          { return KindEdit }
func (Delete) Intent() Kind        { return KindDelete }
func (BulkEdit) Intent() Kind      { return KindBulkEdit }
func (BulkDelete) Intent() Kind    { return KindBulkDelete }

func (e Edit) Changeset() store.Changeset {
	title := e.Title
	return store.Changeset{
		Title:       &title,
		Description: e.Description,
		Status:      e.Status,
		Priority:    e.Priority,
	}
}

func (c BulkChangeset) Changeset() store.Changeset {
	return store.Changeset{Status: c.Status, Priority: c.Priority}
}

func (c BulkChangeset) Empty() bool { return c.Status == nil && c.Priority == nil }

type envelope struct {
	Intent Kind `json:"intent"`
}

// Decode parses a JSON payload.
func (d *Decoder) Decode(raw []byte) (Submission, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fieldError("intent", "payload is not a JSON object")
	}
	var sub Submission
	var err error
	switch env.Intent {
	case KindCreate:
		sub, err = unmarshal[Create](raw)
	case KindCreateInline:
		sub, err = unmarshal[CreateInline](raw)
	case KindCreateSamples:
		sub = CreateSamples{}
	case KindEdit:
		sub, err = unmarshal[Edit](raw)
	case KindDelete:
		sub = Delete{}
	case KindBulkEdit:
		sub, err = unmarshal[BulkEdit](raw)
	case KindBulkDelete:
		sub, err = unmarshal[BulkDelete](raw)
	default:
		return nil, fieldError("intent", fmt.Sprintf("unknown intent %q", env.Intent))
	}
	if err != nil {
		return nil, fieldError("payload", err.Error())
	}
	return d.validate(sub)
}

func unmarshal[T Submission](raw []byte) (Submission, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeForm parses a form submission. Bulk fields use the names
// issueIds (repeated) and changeset.status / changeset.priority.
func (d *Decoder) DecodeForm(form url.Values) (Submission, error) {
	var sub Submission
	switch Kind(form.Get("intent")) {
	case KindCreate:
		sub = Create{
			Title:          form.Get("title"),
			Description:    formString(form, "description", true),
			Status:         formString(form, "status", false),
			Priority:       formString(form, "priority", false),
			RedirectPolicy: form.Get("redirectPolicy"),
		}
	case KindCreateInline:
		sub = CreateInline{Title: form.Get("title")}
	case KindCreateSamples:
		sub = CreateSamples{}
	case KindEdit:
		sub = Edit{
			Title:       form.Get("title"),
			Description: formString(form, "description", true),
			Status:      formString(form, "status", false),
			Priority:    formString(form, "priority", false),
		}
	case KindDelete:
		sub = Delete{}
	case KindBulkEdit:
		sub = BulkEdit{
			IssueIDs: form["issueIds"],
			Changeset: BulkChangeset{
				Status:   formString(form, "changeset.status", false),
				Priority: formString(form, "changeset.priority", false),
			},
		}
	case KindBulkDelete:
		sub = BulkDelete{IssueIDs: form["issueIds"]}
	default:
		return nil, fieldError("intent", fmt.Sprintf("unknown intent %q", form.Get("intent")))
	}
	return d.validate(sub)
}

// formString returns nil for an absent key. An empty value is kept only
// when keepEmpty is set, so a form can clear a description but never
// blank out a status.
func formString(form url.Values, key string, keepEmpty bool) *string {
	if _, ok := form[key]; !ok {
		return nil
	}
	v := form.Get(key)
	if v == "" && !keepEmpty {
		return nil
	}
	return &v
}

func trimmed(s string) string { return strings.TrimSpace(s) }
