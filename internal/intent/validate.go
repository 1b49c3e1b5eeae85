package intent

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"epic-issues/internal/config"
)

var ErrValidationFailed = errors.New("validation failed")

// ValidationError carries messages per field name, for display next to
// the offending form input.
type ValidationError struct {
	Fields map[string][]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func fieldError(field, msg string) *ValidationError {
	e := &ValidationError{}
	e.add(field, msg)
	return e
}

type Decoder struct {
	schema config.TableSchema
	v      *validator.Validate
}

func NewDecoder(schema config.TableSchema) *Decoder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	vocab := map[string]func(string) bool{
		"status":   schema.HasStatus,
		"priority": schema.HasPriority,
	}
	for name, has := range vocab {
		if err := v.RegisterValidation(name, func(fl validator.FieldLevel) bool {
			return has(fl.Field().String())
		}); err != nil {
			panic(fmt.Sprintf("intent: register %s validation: %v", name, err))
		}
	}
	return &Decoder{schema: schema, v: v}
}

func (d *Decoder) Schema() config.TableSchema { return d.schema }

func (d *Decoder) validate(sub Submission) (Submission, error) {
	sub = normalize(sub)
	verr := &ValidationError{}
	if err := d.v.Struct(sub); err != nil {
		var fe validator.ValidationErrors
		if !errors.As(err, &fe) {
			return nil, err
		}
		for _, f := range fe {
			verr.add(fieldName(f), d.message(f))
		}
	}
	if be, ok := sub.(BulkEdit); ok && be.Changeset.Empty() {
		verr.add("changeset", "at least one of status or priority is required")
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return sub, nil
}

// fieldName drops the struct name, keeping nested paths like changeset.status.
func fieldName(f validator.FieldError) string {
	ns := f.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return f.Field()
}

func (d *Decoder) message(f validator.FieldError) string {
	switch f.Tag() {
	case "required":
		if f.Field() == "title" {
			return "An issue must have a title"
		}
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s item(s)", f.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", f.Param())
	case "status":
		return "must be one of: " + strings.Join(d.schema.Statuses, ", ")
	case "priority":
		return "must be one of: " + strings.Join(d.schema.Priorities, ", ")
	case "oneof":
		return "must be one of: " + f.Param()
	}
	return "is invalid"
}

func normalize(sub Submission) Submission {
	switch s := sub.(type) {
	case Create:
		s.Title = trimmed(s.Title)
		s.Status, s.Priority = nonEmpty(s.Status), nonEmpty(s.Priority)
		return s
	case CreateInline:
		s.Title = trimmed(s.Title)
		return s
	case Edit:
		s.Title = trimmed(s.Title)
		s.Status, s.Priority = nonEmpty(s.Status), nonEmpty(s.Priority)
		return s
	case BulkEdit:
		s.Changeset.Status, s.Changeset.Priority = nonEmpty(s.Changeset.Status), nonEmpty(s.Changeset.Priority)
		return s
	}
	return sub
}

func nonEmpty(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	return p
}
