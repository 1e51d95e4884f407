// Package editor implements the field-driven forms the admin panel renders
// for every content type. A Form only collects and validates values; saving
// is always the caller's job.
package editor

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// FieldType selects the input widget for a field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldImage    FieldType = "image"
	FieldIcon     FieldType = "icon"
	FieldEmoji    FieldType = "emoji"
	FieldSelect   FieldType = "select"
	FieldNumber   FieldType = "number"
)

// Field error reasons.
const (
	ReasonRequired      = "required"
	ReasonUnknownField  = "unknown_field"
	ReasonInvalidOption = "invalid_option"
	ReasonNotANumber    = "not_a_number"
	ReasonUnknownIcon   = "unknown_icon"
	ReasonUnknownEmoji  = "unknown_emoji"
	ReasonInvalidValue  = "invalid_value"
)

var (
	// ErrValidation matches every ValidationError.
	ErrValidation = errors.New("editor: validation failed")
	// ErrInvalidDescriptor reports a malformed field list.
	ErrInvalidDescriptor = errors.New("editor: invalid field descriptor")
)

// Field describes one input of a form.
type Field struct {
	Name      string    `yaml:"name" json:"name"`
	Label     string    `yaml:"label" json:"label"`
	Type      FieldType `yaml:"type" json:"type"`
	Required  bool      `yaml:"required" json:"required"`
	Options   []string  `yaml:"options,omitempty" json:"options,omitempty"`
	Namespace string    `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// Values is the mutable value map a form is bound to.
type Values map[string]any

// FieldErrors maps a field name to the reason it was rejected.
type FieldErrors map[string]string

// ValidationError is returned when submitted values fail field checks. It is
// reported inline next to the offending inputs, never as a store failure.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+e.Fields[name])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Fields: FieldErrors{field: reason}}
}

// Form is a validated, ordered list of field descriptors.
type Form struct {
	fields []Field
	byName map[string]Field
}

// NewForm validates the descriptors and builds a Form.
func NewForm(descriptors []Field) (Form, error) {
	fields := append([]Field(nil), descriptors...)
	byName := make(map[string]Field, len(fields))
	for index, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return Form{}, fmt.Errorf("%w: field %d has no name", ErrInvalidDescriptor, index)
		}
		if _, exists := byName[name]; exists {
			return Form{}, fmt.Errorf("%w: duplicate field %q", ErrInvalidDescriptor, name)
		}
		switch field.Type {
		case FieldText, FieldTextarea, FieldImage, FieldIcon, FieldEmoji, FieldNumber:
		case FieldSelect:
			if len(field.Options) == 0 {
				return Form{}, fmt.Errorf("%w: select field %q has no options", ErrInvalidDescriptor, name)
			}
		default:
			return Form{}, fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidDescriptor, name, field.Type)
		}
		if field.Label == "" {
			field.Label = name
		}
		field.Name = name
		fields[index] = field
		byName[name] = field
	}
	return Form{fields: fields, byName: byName}, nil
}

// Fields returns the descriptors in display order.
func (f Form) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

// Field looks up a descriptor by name.
func (f Form) Field(name string) (Field, bool) {
	field, ok := f.byName[name]
	return field, ok
}

// Bind collects the declared fields from submitted form data. Undeclared keys
// are ignored so hidden inputs such as CSRF tokens do not leak into values.
func (f Form) Bind(input url.Values) Values {
	values := make(Values, len(f.fields))
	for _, field := range f.fields {
		if raw, ok := input[field.Name]; ok && len(raw) > 0 {
			values[field.Name] = raw[0]
		}
	}
	return values
}

// Clean normalizes and validates values. With partial set only the supplied
// keys are checked, which is what an update needs; otherwise every required
// field must be present and non-empty.
func (f Form) Clean(input Values, partial bool) (Values, error) {
	cleaned := make(Values, len(input))
	problems := FieldErrors{}

	for key, raw := range input {
		field, ok := f.byName[key]
		if !ok {
			problems[key] = ReasonUnknownField
			continue
		}
		value, reason := normalize(field, raw)
		if reason != "" {
			problems[key] = reason
			continue
		}
		if value == nil {
			continue
		}
		cleaned[key] = value
	}

	for _, field := range f.fields {
		if !field.Required {
			continue
		}
		if _, flagged := problems[field.Name]; flagged {
			continue
		}
		value, present := cleaned[field.Name]
		if !present && partial {
			continue
		}
		if isEmpty(value) {
			problems[field.Name] = ReasonRequired
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}
	return cleaned, nil
}

// Submit validates the complete value map and hands it to onSave. The form
// never persists anything itself.
func (f Form) Submit(input Values, onSave func(Values) error) error {
	cleaned, err := f.Clean(input, false)
	if err != nil {
		return err
	}
	return onSave(cleaned)
}

func normalize(field Field, raw any) (any, string) {
	if field.Type == FieldNumber {
		return normalizeNumber(raw)
	}
	if raw == nil {
		return "", ""
	}
	text, err := cast.ToStringE(raw)
	if err != nil {
		return nil, ReasonInvalidValue
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ""
	}
	switch field.Type {
	case FieldSelect:
		for _, option := range field.Options {
			if option == text {
				return text, ""
			}
		}
		return nil, ReasonInvalidOption
	case FieldIcon:
		if !IsKnownIcon(text) {
			return nil, ReasonUnknownIcon
		}
	case FieldEmoji:
		if !IsKnownEmoji(text) {
			return nil, ReasonUnknownEmoji
		}
	}
	return text, ""
}

func normalizeNumber(raw any) (any, string) {
	switch typed := raw.(type) {
	case nil:
		return nil, ""
	case string:
		trimmed := strings.TrimSpace(typed)
		if trimmed == "" {
			return nil, ""
		}
		parsed, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, ReasonNotANumber
		}
		return parsed, ""
	case float64:
		if typed != float64(int(typed)) {
			return nil, ReasonNotANumber
		}
		return int(typed), ""
	default:
		parsed, err := cast.ToIntE(typed)
		if err != nil {
			return nil, ReasonNotANumber
		}
		return parsed, ""
	}
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return typed == ""
	default:
		return false
	}
}
