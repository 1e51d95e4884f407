package content

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/haackjogos-ops/evitaretres-seguranca-web-sub000/internal/editor"
	"gopkg.in/yaml.v3"
)

//go:embed collections.yaml
var catalogueYAML []byte

// DeleteMode selects how Delete removes a row.
type DeleteMode string

const (
	// DeleteSoft hides the row by clearing is_active; admins still see it.
	DeleteSoft DeleteMode = "soft"
	// DeleteHard removes the row.
	DeleteHard DeleteMode = "hard"
)

var errInvalidCatalogue = errors.New("content: invalid collection catalogue")

// Schema configures one ordered collection.
type Schema struct {
	Name   string         `yaml:"name" json:"name"`
	Label  string         `yaml:"label" json:"label"`
	Delete DeleteMode     `yaml:"delete" json:"delete"`
	Fields []editor.Field `yaml:"fields" json:"fields"`

	form editor.Form
}

// Form returns the validated editor form for the schema's fields.
func (s Schema) Form() editor.Form {
	return s.form
}

// Catalogue is the ordered list of collection schemas.
type Catalogue struct {
	Collections []Schema `yaml:"collections"`
}

// Lookup finds a schema by collection name.
func (c Catalogue) Lookup(name string) (Schema, bool) {
	for _, schema := range c.Collections {
		if schema.Name == name {
			return schema, true
		}
	}
	return Schema{}, false
}

// LoadCatalogue parses the embedded collection catalogue.
func LoadCatalogue() (Catalogue, error) {
	return ParseCatalogue(catalogueYAML)
}

// ParseCatalogue parses and validates a YAML collection catalogue.
func ParseCatalogue(raw []byte) (Catalogue, error) {
	var catalogue Catalogue
	if err := yaml.Unmarshal(raw, &catalogue); err != nil {
		return Catalogue{}, fmt.Errorf("%w: %v", errInvalidCatalogue, err)
	}
	seen := make(map[string]struct{}, len(catalogue.Collections))
	for index := range catalogue.Collections {
		schema := &catalogue.Collections[index]
		schema.Name = strings.TrimSpace(schema.Name)
		if schema.Name == "" {
			return Catalogue{}, fmt.Errorf("%w: collection %d has no name", errInvalidCatalogue, index)
		}
		if _, duplicate := seen[schema.Name]; duplicate {
			return Catalogue{}, fmt.Errorf("%w: duplicate collection %q", errInvalidCatalogue, schema.Name)
		}
		seen[schema.Name] = struct{}{}
		switch schema.Delete {
		case DeleteSoft, DeleteHard:
		default:
			return Catalogue{}, fmt.Errorf("%w: collection %q has delete mode %q", errInvalidCatalogue, schema.Name, schema.Delete)
		}
		form, err := editor.NewForm(schema.Fields)
		if err != nil {
			return Catalogue{}, fmt.Errorf("%w: collection %q: %v", errInvalidCatalogue, schema.Name, err)
		}
		for _, field := range form.Fields() {
			if reservedColumns[field.Name] {
				return Catalogue{}, fmt.Errorf("%w: collection %q uses reserved field %q", errInvalidCatalogue, schema.Name, field.Name)
			}
		}
		schema.form = form
		schema.Fields = form.Fields()
	}
	return catalogue, nil
}

// reservedColumns are managed by the collection itself and never editable
// through a form.
var reservedColumns = map[string]bool{
	columnID:           true,
	columnDisplayOrder: true,
	columnIsActive:     true,
	columnCreatedAt:    true,
	columnUpdatedAt:    true,
}
