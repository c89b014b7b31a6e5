// Package entitysource adapts relational entity tables to the engine's
// accessor interfaces through declarative descriptors.
package entitysource

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldKind is the declared type of one descriptor field.
type FieldKind string

const (
	FieldString    FieldKind = "string"
	FieldInt       FieldKind = "int"
	FieldFloat     FieldKind = "float"
	FieldBool      FieldKind = "bool"
	FieldTimestamp FieldKind = "timestamp"
)

// Descriptor declares how one tracked entity type maps onto a table. Field
// names double as column names and as the keys the engine's matcher, filter
// expressions and templates see.
type Descriptor struct {
	EntityType     string               `json:"entityType" mapstructure:"entity_type"`
	Table          string               `json:"table" mapstructure:"table"`
	IDColumn       string               `json:"idColumn" mapstructure:"id_column"`
	Fields         map[string]FieldKind `json:"fields" mapstructure:"fields"`
	StageField     string               `json:"stageField,omitempty" mapstructure:"stage_field"`
	TerminalStages []string             `json:"terminalStages,omitempty" mapstructure:"terminal_stages"`
	OwnerField     string               `json:"ownerField,omitempty" mapstructure:"owner_field"`
	AssigneeField  string               `json:"assigneeField,omitempty" mapstructure:"assignee_field"`
	ContactField   string               `json:"contactField,omitempty" mapstructure:"contact_field"`
}

// Validate checks a descriptor before it is turned into an accessor.
// Returns an error if validation fails, nil if the descriptor is valid.
func (d *Descriptor) Validate() error {
	if err := validateIdentifier(d.EntityType); err != nil {
		return fmt.Errorf("invalid entity type %q: %w", d.EntityType, err)
	}
	if err := validateIdentifier(d.Table); err != nil {
		return fmt.Errorf("invalid table name %q: %w", d.Table, err)
	}
	if err := validateIdentifier(d.IDColumn); err != nil {
		return fmt.Errorf("invalid id column %q: %w", d.IDColumn, err)
	}

	if len(d.Fields) == 0 {
		return fmt.Errorf("descriptor %q must declare at least one field", d.EntityType)
	}
	if len(d.Fields) > 200 {
		return fmt.Errorf("descriptor %q declares %d fields, maximum allowed is 200", d.EntityType, len(d.Fields))
	}

	for fieldName, kind := range d.Fields {
		if err := validateIdentifier(fieldName); err != nil {
			return fmt.Errorf("invalid field name %q in descriptor %q: %w", fieldName, d.EntityType, err)
		}
		if !isValidFieldKind(kind) {
			return fmt.Errorf("field %q in descriptor %q has invalid kind %q (must be one of: string, int, float, bool, timestamp)", fieldName, d.EntityType, kind)
		}
	}

	for _, named := range []struct{ label, field string }{
		{"stage field", d.StageField},
		{"owner field", d.OwnerField},
		{"assignee field", d.AssigneeField},
		{"contact field", d.ContactField},
	} {
		if named.field == "" {
			continue
		}
		if _, declared := d.Fields[named.field]; !declared {
			return fmt.Errorf("descriptor %q names %s %q but does not declare it", d.EntityType, named.label, named.field)
		}
	}

	if len(d.TerminalStages) > 0 && d.StageField == "" {
		return fmt.Errorf("descriptor %q lists terminal stages but no stage field", d.EntityType)
	}

	return nil
}

// validateIdentifier validates a table, column or field name.
// Identifiers feed CEL filter expressions, hence the keyword check.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("identifier length %d exceeds maximum of 100 characters", len(name))
	}

	validIdentifier := regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	if !validIdentifier.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}

func isValidFieldKind(kind FieldKind) bool {
	switch kind {
	case FieldString, FieldInt, FieldFloat, FieldBool, FieldTimestamp:
		return true
	}
	return false
}

// isReservedKeyword checks names that would collide with CEL keywords in
// filter expressions.
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		"true":  true,
		"false": true,
		"null":  true,
		"if":    true, "else": true, "for": true, "while": true,
		"break": true, "continue": true, "return": true,
		"var": true, "let": true, "const": true, "function": true,
		"in": true, "as": true, "import": true, "package": true,
		"namespace": true, "loop": true, "void": true,
	}
	return reservedKeywords[strings.ToLower(name)]
}
