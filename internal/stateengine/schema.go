// Package stateengine implements the query/diff/apply plugin contract for
// host subsystems (services, bridges, flows, packages) along with the
// typed schema validation and cross-plugin apply ordering that sit on top
// of it.
package stateengine

import (
	"fmt"
	"regexp"
)

// FieldType names the JSON type a PluginSchema field accepts.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldFloat
	FieldBoolean
	FieldArray
	FieldObject
	FieldEnum
	FieldAny
)

func (t FieldType) String() string {
	switch t {
	case FieldString:
		return "string"
	case FieldInteger:
		return "integer"
	case FieldFloat:
		return "float"
	case FieldBoolean:
		return "boolean"
	case FieldArray:
		return "array"
	case FieldObject:
		return "object"
	case FieldEnum:
		return "enum"
	case FieldAny:
		return "any"
	default:
		return "unknown"
	}
}

// Constraint is a structural or semantic check attached to a field.
// Concrete variants implement isConstraint purely to close the type set.
type Constraint interface{ isConstraint() }

// MinConstraint rejects numeric values below Value.
type MinConstraint struct{ Value float64 }

// MaxConstraint rejects numeric values above Value.
type MaxConstraint struct{ Value float64 }

// PatternConstraint rejects string values that do not match Regex.
type PatternConstraint struct{ Regex *regexp.Regexp }

// OneOfConstraint rejects values outside the enumerated set.
type OneOfConstraint struct{ Values []any }

// RequiresFieldConstraint rejects a desired state that sets this field
// without also setting Field.
type RequiresFieldConstraint struct{ Field string }

// CustomConstraint names a validator function registered out of band;
// plugins resolve Validator against their own function table.
type CustomConstraint struct{ Validator string }

func (MinConstraint) isConstraint()           {}
func (MaxConstraint) isConstraint()           {}
func (PatternConstraint) isConstraint()       {}
func (OneOfConstraint) isConstraint()         {}
func (RequiresFieldConstraint) isConstraint() {}
func (CustomConstraint) isConstraint()        {}

// FieldSchema describes one field of a plugin's desired-state document.
type FieldSchema struct {
	Type        FieldType
	Required    bool
	Description string
	Default     any
	Example     any
	Constraints []Constraint
}

// PluginSchema is a plugin's self-description: its fields, their
// constraints, and the other plugins it must be applied after.
type PluginSchema struct {
	Name         string
	Version      string
	Description  string
	Fields       map[string]FieldSchema
	Dependencies []string
	Example      []byte
}

// ValidationResult is the outcome of validating a desired state document
// against a PluginSchema.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateFields checks a decoded desired-state document against schema,
// producing errors for missing required fields or constraint violations
// and warnings for fields the schema does not declare.
func ValidateFields(schema PluginSchema, doc map[string]any) ValidationResult {
	result := ValidationResult{Valid: true}

	for name, field := range schema.Fields {
		value, present := doc[name]
		if !present {
			if field.Required {
				result.Errors = append(result.Errors, fmt.Sprintf("missing required field %q", name))
				result.Valid = false
			}
			continue
		}
		for _, c := range field.Constraints {
			if err := checkConstraint(name, value, c, doc); err != nil {
				result.Errors = append(result.Errors, err.Error())
				result.Valid = false
			}
		}
	}

	for name := range doc {
		if _, known := schema.Fields[name]; !known {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown field %q", name))
		}
	}

	return result
}

func checkConstraint(field string, value any, c Constraint, doc map[string]any) error {
	switch constraint := c.(type) {
	case MinConstraint:
		n, ok := asFloat(value)
		if !ok || n < constraint.Value {
			return fmt.Errorf("field %q: value below minimum %v", field, constraint.Value)
		}
	case MaxConstraint:
		n, ok := asFloat(value)
		if !ok || n > constraint.Value {
			return fmt.Errorf("field %q: value above maximum %v", field, constraint.Value)
		}
	case PatternConstraint:
		s, ok := value.(string)
		if !ok || !constraint.Regex.MatchString(s) {
			return fmt.Errorf("field %q: does not match pattern %s", field, constraint.Regex.String())
		}
	case OneOfConstraint:
		if !containsAny(constraint.Values, value) {
			return fmt.Errorf("field %q: value not in allowed set", field)
		}
	case RequiresFieldConstraint:
		if _, ok := doc[constraint.Field]; !ok {
			return fmt.Errorf("field %q: requires field %q", field, constraint.Field)
		}
	case CustomConstraint:
		// Custom validators are resolved by the owning plugin, not here;
		// the engine has no access to the named function table.
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsAny(set []any, v any) bool {
	for _, candidate := range set {
		if fmt.Sprintf("%v", candidate) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}
