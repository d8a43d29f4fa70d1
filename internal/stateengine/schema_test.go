package stateengine

import (
	"regexp"
	"testing"
)

func TestValidateFieldsMissingRequired(t *testing.T) {
	schema := PluginSchema{
		Fields: map[string]FieldSchema{
			"unit": {Type: FieldString, Required: true},
		},
	}
	result := ValidateFields(schema, map[string]any{})
	if result.Valid {
		t.Fatal("expected invalid result for missing required field")
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors = %v, want 1 entry", result.Errors)
	}
}

func TestValidateFieldsUnknownFieldWarns(t *testing.T) {
	schema := PluginSchema{Fields: map[string]FieldSchema{}}
	result := ValidateFields(schema, map[string]any{"mystery": 1})
	if !result.Valid {
		t.Fatal("unknown fields should only warn, not invalidate")
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want 1 entry", result.Warnings)
	}
}

func TestValidateFieldsMinMaxConstraints(t *testing.T) {
	schema := PluginSchema{
		Fields: map[string]FieldSchema{
			"mtu": {Type: FieldInteger, Constraints: []Constraint{MinConstraint{Value: 68}, MaxConstraint{Value: 9000}}},
		},
	}
	if r := ValidateFields(schema, map[string]any{"mtu": float64(100)}); !r.Valid {
		t.Errorf("100 should satisfy [68,9000]: %v", r.Errors)
	}
	if r := ValidateFields(schema, map[string]any{"mtu": float64(1)}); r.Valid {
		t.Error("1 should violate min 68")
	}
	if r := ValidateFields(schema, map[string]any{"mtu": float64(99999)}); r.Valid {
		t.Error("99999 should violate max 9000")
	}
}

func TestValidateFieldsPatternConstraint(t *testing.T) {
	schema := PluginSchema{
		Fields: map[string]FieldSchema{
			"name": {Type: FieldString, Constraints: []Constraint{PatternConstraint{Regex: regexp.MustCompile(`^[a-z0-9-]+$`)}}},
		},
	}
	if r := ValidateFields(schema, map[string]any{"name": "br-int"}); !r.Valid {
		t.Errorf("br-int should match pattern: %v", r.Errors)
	}
	if r := ValidateFields(schema, map[string]any{"name": "Br Int!"}); r.Valid {
		t.Error("Br Int! should not match pattern")
	}
}

func TestValidateFieldsOneOfConstraint(t *testing.T) {
	schema := PluginSchema{
		Fields: map[string]FieldSchema{
			"type": {Type: FieldEnum, Constraints: []Constraint{OneOfConstraint{Values: []any{"internal", "system", "veth"}}}},
		},
	}
	if r := ValidateFields(schema, map[string]any{"type": "veth"}); !r.Valid {
		t.Errorf("veth should be allowed: %v", r.Errors)
	}
	if r := ValidateFields(schema, map[string]any{"type": "bogus"}); r.Valid {
		t.Error("bogus should be rejected")
	}
}

func TestValidateFieldsRequiresFieldConstraint(t *testing.T) {
	schema := PluginSchema{
		Fields: map[string]FieldSchema{
			"vlan_tag": {Type: FieldInteger, Constraints: []Constraint{RequiresFieldConstraint{Field: "vlan_mode"}}},
		},
	}
	if r := ValidateFields(schema, map[string]any{"vlan_tag": float64(10), "vlan_mode": "access"}); !r.Valid {
		t.Errorf("should be valid when vlan_mode present: %v", r.Errors)
	}
	if r := ValidateFields(schema, map[string]any{"vlan_tag": float64(10)}); r.Valid {
		t.Error("should be invalid when vlan_mode missing")
	}
}
