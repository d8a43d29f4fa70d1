package stateengine

import (
	"context"
	"encoding/json"
	"time"
)

// DesiredState is a target configuration document for a single plugin.
type DesiredState struct {
	State       json.RawMessage
	Timestamp   time.Time
	Hash        string
	Description string
	Source      StateSource
}

// StateSource names where a DesiredState document originated.
type StateSource struct {
	Kind  SourceKind
	Label string // Import source label or Plugin name; empty otherwise
}

// SourceKind closes the set of DesiredState origins.
type SourceKind int

const (
	SourceUser SourceKind = iota
	SourceAutoDiscovered
	SourceImport
	SourcePlugin
	SourceDefault
)

// ChangeOp names the kind of mutation a ChangeRecord describes.
type ChangeOp int

const (
	OpCreate ChangeOp = iota
	OpUpdate
	OpDelete
	OpNoOp
)

func (o ChangeOp) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpNoOp:
		return "noop"
	default:
		return "unknown"
	}
}

// PlanChange is one step of a DiffDocument: the change a plugin intends
// to make, before it is committed to the journal. ContinueOnFailure lets
// a plugin mark a step as safe to skip past if it fails, rather than
// aborting the whole apply.
type PlanChange struct {
	Operation          ChangeOp
	Path               string
	OldValue, NewValue json.RawMessage
	Description        string
	ContinueOnFailure  bool
}

// DiffDocument is the ordered plan produced by CalculateDiff.
type DiffDocument struct {
	PluginName string
	Changes    []PlanChange
}

// ApplyReport is the outcome of ApplyDiff.
type ApplyReport struct {
	DryRun  bool
	Applied []PlanChange
	Failed  *PlanChange
	Err     error
}

// Plugin is the per-subsystem contract the state engine drives: a
// side-effect-free query, a pure diff calculation, and an apply step
// that journals every committed change.
type Plugin interface {
	Name() string
	Schema() PluginSchema
	QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error)
	CalculateDiff(ctx context.Context, desired DesiredState) (DiffDocument, error)
	ApplyDiff(ctx context.Context, diff DiffDocument, dryRun bool) (ApplyReport, error)
	Validate(desired DesiredState) ValidationResult
}
