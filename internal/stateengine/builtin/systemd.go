// Package builtin provides the Plugin State Engine's shipped plugins,
// one per host subsystem, each driving a native adapter instead of a
// shelled-out CLI.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostctl/hostctl/internal/adapters/dbus"
	"github.com/hostctl/hostctl/internal/stateengine"
)

// ServiceState is one entry of the systemd plugin's query_state result.
type ServiceState struct {
	Name        string `json:"name"`
	ActiveState string `json:"active_state"`
	SubState    string `json:"sub_state"`
	LoadState   string `json:"load_state"`
}

// DesiredServiceState is one entry of the systemd plugin's desired state.
type DesiredServiceState struct {
	Name        string  `json:"name"`
	ActiveState *string `json:"active_state,omitempty"`
	Enabled     *bool   `json:"enabled,omitempty"`
}

type systemdDesired struct {
	Services []DesiredServiceState `json:"services"`
}

// SystemdPlugin drives systemd unit state through org.freedesktop.systemd1
// instead of systemctl, so the daemon never needs to execute the CLI an
// LLM might otherwise suggest.
type SystemdPlugin struct {
	adapter  *dbus.Adapter
	services []string // empty means check the default watch list
}

// NewSystemdPlugin builds a plugin bound to adapter, optionally scoped to
// a fixed set of units (empty watches the default set).
func NewSystemdPlugin(adapter *dbus.Adapter, services []string) *SystemdPlugin {
	return &SystemdPlugin{adapter: adapter, services: services}
}

var defaultWatchedUnits = []string{"dbus.service", "NetworkManager.service", "sshd.service", "systemd-resolved.service"}

func (p *SystemdPlugin) Name() string { return "systemd" }

func (p *SystemdPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:        "systemd",
		Version:     "1.0.0",
		Description: "Queries and drives systemd unit state over D-Bus.",
		Fields: map[string]stateengine.FieldSchema{
			"services": {
				Type:        stateengine.FieldArray,
				Required:    true,
				Description: "Units to bring to the desired active/enabled state",
			},
		},
	}
}

func (p *SystemdPlugin) watchList() []string {
	if len(p.services) > 0 {
		return p.services
	}
	return defaultWatchedUnits
}

// QueryState reports ActiveState/SubState/LoadState for every watched
// unit. filter is currently unused; the plugin always reports its full
// watch list.
func (p *SystemdPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	var states []ServiceState
	for _, unit := range p.watchList() {
		status, err := p.adapter.SystemdUnit(ctx, unit)
		if err != nil {
			states = append(states, ServiceState{Name: unit, ActiveState: "unknown", SubState: "unknown", LoadState: "unknown"})
			continue
		}
		states = append(states, ServiceState{Name: unit, ActiveState: status.ActiveState, SubState: status.SubState, LoadState: status.LoadState})
	}
	return json.Marshal(map[string]any{"services": states})
}

// CalculateDiff compares the current state of every named unit against
// the desired active_state/enabled fields.
func (p *SystemdPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	var want systemdDesired
	if err := json.Unmarshal(desired.State, &want); err != nil {
		return stateengine.DiffDocument{}, fmt.Errorf("systemd: decode desired state: %w", err)
	}

	doc := stateengine.DiffDocument{PluginName: p.Name()}
	for _, svc := range want.Services {
		current, err := p.adapter.SystemdUnit(ctx, svc.Name)
		if err != nil {
			continue
		}
		if svc.ActiveState != nil && *svc.ActiveState != current.ActiveState {
			oldVal, _ := json.Marshal(current.ActiveState)
			newVal, _ := json.Marshal(*svc.ActiveState)
			doc.Changes = append(doc.Changes, stateengine.PlanChange{
				Operation:   stateengine.OpUpdate,
				Path:        "systemd." + svc.Name + ".active_state",
				OldValue:    oldVal,
				NewValue:    newVal,
				Description: fmt.Sprintf("transition %s to %s", svc.Name, *svc.ActiveState),
			})
		}
		if svc.Enabled != nil {
			newVal, _ := json.Marshal(*svc.Enabled)
			doc.Changes = append(doc.Changes, stateengine.PlanChange{
				Operation:   stateengine.OpUpdate,
				Path:        "systemd." + svc.Name + ".enabled",
				NewValue:    newVal,
				Description: fmt.Sprintf("set enabled=%v for %s", *svc.Enabled, svc.Name),
			})
		}
	}
	return doc, nil
}

// ApplyDiff executes each planned change via StartUnit/StopUnit/
// RestartUnit/EnableUnitFiles/DisableUnitFiles, stopping at the first
// failure unless the change is marked ContinueOnFailure.
func (p *SystemdPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if dryRun {
		return stateengine.ApplyReport{DryRun: true, Applied: diff.Changes}, nil
	}

	report := stateengine.ApplyReport{}
	for _, change := range diff.Changes {
		unit, field := parseUnitPath(change.Path)
		var err error
		switch field {
		case "active_state":
			var state string
			if jerr := json.Unmarshal(change.NewValue, &state); jerr == nil {
				err = p.transitionUnit(ctx, unit, state)
			}
		case "enabled":
			var enabled bool
			if jerr := json.Unmarshal(change.NewValue, &enabled); jerr == nil {
				if enabled {
					_, _, err = p.adapter.EnableUnitFiles(ctx, []string{unit}, false, false)
				} else {
					_, err = p.adapter.DisableUnitFiles(ctx, []string{unit}, false)
				}
			}
		}
		if err != nil {
			report.Failed = &change
			report.Err = err
			if !change.ContinueOnFailure {
				return report, err
			}
			continue
		}
		report.Applied = append(report.Applied, change)
	}
	return report, nil
}

func (p *SystemdPlugin) transitionUnit(ctx context.Context, unit, desired string) error {
	switch desired {
	case "active":
		_, err := p.adapter.StartUnit(ctx, unit, "replace")
		return err
	case "inactive":
		_, err := p.adapter.StopUnit(ctx, unit, "replace")
		return err
	case "restarting", "reloading":
		_, err := p.adapter.RestartUnit(ctx, unit, "replace")
		return err
	default:
		return nil
	}
}

func (p *SystemdPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	var doc map[string]any
	if err := json.Unmarshal(desired.State, &doc); err != nil {
		return stateengine.ValidationResult{Valid: false, Errors: []string{"desired state is not a JSON object"}}
	}
	return stateengine.ValidateFields(p.Schema(), doc)
}

func parseUnitPath(path string) (unit, field string) {
	const prefix = "systemd."
	trimmed := path
	if len(trimmed) > len(prefix) {
		trimmed = trimmed[len(prefix):]
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '.' {
			return trimmed[:i], trimmed[i+1:]
		}
	}
	return trimmed, ""
}
