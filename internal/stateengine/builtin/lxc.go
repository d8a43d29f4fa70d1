package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostctl/hostctl/internal/adapters/dbus"
	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/stateengine"
)

// ContainerState is one container's reported state, as returned by its
// discovered agent.
type ContainerState struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// DesiredContainer names a container and its desired running status.
type DesiredContainer struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "running" | "stopped"
}

type lxcDesired struct {
	Containers []DesiredContainer `json:"containers"`
}

type lxcTask struct {
	Operation string `json:"operation"`
	Container string `json:"container"`
}

// LXCPlugin fans container lifecycle operations out to per-container
// D-Bus agents discovered on the bus, rather than shelling into `lxc`
// or `docker`.
type LXCPlugin struct {
	adapter *dbus.Adapter
}

// NewLXCPlugin builds a plugin bound to adapter.
func NewLXCPlugin(adapter *dbus.Adapter) *LXCPlugin {
	return &LXCPlugin{adapter: adapter}
}

func (p *LXCPlugin) Name() string { return "lxc" }

func (p *LXCPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:        "lxc",
		Version:     "1.0.0",
		Description: "Drives container lifecycle through discovered agent proxies over D-Bus.",
		Fields: map[string]stateengine.FieldSchema{
			"containers": {
				Type:        stateengine.FieldArray,
				Required:    true,
				Description: "Containers and their desired running status",
			},
		},
	}
}

// QueryState asks every discovered agent for its status via a "status"
// task.
func (p *LXCPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	agents, err := p.adapter.DiscoverAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("lxc: discover agents: %w", err)
	}

	var states []ContainerState
	for _, agent := range agents {
		taskJSON, _ := json.Marshal(lxcTask{Operation: "status"})
		resultJSON, err := p.adapter.CallAgent(ctx, agent, string(taskJSON))
		if err != nil {
			continue
		}
		var status struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal([]byte(resultJSON), &status)
		states = append(states, ContainerState{Name: agent.BusName, Status: status.Status})
	}
	return json.Marshal(map[string]any{"containers": states})
}

// CalculateDiff proposes a start/stop task for every container whose
// desired status isn't yet known to match; since status is agent-owned,
// every desired entry is planned and ApplyDiff's agent call is expected
// to be a no-op if already in the desired state.
func (p *LXCPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	var want lxcDesired
	if err := json.Unmarshal(desired.State, &want); err != nil {
		return stateengine.DiffDocument{}, fmt.Errorf("lxc: decode desired state: %w", err)
	}

	doc := stateengine.DiffDocument{PluginName: p.Name()}
	for _, c := range want.Containers {
		newVal, _ := json.Marshal(c.Status)
		doc.Changes = append(doc.Changes, stateengine.PlanChange{
			Operation:         stateengine.OpUpdate,
			Path:              "lxc." + c.Name + ".status",
			NewValue:          newVal,
			Description:       fmt.Sprintf("set container %s status=%s", c.Name, c.Status),
			ContinueOnFailure: true,
		})
	}
	return doc, nil
}

// ApplyDiff dispatches a start/stop task to each container's agent.
func (p *LXCPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if dryRun {
		return stateengine.ApplyReport{DryRun: true, Applied: diff.Changes}, nil
	}

	agents, err := p.adapter.DiscoverAgents(ctx)
	if err != nil {
		return stateengine.ApplyReport{}, fmt.Errorf("lxc: discover agents: %w", err)
	}
	byName := make(map[string]dbus.DiscoveredAgent, len(agents))
	for _, a := range agents {
		byName[a.BusName] = a
	}

	report := stateengine.ApplyReport{}
	for _, change := range diff.Changes {
		name, status := containerFromPath(change.Path), ""
		_ = json.Unmarshal(change.NewValue, &status)

		agent, ok := byName[name]
		if !ok {
			err := errs.Newf(errs.KindNotFound, "lxc: no agent discovered for container %s", name)
			report.Failed = &change
			report.Err = err
			if !change.ContinueOnFailure {
				return report, err
			}
			continue
		}

		op := "start"
		if status == "stopped" {
			op = "stop"
		}
		taskJSON, _ := json.Marshal(lxcTask{Operation: op, Container: name})
		if _, err := p.adapter.CallAgent(ctx, agent, string(taskJSON)); err != nil {
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

func (p *LXCPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	var doc map[string]any
	if err := json.Unmarshal(desired.State, &doc); err != nil {
		return stateengine.ValidationResult{Valid: false, Errors: []string{"desired state is not a JSON object"}}
	}
	return stateengine.ValidateFields(p.Schema(), doc)
}

func containerFromPath(path string) string {
	const prefix = "lxc."
	const suffix = ".status"
	trimmed := path
	if len(trimmed) > len(prefix) {
		trimmed = trimmed[len(prefix):]
	}
	if len(trimmed) > len(suffix) {
		trimmed = trimmed[:len(trimmed)-len(suffix)]
	}
	return trimmed
}
