package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostctl/hostctl/internal/adapters/netlink"
	"github.com/hostctl/hostctl/internal/stateengine"
)

// FlowState mirrors a single kernel datapath flow entry.
type FlowState struct {
	Key     string `json:"key"`
	Actions string `json:"actions"`
}

// DesiredFlow is one flow the openflow plugin should ensure exists on a
// datapath.
type DesiredFlow struct {
	Datapath string `json:"datapath"`
	Key      string `json:"key"`
	Actions  string `json:"actions"`
}

type openflowDesired struct {
	Flows []DesiredFlow `json:"flows"`
}

// OpenflowPlugin reconciles OVS kernel datapath flows over Generic
// Netlink, depending on the net plugin for bridge/datapath existence.
type OpenflowPlugin struct {
	adapter *netlink.Adapter
}

// NewOpenflowPlugin builds a plugin bound to a netlink adapter.
func NewOpenflowPlugin(adapter *netlink.Adapter) *OpenflowPlugin {
	return &OpenflowPlugin{adapter: adapter}
}

func (p *OpenflowPlugin) Name() string { return "openflow" }

func (p *OpenflowPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:         "openflow",
		Version:      "1.0.0",
		Description:  "Reconciles OVS kernel datapath flows over Generic Netlink.",
		Dependencies: []string{"net"},
		Fields: map[string]stateengine.FieldSchema{
			"flows": {Type: stateengine.FieldArray, Required: true, Description: "Flows that must exist, by datapath"},
		},
	}
}

// QueryState dumps flows for every known datapath.
func (p *OpenflowPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	datapaths, err := p.adapter.ListDatapaths(ctx)
	if err != nil {
		return nil, fmt.Errorf("openflow: list datapaths: %w", err)
	}

	result := make(map[string][]FlowState, len(datapaths))
	for _, dp := range datapaths {
		flows, err := p.adapter.DumpFlows(ctx, dp.Name)
		if err != nil {
			continue
		}
		states := make([]FlowState, 0, len(flows))
		for _, f := range flows {
			states = append(states, FlowState{Key: f.Key, Actions: f.Actions})
		}
		result[dp.Name] = states
	}
	return json.Marshal(map[string]any{"datapaths": result})
}

// CalculateDiff always proposes adding every desired flow: flow presence
// is not currently diffed against DumpFlows's coarse (undecoded) output,
// so apply is idempotent-by-retry rather than idempotent-by-diff. This
// matches DumpFlows's documented scope limit in the netlink adapter.
func (p *OpenflowPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	var want openflowDesired
	if err := json.Unmarshal(desired.State, &want); err != nil {
		return stateengine.DiffDocument{}, fmt.Errorf("openflow: decode desired state: %w", err)
	}

	doc := stateengine.DiffDocument{PluginName: p.Name()}
	for _, f := range want.Flows {
		newVal, _ := json.Marshal(f)
		doc.Changes = append(doc.Changes, stateengine.PlanChange{
			Operation:         stateengine.OpCreate,
			Path:              fmt.Sprintf("openflow.%s.%s", f.Datapath, f.Key),
			NewValue:          newVal,
			Description:       fmt.Sprintf("install flow %s on %s", f.Key, f.Datapath),
			ContinueOnFailure: true,
		})
	}
	return doc, nil
}

// ApplyDiff installs each flow via AddFlow.
func (p *OpenflowPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if dryRun {
		return stateengine.ApplyReport{DryRun: true, Applied: diff.Changes}, nil
	}

	report := stateengine.ApplyReport{}
	for _, change := range diff.Changes {
		var f DesiredFlow
		if err := json.Unmarshal(change.NewValue, &f); err != nil {
			report.Failed = &change
			report.Err = err
			continue
		}
		if err := p.adapter.AddFlow(ctx, f.Datapath, f.Key, f.Actions); err != nil {
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

func (p *OpenflowPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	var doc map[string]any
	if err := json.Unmarshal(desired.State, &doc); err != nil {
		return stateengine.ValidationResult{Valid: false, Errors: []string{"desired state is not a JSON object"}}
	}
	return stateengine.ValidateFields(p.Schema(), doc)
}
