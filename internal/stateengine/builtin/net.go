package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostctl/hostctl/internal/adapters/ovsdb"
	"github.com/hostctl/hostctl/internal/stateengine"
)

const ovsDatabase = "Open_vSwitch"

// BridgeState is one OVS bridge reported by the net plugin's query.
type BridgeState struct {
	Name  string   `json:"name"`
	Ports []string `json:"ports"`
}

// DesiredBridge is one entry of the net plugin's desired state: a bridge
// that should exist with exactly the given ports attached.
type DesiredBridge struct {
	Name  string   `json:"name"`
	Ports []string `json:"ports"`
}

type netDesired struct {
	Bridges []DesiredBridge `json:"bridges"`
}

// NetPlugin reconciles OVS bridges and ports against the live Open_vSwitch
// database over OVSDB JSON-RPC, never shelling out to ovs-vsctl.
type NetPlugin struct {
	client *ovsdb.Client
}

// NewNetPlugin builds a plugin bound to an OVSDB client.
func NewNetPlugin(client *ovsdb.Client) *NetPlugin {
	return &NetPlugin{client: client}
}

func (p *NetPlugin) Name() string { return "net" }

func (p *NetPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:        "net",
		Version:     "1.0.0",
		Description: "Reconciles OVS bridges and ports over OVSDB.",
		Fields: map[string]stateengine.FieldSchema{
			"bridges": {Type: stateengine.FieldArray, Required: true, Description: "Desired bridges and their attached ports"},
		},
	}
}

// QueryState lists every bridge in the Bridge table along with the UUIDs
// in its ports column; the Port and Interface tables are not read, so
// port names are not reported.
func (p *NetPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	results, err := p.client.Transact(ctx, ovsDatabase, []ovsdb.OVSDBOp{
		{Op: "select", Table: "Bridge", Columns: []string{"name", "ports"}},
	})
	if err != nil {
		return nil, fmt.Errorf("net: query bridges: %w", err)
	}
	if len(results) == 0 {
		return json.Marshal(map[string]any{"bridges": []BridgeState{}})
	}

	var bridges []BridgeState
	for _, row := range results[0].Rows {
		var name string
		_ = json.Unmarshal(row["name"], &name)
		bridges = append(bridges, BridgeState{Name: name, Ports: decodeOVSSet(row["ports"])})
	}
	return json.Marshal(map[string]any{"bridges": bridges})
}

// decodeOVSSet unwraps OVSDB's ["set", [...]] / ["uuid", id] / scalar
// encoding into a flat list of string identifiers.
func decodeOVSSet(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var wrapped []json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil || len(wrapped) != 2 {
		return nil
	}
	var tag string
	_ = json.Unmarshal(wrapped[0], &tag)
	switch tag {
	case "set":
		var items []json.RawMessage
		_ = json.Unmarshal(wrapped[1], &items)
		var out []string
		for _, item := range items {
			out = append(out, decodeOVSUUID(item))
		}
		return out
	case "uuid":
		var id string
		_ = json.Unmarshal(wrapped[1], &id)
		return []string{id}
	default:
		return nil
	}
}

func decodeOVSUUID(raw json.RawMessage) string {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		var id string
		_ = json.Unmarshal(pair[1], &id)
		return id
	}
	var s string
	_ = json.Unmarshal(raw, &s)
	return s
}

// CalculateDiff compares desired bridges against the live Bridge table,
// producing Create operations for missing bridges.
func (p *NetPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	var want netDesired
	if err := json.Unmarshal(desired.State, &want); err != nil {
		return stateengine.DiffDocument{}, fmt.Errorf("net: decode desired state: %w", err)
	}

	currentRaw, err := p.QueryState(ctx, nil)
	if err != nil {
		return stateengine.DiffDocument{}, err
	}
	var current struct {
		Bridges []BridgeState `json:"bridges"`
	}
	_ = json.Unmarshal(currentRaw, &current)

	existing := make(map[string]bool, len(current.Bridges))
	for _, b := range current.Bridges {
		existing[b.Name] = true
	}

	doc := stateengine.DiffDocument{PluginName: p.Name()}
	for _, b := range want.Bridges {
		if existing[b.Name] {
			continue
		}
		newVal, _ := json.Marshal(b)
		doc.Changes = append(doc.Changes, stateengine.PlanChange{
			Operation:   stateengine.OpCreate,
			Path:        "net.bridges." + b.Name,
			NewValue:    newVal,
			Description: fmt.Sprintf("create bridge %s with ports %v", b.Name, b.Ports),
		})
	}
	return doc, nil
}

// ApplyDiff inserts a Bridge row carrying only the name of each missing
// bridge via an OVSDB transact, stopping at the first failure unless marked
// continuable. The desired ports are not created or attached.
func (p *NetPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if dryRun {
		return stateengine.ApplyReport{DryRun: true, Applied: diff.Changes}, nil
	}

	report := stateengine.ApplyReport{}
	for _, change := range diff.Changes {
		var b DesiredBridge
		if err := json.Unmarshal(change.NewValue, &b); err != nil {
			report.Failed = &change
			report.Err = err
			return report, err
		}

		row, _ := json.Marshal(map[string]any{"name": b.Name})
		if _, err := p.client.Transact(ctx, ovsDatabase, []ovsdb.OVSDBOp{
			{Op: "insert", Table: "Bridge", Row: row, UUIDName: "new_bridge"},
		}); err != nil {
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

func (p *NetPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	var doc map[string]any
	if err := json.Unmarshal(desired.State, &doc); err != nil {
		return stateengine.ValidationResult{Valid: false, Errors: []string{"desired state is not a JSON object"}}
	}
	return stateengine.ValidateFields(p.Schema(), doc)
}
