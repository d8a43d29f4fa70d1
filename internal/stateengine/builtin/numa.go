package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/stateengine"
)

// NodeState reports one NUMA node's CPU membership.
type NodeState struct {
	Node int   `json:"node"`
	CPUs []int `json:"cpus"`
}

// NumaPlugin is a read-only query plugin: it reports NUMA topology but
// has nothing to apply, since rebalancing CPU/memory affinity across
// nodes is out of scope for this daemon.
type NumaPlugin struct {
	sysPath string // default "/sys/devices/system/node"
}

// NewNumaPlugin builds a plugin reading topology from sysPath. An empty
// sysPath uses the conventional /sys location.
func NewNumaPlugin(sysPath string) *NumaPlugin {
	if sysPath == "" {
		sysPath = "/sys/devices/system/node"
	}
	return &NumaPlugin{sysPath: sysPath}
}

func (p *NumaPlugin) Name() string { return "numa" }

func (p *NumaPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:        "numa",
		Version:     "1.0.0",
		Description: "Read-only report of NUMA node/CPU topology; apply_diff accepts only an empty plan.",
		Fields:      map[string]stateengine.FieldSchema{},
	}
}

// QueryState reads /sys/devices/system/node/node*/cpulist for each node.
func (p *NumaPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	entries, err := os.ReadDir(p.sysPath)
	if err != nil {
		return nil, fmt.Errorf("numa: readdir %s: %w", p.sysPath, err)
	}

	var nodes []NodeState
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(entry.Name(), "node"))
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(p.sysPath + "/" + entry.Name() + "/cpulist")
		if err != nil {
			continue
		}
		nodes = append(nodes, NodeState{Node: id, CPUs: parseCPUList(strings.TrimSpace(string(raw)))})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Node < nodes[j].Node })
	return json.Marshal(map[string]any{"nodes": nodes})
}

// CalculateDiff always returns an empty plan: topology is read-only.
func (p *NumaPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	return stateengine.DiffDocument{PluginName: p.Name()}, nil
}

// ApplyDiff rejects any non-empty plan; there is nothing this plugin can
// mutate.
func (p *NumaPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if len(diff.Changes) == 0 {
		return stateengine.ApplyReport{DryRun: dryRun}, nil
	}
	return stateengine.ApplyReport{}, errs.New(errs.KindValidation, "numa: plugin is read-only, no changes can be applied")
}

func (p *NumaPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	return stateengine.ValidationResult{Valid: true}
}

// parseCPUList decodes a Linux list-format range string ("0-3,8-11")
// into the flat set of CPU indices it describes.
func parseCPUList(s string) []int {
	if s == "" {
		return nil
	}
	var cpus []int
	for _, part := range strings.Split(s, ",") {
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, errLo := strconv.Atoi(part[:dash])
			hi, errHi := strconv.Atoi(part[dash+1:])
			if errLo != nil || errHi != nil {
				continue
			}
			for i := lo; i <= hi; i++ {
				cpus = append(cpus, i)
			}
		} else if n, err := strconv.Atoi(part); err == nil {
			cpus = append(cpus, n)
		}
	}
	return cpus
}
