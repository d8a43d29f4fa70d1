package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hostctl/hostctl/internal/stateengine"
)

// SubvolumeState is one btrfs subvolume reported by the plugin's query.
type SubvolumeState struct {
	Path     string `json:"path"`
	ReadOnly bool   `json:"read_only"`
}

// DesiredSubvolume names a subvolume that should exist under the managed
// filesystem root.
type DesiredSubvolume struct {
	Path string `json:"path"`
}

type btrfsDesired struct {
	Subvolumes []DesiredSubvolume `json:"subvolumes"`
}

// BtrfsPlugin manages btrfs subvolumes by shelling to the btrfs CLI, the
// same scoped exception the snapshot manager uses: there is no Go
// syscall binding for btrfs ioctls in the retrieval pack, and subvolume
// management is a filesystem concern rather than a host-admin tool an
// LLM would be tempted to hallucinate a generic shell command for.
type BtrfsPlugin struct {
	root string
}

// NewBtrfsPlugin builds a plugin managing subvolumes under root.
func NewBtrfsPlugin(root string) *BtrfsPlugin {
	return &BtrfsPlugin{root: root}
}

func (p *BtrfsPlugin) Name() string { return "btrfs" }

func (p *BtrfsPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:        "btrfs",
		Version:     "1.0.0",
		Description: "Manages btrfs subvolumes under a managed filesystem root.",
		Fields: map[string]stateengine.FieldSchema{
			"subvolumes": {Type: stateengine.FieldArray, Required: true, Description: "Subvolumes that must exist"},
		},
	}
}

// QueryState lists subvolumes under root via `btrfs subvolume list`.
func (p *BtrfsPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	out, err := exec.CommandContext(ctx, "btrfs", "subvolume", "list", p.root).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("btrfs: subvolume list: %w: %s", err, strings.TrimSpace(string(out)))
	}

	var subvols []SubvolumeState
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		path := fields[len(fields)-1]
		subvols = append(subvols, SubvolumeState{Path: path})
	}
	return json.Marshal(map[string]any{"subvolumes": subvols})
}

// CalculateDiff proposes creating any desired subvolume not already
// present.
func (p *BtrfsPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	var want btrfsDesired
	if err := json.Unmarshal(desired.State, &want); err != nil {
		return stateengine.DiffDocument{}, fmt.Errorf("btrfs: decode desired state: %w", err)
	}

	currentRaw, err := p.QueryState(ctx, nil)
	if err != nil {
		return stateengine.DiffDocument{}, err
	}
	var current struct {
		Subvolumes []SubvolumeState `json:"subvolumes"`
	}
	_ = json.Unmarshal(currentRaw, &current)
	existing := make(map[string]bool, len(current.Subvolumes))
	for _, s := range current.Subvolumes {
		existing[s.Path] = true
	}

	doc := stateengine.DiffDocument{PluginName: p.Name()}
	for _, s := range want.Subvolumes {
		if existing[s.Path] {
			continue
		}
		newVal, _ := json.Marshal(s)
		doc.Changes = append(doc.Changes, stateengine.PlanChange{
			Operation:   stateengine.OpCreate,
			Path:        "btrfs.subvolumes." + s.Path,
			NewValue:    newVal,
			Description: fmt.Sprintf("create subvolume %s", s.Path),
		})
	}
	return doc, nil
}

// ApplyDiff creates each missing subvolume via `btrfs subvolume create`.
func (p *BtrfsPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if dryRun {
		return stateengine.ApplyReport{DryRun: true, Applied: diff.Changes}, nil
	}

	report := stateengine.ApplyReport{}
	for _, change := range diff.Changes {
		var s DesiredSubvolume
		if err := json.Unmarshal(change.NewValue, &s); err != nil {
			report.Failed = &change
			report.Err = err
			continue
		}
		out, err := exec.CommandContext(ctx, "btrfs", "subvolume", "create", s.Path).CombinedOutput()
		if err != nil {
			report.Failed = &change
			report.Err = fmt.Errorf("btrfs subvolume create: %w: %s", err, strings.TrimSpace(string(out)))
			if !change.ContinueOnFailure {
				return report, report.Err
			}
			continue
		}
		report.Applied = append(report.Applied, change)
	}
	return report, nil
}

func (p *BtrfsPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	var doc map[string]any
	if err := json.Unmarshal(desired.State, &doc); err != nil {
		return stateengine.ValidationResult{Valid: false, Errors: []string{"desired state is not a JSON object"}}
	}
	return stateengine.ValidateFields(p.Schema(), doc)
}
