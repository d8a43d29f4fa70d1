package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostctl/hostctl/internal/adapters/packagekit"
	"github.com/hostctl/hostctl/internal/stateengine"
)

// PackageState reports whether a package is currently present. The
// adapter has no query surface for "is installed" beyond a failed
// Resolve, so presence is inferred from the last apply rather than
// polled independently.
type PackageState struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
}

// DesiredPackage names a package and whether it should be installed.
type DesiredPackage struct {
	Name    string `json:"name"`
	Present bool   `json:"present"`
}

type packagekitDesired struct {
	Packages []DesiredPackage `json:"packages"`
}

// PackageKitPlugin installs and removes packages through the PackageKit
// D-Bus transaction API, the forced substitute for apt/yum/dnf.
type PackageKitPlugin struct {
	adapter *packagekit.Adapter
	tracked map[string]bool
}

// NewPackageKitPlugin builds a plugin bound to adapter.
func NewPackageKitPlugin(adapter *packagekit.Adapter) *PackageKitPlugin {
	return &PackageKitPlugin{adapter: adapter, tracked: map[string]bool{}}
}

func (p *PackageKitPlugin) Name() string { return "packagekit" }

func (p *PackageKitPlugin) Schema() stateengine.PluginSchema {
	return stateengine.PluginSchema{
		Name:        "packagekit",
		Version:     "1.0.0",
		Description: "Installs and removes packages over the PackageKit D-Bus transaction API.",
		Fields: map[string]stateengine.FieldSchema{
			"packages": {Type: stateengine.FieldArray, Required: true, Description: "Packages and their desired presence"},
		},
	}
}

// QueryState reports the presence the plugin last observed or applied
// for each tracked package.
func (p *PackageKitPlugin) QueryState(ctx context.Context, filter json.RawMessage) (json.RawMessage, error) {
	states := make([]PackageState, 0, len(p.tracked))
	for name, installed := range p.tracked {
		states = append(states, PackageState{Name: name, Installed: installed})
	}
	return json.Marshal(map[string]any{"packages": states})
}

// CalculateDiff proposes an install or remove for any package whose
// desired presence differs from what the plugin last tracked.
func (p *PackageKitPlugin) CalculateDiff(ctx context.Context, desired stateengine.DesiredState) (stateengine.DiffDocument, error) {
	var want packagekitDesired
	if err := json.Unmarshal(desired.State, &want); err != nil {
		return stateengine.DiffDocument{}, fmt.Errorf("packagekit: decode desired state: %w", err)
	}

	doc := stateengine.DiffDocument{PluginName: p.Name()}
	for _, pkg := range want.Packages {
		if p.tracked[pkg.Name] == pkg.Present {
			continue
		}
		op := stateengine.OpCreate
		if !pkg.Present {
			op = stateengine.OpDelete
		}
		newVal, _ := json.Marshal(pkg.Present)
		doc.Changes = append(doc.Changes, stateengine.PlanChange{
			Operation:   op,
			Path:        "packagekit." + pkg.Name + ".installed",
			NewValue:    newVal,
			Description: fmt.Sprintf("set %s present=%v", pkg.Name, pkg.Present),
		})
	}
	return doc, nil
}

// ApplyDiff installs or removes each changed package, stopping at the
// first failure unless marked continuable.
func (p *PackageKitPlugin) ApplyDiff(ctx context.Context, diff stateengine.DiffDocument, dryRun bool) (stateengine.ApplyReport, error) {
	if dryRun {
		return stateengine.ApplyReport{DryRun: true, Applied: diff.Changes}, nil
	}

	report := stateengine.ApplyReport{}
	for _, change := range diff.Changes {
		name := packageNameFromPath(change.Path)
		var err error
		if change.Operation == stateengine.OpCreate {
			err = p.adapter.InstallPackages(ctx, []string{name})
		} else {
			err = p.adapter.RemovePackages(ctx, []string{name}, true, true)
		}
		if err != nil {
			report.Failed = &change
			report.Err = err
			if !change.ContinueOnFailure {
				return report, err
			}
			continue
		}
		p.tracked[name] = change.Operation == stateengine.OpCreate
		report.Applied = append(report.Applied, change)
	}
	return report, nil
}

func (p *PackageKitPlugin) Validate(desired stateengine.DesiredState) stateengine.ValidationResult {
	var doc map[string]any
	if err := json.Unmarshal(desired.State, &doc); err != nil {
		return stateengine.ValidationResult{Valid: false, Errors: []string{"desired state is not a JSON object"}}
	}
	return stateengine.ValidateFields(p.Schema(), doc)
}

func packageNameFromPath(path string) string {
	const prefix = "packagekit."
	const suffix = ".installed"
	trimmed := path
	if len(trimmed) > len(prefix) {
		trimmed = trimmed[len(prefix):]
	}
	if len(trimmed) > len(suffix) {
		trimmed = trimmed[:len(trimmed)-len(suffix)]
	}
	return trimmed
}
