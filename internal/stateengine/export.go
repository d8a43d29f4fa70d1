package stateengine

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hostctl/hostctl/internal/errs"
)

// SystemDependency is a package that must be present for a plugin's
// exported state to be restorable. Every install path routes through
// PackageKit; there is no shell-out fallback.
type SystemDependency struct {
	Name       string
	MinVersion string
	Required   bool
}

// PluginStateExport is one plugin's captured state within a
// DisasterRecoveryExport.
type PluginStateExport struct {
	PluginName   string
	Version      string
	State        json.RawMessage
	Dependencies []SystemDependency
	CapturedAt   time.Time
	StateHash    string
}

// HostInfo identifies the host a DisasterRecoveryExport was captured on.
type HostInfo struct {
	Hostname      string
	OSID          string
	OSVersionID   string
	Arch          string
	KernelVersion string
}

// DisasterRecoveryExport is the engine's full exportable state: every
// registered plugin's captured state, the dependencies needed to
// reinstall the host, and a checksum binding them together.
type DisasterRecoveryExport struct {
	FormatVersion      string
	ExportID           string
	CreatedAt          time.Time
	HostInfo           HostInfo
	Plugins            map[string]PluginStateExport
	GlobalDependencies []SystemDependency
	ApplyOrder         []string
	Checksum           string
}

const exportFormatVersion = "1.0.0"

// Export captures every registered plugin's current state in dependency
// order and binds them with a checksum over their state hashes.
func (e *Engine) Export(ctx context.Context) (DisasterRecoveryExport, error) {
	order, err := e.TopologicalOrder()
	if err != nil {
		return DisasterRecoveryExport{}, err
	}

	export := DisasterRecoveryExport{
		FormatVersion: exportFormatVersion,
		ExportID:      uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		HostInfo:      DetectHostInfo(),
		Plugins:       make(map[string]PluginStateExport, len(order)),
		ApplyOrder:    order,
	}

	for _, name := range order {
		e.mu.RLock()
		p, ok := e.plugins[name]
		e.mu.RUnlock()
		if !ok {
			continue
		}
		state, err := p.QueryState(ctx, nil)
		if err != nil {
			return DisasterRecoveryExport{}, errs.Newf(errs.KindInternal, "stateengine: export %q: %v", name, err)
		}
		schema := p.Schema()
		export.Plugins[name] = PluginStateExport{
			PluginName:   name,
			Version:      schema.Version,
			State:        state,
			Dependencies: dependenciesFor(name),
			CapturedAt:   time.Now().UTC(),
			StateHash:    contentHash(state),
		}
	}

	var hashes strings.Builder
	for _, name := range export.ApplyOrder {
		if ps, ok := export.Plugins[name]; ok {
			hashes.WriteString(ps.StateHash)
		}
	}
	export.Checksum = contentHash([]byte(hashes.String()))
	return export, nil
}

// Import reinstalls an export's global dependencies (via installDeps,
// typically PackageKitAdapter.InstallPackages) and then replays ApplyDiff
// for each plugin in ApplyOrder.
func (e *Engine) Import(ctx context.Context, export DisasterRecoveryExport, installDeps func(ctx context.Context, deps []SystemDependency) error) error {
	if installDeps != nil {
		var required []SystemDependency
		for _, d := range export.GlobalDependencies {
			if d.Required {
				required = append(required, d)
			}
		}
		for _, ps := range export.Plugins {
			for _, d := range ps.Dependencies {
				if d.Required {
					required = append(required, d)
				}
			}
		}
		if len(required) > 0 {
			if err := installDeps(ctx, required); err != nil {
				return errs.Newf(errs.KindInternal, "stateengine: import dependency install: %v", err)
			}
		}
	}

	for _, name := range export.ApplyOrder {
		ps, ok := export.Plugins[name]
		if !ok {
			continue
		}
		e.mu.RLock()
		p, registered := e.plugins[name]
		e.mu.RUnlock()
		if !registered {
			return errs.Newf(errs.KindNotFound, "stateengine: import references unregistered plugin %q", name)
		}

		desired := DesiredState{
			State:       ps.State,
			Timestamp:   time.Now().UTC(),
			Hash:        ps.StateHash,
			Description: "disaster recovery import",
			Source:      StateSource{Kind: SourceImport, Label: export.ExportID},
		}
		diff, err := p.CalculateDiff(ctx, desired)
		if err != nil {
			return errs.Newf(errs.KindInternal, "stateengine: import %q diff: %v", name, err)
		}
		report, err := p.ApplyDiff(ctx, diff, false)
		if err != nil {
			return err
		}
		if !report.DryRun && e.journal != nil {
			for _, change := range report.Applied {
				if jerr := e.journal.Append(journalRecordFrom(change)); jerr != nil {
					return jerr
				}
			}
		}
	}
	return nil
}

// DetectHostInfo gathers identifying information about the current host
// from the standard Linux identification files.
func DetectHostInfo() HostInfo {
	info := HostInfo{Arch: runtime.GOARCH}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if release, err := os.ReadFile("/etc/os-release"); err == nil {
		info.OSID = osReleaseField(string(release), "ID")
		info.OSVersionID = osReleaseField(string(release), "VERSION_ID")
	}
	if version, err := os.ReadFile("/proc/version"); err == nil {
		fields := strings.Fields(string(version))
		if len(fields) > 2 {
			info.KernelVersion = fields[2]
		}
	}
	return info
}

func osReleaseField(content, key string) string {
	prefix := key + "="
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.Trim(strings.TrimPrefix(line, prefix), `"'`)
		}
	}
	return ""
}

// dependenciesFor returns the known package dependencies for a builtin
// plugin by name, mirroring the original implementation's per-plugin
// dependency table.
func dependenciesFor(pluginName string) []SystemDependency {
	switch pluginName {
	case "net", "openflow":
		return []SystemDependency{{Name: "openvswitch-switch", Required: true}}
	case "btrfs":
		return []SystemDependency{{Name: "btrfs-progs", Required: true}}
	case "numa":
		return []SystemDependency{{Name: "numactl", Required: false}}
	case "packagekit":
		return []SystemDependency{{Name: "packagekit", Required: true}}
	default:
		return nil
	}
}
