// Package adapters wires the native protocol adapters together and
// probes which ones are actually usable on the current host before the
// daemon advertises their tools.
package adapters

import (
	"context"
	"os"

	"github.com/hostctl/hostctl/internal/adapters/dbus"
	"github.com/hostctl/hostctl/internal/adapters/netlink"
)

// defaultOVSDBSocket is the conventional OVSDB control socket path.
const defaultOVSDBSocket = "/var/run/openvswitch/db.sock"

// CapabilityReport summarizes which native protocols are reachable on
// this host. Plugins consult it to decide whether to register their
// tools at all rather than registering them and failing on first call.
type CapabilityReport struct {
	SystemdAvailable   bool
	OVSDBSocketPresent bool
	OVSKernelModule    bool
	PackageKitRunning  bool
}

// Prober builds a CapabilityReport by attempting lightweight, read-only
// checks against each protocol.
type Prober struct {
	OVSDBSocketPath string
}

// NewProber builds a Prober with the conventional OVSDB socket path.
func NewProber() *Prober {
	return &Prober{OVSDBSocketPath: defaultOVSDBSocket}
}

// Probe checks each native protocol without mutating host state.
func (p *Prober) Probe(ctx context.Context) CapabilityReport {
	report := CapabilityReport{}

	if adapter, err := dbus.Connect(dbus.Config{}); err == nil {
		defer adapter.Close()
		if _, err := adapter.ListUnits(ctx); err == nil {
			report.SystemdAvailable = true
		}
		if owned, err := adapter.NameHasOwner(ctx, "org.freedesktop.PackageKit"); err == nil {
			report.PackageKitRunning = owned
		}
	}

	if _, err := os.Stat(p.socketPath()); err == nil {
		report.OVSDBSocketPresent = true
	}

	if _, err := netlink.Dial(ctx); err == nil {
		report.OVSKernelModule = true
	}

	return report
}

func (p *Prober) socketPath() string {
	if p.OVSDBSocketPath != "" {
		return p.OVSDBSocketPath
	}
	return defaultOVSDBSocket
}
