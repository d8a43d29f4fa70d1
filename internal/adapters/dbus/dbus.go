// Package dbus drives systemd and PackageKit over the system D-Bus,
// replacing shell-outs to systemctl/apt-get/dnf with typed method calls.
package dbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/hostctl/hostctl/internal/errs"
)

const (
	systemdBusName     = "org.freedesktop.systemd1"
	systemdObjectPath  = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManagerIfce = "org.freedesktop.systemd1.Manager"
)

// UnitStatus is the subset of systemd unit state the orchestrator needs
// to report back to an LLM tool call.
type UnitStatus struct {
	Name        string
	LoadState   string
	ActiveState string
	SubState    string
	Description string
}

// UnitInfo is one row of ListUnits.
type UnitInfo struct {
	Name        string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	Followed    string
	UnitPath    string
	JobID       uint32
	JobType     string
	JobPath     string
}

// UnitFileChange is one entry of systemd's EnableUnitFiles/DisableUnitFiles
// change list ("symlink"/"unlink", filename, destination).
type UnitFileChange struct {
	Type        string
	Filename    string
	Destination string
}

// DiscoveredAgent is a D-Bus peer advertising the host agent interface
// (used for lxc/container passthrough tools).
type DiscoveredAgent struct {
	BusName    string
	ObjectPath string
}

// Config selects the bus an Adapter attaches to.
type Config struct {
	// UseSessionBus must be explicitly set true to attach to the session
	// bus even when DBUS_SESSION_BUS_ADDRESS is present; a privileged
	// daemon never infers this from the environment alone.
	UseSessionBus bool
}

// Adapter implements the systemd and agent-discovery surface over D-Bus.
type Adapter struct {
	conn *dbus.Conn
}

// Connect dials the configured bus.
func Connect(cfg Config) (*Adapter, error) {
	var conn *dbus.Conn
	var err error
	if cfg.UseSessionBus {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, errs.Newf(errs.KindProtocolUnavailable, "dbus: connect: %v", err)
	}
	return &Adapter{conn: conn}, nil
}

// Close releases the bus connection.
func (a *Adapter) Close() error { return a.conn.Close() }

func (a *Adapter) manager() dbus.BusObject {
	return a.conn.Object(systemdBusName, systemdObjectPath)
}

// SystemdUnit returns the current load/active/sub state of unit.
func (a *Adapter) SystemdUnit(ctx context.Context, unit string) (UnitStatus, error) {
	var unitPath dbus.ObjectPath
	if err := a.manager().CallWithContext(ctx, systemdManagerIfce+".GetUnit", 0, unit).Store(&unitPath); err != nil {
		return UnitStatus{}, wrapDBusError("GetUnit", unit, err)
	}
	obj := a.conn.Object(systemdBusName, unitPath)

	props := map[string]string{}
	for _, prop := range []string{"LoadState", "ActiveState", "SubState", "Description"} {
		v, err := obj.GetProperty("org.freedesktop.systemd1.Unit." + prop)
		if err != nil {
			return UnitStatus{}, wrapDBusError("GetProperty:"+prop, unit, err)
		}
		props[prop] = fmt.Sprintf("%v", v.Value())
	}
	return UnitStatus{
		Name:        unit,
		LoadState:   props["LoadState"],
		ActiveState: props["ActiveState"],
		SubState:    props["SubState"],
		Description: props["Description"],
	}, nil
}

// StartUnit starts unit using the given job mode ("replace", "fail", ...).
func (a *Adapter) StartUnit(ctx context.Context, unit, mode string) (string, error) {
	return a.unitJobCall(ctx, "StartUnit", unit, mode)
}

// StopUnit stops unit using the given job mode.
func (a *Adapter) StopUnit(ctx context.Context, unit, mode string) (string, error) {
	return a.unitJobCall(ctx, "StopUnit", unit, mode)
}

// RestartUnit restarts unit using the given job mode.
func (a *Adapter) RestartUnit(ctx context.Context, unit, mode string) (string, error) {
	return a.unitJobCall(ctx, "RestartUnit", unit, mode)
}

func (a *Adapter) unitJobCall(ctx context.Context, method, unit, mode string) (string, error) {
	var jobPath dbus.ObjectPath
	call := a.manager().CallWithContext(ctx, systemdManagerIfce+"."+method, 0, unit, mode)
	if err := call.Store(&jobPath); err != nil {
		return "", wrapDBusError(method, unit, err)
	}
	return string(jobPath), nil
}

// EnableUnitFiles enables units, returning whether symlinks were carried
// and the list of filesystem changes systemd made.
func (a *Adapter) EnableUnitFiles(ctx context.Context, units []string, runtime, force bool) (bool, []UnitFileChange, error) {
	var carrySymlinks bool
	var raw []struct {
		Type        string
		Filename    string
		Destination string
	}
	call := a.manager().CallWithContext(ctx, systemdManagerIfce+".EnableUnitFiles", 0, units, runtime, force)
	if err := call.Store(&carrySymlinks, &raw); err != nil {
		return false, nil, wrapDBusError("EnableUnitFiles", joinUnits(units), err)
	}
	changes := make([]UnitFileChange, len(raw))
	for i, r := range raw {
		changes[i] = UnitFileChange(r)
	}
	return carrySymlinks, changes, nil
}

// DisableUnitFiles disables units, returning the filesystem changes made.
func (a *Adapter) DisableUnitFiles(ctx context.Context, units []string, runtime bool) ([]UnitFileChange, error) {
	var raw []struct {
		Type        string
		Filename    string
		Destination string
	}
	call := a.manager().CallWithContext(ctx, systemdManagerIfce+".DisableUnitFiles", 0, units, runtime)
	if err := call.Store(&raw); err != nil {
		return nil, wrapDBusError("DisableUnitFiles", joinUnits(units), err)
	}
	changes := make([]UnitFileChange, len(raw))
	for i, r := range raw {
		changes[i] = UnitFileChange(r)
	}
	return changes, nil
}

// Reload instructs systemd to re-read unit files on disk.
func (a *Adapter) Reload(ctx context.Context) error {
	call := a.manager().CallWithContext(ctx, systemdManagerIfce+".Reload", 0)
	if err := call.Err; err != nil {
		return wrapDBusError("Reload", "", err)
	}
	return nil
}

// ListUnits enumerates all loaded systemd units.
func (a *Adapter) ListUnits(ctx context.Context) ([]UnitInfo, error) {
	var raw [][]any
	call := a.manager().CallWithContext(ctx, systemdManagerIfce+".ListUnits", 0)
	if err := call.Store(&raw); err != nil {
		return nil, wrapDBusError("ListUnits", "", err)
	}
	out := make([]UnitInfo, 0, len(raw))
	for _, row := range raw {
		if len(row) < 10 {
			continue
		}
		out = append(out, UnitInfo{
			Name:        fmt.Sprintf("%v", row[0]),
			Description: fmt.Sprintf("%v", row[1]),
			LoadState:   fmt.Sprintf("%v", row[2]),
			ActiveState: fmt.Sprintf("%v", row[3]),
			SubState:    fmt.Sprintf("%v", row[4]),
			Followed:    fmt.Sprintf("%v", row[5]),
			UnitPath:    fmt.Sprintf("%v", row[6]),
			JobType:     fmt.Sprintf("%v", row[8]),
			JobPath:     fmt.Sprintf("%v", row[9]),
		})
	}
	return out, nil
}

// DiscoverAgents lists D-Bus peers on the bus advertising the host agent
// interface, used to fan lxc/container tool calls out to per-container
// agents without shelling into `lxc exec`.
func (a *Adapter) DiscoverAgents(ctx context.Context) ([]DiscoveredAgent, error) {
	var names []string
	busObj := a.conn.BusObject()
	if err := busObj.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return nil, wrapDBusError("ListNames", "", err)
	}
	var agents []DiscoveredAgent
	const agentPrefix = "org.hostctl.Agent."
	for _, name := range names {
		if len(name) > len(agentPrefix) && name[:len(agentPrefix)] == agentPrefix {
			agents = append(agents, DiscoveredAgent{BusName: name, ObjectPath: "/org/hostctl/Agent"})
		}
	}
	return agents, nil
}

// NameHasOwner reports whether some process currently owns busName,
// letting callers cheaply probe for a well-known service (e.g.
// org.freedesktop.PackageKit) without attempting a real method call.
func (a *Adapter) NameHasOwner(ctx context.Context, busName string) (bool, error) {
	var owned bool
	busObj := a.conn.BusObject()
	call := busObj.CallWithContext(ctx, "org.freedesktop.DBus.NameHasOwner", 0, busName)
	if err := call.Store(&owned); err != nil {
		return false, wrapDBusError("NameHasOwner", busName, err)
	}
	return owned, nil
}

// CallAgent invokes a discovered agent's RunTask method with a JSON task
// payload, returning its JSON result payload.
func (a *Adapter) CallAgent(ctx context.Context, agent DiscoveredAgent, taskJSON string) (string, error) {
	obj := a.conn.Object(agent.BusName, dbus.ObjectPath(agent.ObjectPath))
	var resultJSON string
	call := obj.CallWithContext(ctx, "org.hostctl.Agent.RunTask", 0, taskJSON)
	if err := call.Store(&resultJSON); err != nil {
		return "", wrapDBusError("RunTask", agent.BusName, err)
	}
	return resultJSON, nil
}

func joinUnits(units []string) string {
	out := ""
	for i, u := range units {
		if i > 0 {
			out += ","
		}
		out += u
	}
	return out
}

// wrapDBusError classifies a raw godbus error into the structured error
// taxonomy. D-Bus surfaces permission failures as the well-known
// org.freedesktop.DBus.Error.AccessDenied name rather than an errno.
func wrapDBusError(op, target string, err error) error {
	if dbusErr, ok := err.(dbus.Error); ok {
		switch dbusErr.Name {
		case "org.freedesktop.DBus.Error.AccessDenied", "org.freedesktop.PolicyKit1.Error.NotAuthorized":
			return errs.Newf(errs.KindPermissionDenied, "dbus %s(%s): %s", op, target, dbusErr.Body)
		case "org.freedesktop.systemd1.NoSuchUnit":
			return errs.Newf(errs.KindNotFound, "dbus %s(%s): unit not found", op, target)
		case "org.freedesktop.DBus.Error.ServiceUnknown", "org.freedesktop.DBus.Error.NoReply":
			return errs.Newf(errs.KindProtocolUnavailable, "dbus %s(%s): %s", op, target, dbusErr.Body)
		}
	}
	return errs.Newf(errs.KindInternal, "dbus %s(%s): %v", op, target, err)
}
