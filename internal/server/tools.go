package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hostctl/hostctl/internal/adapters/ovsdb"
	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/orchestrator/tools"
)

// registerTools binds the typed tool surface to whichever adapters
// connected successfully. A tool whose adapter is unavailable on this
// host is simply never registered, so the pipeline never offers the LLM
// a tool it cannot actually execute.
func (d *Daemon) registerTools() {
	if d.dbusAdapter != nil {
		d.registerSystemdTools()
	}
	if d.netlinkAdapter != nil {
		d.registerNetlinkTools()
	}
	if d.ovsdbClient != nil {
		d.registerOVSTools()
	}
	if d.packagekitAdapter != nil {
		d.registerPackageKitTools()
	}
}

func jsonResult(v any) (*tools.Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errs.Newf(errs.KindInternal, "marshal tool result: %v", err)
	}
	return &tools.Result{Content: string(raw)}, nil
}

func mustRegisterTool(r *tools.Registry, def tools.Definition, handler tools.HandlerFunc) {
	if err := r.Register(def, handler); err != nil {
		panic(fmt.Sprintf("daemon: tool %q: %v", def.Name, err))
	}
}

const unitNameSchema = `{"type":"object","properties":{"unit":{"type":"string"}},"required":["unit"]}`

func (d *Daemon) registerSystemdTools() {
	type unitInput struct {
		Unit string `json:"unit"`
	}

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "systemd_start_unit",
		Description: "Start a systemd unit via org.freedesktop.systemd1.Manager.StartUnit.",
		InputSchema: json.RawMessage(unitNameSchema),
		Category:    "systemd",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in unitInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		job, err := d.dbusAdapter.StartUnit(ctx, in.Unit, "replace")
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]string{"job": job})
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "systemd_stop_unit",
		Description: "Stop a systemd unit via org.freedesktop.systemd1.Manager.StopUnit.",
		InputSchema: json.RawMessage(unitNameSchema),
		Category:    "systemd",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in unitInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		job, err := d.dbusAdapter.StopUnit(ctx, in.Unit, "replace")
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]string{"job": job})
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "systemd_restart_unit",
		Description: "Restart a systemd unit via org.freedesktop.systemd1.Manager.RestartUnit.",
		InputSchema: json.RawMessage(unitNameSchema),
		Category:    "systemd",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in unitInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		job, err := d.dbusAdapter.RestartUnit(ctx, in.Unit, "replace")
		if err != nil {
			return nil, err
		}
		return jsonResult(map[string]string{"job": job})
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "systemd_list_units",
		Description: "List loaded systemd units via org.freedesktop.systemd1.Manager.ListUnits.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Category:    "systemd",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		units, err := d.dbusAdapter.ListUnits(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(units)
	})
}

func (d *Daemon) registerNetlinkTools() {
	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "netlink_list_interfaces",
		Description: "List host network interfaces via RTM_GETLINK, replacing ip addr/ip link/ifconfig/nmcli.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Category:    "netlink",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		ifaces, err := d.netlinkAdapter.ListInterfaces(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(ifaces)
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "netlink_list_routes",
		Description: "List the host IP routing table via RTM_GETROUTE, replacing ip route.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Category:    "netlink",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		routes, err := d.netlinkAdapter.ListRoutes(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(routes)
	})

	if d.ovsdbClient != nil {
		d.registerOVSDatapathTools()
	}
}

func (d *Daemon) registerOVSDatapathTools() {
	type dpInput struct {
		Datapath string `json:"datapath"`
	}
	type flowInput struct {
		Datapath string `json:"datapath"`
		Key      string `json:"key"`
		Actions  string `json:"actions"`
	}

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "ovs_list_datapaths",
		Description: "List Open vSwitch datapaths via Generic Netlink OVS_DATAPATH_CMD_GET.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Category:    "ovs",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		dps, err := d.netlinkAdapter.ListDatapaths(ctx)
		if err != nil {
			return nil, err
		}
		return jsonResult(dps)
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "ovs_dump_flows",
		Description: "Dump OpenFlow-equivalent datapath flows via Generic Netlink OVS_FLOW_CMD_GET.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"datapath":{"type":"string"}},"required":["datapath"]}`),
		Category:    "ovs",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in dpInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		flows, err := d.netlinkAdapter.DumpFlows(ctx, in.Datapath)
		if err != nil {
			return nil, err
		}
		return jsonResult(flows)
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "ovs_add_flow",
		Description: "Install one datapath flow via Generic Netlink OVS_FLOW_CMD_NEW.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"datapath":{"type":"string"},"key":{"type":"string"},"actions":{"type":"string"}},"required":["datapath","key","actions"]}`),
		Category:    "ovs",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in flowInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		if err := d.netlinkAdapter.AddFlow(ctx, in.Datapath, in.Key, in.Actions); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"ok": true})
	})
}

func (d *Daemon) registerOVSTools() {
	type bridgeInput struct {
		Name string `json:"name"`
	}

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "ovs_list_bridges",
		Description: "List Open vSwitch bridges by querying the Bridge table over OVSDB JSON-RPC.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
		Category:    "ovs",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		results, err := d.ovsdbClient.Transact(ctx, ovsDatabaseName, []ovsdb.OVSDBOp{
			{Op: "select", Table: "Bridge", Columns: []string{"name"}},
		})
		if err != nil {
			return nil, err
		}
		names := make([]string, 0)
		if len(results) > 0 {
			for _, row := range results[0].Rows {
				if raw, ok := row["name"]; ok {
					var name string
					if err := json.Unmarshal(raw, &name); err == nil {
						names = append(names, name)
					}
				}
			}
		}
		return jsonResult(map[string][]string{"bridges": names})
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "ovs_create_bridge",
		Description: "Create an Open vSwitch bridge by inserting into the Bridge table over OVSDB JSON-RPC.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
		Category:    "ovs",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in bridgeInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		row, err := json.Marshal(map[string]string{"name": in.Name})
		if err != nil {
			return nil, errs.Newf(errs.KindInternal, "marshal bridge row: %v", err)
		}
		if _, err := d.ovsdbClient.Transact(ctx, ovsDatabaseName, []ovsdb.OVSDBOp{
			{Op: "insert", Table: "Bridge", Row: row, UUIDName: "new_bridge"},
		}); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"ok": true})
	})
}

const ovsDatabaseName = "Open_vSwitch"

func (d *Daemon) registerPackageKitTools() {
	type packagesInput struct {
		Packages []string `json:"packages"`
	}

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "packagekit_install",
		Description: "Install packages via org.freedesktop.PackageKit transaction InstallPackages.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"packages":{"type":"array","items":{"type":"string"}}},"required":["packages"]}`),
		Category:    "packagekit",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in packagesInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		if err := d.packagekitAdapter.InstallPackages(ctx, in.Packages); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"ok": true})
	})

	mustRegisterTool(d.Registry, tools.Definition{
		Name:        "packagekit_remove",
		Description: "Remove packages via org.freedesktop.PackageKit transaction RemovePackages.",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"packages":{"type":"array","items":{"type":"string"}}},"required":["packages"]}`),
		Category:    "packagekit",
	}, func(ctx context.Context, input json.RawMessage) (*tools.Result, error) {
		var in packagesInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, errs.Newf(errs.KindValidation, "invalid input: %v", err)
		}
		if err := d.packagekitAdapter.RemovePackages(ctx, in.Packages, true, false); err != nil {
			return nil, err
		}
		return jsonResult(map[string]bool{"ok": true})
	})
}
