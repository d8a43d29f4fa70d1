package builtin

import (
	"testing"

	"github.com/hostctl/hostctl/internal/stateengine"
)

func TestBuiltinPluginsRegisterWithoutCycles(t *testing.T) {
	e := stateengine.NewEngine(nil)
	plugins := []stateengine.Plugin{
		NewSystemdPlugin(nil, nil),
		NewNetPlugin(nil),
		NewOpenflowPlugin(nil),
		NewPackageKitPlugin(nil),
		NewLXCPlugin(nil),
		NewBtrfsPlugin("/mnt/btrfs"),
		NewNumaPlugin(""),
	}
	for _, p := range plugins {
		if err := e.Register(p); err != nil {
			t.Fatalf("Register(%s): %v", p.Name(), err)
		}
	}

	order, err := e.TopologicalOrder()
	if err != nil {
		t.Fatalf("TopologicalOrder: %v", err)
	}
	if len(order) != len(plugins) {
		t.Fatalf("order len = %d, want %d", len(order), len(plugins))
	}

	netIdx, flowIdx := -1, -1
	for i, name := range order {
		switch name {
		case "net":
			netIdx = i
		case "openflow":
			flowIdx = i
		}
	}
	if netIdx < 0 || flowIdx < 0 || netIdx > flowIdx {
		t.Fatalf("order = %v, want net before openflow", order)
	}
}
