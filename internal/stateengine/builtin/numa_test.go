package builtin

import (
	"context"
	"reflect"
	"testing"

	"github.com/hostctl/hostctl/internal/errs"
	"github.com/hostctl/hostctl/internal/stateengine"
)

func TestParseCPUList(t *testing.T) {
	cases := map[string][]int{
		"":        nil,
		"0-3":     {0, 1, 2, 3},
		"0,2,4":   {0, 2, 4},
		"0-1,4-5": {0, 1, 4, 5},
	}
	for input, want := range cases {
		if got := parseCPUList(input); !reflect.DeepEqual(got, want) {
			t.Errorf("parseCPUList(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNumaPluginApplyDiffRejectsChanges(t *testing.T) {
	p := NewNumaPlugin("")
	diff := stateengine.DiffDocument{Changes: []stateengine.PlanChange{{Operation: stateengine.OpUpdate}}}
	_, err := p.ApplyDiff(context.Background(), diff, false)
	if !errs.Is(err, errs.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestNumaPluginApplyDiffNoOpSucceeds(t *testing.T) {
	p := NewNumaPlugin("")
	report, err := p.ApplyDiff(context.Background(), stateengine.DiffDocument{}, false)
	if err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if len(report.Applied) != 0 {
		t.Fatalf("Applied = %v, want empty", report.Applied)
	}
}
