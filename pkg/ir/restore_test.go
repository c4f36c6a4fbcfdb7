package ir

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
)

func TestRestoreOpNodeRetypesParams(t *testing.T) {
	g := fallback.New()
	x := newInput(t, g, "x")
	loaded := mustLoad(t, legacyOpr(t, g, "Subtensor", `[{"axis":1,"begin":1,"end":1,"step":0,"idx":0}]`, []graph.VarHandle{x}))

	blob, err := EncodeParams(loaded.Params)
	if err != nil {
		t.Fatalf("EncodeParams: %v", err)
	}
	n, err := RestoreOpNode(loaded.Kind(), loaded.Type, loaded.OpDefName(), loaded.Name, blob)
	if err != nil {
		t.Fatalf("RestoreOpNode: %v", err)
	}
	if diff := cmp.Diff(loaded.Params, n.Params); diff != "" {
		t.Errorf("params changed by restore (-want +got):\n%s", diff)
	}

	n, err = RestoreOpNode("Copy", "Copy", "Copy", "copy", `{"comp_node":"gpu1"}`)
	if err != nil {
		t.Fatalf("RestoreOpNode: %v", err)
	}
	if n.Params["comp_node"] != graph.Device("gpu1") {
		t.Errorf("expected comp_node to be a device, got %T", n.Params["comp_node"])
	}

	if _, err := RestoreOpNode("ImmutableTensor", "ImmutableTensor", "", "c", "{}"); err == nil {
		t.Errorf("expected constants to be rejected")
	}
}
