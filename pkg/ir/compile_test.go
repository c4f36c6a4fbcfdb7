package ir

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
)

func invoke(t *testing.T, g *fallback.Graph, kind string, params graph.Params, inputs ...graph.VarHandle) []graph.VarHandle {
	t.Helper()
	def, err := g.OpDef(kind, params)
	if err != nil {
		t.Fatalf("OpDef(%s): %v", kind, err)
	}
	outs, err := g.Invoke(context.Background(), def, inputs)
	if err != nil {
		t.Fatalf("Invoke(%s): %v", kind, err)
	}
	return outs
}

func TestCompilePreservesVarNodeIdentity(t *testing.T) {
	ctx := context.Background()
	src := fallback.New()
	x := newInput(t, src, "x")
	outs := invoke(t, src, "SVD", graph.Params{"full_matrices": false}, x)

	net, err := Load(ctx, outs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	svd := net.OprsByType("SVD")
	if len(svd) != 1 {
		t.Fatalf("expected one SVD node, got %d", len(svd))
	}
	node := svd[0]
	outputs := append([]*VarNode(nil), node.Outputs...)
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(outputs))
	}

	first := fallback.New()
	if err := net.Compile(ctx, first); err != nil {
		t.Fatalf("Compile(first): %v", err)
	}
	firstHandles := make([]graph.VarID, len(outputs))
	for i, o := range node.Outputs {
		if o != outputs[i] {
			t.Fatalf("output %d replaced by a new VarNode", i)
		}
		if o.Var.Graph().ID() != first.ID() {
			t.Errorf("output %d bound to graph %d, expected %d", i, o.Var.Graph().ID(), first.ID())
		}
		firstHandles[i] = o.Var.ID()
	}

	second := fallback.New()
	if err := net.Compile(ctx, second); err != nil {
		t.Fatalf("Compile(second): %v", err)
	}
	for i, o := range node.Outputs {
		if o != outputs[i] {
			t.Fatalf("output %d replaced by a new VarNode", i)
		}
		if o.Var.ID() == firstHandles[i] {
			t.Errorf("output %d still bound to the handle from the first compile", i)
		}
		if o.Var.Graph().ID() != second.ID() {
			t.Errorf("output %d bound to graph %d, expected %d", i, o.Var.Graph().ID(), second.ID())
		}
	}
	if node.Opr().Graph().ID() != second.ID() {
		t.Errorf("operator handle not refreshed")
	}
}

func TestCompileOutputCountMismatch(t *testing.T) {
	ctx := context.Background()
	src := fallback.New()
	x := newInput(t, src, "x")
	outs := invoke(t, src, "Elemwise", graph.Params{"mode": "RELU"}, x)

	net, err := Load(ctx, outs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	target := fallback.NewWithCatalogue(map[string]int{"Elemwise": 2})
	err = net.Compile(ctx, target)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	var nodeErr *NodeError
	if !errors.As(err, &nodeErr) || nodeErr.Op != "compile" || nodeErr.Type != "Elemwise" {
		t.Errorf("expected compile NodeError naming Elemwise, got %v", err)
	}
}

func TestCompileForeignOutputLeavesNodeUntouched(t *testing.T) {
	ctx := context.Background()
	src := fallback.New()
	x := newInput(t, src, "x")
	outs := invoke(t, src, "SVD", graph.Params{"full_matrices": false}, x)

	net, err := Load(ctx, outs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	target := fallback.New()
	if err := net.Compile(ctx, target); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	node := net.OprsByType("SVD")[0]
	opr := node.Opr()
	handles := make([]graph.VarID, len(node.Outputs))
	for i, o := range node.Outputs {
		handles[i] = o.Var.ID()
	}
	operators := len(target.Operators())

	node.Outputs[2].Owner = NewOpNode("other")
	err = node.Compile(ctx, target)
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	if node.Opr() != opr {
		t.Errorf("operator handle changed by a failed compile")
	}
	for i, o := range node.Outputs {
		if o.Var.ID() != handles[i] {
			t.Errorf("output %d rebound by a failed compile", i)
		}
	}
	if got := len(target.Operators()); got != operators {
		t.Errorf("failed compile added %d operators to the target", got-operators)
	}
}

func TestCompileAssignsOutputNames(t *testing.T) {
	ctx := context.Background()
	src := fallback.New()
	x := newInput(t, src, "x")
	out := invoke(t, src, "Elemwise", graph.Params{"mode": "EXP"}, x)[0]
	out.SetName("activation")

	net, err := Load(ctx, []graph.VarHandle{out})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	target := fallback.New()
	if err := net.Compile(ctx, target); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if got := net.Outputs[0].Var.Name(); got != "activation" {
		t.Errorf("expected compiled output to be named activation, got %q", got)
	}
}

func TestGenericKindReplaysBySubstitution(t *testing.T) {
	ctx := context.Background()
	g := fallback.New()
	a := newInput(t, g, "a")
	b := newInput(t, g, "b")

	left := legacyOpr(t, g, "CustomOpr", `{"tag":"left"}`, []graph.VarHandle{a})
	right := legacyOpr(t, g, "CustomOpr", `{"tag":"right"}`, []graph.VarHandle{b})
	leftOut := left.Outputs()[0]
	rightOut := right.Outputs()[0]

	net, err := Load(ctx, []graph.VarHandle{leftOut, rightOut})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	c := newInput(t, g, "c")
	replacement := LoadVarNode(c, nil)

	leftNode := net.Outputs[0].Owner
	if err := leftNode.SetInput(0, replacement); err != nil {
		t.Fatalf("SetInput: %v", err)
	}

	for _, n := range net.OprsByType("CustomOpr") {
		if err := n.Compile(ctx, g); err != nil {
			t.Fatalf("Compile(%s): %v", n.Name, err)
		}
	}

	if net.Outputs[1].Var != rightOut {
		t.Errorf("expected output independent of the rewired input to keep its handle")
	}
	newLeft := net.Outputs[0].Var
	if newLeft == leftOut {
		t.Fatalf("expected rewired output to get a new handle")
	}
	owner := newLeft.Owner()
	if owner.Type() != "CustomOpr" || owner.Params() != `{"tag":"left"}` {
		t.Errorf("expected a substituted copy of the original operator, got %s %s", owner.Type(), owner.Params())
	}
	if owner.Inputs()[0].ID() != c.ID() {
		t.Errorf("expected substituted operator to read c")
	}

	if err := leftNode.Compile(ctx, g); err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if net.Outputs[0].Var != newLeft {
		t.Errorf("expected recompiling without rewiring to keep the handle")
	}
}

func TestConstantNarrowing(t *testing.T) {
	ctx := context.Background()
	g := fallback.New()

	f, err := NewImmutableTensor(ctx, g, []float64{1.5}, "f", "")
	if err != nil {
		t.Fatalf("NewImmutableTensor(float64): %v", err)
	}
	got, ok := f.Value()
	if !ok {
		t.Fatalf("expected a value")
	}
	if diff := cmp.Diff(graph.HostArray{DType: graph.Float32, Shape: []int{1}, Data: []float32{1.5}}, got); diff != "" {
		t.Errorf("unexpected float value (-want +got):\n%s", diff)
	}

	i, err := NewImmutableTensor(ctx, g, []int64{7}, "i", "")
	if err != nil {
		t.Fatalf("NewImmutableTensor(int64): %v", err)
	}
	got, _ = i.Value()
	if diff := cmp.Diff(graph.HostArray{DType: graph.Int32, Shape: []int{1}, Data: []int32{7}}, got); diff != "" {
		t.Errorf("unexpected int value (-want +got):\n%s", diff)
	}
	if i.Outputs[0].DType() != graph.Int32 {
		t.Errorf("expected bound handle to be int32, got %q", i.Outputs[0].DType())
	}
}

func TestConstantRebind(t *testing.T) {
	ctx := context.Background()
	g := fallback.New()

	n, err := NewImmutableTensor(ctx, g, 2.0, "two", "cpu0")
	if err != nil {
		t.Fatalf("NewImmutableTensor: %v", err)
	}
	out := n.Outputs[0]
	before := out.Var

	if err := n.SetDevice(ctx, "gpu0"); err != nil {
		t.Fatalf("SetDevice: %v", err)
	}
	if n.Outputs[0] != out {
		t.Fatalf("SetDevice replaced the output VarNode")
	}
	if out.Var == before || out.Var.CompNode() != "gpu0" {
		t.Errorf("expected a new handle on gpu0, got %v on %q", out.Var.ID(), out.Var.CompNode())
	}

	other := fallback.New()
	if err := n.Compile(ctx, other); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if n.Graph().ID() != other.ID() || out.Var.Graph().ID() != other.ID() {
		t.Errorf("expected constant to move to the target graph")
	}
	if out.Var.CompNode() != "gpu0" {
		t.Errorf("expected device to survive recompilation, got %q", out.Var.CompNode())
	}
	if out.Var.Name() != "two" {
		t.Errorf("expected name two, got %q", out.Var.Name())
	}

	notConst := NewOpNode("Elemwise")
	if err := notConst.SetValue(ctx, 1, ""); err == nil {
		t.Errorf("expected SetValue on a non-constant to fail")
	}
}

func TestPendingConstantCompiles(t *testing.T) {
	ctx := context.Background()
	n, err := NewImmutableTensor(ctx, nil, []float64{0.5, 0.25}, "w", "")
	if err != nil {
		t.Fatalf("NewImmutableTensor: %v", err)
	}
	out := n.Outputs[0]
	if out.Var != nil {
		t.Fatalf("expected no handle before compile")
	}
	g := fallback.New()
	if err := n.Compile(ctx, g); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if n.Outputs[0] != out || out.Var == nil {
		t.Fatalf("expected the existing output to be bound")
	}
	if n.Device() != graph.DefaultDevice {
		t.Errorf("expected default device, got %q", n.Device())
	}
}
