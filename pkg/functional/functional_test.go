package functional

import (
	"context"
	"testing"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/graph/fallback"
	"k8s.io/examples/AI/irtrace/pkg/intercept"
)

func input(t *testing.T, g *fallback.Graph, name string, shape ...int) graph.VarHandle {
	t.Helper()
	v, err := g.MakeH2D(context.Background(), graph.DefaultDevice, graph.Float32, shape, name)
	if err != nil {
		t.Fatalf("MakeH2D: %v", err)
	}
	return v
}

func TestOperationsBuildOperators(t *testing.T) {
	ctx := context.Background()
	g := fallback.New()
	x := input(t, g, "x", 2, 3)
	w := input(t, g, "w", 3, 4)
	b := input(t, g, "b", 4)

	y, err := Linear(ctx, x, w, b)
	if err != nil {
		t.Fatalf("Linear: %v", err)
	}
	add := y.Owner()
	if add.Type() != "Elemwise" || add.Params() != `{"mode":"ADD"}` {
		t.Errorf("expected bias add, got %s %s", add.Type(), add.Params())
	}
	if mm := add.Inputs()[0].Owner(); mm.Type() != "MatrixMul" {
		t.Errorf("expected matmul feeding the add, got %s", mm.Type())
	}

	n, err := Norm(ctx, x)
	if err != nil {
		t.Fatalf("Norm: %v", err)
	}
	sqrt := n.Owner()
	red := sqrt.Inputs()[0].Owner()
	sq := red.Inputs()[0].Owner()
	if sqrt.Params() != `{"mode":"SQRT"}` || red.Params() != `{"mode":"SUM"}` || sq.Params() != `{"mode":"MUL"}` {
		t.Errorf("unexpected norm lineage: %s <- %s <- %s", sqrt.Params(), red.Params(), sq.Params())
	}

	m, err := Mean(ctx, x, 1)
	if err != nil {
		t.Fatalf("Mean: %v", err)
	}
	if got := m.Owner().Params(); got != `{"axis":1,"mode":"MEAN"}` {
		t.Errorf("unexpected reduce params %s", got)
	}

	c, err := AsType(ctx, x, graph.Int32)
	if err != nil {
		t.Fatalf("AsType: %v", err)
	}
	if c.DType() != graph.Int32 {
		t.Errorf("expected int32 output, got %s", c.DType())
	}

	tr, err := Transpose(ctx, x, 1, 0)
	if err != nil {
		t.Fatalf("Transpose: %v", err)
	}
	if got := tr.Owner().Params(); got != `{"pattern":[1,0]}` {
		t.Errorf("unexpected dimshuffle params %s", got)
	}
}

func TestOperationsRejectBadArguments(t *testing.T) {
	ctx := context.Background()
	if _, err := Elemwise.Call(ctx, "add", 1, 2); err == nil {
		t.Errorf("expected non-graph arguments to be rejected")
	}
	g := fallback.New()
	x := input(t, g, "x", 2)
	if _, err := Elemwise.Call(ctx, "relu", x, x); err == nil {
		t.Errorf("expected wrong arity to be rejected")
	}
	if _, err := TensorMethods.Call(ctx, "astype", x, "float32"); err == nil {
		t.Errorf("expected untyped dtype to be rejected")
	}
}

func TestCallsGoThroughTheTable(t *testing.T) {
	ctx := context.Background()
	g := fallback.New()
	x := input(t, g, "x", 2)

	calls := 0
	surface := NewSurface()
	p, err := intercept.NewPatcher(ctx, func(orig *intercept.Callable) intercept.Func {
		return func(ctx context.Context, args ...any) ([]any, error) {
			calls++
			return orig.Call(ctx, args...)
		}
	}, surface)
	if err != nil {
		t.Fatalf("NewPatcher: %v", err)
	}

	if _, err := Linear(ctx, x, x, nil); err != nil {
		t.Fatalf("Linear: %v", err)
	}
	// linear and the matmul it delegates to.
	if calls != 2 {
		t.Errorf("expected 2 intercepted calls, got %d", calls)
	}
	if _, ok := Math.Get("_reduce"); !ok {
		t.Fatalf("expected private helper to exist")
	}
	if c, _ := Math.Get("_reduce"); c.Original() != nil {
		t.Errorf("expected private helper to stay unpatched")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	calls = 0
	if _, err := Relu(ctx, x); err != nil {
		t.Fatalf("Relu: %v", err)
	}
	if calls != 0 {
		t.Errorf("expected no interception after Close, got %d", calls)
	}
}
