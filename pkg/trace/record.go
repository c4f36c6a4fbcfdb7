package trace

import (
	"context"
	"reflect"
	"sync"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/intercept"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/klog/v2"
)

// Module is a callable building block whose calls can be traced as a unit.
type Module interface {
	Forward(ctx context.Context, args ...any) ([]any, error)
}

var opaque = struct {
	sync.Mutex
	types map[reflect.Type]bool
}{types: make(map[reflect.Type]bool)}

// RegisterOpaque marks the dynamic type of m as opaque: calls to modules of
// that type are recorded as one node instead of the calls they make.
func RegisterOpaque(m Module) {
	opaque.Lock()
	defer opaque.Unlock()
	opaque.types[reflect.TypeOf(m)] = true
}

func IsOpaque(m Module) bool {
	opaque.Lock()
	defer opaque.Unlock()
	return opaque.types[reflect.TypeOf(m)]
}

func moduleName(m Module) string {
	typ := reflect.TypeOf(m)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	return typ.String()
}

// wrap is the Patcher's WrapFunc. Only the outermost intercepted call is
// recorded.
func (t *Tracer) wrap(orig *intercept.Callable) intercept.Func {
	return func(ctx context.Context, args ...any) ([]any, error) {
		if t.depth > 0 {
			return orig.Call(ctx, args...)
		}
		results, err := t.call(ctx, func(ctx context.Context) ([]any, error) {
			return orig.Call(ctx, args...)
		})
		if err != nil {
			return nil, err
		}
		t.record(ctx, orig.Name(), args, results)
		return results, nil
	}
}

func (t *Tracer) call(ctx context.Context, fn func(context.Context) ([]any, error)) ([]any, error) {
	t.depth++
	defer func() { t.depth-- }()
	return fn(ctx)
}

// CallModule runs m. An opaque module is recorded as a single node in the
// current scope; any other module gets a child scope named after its type
// that receives the calls it makes.
func (t *Tracer) CallModule(ctx context.Context, m Module, args ...any) ([]any, error) {
	if t.depth > 0 {
		return m.Forward(ctx, args...)
	}
	name := moduleName(m)
	if IsOpaque(m) {
		results, err := t.call(ctx, func(ctx context.Context) ([]any, error) {
			return m.Forward(ctx, args...)
		})
		if err != nil {
			return nil, err
		}
		t.record(ctx, name, args, results)
		return results, nil
	}

	t.PushScope(NewScope(name))
	defer func() {
		if err := t.PopScope(); err != nil {
			klog.FromContext(ctx).Error(err, "popping module scope", "session", t.id, "module", name)
		}
	}()
	return m.Forward(ctx, args...)
}

// record appends a node for one call to the current scope. Graph values
// among the arguments become inputs; other arguments are kept in
// Params["args"].
func (t *Tracer) record(ctx context.Context, name string, args, results []any) {
	scope := t.CurrentScope()
	if scope == nil {
		return
	}

	n := ir.NewOpNode(name)
	n.Name = name
	var rest []any
	for _, a := range args {
		v, ok := a.(graph.VarHandle)
		if !ok || v == nil {
			rest = append(rest, a)
			continue
		}
		in, ok := t.vars[v.ID()]
		if !ok {
			in = ir.LoadVarNode(v, nil)
			t.vars[v.ID()] = in
		}
		n.AddInput(in)
	}
	if len(rest) > 0 {
		n.Params["args"] = rest
	}
	for _, r := range results {
		v, ok := r.(graph.VarHandle)
		if !ok || v == nil {
			continue
		}
		out := ir.LoadVarNode(v, n)
		t.vars[v.ID()] = out
		n.AddOutput(out)
	}
	scope.Nodes = append(scope.Nodes, n)

	klog.FromContext(ctx).V(4).Info("recorded call", "session", t.id, "op", name, "scope", scope.Name, "inputs", len(n.Inputs), "outputs", len(n.Outputs))
}
