package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync/atomic"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/klog/v2"
)

// ids are shared by every fallback graph so that handles from different
// graphs never collide.
var ids atomic.Uint64

func nextID() uint64 {
	return ids.Add(1)
}

// Graph is a structural, in-memory implementation of graph.Graph. It keeps
// operators and values but never computes anything.
type Graph struct {
	id        graph.GraphID
	catalogue map[string]int
	operators []*operator
}

var _ graph.Graph = (*Graph)(nil)

func New() *Graph {
	return NewWithCatalogue(DefaultCatalogue)
}

func NewWithCatalogue(kinds map[string]int) *Graph {
	return &Graph{
		id:        graph.GraphID(nextID()),
		catalogue: maps.Clone(kinds),
	}
}

func (g *Graph) ID() graph.GraphID {
	return g.id
}

// Operators returns every operator in creation order.
func (g *Graph) Operators() []graph.OprHandle {
	out := make([]graph.OprHandle, len(g.operators))
	for i, op := range g.operators {
		out[i] = op
	}
	return out
}

// OutputSpec describes one output of an operator added with AddOperator.
type OutputSpec struct {
	Name   string
	Shape  []int
	DType  graph.DType
	Device graph.Device
}

// OperatorSpec describes an operator in its serialized form, as a loaded
// model would contain it.
type OperatorSpec struct {
	Type    string
	Name    string
	Params  string
	Inputs  []graph.VarHandle
	Outputs []OutputSpec
}

// AddOperator inserts an operator without consulting the catalogue. It is
// how legacy operator kinds enter a graph.
func (g *Graph) AddOperator(spec OperatorSpec) (graph.OprHandle, error) {
	inputs, err := g.tensors(spec.Inputs)
	if err != nil {
		return nil, err
	}
	params := spec.Params
	if params == "" {
		params = "{}"
	}
	op := g.newOperator(spec.Type, spec.Name, params, inputs)
	for _, o := range spec.Outputs {
		device := o.Device
		if device == "" {
			device = graph.DefaultDevice
		}
		op.addOutput(&tensor{
			name:       o.Name,
			shape:      slices.Clone(o.Shape),
			shapeKnown: o.Shape != nil,
			dtype:      o.DType,
			device:     device,
		})
	}
	return op, nil
}

func (g *Graph) Invoke(ctx context.Context, def graph.OpDef, inputs []graph.VarHandle) ([]graph.VarHandle, error) {
	log := klog.FromContext(ctx)

	n, ok := g.catalogue[def.Kind]
	if !ok {
		return nil, fmt.Errorf("operator kind %q is not in the catalogue", def.Kind)
	}
	ins, err := g.tensors(inputs)
	if err != nil {
		return nil, err
	}
	params, err := json.Marshal(def.Params)
	if err != nil {
		return nil, fmt.Errorf("encoding params of %s: %w", def.Kind, err)
	}

	dtype := graph.Float32
	device := graph.DefaultDevice
	var shape []int
	if len(ins) > 0 {
		dtype = ins[0].dtype
		device = ins[0].device
		shape = ins[0].shape
	}
	if d, ok := def.Params["dtype"].(graph.DType); ok {
		dtype = d
	}
	if d, ok := def.Params["comp_node"].(graph.Device); ok {
		device = d
	}

	op := g.newOperator(def.Kind, "", string(params), ins)
	for i := 0; i < n; i++ {
		op.addOutput(&tensor{
			shape:      slices.Clone(shape),
			shapeKnown: shape != nil,
			dtype:      dtype,
			device:     device,
		})
	}
	log.V(4).Info("invoked operator", "kind", def.Kind, "id", op.id, "inputs", len(ins), "outputs", n)
	return op.outputHandles(), nil
}

func (g *Graph) MakeH2D(ctx context.Context, device graph.Device, dtype graph.DType, shape []int, name string) (graph.VarHandle, error) {
	op := g.newOperator("Host2DeviceCopy", name, "{}", nil)
	out := op.addOutput(&tensor{
		name:       name,
		shape:      slices.Clone(shape),
		shapeKnown: shape != nil,
		dtype:      dtype,
		device:     device,
	})
	return out, nil
}

func (g *Graph) MakeConst(ctx context.Context, data graph.HostArray, device graph.Device, dtype graph.DType, name string) (graph.VarHandle, error) {
	if data.DType != dtype {
		return nil, fmt.Errorf("constant %q: data has dtype %s, expected %s", name, data.DType, dtype)
	}
	value := data
	op := g.newOperator("ImmutableTensor", name, "{}", nil)
	out := op.addOutput(&tensor{
		name:       name,
		shape:      slices.Clone(data.Shape),
		shapeKnown: true,
		dtype:      dtype,
		device:     device,
		value:      &value,
	})
	return out, nil
}

func (g *Graph) ReplaceVars(ctx context.Context, outputs []graph.VarHandle, repl map[graph.VarID]graph.VarHandle) ([]graph.VarHandle, error) {
	r := &replacer{repl: repl, done: make(map[graph.OprID]*operator)}
	out := make([]graph.VarHandle, len(outputs))
	for i, v := range outputs {
		t, ok := v.(*tensor)
		if !ok {
			return nil, fmt.Errorf("var %d does not belong to a fallback graph", v.ID())
		}
		nt, err := r.rewrite(t)
		if err != nil {
			return nil, err
		}
		out[i] = nt
	}
	klog.FromContext(ctx).V(4).Info("replaced vars", "outputs", len(outputs), "substitutions", len(repl), "rewritten", r.cloned)
	return out, nil
}

type replacer struct {
	repl   map[graph.VarID]graph.VarHandle
	done   map[graph.OprID]*operator
	cloned int
}

func (r *replacer) rewrite(t *tensor) (*tensor, error) {
	if v, ok := r.repl[t.id]; ok {
		nt, ok := v.(*tensor)
		if !ok {
			return nil, fmt.Errorf("replacement for var %d does not belong to a fallback graph", t.id)
		}
		return nt, nil
	}
	op := t.owner
	if op == nil || len(op.inputs) == 0 {
		return t, nil
	}
	nop, err := r.rewriteOperator(op)
	if err != nil {
		return nil, err
	}
	return nop.outputs[slices.Index(op.outputs, t)], nil
}

func (r *replacer) rewriteOperator(op *operator) (*operator, error) {
	if nop, ok := r.done[op.id]; ok {
		return nop, nil
	}
	inputs := make([]*tensor, len(op.inputs))
	changed := false
	for i, in := range op.inputs {
		nin, err := r.rewrite(in)
		if err != nil {
			return nil, err
		}
		inputs[i] = nin
		if nin != in {
			changed = true
		}
	}
	nop := op
	if changed {
		nop = op.graph.newOperator(op.typ, op.name, op.params, inputs)
		for _, o := range op.outputs {
			clone := *o
			clone.owner = nil
			nop.addOutput(&clone)
		}
		r.cloned++
	}
	r.done[op.id] = nop
	return nop, nil
}

func (g *Graph) newOperator(typ, name, params string, inputs []*tensor) *operator {
	op := &operator{
		id:     graph.OprID(nextID()),
		typ:    typ,
		name:   name,
		params: params,
		inputs: inputs,
		graph:  g,
	}
	g.operators = append(g.operators, op)
	return op
}

func (g *Graph) tensors(handles []graph.VarHandle) ([]*tensor, error) {
	out := make([]*tensor, len(handles))
	for i, h := range handles {
		t, ok := h.(*tensor)
		if !ok || t == nil {
			return nil, fmt.Errorf("input %d does not belong to a fallback graph", i)
		}
		out[i] = t
	}
	return out, nil
}
