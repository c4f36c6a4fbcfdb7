package fallback

import (
	"fmt"
	"slices"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

type operator struct {
	id     graph.OprID
	typ    string
	name   string
	params string
	graph  *Graph

	inputs  []*tensor
	outputs []*tensor
}

var _ graph.OprHandle = (*operator)(nil)

func (o *operator) addOutput(t *tensor) *tensor {
	t.id = graph.VarID(nextID())
	t.owner = o
	o.outputs = append(o.outputs, t)
	return t
}

func (o *operator) outputHandles() []graph.VarHandle {
	out := make([]graph.VarHandle, len(o.outputs))
	for i, t := range o.outputs {
		out[i] = t
	}
	return out
}

func (o *operator) ID() graph.OprID {
	return o.id
}

func (o *operator) Name() string {
	return o.name
}

func (o *operator) Type() string {
	return o.typ
}

func (o *operator) Params() string {
	return o.params
}

func (o *operator) Inputs() []graph.VarHandle {
	out := make([]graph.VarHandle, len(o.inputs))
	for i, t := range o.inputs {
		out[i] = t
	}
	return out
}

func (o *operator) Outputs() []graph.VarHandle {
	return o.outputHandles()
}

func (o *operator) Graph() graph.Graph {
	return o.graph
}

type tensor struct {
	id    graph.VarID
	name  string
	owner *operator

	shape      []int
	shapeKnown bool
	dtype      graph.DType
	device     graph.Device
	value      *graph.HostArray
}

var _ graph.VarHandle = (*tensor)(nil)

func (t *tensor) ID() graph.VarID {
	return t.id
}

func (t *tensor) Name() string {
	return t.name
}

func (t *tensor) SetName(name string) {
	t.name = name
}

func (t *tensor) Owner() graph.OprHandle {
	if t.owner == nil {
		return nil
	}
	return t.owner
}

func (t *tensor) Graph() graph.Graph {
	if t.owner == nil {
		return nil
	}
	return t.owner.graph
}

func (t *tensor) Shape() ([]int, error) {
	if !t.shapeKnown {
		return nil, fmt.Errorf("shape of var %d is not statically known", t.id)
	}
	return slices.Clone(t.shape), nil
}

func (t *tensor) DType() graph.DType {
	return t.dtype
}

func (t *tensor) CompNode() graph.Device {
	return t.device
}

func (t *tensor) Value() (graph.HostArray, bool) {
	if t.value == nil {
		return graph.HostArray{}, false
	}
	return *t.value, true
}
