package ir

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/klog/v2"
)

// OpNode is one operator application. Its kind decides how parameters are
// normalized at load time and how the node is materialized by Compile.
type OpNode struct {
	id ID

	// Type is the operator-kind tag, e.g. "Elemwise" or "GaussianRNG".
	Type    string
	Name    string
	Inputs  []*VarNode
	Outputs []*VarNode
	Params  graph.Params

	kind  *Kind
	opDef string
	opr   graph.OprHandle

	// Host2DeviceCopy and ImmutableTensor state.
	shape  []int
	dtype  graph.DType
	device graph.Device

	// ImmutableTensor state.
	graph graph.Graph
	value *graph.HostArray
}

func newOpNode(kind *Kind) *OpNode {
	return &OpNode{
		id:     nextID(),
		Type:   kind.Type,
		Params: graph.Params{},
		kind:   kind,
		opDef:  kind.OpDef,
	}
}

// NewOpNode creates an unloaded node of the kind registered under name.
// Unknown names produce a generic node tagged with name.
func NewOpNode(name string) *OpNode {
	kind := LookupKind(name)
	n := newOpNode(kind)
	if kind == readOnlyKind {
		n.Type = name
	}
	return n
}

// NewHost2DeviceCopy creates an input placeholder that is materialized on
// the first Compile.
func NewHost2DeviceCopy(shape []int, dtype graph.DType, name string, device graph.Device) *OpNode {
	if device == "" {
		device = graph.DefaultDevice
	}
	n := newOpNode(host2DeviceCopyKind)
	n.Name = name
	n.shape = shape
	n.dtype = dtype
	n.device = device
	return n
}

// NewImmutableTensor creates a constant holding data. With a nil graph the
// value is kept until the node is compiled.
func NewImmutableTensor(ctx context.Context, g graph.Graph, data any, name string, device graph.Device) (*OpNode, error) {
	n := newOpNode(immutableTensorKind)
	n.Name = name
	n.graph = g
	n.device = device
	if data == nil {
		return n, nil
	}
	if g == nil {
		arr, err := graph.NewHostArray(data)
		if err != nil {
			return nil, fmt.Errorf("constant %q: %w", name, err)
		}
		arr = graph.Narrow(arr)
		n.value = &arr
		n.dtype = arr.DType
		n.shape = arr.Shape
		n.AddOutput(NewVarNode(n, name))
		return n, nil
	}
	if err := n.SetValue(ctx, data, device); err != nil {
		return nil, err
	}
	return n, nil
}

// LoadOpNode snapshots an existing operator into a node of the matching
// kind. Inputs and outputs are wired by the caller.
func LoadOpNode(ctx context.Context, opr graph.OprHandle) (*OpNode, error) {
	kind := LookupKind(opr.Type())
	n := newOpNode(kind)
	if err := kind.load(n, opr); err != nil {
		return nil, &NodeError{Op: "load", Node: opr.Name(), Type: opr.Type(), Err: err}
	}
	klog.FromContext(ctx).V(4).Info("loaded operator", "type", opr.Type(), "name", opr.Name(), "kind", kind.Name, "opdef", n.opDef)
	return n, nil
}

// Compile materializes the node against target, keeping the identity of
// every output VarNode and refreshing its bound handle.
func (n *OpNode) Compile(ctx context.Context, target graph.Graph) error {
	if err := n.kind.compile(ctx, n, target); err != nil {
		return &NodeError{Op: "compile", Node: n.Name, Type: n.Type, Err: err}
	}
	return nil
}

func (n *OpNode) ID() ID {
	return n.id
}

// Kind returns the registered name of the node's kind, or "" for the
// generic kind.
func (n *OpNode) Kind() string {
	return n.kind.Name
}

// OpDefName is the catalogue kind Compile invokes, "" when the node is
// replayed by substitution.
func (n *OpNode) OpDefName() string {
	return n.opDef
}

// Opr returns the bound operator, nil before load or compile.
func (n *OpNode) Opr() graph.OprHandle {
	return n.opr
}

func (n *OpNode) AddInput(v *VarNode) {
	n.Inputs = append(n.Inputs, v)
}

func (n *OpNode) AddOutput(v *VarNode) {
	n.Outputs = append(n.Outputs, v)
}

// SetInput rewires input i to v.
func (n *OpNode) SetInput(i int, v *VarNode) error {
	if i < 0 || i >= len(n.Inputs) {
		return fmt.Errorf("operator %q has no input %d", n.Name, i)
	}
	n.Inputs[i] = v
	return nil
}

// Shape, DType and Device describe the single output of placeholder and
// constant nodes.
func (n *OpNode) Shape() []int {
	if n.kind == immutableTensorKind && len(n.Outputs) > 0 && n.Outputs[0].Var != nil {
		return n.Outputs[0].Shape()
	}
	return n.shape
}

func (n *OpNode) DType() graph.DType {
	return n.dtype
}

func (n *OpNode) Device() graph.Device {
	return n.device
}

// Graph is the graph a constant is bound to.
func (n *OpNode) Graph() graph.Graph {
	return n.graph
}
