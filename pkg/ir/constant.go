package ir

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

// SetValue rebuilds a constant node from data on device, or on the current
// device when device is empty. 64-bit values are stored as 32-bit.
func (n *OpNode) SetValue(ctx context.Context, data any, device graph.Device) error {
	if n.kind != immutableTensorKind {
		return fmt.Errorf("%s %q is not a constant", n.Type, n.Name)
	}
	if n.graph == nil {
		return fmt.Errorf("constant %q is not attached to a graph", n.Name)
	}
	arr, err := graph.NewHostArray(data)
	if err != nil {
		return fmt.Errorf("constant %q: %w", n.Name, err)
	}
	arr = graph.Narrow(arr)

	cn := device
	if cn == "" {
		cn = n.device
	}
	if cn == "" {
		cn = graph.DefaultDevice
	}

	v, err := n.graph.MakeConst(ctx, arr, cn, arr.DType, n.Name)
	if err != nil {
		return fmt.Errorf("creating constant %q: %w", n.Name, err)
	}
	if len(n.Outputs) == 0 {
		n.AddOutput(NewVarNode(n, n.Name))
	}
	n.Outputs[0].Var = v
	n.opr = v.Owner()
	n.value = &arr
	n.device = cn
	n.dtype = arr.DType
	n.shape = arr.Shape
	return nil
}

// Value returns the materialized value of a constant node.
func (n *OpNode) Value() (graph.HostArray, bool) {
	if n.kind != immutableTensorKind {
		return graph.HostArray{}, false
	}
	if n.opr != nil {
		if outputs := n.opr.Outputs(); len(outputs) > 0 {
			if v, ok := outputs[0].Value(); ok {
				return v, true
			}
		}
	}
	if n.value != nil {
		return *n.value, true
	}
	return graph.HostArray{}, false
}

// SetDevice moves a constant by rebuilding it from its value on device.
func (n *OpNode) SetDevice(ctx context.Context, device graph.Device) error {
	value, ok := n.Value()
	if !ok {
		return fmt.Errorf("constant %q has no value", n.Name)
	}
	return n.SetValue(ctx, value, device)
}
