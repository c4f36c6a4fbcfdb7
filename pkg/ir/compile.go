package ir

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/klog/v2"
)

func inputHandles(n *OpNode) ([]graph.VarHandle, error) {
	args := make([]graph.VarHandle, len(n.Inputs))
	for i, in := range n.Inputs {
		if in == nil || in.Var == nil {
			return nil, fmt.Errorf("input %d is not bound to a graph value", i)
		}
		args[i] = in.Var
	}
	return args, nil
}

// compileOpDef rebuilds the node through the operator catalogue.
func compileOpDef(ctx context.Context, n *OpNode, target graph.Graph) error {
	if n.opDef == "" {
		return inconsistent("no operator definition for %q", n.Type)
	}
	for i, o := range n.Outputs {
		if o.Owner != n {
			return inconsistent("output %d is owned by another operator", i)
		}
	}
	def, err := target.OpDef(n.opDef, n.Params)
	if err != nil {
		return fmt.Errorf("building %s definition: %w", n.opDef, err)
	}
	args, err := inputHandles(n)
	if err != nil {
		return err
	}
	outputs, err := target.Invoke(ctx, def, args)
	if err != nil {
		return fmt.Errorf("invoking %s: %w", n.opDef, err)
	}
	if len(outputs) != len(n.Outputs) {
		return inconsistent("%s produced %d outputs, node has %d", n.opDef, len(outputs), len(n.Outputs))
	}
	if len(outputs) > 0 {
		n.opr = outputs[0].Owner()
	}
	for i, o := range n.Outputs {
		o.Var = outputs[i]
		if o.Name != "" {
			o.Var.SetName(o.Name)
		}
	}
	return nil
}

// compileReplay handles kinds without a catalogue entry: inputs that were
// rewired are substituted into the original operator's outputs, everything
// else keeps its handle.
func compileReplay(ctx context.Context, n *OpNode, target graph.Graph) error {
	if n.opr == nil {
		return inconsistent("%s has no bound operator to replay", n.Type)
	}
	origInputs := n.opr.Inputs()
	origOutputs := n.opr.Outputs()
	if len(n.Inputs) != len(origInputs) {
		return inconsistent("node has %d inputs, operator has %d", len(n.Inputs), len(origInputs))
	}
	if len(n.Outputs) != len(origOutputs) {
		return inconsistent("node has %d outputs, operator has %d", len(n.Outputs), len(origOutputs))
	}

	repl := make(map[graph.VarID]graph.VarHandle)
	for i, in := range n.Inputs {
		if in == nil || in.Var == nil {
			return fmt.Errorf("input %d is not bound to a graph value", i)
		}
		if in.Var.ID() != origInputs[i].ID() {
			repl[origInputs[i].ID()] = in.Var
		}
	}
	if len(repl) == 0 {
		return nil
	}

	outputs, err := n.opr.Graph().ReplaceVars(ctx, origOutputs, repl)
	if err != nil {
		return fmt.Errorf("replacing vars: %w", err)
	}
	if len(outputs) != len(n.Outputs) {
		return inconsistent("replacement produced %d outputs, node has %d", len(outputs), len(n.Outputs))
	}
	for i, o := range n.Outputs {
		o.Var = outputs[i]
	}
	if len(outputs) > 0 {
		n.opr = outputs[0].Owner()
	}
	klog.FromContext(ctx).V(4).Info("replayed operator by substitution", "type", n.Type, "name", n.Name, "substitutions", len(repl))
	return nil
}

func compileHost2DeviceCopy(ctx context.Context, n *OpNode, target graph.Graph) error {
	if len(n.Outputs) > 0 && n.Outputs[0].Owner != n {
		return inconsistent("output is owned by another operator")
	}
	v, err := target.MakeH2D(ctx, n.device, n.dtype, n.shape, n.Name)
	if err != nil {
		return fmt.Errorf("creating input placeholder: %w", err)
	}
	n.opr = v.Owner()
	if len(n.Outputs) == 0 {
		n.AddOutput(NewVarNode(n, n.Name))
	}
	n.Outputs[0].Var = v
	return nil
}

// compileImmutableTensor rebuilds the constant from its materialized value
// when the target is a different graph.
func compileImmutableTensor(ctx context.Context, n *OpNode, target graph.Graph) error {
	if len(n.Outputs) == 0 {
		return inconsistent("constant has no output")
	}
	out := n.Outputs[0]
	if out.Owner != n {
		return inconsistent("output is owned by another operator")
	}
	if n.opr != nil {
		if out.Var == nil || out.Var.ID() != n.opr.Outputs()[0].ID() {
			return inconsistent("output is not bound to the constant's value")
		}
	}

	if n.opr == nil || n.graph == nil || n.graph.ID() != target.ID() {
		value, ok := n.Value()
		if !ok {
			return fmt.Errorf("constant has no value to rebuild from")
		}
		n.graph = target
		if err := n.SetValue(ctx, value, ""); err != nil {
			return err
		}
	}
	if n.Name != "" {
		out.Var.SetName(n.Name)
	}
	return nil
}
