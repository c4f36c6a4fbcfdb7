package ir

import (
	"context"
	"fmt"
	"slices"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/klog/v2"
)

// Network is an IR snapshot of a whole graph.
type Network struct {
	oprs []*OpNode
	vars []*VarNode

	Outputs []*VarNode
}

// Load walks the graph backwards from outputs and snapshots every operator
// that contributes to them.
func Load(ctx context.Context, outputs []graph.VarHandle) (*Network, error) {
	log := klog.FromContext(ctx)

	found := make(map[graph.OprID]graph.OprHandle)
	var stack []graph.OprHandle
	for _, v := range outputs {
		if owner := v.Owner(); owner != nil {
			stack = append(stack, owner)
		}
	}
	for len(stack) > 0 {
		opr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := found[opr.ID()]; ok {
			continue
		}
		found[opr.ID()] = opr
		for _, in := range opr.Inputs() {
			if owner := in.Owner(); owner != nil {
				stack = append(stack, owner)
			}
		}
	}

	oprIDs := make([]graph.OprID, 0, len(found))
	for id := range found {
		oprIDs = append(oprIDs, id)
	}
	slices.Sort(oprIDs)

	order, err := buildOrder(oprIDs, func(id graph.OprID) []graph.OprID {
		var deps []graph.OprID
		for _, in := range found[id].Inputs() {
			if owner := in.Owner(); owner != nil {
				deps = append(deps, owner.ID())
			}
		}
		return deps
	})
	if err != nil {
		return nil, err
	}

	net := &Network{}
	vars := make(map[graph.VarID]*VarNode)
	for _, id := range order {
		opr := found[id]
		n, err := LoadOpNode(ctx, opr)
		if err != nil {
			return nil, err
		}
		for _, in := range opr.Inputs() {
			v, ok := vars[in.ID()]
			if !ok {
				v = LoadVarNode(in, nil)
				vars[in.ID()] = v
				net.vars = append(net.vars, v)
			}
			n.AddInput(v)
		}
		for _, out := range opr.Outputs() {
			v := LoadVarNode(out, n)
			vars[out.ID()] = v
			net.vars = append(net.vars, v)
			n.AddOutput(v)
		}
		net.oprs = append(net.oprs, n)
	}

	for _, out := range outputs {
		v, ok := vars[out.ID()]
		if !ok {
			return nil, fmt.Errorf("output var %q has no producer", out.Name())
		}
		net.Outputs = append(net.Outputs, v)
	}

	log.Info("loaded network", "operators", len(net.oprs), "vars", len(net.vars), "outputs", len(net.Outputs))
	return net, nil
}

// AddOpr appends n and its vars to the network.
func (net *Network) AddOpr(n *OpNode) {
	net.oprs = append(net.oprs, n)
	for _, v := range slices.Concat(n.Inputs, n.Outputs) {
		if !slices.Contains(net.vars, v) {
			net.vars = append(net.vars, v)
		}
	}
}

func (net *Network) Oprs() []*OpNode {
	return slices.Clone(net.oprs)
}

func (net *Network) Vars() []*VarNode {
	return slices.Clone(net.vars)
}

func (net *Network) OprsByType(typ string) []*OpNode {
	var out []*OpNode
	for _, n := range net.oprs {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

func (net *Network) VarsByName(name string) []*VarNode {
	var out []*VarNode
	for _, v := range net.vars {
		if v.Name == name {
			out = append(out, v)
		}
	}
	return out
}

// ReplaceVars rewires every consumer of a key of repl to its value and
// returns the number of rewired inputs.
func (net *Network) ReplaceVars(repl map[*VarNode]*VarNode) int {
	rewired := 0
	for _, n := range net.oprs {
		for i, in := range n.Inputs {
			if r, ok := repl[in]; ok {
				n.Inputs[i] = r
				rewired++
			}
		}
	}
	for i, out := range net.Outputs {
		if r, ok := repl[out]; ok {
			net.Outputs[i] = r
		}
	}
	for _, r := range repl {
		if !slices.Contains(net.vars, r) {
			net.vars = append(net.vars, r)
		}
	}
	return rewired
}

// Compile materializes every operator against target, producers first.
func (net *Network) Compile(ctx context.Context, target graph.Graph) error {
	log := klog.FromContext(ctx)

	order, err := buildOrder(net.oprs, func(n *OpNode) []*OpNode {
		deps := make([]*OpNode, 0, len(n.Inputs))
		for _, in := range n.Inputs {
			if in != nil && in.Owner != nil {
				deps = append(deps, in.Owner)
			}
		}
		return deps
	})
	if err != nil {
		return err
	}

	for _, n := range order {
		if err := n.Compile(ctx, target); err != nil {
			return err
		}
	}
	log.Info("compiled network", "operators", len(order), "graph", target.ID())
	return nil
}
