package ir

import (
	"sync/atomic"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

// ID identifies an IR node for its whole lifetime.
type ID uint64

var ids atomic.Uint64

func nextID() ID {
	return ID(ids.Add(1))
}

// VarNode is one value flowing between operators. Var is nil until the node
// is loaded from or compiled into a graph.
type VarNode struct {
	id ID

	Owner *OpNode
	Name  string
	Var   graph.VarHandle
}

func NewVarNode(owner *OpNode, name string) *VarNode {
	return &VarNode{id: nextID(), Owner: owner, Name: name}
}

// LoadVarNode wraps an existing graph value.
func LoadVarNode(v graph.VarHandle, owner *OpNode) *VarNode {
	return &VarNode{id: nextID(), Owner: owner, Name: v.Name(), Var: v}
}

func (v *VarNode) ID() ID {
	return v.id
}

func (v *VarNode) SetOwner(owner *OpNode) {
	v.Owner = owner
}

// Shape returns nil when nothing is bound or the shape is not known.
func (v *VarNode) Shape() []int {
	if v.Var == nil {
		return nil
	}
	shape, err := v.Var.Shape()
	if err != nil {
		return nil
	}
	return shape
}

func (v *VarNode) DType() graph.DType {
	if v.Var == nil {
		return ""
	}
	return v.Var.DType()
}
