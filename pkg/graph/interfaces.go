package graph

import (
	"context"
)

type VarID uint64
type OprID uint64
type GraphID uint64

// Device names the compute node a value lives on.
type Device string

// DefaultDevice lets the runtime pick any available device.
const DefaultDevice Device = "xpux"

// Params is the parameter mapping of an operator.
type Params map[string]any

// OpDef is an operator definition produced by a Catalogue, ready to be
// invoked against a graph.
type OpDef struct {
	Kind   string
	Params Params
}

// VarHandle is a value inside a low-level graph.
type VarHandle interface {
	ID() VarID
	Name() string
	SetName(name string)
	Owner() OprHandle
	Graph() Graph

	// Shape returns an error when the shape is not statically known.
	Shape() ([]int, error)
	DType() DType
	CompNode() Device

	// Value returns the materialized value of constants.
	Value() (HostArray, bool)
}

// OprHandle is an operator instance inside a low-level graph.
type OprHandle interface {
	ID() OprID
	Name() string
	// Type is the serialized kind name, e.g. "Elemwise" or "RNGOpr<MegDNNOpr>".
	Type() string
	// Params is the textual (JSON) parameter blob of the operator.
	Params() string
	Inputs() []VarHandle
	Outputs() []VarHandle
	Graph() Graph
}

type Catalogue interface {
	OpDef(kind string, params Params) (OpDef, error)
}

type Graph interface {
	Catalogue

	ID() GraphID

	// Invoke applies def to inputs and returns the operator's outputs in order.
	Invoke(ctx context.Context, def OpDef, inputs []VarHandle) ([]VarHandle, error)

	// MakeH2D creates a host-to-device input placeholder.
	MakeH2D(ctx context.Context, device Device, dtype DType, shape []int, name string) (VarHandle, error)

	// MakeConst creates a constant node holding data.
	MakeConst(ctx context.Context, data HostArray, device Device, dtype DType, name string) (VarHandle, error)

	// ReplaceVars returns outputs with every var in repl substituted. Outputs
	// that do not depend on a substituted var are returned unchanged.
	ReplaceVars(ctx context.Context, outputs []VarHandle, repl map[VarID]VarHandle) ([]VarHandle, error)
}

// IndexItem describes indexing along one axis.
type IndexItem struct {
	Axis  int  `json:"axis"`
	Begin bool `json:"begin"`
	End   bool `json:"end"`
	Step  bool `json:"step"`
	Idx   bool `json:"idx"`
}
