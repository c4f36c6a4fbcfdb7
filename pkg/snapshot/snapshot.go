// Package snapshot serializes IR networks so that they can be stored as
// blobs and compiled again elsewhere.
package snapshot

import (
	"context"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/ir"
)

const FormatVersion = 1

// Snapshot is the encoded form of an ir.Network. Vars are referenced by
// index; operators are in dependency order.
type Snapshot struct {
	Version int   `msgpack:"version"`
	Vars    []Var `msgpack:"vars"`
	Oprs    []Opr `msgpack:"oprs"`
	Outputs []int `msgpack:"outputs"`
}

type Var struct {
	Name string `msgpack:"name"`
}

type Opr struct {
	// Kind is the registered kind the node was loaded as, empty for the
	// generic kind.
	Kind    string `msgpack:"kind"`
	Type    string `msgpack:"type"`
	OpDef   string `msgpack:"opdef,omitempty"`
	Name    string `msgpack:"name"`
	Params  string `msgpack:"params"`
	Inputs  []int  `msgpack:"inputs"`
	Outputs []int  `msgpack:"outputs"`

	// Host2DeviceCopy and ImmutableTensor.
	Shape  []int  `msgpack:"shape,omitempty"`
	DType  string `msgpack:"dtype,omitempty"`
	Device string `msgpack:"device,omitempty"`
	Value  *Value `msgpack:"value,omitempty"`
}

// Value is a constant's host data. Exactly one of the typed slices is set.
type Value struct {
	DType   string    `msgpack:"dtype"`
	Shape   []int     `msgpack:"shape"`
	Float32 []float32 `msgpack:"f32,omitempty"`
	Float64 []float64 `msgpack:"f64,omitempty"`
	Int32   []int32   `msgpack:"i32,omitempty"`
	Int64   []int64   `msgpack:"i64,omitempty"`
	Uint8   []uint8   `msgpack:"u8,omitempty"`
	Bool    []bool    `msgpack:"bool,omitempty"`
}

func newValue(a graph.HostArray) (*Value, error) {
	v := &Value{DType: string(a.DType), Shape: a.Shape}
	switch data := a.Data.(type) {
	case []float32:
		v.Float32 = data
	case []float64:
		v.Float64 = data
	case []int32:
		v.Int32 = data
	case []int64:
		v.Int64 = data
	case []uint8:
		v.Uint8 = data
	case []bool:
		v.Bool = data
	default:
		return nil, fmt.Errorf("unsupported constant data %T", a.Data)
	}
	return v, nil
}

func (v *Value) hostArray() graph.HostArray {
	a := graph.HostArray{DType: graph.DType(v.DType), Shape: v.Shape}
	switch graph.DType(v.DType) {
	case graph.Float32:
		a.Data = v.Float32
	case graph.Float64:
		a.Data = v.Float64
	case graph.Int32:
		a.Data = v.Int32
	case graph.Int64:
		a.Data = v.Int64
	case graph.Uint8:
		a.Data = v.Uint8
	case graph.Bool:
		a.Data = v.Bool
	}
	return a
}

// FromNetwork captures the structure of net.
func FromNetwork(net *ir.Network) (*Snapshot, error) {
	s := &Snapshot{Version: FormatVersion}
	index := make(map[*ir.VarNode]int)
	ref := func(v *ir.VarNode) int {
		if i, ok := index[v]; ok {
			return i
		}
		index[v] = len(s.Vars)
		s.Vars = append(s.Vars, Var{Name: v.Name})
		return index[v]
	}

	for _, n := range net.Oprs() {
		params, err := ir.EncodeParams(n.Params)
		if err != nil {
			return nil, fmt.Errorf("encoding params of %s %q: %w", n.Type, n.Name, err)
		}
		o := Opr{
			Kind:   n.Kind(),
			Type:   n.Type,
			OpDef:  n.OpDefName(),
			Name:   n.Name,
			Params: params,
		}
		for _, in := range n.Inputs {
			o.Inputs = append(o.Inputs, ref(in))
		}
		for _, out := range n.Outputs {
			o.Outputs = append(o.Outputs, ref(out))
		}

		switch n.Kind() {
		case "Host2DeviceCopy":
			o.Shape = n.Shape()
			o.DType = string(n.DType())
			o.Device = string(n.Device())
		case "ImmutableTensor":
			value, ok := n.Value()
			if !ok {
				return nil, fmt.Errorf("constant %q has no value", n.Name)
			}
			v, err := newValue(value)
			if err != nil {
				return nil, fmt.Errorf("constant %q: %w", n.Name, err)
			}
			o.Value = v
			o.Device = string(n.Device())
		}
		s.Oprs = append(s.Oprs, o)
	}

	for _, out := range net.Outputs {
		s.Outputs = append(s.Outputs, ref(out))
	}
	return s, nil
}

// ToNetwork rebuilds an uncompiled network. Compile it against a graph to
// bind every value.
func (s *Snapshot) ToNetwork(ctx context.Context) (*ir.Network, error) {
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	vars := make([]*ir.VarNode, len(s.Vars))
	lookup := func(i int) (*ir.VarNode, error) {
		if i < 0 || i >= len(vars) {
			return nil, fmt.Errorf("%w: var index %d out of range", ir.ErrInconsistent, i)
		}
		if vars[i] == nil {
			vars[i] = ir.NewVarNode(nil, s.Vars[i].Name)
		}
		return vars[i], nil
	}

	net := &ir.Network{}
	for _, o := range s.Oprs {
		n, err := s.restore(ctx, o)
		if err != nil {
			return nil, err
		}
		for _, i := range o.Inputs {
			v, err := lookup(i)
			if err != nil {
				return nil, err
			}
			n.AddInput(v)
		}
		for j, i := range o.Outputs {
			if i < 0 || i >= len(vars) {
				return nil, fmt.Errorf("%w: var index %d out of range", ir.ErrInconsistent, i)
			}
			if vars[i] != nil {
				return nil, fmt.Errorf("%w: var %d has more than one producer", ir.ErrInconsistent, i)
			}
			// Constants come with their output.
			if j < len(n.Outputs) {
				n.Outputs[j].Name = s.Vars[i].Name
				vars[i] = n.Outputs[j]
				continue
			}
			v := ir.NewVarNode(n, s.Vars[i].Name)
			n.AddOutput(v)
			vars[i] = v
		}
		net.AddOpr(n)
	}

	for _, i := range s.Outputs {
		v, err := lookup(i)
		if err != nil {
			return nil, err
		}
		if v.Owner == nil {
			return nil, fmt.Errorf("%w: output var %d has no producer", ir.ErrInconsistent, i)
		}
		net.Outputs = append(net.Outputs, v)
	}
	return net, nil
}

func (s *Snapshot) restore(ctx context.Context, o Opr) (*ir.OpNode, error) {
	switch o.Kind {
	case "Host2DeviceCopy":
		return ir.NewHost2DeviceCopy(o.Shape, graph.DType(o.DType), o.Name, graph.Device(o.Device)), nil
	case "ImmutableTensor":
		if o.Value == nil {
			return nil, fmt.Errorf("constant %q has no value", o.Name)
		}
		return ir.NewImmutableTensor(ctx, nil, o.Value.hostArray(), o.Name, graph.Device(o.Device))
	}
	return ir.RestoreOpNode(o.Kind, o.Type, o.OpDef, o.Name, o.Params)
}

func Encode(w io.Writer, s *Snapshot) error {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	return enc.Encode(s)
}

func Decode(r io.Reader) (*Snapshot, error) {
	s := &Snapshot{}
	if err := msgpack.NewDecoder(r).Decode(s); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return s, nil
}
