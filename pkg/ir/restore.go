package ir

import (
	"encoding/json"
	"fmt"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

// RestoreOpNode rebuilds a node from the fields a snapshot keeps: the kind
// it was loaded as, its type tag, the catalogue kind Compile invokes and its
// encoded params. Placeholders and constants are restored with
// NewHost2DeviceCopy and NewImmutableTensor instead. The node has no bound
// operator, so a generic node restored this way cannot be compiled.
func RestoreOpNode(kind, typ, opDef, name, params string) (*OpNode, error) {
	k := LookupKind(kind)
	if k == host2DeviceCopyKind || k == immutableTensorKind {
		return nil, fmt.Errorf("%s nodes carry values and cannot be restored from params", k.Name)
	}
	p, err := DecodeParams(params)
	if err != nil {
		return nil, err
	}
	if err := retype(p); err != nil {
		return nil, fmt.Errorf("restoring %s %q: %w", typ, name, err)
	}

	n := newOpNode(k)
	n.Type = typ
	n.Name = name
	n.Params = p
	if opDef != "" {
		n.opDef = opDef
	}
	return n, nil
}

// retype gives the parameters set by load normalization back the types
// they had before encoding.
func retype(p graph.Params) error {
	if v, ok := p["dtype"].(string); ok {
		p["dtype"] = graph.DType(v)
	}
	if v, ok := p["comp_node"].(string); ok {
		p["comp_node"] = graph.Device(v)
	}
	if v, ok := p["axis"].([]any); ok {
		axis := make([]int, len(v))
		for i, a := range v {
			x, err := toInt(a)
			if err != nil {
				return fmt.Errorf("axis %d: %w", i, err)
			}
			axis[i] = x
		}
		p["axis"] = axis
	}
	if v, ok := p["items"]; ok {
		blob, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var items []graph.IndexItem
		if err := json.Unmarshal(blob, &items); err != nil {
			return fmt.Errorf("index items: %w", err)
		}
		p["items"] = items
	}
	return nil
}
