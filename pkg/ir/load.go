package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

// normalizer adjusts the parameters of a freshly loaded node.
type normalizer func(n *OpNode, opr graph.OprHandle) error

func decodeBlob(blob string, into any) error {
	dec := json.NewDecoder(strings.NewReader(blob))
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("decoding params %q: %w", blob, err)
	}
	return nil
}

// DecodeParams parses a textual parameter blob. Numbers are kept as
// json.Number so that integers survive unchanged.
func DecodeParams(blob string) (graph.Params, error) {
	params := graph.Params{}
	if strings.TrimSpace(blob) == "" {
		return params, nil
	}
	if err := decodeBlob(blob, &params); err != nil {
		return nil, err
	}
	return params, nil
}

// EncodeParams is the inverse of DecodeParams.
func EncodeParams(params graph.Params) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(params); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func loadDefault(n *OpNode, opr graph.OprHandle) error {
	params, err := DecodeParams(opr.Params())
	if err != nil {
		return err
	}
	n.Params = params
	n.Name = opr.Name()
	n.opr = opr
	return nil
}

func loadWith(normalize ...normalizer) func(n *OpNode, opr graph.OprHandle) error {
	return func(n *OpNode, opr graph.OprHandle) error {
		if err := loadDefault(n, opr); err != nil {
			return err
		}
		for _, f := range normalize {
			if err := f(n, opr); err != nil {
				return err
			}
		}
		return nil
	}
}

func loadReadOnly(n *OpNode, opr graph.OprHandle) error {
	if err := loadDefault(n, opr); err != nil {
		return err
	}
	n.Type = opr.Type()
	return nil
}

func firstOutput(opr graph.OprHandle) (graph.VarHandle, error) {
	outputs := opr.Outputs()
	if len(outputs) == 0 {
		return nil, inconsistent("operator %q has no outputs", opr.Name())
	}
	return outputs[0], nil
}

// captureDType records the output dtype, which the serialized params do not
// carry.
func captureDType(n *OpNode, opr graph.OprHandle) error {
	out, err := firstOutput(opr)
	if err != nil {
		return err
	}
	n.Params["dtype"] = out.DType()
	return nil
}

func captureCompNode(n *OpNode, opr graph.OprHandle) error {
	out, err := firstOutput(opr)
	if err != nil {
		return err
	}
	n.Params["comp_node"] = out.CompNode()
	return nil
}

func defaultCompNode(n *OpNode, opr graph.OprHandle) error {
	n.Params["comp_node"] = graph.DefaultDevice
	return nil
}

func dropParam(name string) normalizer {
	return func(n *OpNode, opr graph.OprHandle) error {
		delete(n.Params, name)
		return nil
	}
}

// classifyRNG picks the random-number operator from the parameter count of
// the legacy operator: three parameters mean Gaussian, anything else Uniform.
func classifyRNG(n *OpNode, opr graph.OprHandle) error {
	if len(n.Params) == 3 {
		n.Type = "GaussianRNG"
	} else {
		n.Type = "UniformRNG"
	}
	n.opDef = n.Type
	return nil
}

func loadHost2DeviceCopy(n *OpNode, opr graph.OprHandle) error {
	outputs := opr.Outputs()
	if len(outputs) != 1 {
		return inconsistent("Host2DeviceCopy %q has %d outputs, expected 1", opr.Name(), len(outputs))
	}
	out := outputs[0]
	shape, err := out.Shape()
	if err != nil {
		shape = nil
	}
	n.shape = shape
	n.dtype = out.DType()
	n.Name = out.Name()
	n.device = out.CompNode()
	n.opr = opr
	return nil
}

func loadImmutableTensor(n *OpNode, opr graph.OprHandle) error {
	out, err := firstOutput(opr)
	if err != nil {
		return err
	}
	n.opr = opr
	n.Name = out.Name()
	n.graph = opr.Graph()
	n.device = out.CompNode()
	n.dtype = out.DType()
	return nil
}

// loadAxisAddRemove merges the per-axis descriptors into a single axis list.
// All descriptors must use the same method.
func loadAxisAddRemove(n *OpNode, opr graph.OprHandle) error {
	var params struct {
		Desc []struct {
			Method  json.Number `json:"method"`
			AxisNum json.Number `json:"axisnum"`
		} `json:"desc"`
	}
	if err := decodeBlob(opr.Params(), &params); err != nil {
		return err
	}
	if len(params.Desc) == 0 {
		return inconsistent("AxisAddRemove %q has no axis descriptors", opr.Name())
	}

	method := params.Desc[0].Method.String()
	axis := make([]int, 0, len(params.Desc))
	for i, d := range params.Desc {
		if d.Method.String() != method {
			return inconsistent("AxisAddRemove %q mixes methods %s and %s (descriptor %d)", opr.Name(), method, d.Method, i)
		}
		a, err := d.AxisNum.Int64()
		if err != nil {
			return fmt.Errorf("descriptor %d: axisnum %q: %w", i, d.AxisNum, err)
		}
		axis = append(axis, int(a))
	}

	n.Name = opr.Name()
	n.opr = opr
	n.Params = graph.Params{"axis": axis}
	if method == "0" {
		n.opDef = "AddAxis"
	} else {
		n.opDef = "RemoveAxis"
	}
	return nil
}

// loadIndexing flattens the per-axis index descriptors into items.
func loadIndexing(n *OpNode, opr graph.OprHandle) error {
	var descs []map[string]any
	if err := decodeBlob(opr.Params(), &descs); err != nil {
		return err
	}
	items := make([]graph.IndexItem, 0, len(descs))
	for i, p := range descs {
		axis, err := toInt(p["axis"])
		if err != nil {
			return fmt.Errorf("index descriptor %d: axis: %w", i, err)
		}
		items = append(items, graph.IndexItem{
			Axis:  axis,
			Begin: truthy(p["begin"]),
			End:   truthy(p["end"]),
			Step:  truthy(p["step"]),
			Idx:   truthy(p["idx"]),
		})
	}
	n.Name = opr.Name()
	n.opr = opr
	n.Params = graph.Params{"items": items}
	return nil
}

func toInt(v any) (int, error) {
	switch v := v.(type) {
	case json.Number:
		i, err := v.Int64()
		return int(i), err
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case nil:
		return 0, fmt.Errorf("missing value")
	default:
		return 0, fmt.Errorf("unexpected value %v (%T)", v, v)
	}
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	case string:
		return v != ""
	default:
		return true
	}
}
