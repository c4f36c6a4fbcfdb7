package graph

import (
	"fmt"
	"slices"
)

type DType string

const (
	Float16 DType = "float16"
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int8    DType = "int8"
	Int16   DType = "int16"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Bool    DType = "bool"
)

// HostArray is a materialized value in host memory. Data holds a slice
// matching DType ([]float32, []float64, []int32, []int64, []uint8 or []bool).
type HostArray struct {
	DType DType
	Shape []int
	Data  any
}

// NewHostArray builds a HostArray from a Go scalar, a typed slice or an
// existing HostArray. Scalars produce a 0-d array; slices a 1-d array.
func NewHostArray(data any) (HostArray, error) {
	switch v := data.(type) {
	case HostArray:
		return v, nil
	case *HostArray:
		if v == nil {
			return HostArray{}, fmt.Errorf("nil host array")
		}
		return *v, nil
	case int:
		return HostArray{DType: Int64, Shape: []int{}, Data: []int64{int64(v)}}, nil
	case int32:
		return HostArray{DType: Int32, Shape: []int{}, Data: []int32{v}}, nil
	case int64:
		return HostArray{DType: Int64, Shape: []int{}, Data: []int64{v}}, nil
	case float32:
		return HostArray{DType: Float32, Shape: []int{}, Data: []float32{v}}, nil
	case float64:
		return HostArray{DType: Float64, Shape: []int{}, Data: []float64{v}}, nil
	case []float32:
		return HostArray{DType: Float32, Shape: []int{len(v)}, Data: v}, nil
	case []float64:
		return HostArray{DType: Float64, Shape: []int{len(v)}, Data: v}, nil
	case []int32:
		return HostArray{DType: Int32, Shape: []int{len(v)}, Data: v}, nil
	case []int64:
		return HostArray{DType: Int64, Shape: []int{len(v)}, Data: v}, nil
	case []uint8:
		return HostArray{DType: Uint8, Shape: []int{len(v)}, Data: v}, nil
	case []bool:
		return HostArray{DType: Bool, Shape: []int{len(v)}, Data: v}, nil
	default:
		return HostArray{}, fmt.Errorf("unsupported constant data type %T", data)
	}
}

// Len returns the number of elements.
func (a HostArray) Len() int {
	switch v := a.Data.(type) {
	case []float32:
		return len(v)
	case []float64:
		return len(v)
	case []int32:
		return len(v)
	case []int64:
		return len(v)
	case []uint8:
		return len(v)
	case []bool:
		return len(v)
	}
	return 0
}

// Narrow applies the runtime's default precision policy: float64 data is
// stored as float32 and int64 data as int32. Other dtypes are returned as is.
func Narrow(a HostArray) HostArray {
	switch v := a.Data.(type) {
	case []float64:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return HostArray{DType: Float32, Shape: slices.Clone(a.Shape), Data: out}
	case []int64:
		out := make([]int32, len(v))
		for i, x := range v {
			out[i] = int32(x)
		}
		return HostArray{DType: Int32, Shape: slices.Clone(a.Shape), Data: out}
	}
	return a
}
