package functional

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/irtrace/pkg/graph"
)

func single(results []any, err error) (graph.VarHandle, error) {
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("expected a single result, got %d", len(results))
	}
	v, ok := results[0].(graph.VarHandle)
	if !ok {
		return nil, fmt.Errorf("expected a graph value, got %T", results[0])
	}
	return v, nil
}

func Add(ctx context.Context, a, b graph.VarHandle) (graph.VarHandle, error) {
	return single(Elemwise.Call(ctx, "add", a, b))
}

func Sub(ctx context.Context, a, b graph.VarHandle) (graph.VarHandle, error) {
	return single(Elemwise.Call(ctx, "sub", a, b))
}

func Mul(ctx context.Context, a, b graph.VarHandle) (graph.VarHandle, error) {
	return single(Elemwise.Call(ctx, "mul", a, b))
}

func Relu(ctx context.Context, x graph.VarHandle) (graph.VarHandle, error) {
	return single(Elemwise.Call(ctx, "relu", x))
}

func Exp(ctx context.Context, x graph.VarHandle) (graph.VarHandle, error) {
	return single(Elemwise.Call(ctx, "exp", x))
}

// Sum reduces x along axis.
func Sum(ctx context.Context, x graph.VarHandle, axis int) (graph.VarHandle, error) {
	return single(Math.Call(ctx, "sum", x, axis))
}

// Mean reduces x along axis.
func Mean(ctx context.Context, x graph.VarHandle, axis int) (graph.VarHandle, error) {
	return single(Math.Call(ctx, "mean", x, axis))
}

func Matmul(ctx context.Context, a, b graph.VarHandle) (graph.VarHandle, error) {
	return single(Math.Call(ctx, "matmul", a, b))
}

func Norm(ctx context.Context, x graph.VarHandle) (graph.VarHandle, error) {
	return single(Math.Call(ctx, "norm", x))
}

// Linear computes x @ w + b. b may be nil.
func Linear(ctx context.Context, x, w, b graph.VarHandle) (graph.VarHandle, error) {
	if b == nil {
		return single(NN.Call(ctx, "linear", x, w))
	}
	return single(NN.Call(ctx, "linear", x, w, b))
}

func Reshape(ctx context.Context, x graph.VarHandle, shape ...int) (graph.VarHandle, error) {
	return single(TensorMethods.Call(ctx, "reshape", x, shape))
}

func Transpose(ctx context.Context, x graph.VarHandle, pattern ...int) (graph.VarHandle, error) {
	return single(TensorMethods.Call(ctx, "transpose", x, pattern))
}

func AsType(ctx context.Context, x graph.VarHandle, dtype graph.DType) (graph.VarHandle, error) {
	return single(TensorMethods.Call(ctx, "astype", x, dtype))
}

// Dense is a fully connected layer.
type Dense struct {
	Weight graph.VarHandle
	Bias   graph.VarHandle
}

func (d *Dense) Forward(ctx context.Context, args ...any) ([]any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("dense layer takes one input, got %d", len(args))
	}
	x, ok := args[0].(graph.VarHandle)
	if !ok {
		return nil, fmt.Errorf("dense layer input must be a graph value, got %T", args[0])
	}
	y, err := Linear(ctx, x, d.Weight, d.Bias)
	if err != nil {
		return nil, err
	}
	return []any{y}, nil
}
