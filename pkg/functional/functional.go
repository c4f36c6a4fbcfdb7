// Package functional is the builtin operation surface. Every operation is a
// member of an intercept.Table and is reached through Table.Call, so a trace
// session can rebind it.
package functional

import (
	"context"
	"fmt"

	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/intercept"
)

var (
	Elemwise      = intercept.NewTable("elemwise")
	Math          = intercept.NewTable("math")
	NN            = intercept.NewTable("nn")
	TensorMethods = intercept.NewTable("tensor")
)

func init() {
	Elemwise.Define("add", elemwise("ADD", 2))
	Elemwise.Define("sub", elemwise("SUB", 2))
	Elemwise.Define("mul", elemwise("MUL", 2))
	Elemwise.Define("relu", elemwise("RELU", 1))
	Elemwise.Define("exp", elemwise("EXP", 1))

	Math.Define("sum", reduction("SUM"))
	Math.Define("mean", reduction("MEAN"))
	Math.Define("matmul", matmul)
	Math.Define("norm", norm)
	Math.Define("_reduce", reduce)

	NN.Define("linear", linear)

	TensorMethods.Define("reshape", reshape)
	TensorMethods.Define("transpose", transpose)
	TensorMethods.Define("astype", astype)
}

// NewSurface declares the builtin tables for a trace session. Reuse the
// returned surface across sessions so that references captured by other
// tables can be found again with AutoPatch.
func NewSurface() *intercept.Surface {
	return &intercept.Surface{
		Modules: []intercept.Namespace{Elemwise, Math, NN},
		Methods: []intercept.Namespace{TensorMethods},
	}
}

// invoke builds kind on the graph that owns the first input.
func invoke(ctx context.Context, kind string, params graph.Params, inputs ...graph.VarHandle) ([]any, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%s: no inputs", kind)
	}
	g := inputs[0].Graph()
	if g == nil {
		return nil, fmt.Errorf("%s: input %q is not part of a graph", kind, inputs[0].Name())
	}
	def, err := g.OpDef(kind, params)
	if err != nil {
		return nil, err
	}
	outs, err := g.Invoke(ctx, def, inputs)
	if err != nil {
		return nil, err
	}
	results := make([]any, len(outs))
	for i, o := range outs {
		results[i] = o
	}
	return results, nil
}

func varArg(args []any, i int) (graph.VarHandle, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(graph.VarHandle)
	if !ok || v == nil {
		return nil, fmt.Errorf("argument %d: expected a graph value, got %T", i, args[i])
	}
	return v, nil
}

func intsArg(args []any, i int) ([]int, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case []int:
		return v, nil
	case int:
		return []int{v}, nil
	}
	return nil, fmt.Errorf("argument %d: expected ints, got %T", i, args[i])
}

func elemwise(mode string, arity int) intercept.Func {
	return func(ctx context.Context, args ...any) ([]any, error) {
		if len(args) != arity {
			return nil, fmt.Errorf("%s takes %d arguments, got %d", mode, arity, len(args))
		}
		inputs := make([]graph.VarHandle, arity)
		for i := range inputs {
			v, err := varArg(args, i)
			if err != nil {
				return nil, err
			}
			inputs[i] = v
		}
		return invoke(ctx, "Elemwise", graph.Params{"mode": mode}, inputs...)
	}
}

// reduce is shared by the reductions: reduce(x, mode[, axis]).
func reduce(ctx context.Context, args ...any) ([]any, error) {
	x, err := varArg(args, 0)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("reduce: missing mode")
	}
	mode, ok := args[1].(string)
	if !ok {
		return nil, fmt.Errorf("reduce: mode must be a string, got %T", args[1])
	}
	params := graph.Params{"mode": mode}
	if len(args) > 2 {
		axis, ok := args[2].(int)
		if !ok {
			return nil, fmt.Errorf("reduce: axis must be an int, got %T", args[2])
		}
		params["axis"] = axis
	}
	return invoke(ctx, "Reduce", params, x)
}

func reduction(mode string) intercept.Func {
	return func(ctx context.Context, args ...any) ([]any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s: missing input", mode)
		}
		return Math.Call(ctx, "_reduce", append([]any{args[0], mode}, args[1:]...)...)
	}
}

func matmul(ctx context.Context, args ...any) ([]any, error) {
	a, err := varArg(args, 0)
	if err != nil {
		return nil, err
	}
	b, err := varArg(args, 1)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, "MatrixMul", graph.Params{"transposeA": false, "transposeB": false}, a, b)
}

// norm is the L2 norm of x over all elements.
func norm(ctx context.Context, args ...any) ([]any, error) {
	x, err := varArg(args, 0)
	if err != nil {
		return nil, err
	}
	sq, err := Elemwise.Call(ctx, "mul", x, x)
	if err != nil {
		return nil, err
	}
	sum, err := Math.Call(ctx, "_reduce", sq[0], "SUM")
	if err != nil {
		return nil, err
	}
	v, err := varArg(sum, 0)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, "Elemwise", graph.Params{"mode": "SQRT"}, v)
}

// linear computes x @ w, plus b when given.
func linear(ctx context.Context, args ...any) ([]any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("linear: expected input and weight")
	}
	y, err := Math.Call(ctx, "matmul", args[0], args[1])
	if err != nil {
		return nil, err
	}
	if len(args) < 3 || args[2] == nil {
		return y, nil
	}
	return Elemwise.Call(ctx, "add", y[0], args[2])
}

func reshape(ctx context.Context, args ...any) ([]any, error) {
	x, err := varArg(args, 0)
	if err != nil {
		return nil, err
	}
	shape, err := intsArg(args, 1)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, "Reshape", graph.Params{"shape": shape}, x)
}

func transpose(ctx context.Context, args ...any) ([]any, error) {
	x, err := varArg(args, 0)
	if err != nil {
		return nil, err
	}
	pattern, err := intsArg(args, 1)
	if err != nil {
		return nil, err
	}
	return invoke(ctx, "Dimshuffle", graph.Params{"pattern": pattern}, x)
}

func astype(ctx context.Context, args ...any) ([]any, error) {
	x, err := varArg(args, 0)
	if err != nil {
		return nil, err
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("astype: missing dtype")
	}
	dtype, ok := args[1].(graph.DType)
	if !ok {
		return nil, fmt.Errorf("astype: expected a dtype, got %T", args[1])
	}
	return invoke(ctx, "TypeCvt", graph.Params{"dtype": dtype}, x)
}
