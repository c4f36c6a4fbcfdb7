package intercept

import (
	"context"
	"errors"
	"testing"
)

func constant(v any) Func {
	return func(ctx context.Context, args ...any) ([]any, error) {
		return []any{v}, nil
	}
}

// countingWrap returns a wrapper that counts how often each wrapper is built
// and tags results with "wrapped".
func countingWrap(built map[string]int) WrapFunc {
	return func(orig *Callable) Func {
		built[orig.Name()]++
		return func(ctx context.Context, args ...any) ([]any, error) {
			out, err := orig.Call(ctx, args...)
			if err != nil {
				return nil, err
			}
			return append(out, "wrapped"), nil
		}
	}
}

func snapshot(ns Namespace) map[string]ID {
	out := make(map[string]ID)
	for _, name := range ns.Members() {
		c, _ := ns.Get(name)
		out[name] = c.ID()
	}
	return out
}

func newMathTable() *Table {
	tbl := NewTable("math")
	tbl.Define("add", constant("add"))
	tbl.Define("mul", constant("mul"))
	tbl.Define("_helper", constant("helper"))
	return tbl
}

func TestPatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	math := newMathTable()
	methods := NewTable("tensor")
	methods.Define("reshape", constant("reshape"))

	before := snapshot(math)
	beforeMethods := snapshot(methods)

	surface := &Surface{Modules: []Namespace{math}, Methods: []Namespace{methods}}
	p, err := NewPatcher(ctx, countingWrap(map[string]int{}), surface)
	if err != nil {
		t.Fatalf("NewPatcher: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 bindings (private member skipped), got %d", p.Len())
	}

	out, err := math.Call(ctx, "add")
	if err != nil {
		t.Fatalf("calling add: %v", err)
	}
	if len(out) != 2 || out[1] != "wrapped" {
		t.Errorf("expected add to be wrapped while patched, got %v", out)
	}
	out, _ = math.Call(ctx, "_helper")
	if len(out) != 1 {
		t.Errorf("expected private member to stay unwrapped, got %v", out)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for name, id := range snapshot(math) {
		if before[name] != id {
			t.Errorf("math.%s not restored: want id %d, got %d", name, before[name], id)
		}
	}
	for name, id := range snapshot(methods) {
		if beforeMethods[name] != id {
			t.Errorf("tensor.%s not restored: want id %d, got %d", name, beforeMethods[name], id)
		}
	}

	// A second Close has nothing left to restore.
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestPatchModuleVisitsOnce(t *testing.T) {
	ctx := context.Background()
	math := newMathTable()
	built := map[string]int{}

	p, err := NewPatcher(ctx, countingWrap(built), &Surface{Modules: []Namespace{math}})
	if err != nil {
		t.Fatalf("NewPatcher: %v", err)
	}
	defer p.Close()

	if err := p.PatchModule(math); err != nil {
		t.Fatalf("PatchModule: %v", err)
	}
	if err := p.PatchMethods(math); err != nil {
		t.Fatalf("PatchMethods: %v", err)
	}
	if err := p.PatchFunction(math, "add"); err != nil {
		t.Fatalf("PatchFunction: %v", err)
	}
	for name, n := range built {
		if n != 1 {
			t.Errorf("%s wrapped %d times, expected once", name, n)
		}
	}
	if p.Len() != 2 {
		t.Errorf("expected 2 bindings, got %d", p.Len())
	}
	out, _ := math.Call(ctx, "mul")
	if len(out) != 2 {
		t.Errorf("expected a single wrapper layer, got %v", out)
	}
}

func TestAutoPatchFollowsCapturedReferences(t *testing.T) {
	ctx := context.Background()
	math := newMathTable()
	add, _ := math.Get("add")

	// user captured a reference to math.add before tracing started
	user := NewTable("user")
	user.Bind("plus", add)
	user.Define("local", constant("local"))

	surface := &Surface{Modules: []Namespace{math}}
	p, err := NewPatcher(ctx, countingWrap(map[string]int{}), surface)
	if err != nil {
		t.Fatalf("NewPatcher: %v", err)
	}

	if err := p.AutoPatch(user); err != nil {
		t.Fatalf("AutoPatch: %v", err)
	}
	out, _ := user.Call(ctx, "plus")
	if len(out) != 2 {
		t.Errorf("expected captured reference to be wrapped, got %v", out)
	}
	out, _ = user.Call(ctx, "local")
	if len(out) != 1 {
		t.Errorf("expected unrelated member to stay unwrapped, got %v", out)
	}

	// Auto-patching a namespace that is already patched must not wrap the wrappers.
	if err := p.AutoPatch(math); err != nil {
		t.Fatalf("AutoPatch(math): %v", err)
	}
	out, _ = math.Call(ctx, "add")
	if len(out) != 2 {
		t.Errorf("expected exactly one wrapper on math.add, got %v", out)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c, _ := user.Get("plus"); c != add {
		t.Errorf("user.plus not restored to the captured original")
	}

	// The known set survives the session.
	if !surface.Known.Contains(add.ID()) {
		t.Errorf("expected add to stay in the known set after Close")
	}
}

func TestPatchReadOnlyMemberRollsBack(t *testing.T) {
	ctx := context.Background()
	first := newMathTable()
	before := snapshot(first)

	locked := NewTable("locked")
	locked.Define("a", constant("a"))
	locked.Define("b", constant("b"))
	locked.Freeze("b")

	_, err := NewPatcher(ctx, countingWrap(map[string]int{}), &Surface{Modules: []Namespace{first, locked}})
	if err == nil {
		t.Fatalf("expected error patching a read-only member")
	}
	if !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}
	var patchErr *PatchError
	if !errors.As(err, &patchErr) || patchErr.Namespace != "locked" || patchErr.Name != "b" {
		t.Errorf("expected PatchError naming locked.b, got %v", err)
	}

	for name, id := range snapshot(first) {
		if before[name] != id {
			t.Errorf("math.%s left patched after failed session", name)
		}
	}
	if c, _ := locked.Get("a"); c.Original() != nil {
		t.Errorf("locked.a left patched after failed session")
	}
}

func TestCloseRestoresInReverseOrder(t *testing.T) {
	ctx := context.Background()
	tbl := NewTable("ops")
	orig := tbl.Define("f", constant("f"))

	surface := &Surface{Functions: []FunctionRef{{Namespace: tbl, Name: "f"}}}
	p, err := NewPatcher(ctx, countingWrap(map[string]int{}), surface)
	if err != nil {
		t.Fatalf("NewPatcher: %v", err)
	}

	// A nested session wraps the already-wrapped member.
	inner, err := NewPatcher(ctx, countingWrap(map[string]int{}), &Surface{Functions: []FunctionRef{{Namespace: tbl, Name: "f"}}})
	if err != nil {
		t.Fatalf("inner NewPatcher: %v", err)
	}
	out, _ := tbl.Call(ctx, "f")
	if len(out) != 3 {
		t.Fatalf("expected two wrapper layers, got %v", out)
	}

	if err := inner.Close(); err != nil {
		t.Fatalf("inner Close: %v", err)
	}
	cur, _ := tbl.Get("f")
	if cur.Original() != orig {
		t.Errorf("expected the outer wrapper to be visible after the inner session ends")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("outer Close: %v", err)
	}
	if cur, _ := tbl.Get("f"); cur != orig {
		t.Errorf("expected the original after both sessions end")
	}
}
