// Package trace records calls made through an intercepted operation surface
// into scopes of IR nodes.
package trace

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/examples/AI/irtrace/pkg/graph"
	"k8s.io/examples/AI/irtrace/pkg/intercept"
	"k8s.io/examples/AI/irtrace/pkg/ir"
	"k8s.io/klog/v2"
)

var (
	// ErrSessionActive is returned by Start while another tracer is current.
	ErrSessionActive = errors.New("a trace session is already active")

	// ErrEmptyScopeStack is returned when popping with no active scope.
	ErrEmptyScopeStack = errors.New("scope stack is empty")
)

var (
	mu      sync.Mutex
	current *Tracer
)

// Tracer is one trace session. At most one tracer is current per process,
// and a tracer must not be used from more than one goroutine.
type Tracer struct {
	id      uuid.UUID
	surface *intercept.Surface
	patcher *intercept.Patcher

	root   *Scope
	scopes []*Scope

	// vars maps graph values seen during the session to their IR nodes.
	vars map[graph.VarID]*ir.VarNode

	// depth is non-zero while an intercepted call is executing.
	depth int
}

// Start patches surface and makes the new tracer current.
func Start(ctx context.Context, surface *intercept.Surface) (*Tracer, error) {
	mu.Lock()
	defer mu.Unlock()

	if current != nil {
		return nil, fmt.Errorf("%w (session %s)", ErrSessionActive, current.id)
	}

	t := &Tracer{
		id:      uuid.New(),
		surface: surface,
		vars:    make(map[graph.VarID]*ir.VarNode),
	}
	p, err := intercept.NewPatcher(ctx, t.wrap, surface)
	if err != nil {
		return nil, fmt.Errorf("starting trace session: %w", err)
	}
	t.patcher = p
	t.root = NewScope("root")
	t.PushScope(t.root)
	current = t

	klog.FromContext(ctx).Info("started trace session", "session", t.id, "bindings", p.Len())
	return t, nil
}

// Run traces fn. The surface is restored on every exit path, including a
// panic in fn. The root scope is returned along with fn's error.
func Run(ctx context.Context, surface *intercept.Surface, fn func(ctx context.Context, t *Tracer) error) (root *Scope, err error) {
	t, err := Start(ctx, surface)
	if err != nil {
		return nil, err
	}
	defer func() {
		if endErr := t.End(ctx); endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()

	ctx = NewContext(ctx, t)
	if err := fn(ctx, t); err != nil {
		return t.root, err
	}
	return t.root, nil
}

// Active returns the current tracer, or nil.
func Active() *Tracer {
	mu.Lock()
	defer mu.Unlock()
	return current
}

// End pops every scope and restores the surface. Calling End again is a
// no-op.
func (t *Tracer) End(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if t.patcher == nil {
		return nil
	}
	clear(t.scopes)
	t.scopes = t.scopes[:0]
	err := t.patcher.Close()
	t.patcher = nil
	if current == t {
		current = nil
	}

	klog.FromContext(ctx).Info("ended trace session", "session", t.id, "recorded", t.root.Len())
	if err != nil {
		return fmt.Errorf("ending trace session %s: %w", t.id, err)
	}
	return nil
}

func (t *Tracer) ID() uuid.UUID {
	return t.id
}

// Root is the scope pushed by Start. It stays readable after End.
func (t *Tracer) Root() *Scope {
	return t.root
}

func (t *Tracer) Surface() *intercept.Surface {
	return t.surface
}

// AutoPatch wraps members of ns that refer to operations already wrapped by
// this or an earlier session.
func (t *Tracer) AutoPatch(ns intercept.Namespace) error {
	if t.patcher == nil {
		return fmt.Errorf("trace session %s has ended", t.id)
	}
	return t.patcher.AutoPatch(ns)
}

// VarNode returns the IR node recorded for v, if any.
func (t *Tracer) VarNode(v graph.VarHandle) (*ir.VarNode, bool) {
	n, ok := t.vars[v.ID()]
	return n, ok
}

type contextKey struct{}

// NewContext returns a context carrying t.
func NewContext(ctx context.Context, t *Tracer) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext returns the tracer carried by ctx, falling back to the current
// tracer.
func FromContext(ctx context.Context) *Tracer {
	if t, ok := ctx.Value(contextKey{}).(*Tracer); ok {
		return t
	}
	return Active()
}
