package intercept

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// WrapFunc builds the replacement implementation for an original callable.
type WrapFunc func(orig *Callable) Func

// PatchError reports a namespace member that could not be patched.
type PatchError struct {
	Namespace string
	Name      string
	Err       error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("patching %s.%s: %v", e.Namespace, e.Name, e.Err)
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// KnownSet records the IDs of every callable that has ever been wrapped.
// It outlives individual patch sessions.
type KnownSet struct {
	mu  sync.Mutex
	ids map[ID]struct{}
}

func (s *KnownSet) add(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[ID]struct{})
	}
	s.ids[id] = struct{}{}
}

func (s *KnownSet) Contains(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// FunctionRef names a single member to patch outside of a whole namespace.
type FunctionRef struct {
	Namespace Namespace
	Name      string
}

// Surface declares the operations a patch session intercepts.
type Surface struct {
	Modules   []Namespace
	Methods   []Namespace
	Functions []FunctionRef

	Known KnownSet
}

// Binding is one reversible rebinding inside a namespace.
type Binding struct {
	ns       Namespace
	name     string
	original *Callable
}

func (b *Binding) restore() error {
	return b.ns.Set(b.name, b.original)
}

type bindingKey struct {
	ns   NamespaceID
	name string
}

// Patcher is one patch session. Every binding it makes is undone by Close.
type Patcher struct {
	wrap    WrapFunc
	known   *KnownSet
	log     klog.Logger
	visited map[NamespaceID]bool
	bound   map[bindingKey]bool

	bindings []*Binding
}

// NewPatcher patches every namespace declared by surface. If any member
// fails to patch, the bindings made so far are restored before returning.
func NewPatcher(ctx context.Context, wrap WrapFunc, surface *Surface) (*Patcher, error) {
	p := &Patcher{
		wrap:    wrap,
		known:   &surface.Known,
		log:     klog.FromContext(ctx),
		visited: make(map[NamespaceID]bool),
		bound:   make(map[bindingKey]bool),
	}

	err := p.patchSurface(surface)
	if err != nil {
		return nil, errors.Join(err, p.Close())
	}
	p.log.V(2).Info("patched operation surface", "bindings", len(p.bindings))
	return p, nil
}

func (p *Patcher) patchSurface(surface *Surface) error {
	for _, ns := range surface.Modules {
		if err := p.PatchModule(ns); err != nil {
			return err
		}
	}
	for _, ns := range surface.Methods {
		if err := p.PatchMethods(ns); err != nil {
			return err
		}
	}
	for _, f := range surface.Functions {
		if p.visited[f.Namespace.ID()] {
			continue
		}
		if err := p.PatchFunction(f.Namespace, f.Name); err != nil {
			return err
		}
	}
	return nil
}

// PatchModule wraps every public member of a function namespace. A
// namespace is walked at most once per session.
func (p *Patcher) PatchModule(ns Namespace) error {
	if p.visited[ns.ID()] {
		return nil
	}
	for _, name := range ns.Members() {
		if strings.HasPrefix(name, PrivatePrefix) {
			continue
		}
		if err := p.PatchFunction(ns, name); err != nil {
			return err
		}
	}
	p.visited[ns.ID()] = true
	return nil
}

// PatchMethods wraps every public method of a method container.
func (p *Patcher) PatchMethods(ns Namespace) error {
	return p.PatchModule(ns)
}

// PatchFunction wraps a single member. Patching the same member twice in a
// session is a no-op.
func (p *Patcher) PatchFunction(ns Namespace, name string) error {
	key := bindingKey{ns: ns.ID(), name: name}
	if p.bound[key] {
		return nil
	}
	orig, ok := ns.Get(name)
	if !ok || orig == nil {
		return &PatchError{Namespace: ns.Name(), Name: name, Err: errors.New("no such member")}
	}

	wrapped := &Callable{id: nextID(), name: orig.name, fn: p.wrap(orig), orig: orig}
	if err := ns.Set(name, wrapped); err != nil {
		return &PatchError{Namespace: ns.Name(), Name: name, Err: err}
	}
	p.known.add(orig.id)
	p.bindings = append(p.bindings, &Binding{ns: ns, name: name, original: orig})
	p.bound[key] = true
	return nil
}

// AutoPatch wraps the members of ns that still refer to a callable which has
// been wrapped before, e.g. a table that captured a reference prior to the
// session starting.
func (p *Patcher) AutoPatch(ns Namespace) error {
	if !p.visited[ns.ID()] {
		for _, name := range ns.Members() {
			c, ok := ns.Get(name)
			if !ok || c == nil || !p.known.Contains(c.id) {
				continue
			}
			if err := p.PatchFunction(ns, name); err != nil {
				return err
			}
		}
	}
	p.visited[ns.ID()] = true
	return nil
}

// Len returns the number of live bindings.
func (p *Patcher) Len() int {
	return len(p.bindings)
}

// Close restores every binding in reverse order of creation. Calling it
// again is a no-op.
func (p *Patcher) Close() error {
	var errs []error
	restored := 0
	for len(p.bindings) > 0 {
		b := p.bindings[len(p.bindings)-1]
		p.bindings = p.bindings[:len(p.bindings)-1]
		if err := b.restore(); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s.%s: %w", b.ns.Name(), b.name, err))
			continue
		}
		restored++
	}
	clear(p.visited)
	clear(p.bound)
	if restored > 0 {
		p.log.V(2).Info("restored operation surface", "bindings", restored)
	}
	return errors.Join(errs...)
}
