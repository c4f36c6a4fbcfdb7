package intercept

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// PrivatePrefix marks members that are never patched.
const PrivatePrefix = "_"

// ErrReadOnly is returned when a namespace member cannot be rebound.
var ErrReadOnly = errors.New("member is read-only")

type ID uint64

var ids atomic.Uint64

func nextID() ID {
	return ID(ids.Add(1))
}

// Func is the calling convention of every intercepted operation.
type Func func(ctx context.Context, args ...any) ([]any, error)

// Callable is a named operation with an identity issued at construction.
type Callable struct {
	id   ID
	name string
	fn   Func
	orig *Callable
}

func NewCallable(name string, fn Func) *Callable {
	return &Callable{id: nextID(), name: name, fn: fn}
}

func (c *Callable) ID() ID {
	return c.id
}

func (c *Callable) Name() string {
	return c.name
}

// Original returns the callable c wraps, or nil if c is not a wrapper.
func (c *Callable) Original() *Callable {
	return c.orig
}

func (c *Callable) Call(ctx context.Context, args ...any) ([]any, error) {
	return c.fn(ctx, args...)
}

type NamespaceID uint64

// Namespace is a container of rebindable named callables.
type Namespace interface {
	ID() NamespaceID
	Name() string
	Members() []string
	Get(name string) (*Callable, bool)
	Set(name string, c *Callable) error
}

// Table is an ordered indirection table. Call sites go through Call so that
// rebinding a member changes what every caller reaches.
type Table struct {
	id       NamespaceID
	name     string
	order    []string
	entries  map[string]*Callable
	readOnly map[string]bool
}

var _ Namespace = (*Table)(nil)

func NewTable(name string) *Table {
	return &Table{
		id:       NamespaceID(nextID()),
		name:     name,
		entries:  make(map[string]*Callable),
		readOnly: make(map[string]bool),
	}
}

func (t *Table) ID() NamespaceID {
	return t.id
}

func (t *Table) Name() string {
	return t.name
}

// Define adds a new member implemented by fn and returns its callable.
func (t *Table) Define(name string, fn Func) *Callable {
	c := NewCallable(t.name+"."+name, fn)
	t.Bind(name, c)
	return c
}

// Bind sets name to c, ignoring read-only marks. It models a namespace
// holding a reference to a callable defined elsewhere.
func (t *Table) Bind(name string, c *Callable) {
	if _, ok := t.entries[name]; !ok {
		t.order = append(t.order, name)
	}
	t.entries[name] = c
}

// Freeze marks name as read-only; Set on it fails from then on.
func (t *Table) Freeze(name string) {
	t.readOnly[name] = true
}

func (t *Table) Members() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

func (t *Table) Get(name string) (*Callable, bool) {
	c, ok := t.entries[name]
	return c, ok
}

func (t *Table) Set(name string, c *Callable) error {
	if t.readOnly[name] {
		return fmt.Errorf("%s.%s: %w", t.name, name, ErrReadOnly)
	}
	if _, ok := t.entries[name]; !ok {
		return fmt.Errorf("%s has no member %q", t.name, name)
	}
	t.entries[name] = c
	return nil
}

// Call invokes whatever name is currently bound to.
func (t *Table) Call(ctx context.Context, name string, args ...any) ([]any, error) {
	c, ok := t.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s has no member %q", t.name, name)
	}
	return c.Call(ctx, args...)
}
