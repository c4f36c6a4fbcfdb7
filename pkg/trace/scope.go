package trace

import "k8s.io/examples/AI/irtrace/pkg/ir"

// Scope groups the nodes recorded while it is the innermost active scope.
type Scope struct {
	Name     string
	Parent   *Scope
	Children []*Scope
	Nodes    []*ir.OpNode
}

func NewScope(name string) *Scope {
	return &Scope{Name: name}
}

// Len counts the nodes recorded in s and its children.
func (s *Scope) Len() int {
	n := len(s.Nodes)
	for _, c := range s.Children {
		n += c.Len()
	}
	return n
}

// Walk calls fn for s and every descendant, parents first.
func (s *Scope) Walk(fn func(*Scope)) {
	fn(s)
	for _, c := range s.Children {
		c.Walk(fn)
	}
}

// PushScope makes s the innermost scope, nesting it under the current one.
func (t *Tracer) PushScope(s *Scope) {
	if parent := t.CurrentScope(); parent != nil {
		s.Parent = parent
		parent.Children = append(parent.Children, s)
	}
	t.scopes = append(t.scopes, s)
}

func (t *Tracer) PopScope() error {
	if len(t.scopes) == 0 {
		return ErrEmptyScopeStack
	}
	t.scopes[len(t.scopes)-1] = nil
	t.scopes = t.scopes[:len(t.scopes)-1]
	return nil
}

// CurrentScope returns the innermost scope, or nil.
func (t *Tracer) CurrentScope() *Scope {
	if len(t.scopes) == 0 {
		return nil
	}
	return t.scopes[len(t.scopes)-1]
}
