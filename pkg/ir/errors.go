package ir

import (
	"errors"
	"fmt"
)

// ErrInconsistent marks structural mismatches found while loading or
// compiling. They are never retried.
var ErrInconsistent = errors.New("inconsistent graph structure")

// NodeError identifies the node an operation failed on.
type NodeError struct {
	Op   string
	Node string
	Type string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Type, e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInconsistent, fmt.Sprintf(format, args...))
}
