package cpu

import (
	"errors"
	"fmt"

	"github.com/born-ml/infer/internal/graph"
)

var (
	// ErrUnsupportedOperator is returned when no lowering is registered for an
	// operator type, or the lowering rejects the data types it is given.
	ErrUnsupportedOperator = graph.ErrUnsupportedOperator

	// ErrInvalidCopyTarget is returned when a copy names an edge that cannot take
	// part in it: a constant written by the host, an extern read before it was
	// bound, an unknown edge, or a buffer of the wrong size.
	ErrInvalidCopyTarget = errors.New("invalid copy target")

	// ErrUnboundEdge is returned by Run when a node reads an extern edge the host
	// never bound.
	ErrUnboundEdge = errors.New("edge is not bound")
)

// ExecError reports the node that failed during Run.
type ExecError struct {
	Node int    // Node index in topological order
	Name string // Node name
	Op   string // Operator type
	Err  error
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("node %d (%s, %s): %v", e.Node, e.Name, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecError) Unwrap() error {
	return e.Err
}
