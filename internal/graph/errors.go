package graph

import "errors"

// Common errors.
var (
	ErrUnsupportedOperator = errors.New("unsupported operator")
	ErrShapeMismatch       = errors.New("shape mismatch")
	ErrUntypedEdge         = errors.New("edge has no data type")
)
