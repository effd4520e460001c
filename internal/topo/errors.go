package topo

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrCyclicGraph           = errors.New("graph contains a cycle")
	ErrDanglingEdgeReference = errors.New("edge is never produced")
	ErrDuplicateProducer     = errors.New("edge has more than one producer")
	ErrMissingNodePayload    = errors.New("node has no payload")
	ErrInvalidIndex          = errors.New("index out of range")
)

// GraphError reports a structural problem with the offending node or edge key.
type GraphError struct {
	Kind   error  // One of the Err* sentinels above
	Key    string // Offending node or edge key, formatted with %v
	Detail string // Additional details
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Key, e.Detail)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Key)
}

// Unwrap returns the sentinel kind so errors.Is works.
func (e *GraphError) Unwrap() error {
	return e.Kind
}

func graphErr(kind error, key any, format string, args ...any) *GraphError {
	return &GraphError{
		Kind:   kind,
		Key:    fmt.Sprint(key),
		Detail: fmt.Sprintf(format, args...),
	}
}
