package webgpu

import (
	"errors"

	"github.com/born-ml/infer/internal/graph"
)

var (
	// ErrUnsupportedOperator is returned when an operator has no GPU kernel or its
	// operands cannot be expressed by one.
	ErrUnsupportedOperator = graph.ErrUnsupportedOperator

	// ErrInvalidCopyTarget is returned when a copy names an edge that cannot take
	// part in it.
	ErrInvalidCopyTarget = errors.New("invalid copy target")

	// ErrUnboundEdge is returned by Run when an extern edge was never bound.
	ErrUnboundEdge = errors.New("edge is not bound")

	// ErrUnavailable is returned when no WebGPU adapter can be opened.
	ErrUnavailable = errors.New("webgpu: not available")
)
