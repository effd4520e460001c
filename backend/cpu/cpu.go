// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"context"

	"github.com/born-ml/infer/graph"
	internalcpu "github.com/born-ml/infer/internal/backend/cpu"
)

// Graph is a graph prepared for execution on the CPU.
type Graph = internalcpu.Graph

// Options configures Build.
type Options = internalcpu.Options

// Registry maps operator types to lowering functions.
type Registry = internalcpu.Registry

// ExecError reports the node that failed during Run.
type ExecError = internalcpu.ExecError

// Errors returned by executors.
var (
	ErrUnsupportedOperator = internalcpu.ErrUnsupportedOperator
	ErrInvalidCopyTarget   = internalcpu.ErrInvalidCopyTarget
	ErrUnboundEdge         = internalcpu.ErrUnboundEdge
)

// DefaultOptions returns the unidirectional planner, the alignment of the
// widest vector unit on this machine, parallel lowering, and the built-in
// routines.
func DefaultOptions() Options {
	return internalcpu.DefaultOptions()
}

// DefaultRegistry returns a registry with the built-in routines.
func DefaultRegistry() *Registry {
	return internalcpu.DefaultRegistry()
}

// Build prepares g for execution. Every edge must have a concrete descriptor;
// see graph.Graph.InferShapes and graph.Graph.Substitute.
//
// Example:
//
//	exec, err := cpu.Build(ctx, g, cpu.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	err = exec.Run(ctx)
func Build(ctx context.Context, g *graph.Graph, opts Options) (*Graph, error) {
	return internalcpu.Build(ctx, g, opts)
}
