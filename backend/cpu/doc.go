// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu executes computation graphs on the CPU.
//
// # Overview
//
// Build lowers every node to a routine, plans memory once, and allocates two
// regions: a pinned region for graph inputs and outputs, and a reusable region
// that intermediate values share according to their lifetimes. Run then calls
// the routines in order without allocating:
//
//	g, err := graph.Build(b)
//	err = g.InferShapes()
//
//	exec, err := cpu.Build(ctx, g, cpu.DefaultOptions())
//	x, _ := exec.Edge("x")
//	y, _ := exec.Edge("y")
//
//	err = exec.CopyIn(x, tensor.Bytes(input))
//	err = exec.Run(ctx)
//	out, err := exec.CopyOut(y)
//
// # Operators
//
// The reference routines compute in float32. Register adds more through a
// Registry passed in Options.
//
// # Thread Safety
//
// A built graph owns its memory and must not be used concurrently. Plans are
// immutable and may be shared.
package cpu
