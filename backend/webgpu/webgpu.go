//go:build windows

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu executes computation graphs on a GPU through WebGPU.
//
// Graphs use the same memory plan as the CPU executor, with objects aligned
// to 256 bytes. Build uploads constants once and prepares one pipeline and
// bind group per node; Run records every dispatch into a single command buffer.
//
// Example:
//
//	dev, err := webgpu.Open()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Release()
//
//	exec, err := dev.Build(ctx, g, webgpu.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Release()
package webgpu

import (
	internalwebgpu "github.com/born-ml/infer/internal/backend/webgpu"
	"github.com/born-ml/infer/internal/parallel"
)

// Device is an open WebGPU adapter and device.
type Device = internalwebgpu.Device

// Graph is a graph prepared for execution on a Device.
type Graph = internalwebgpu.Graph

// Config controls how many nodes are lowered concurrently during Build.
type Config = parallel.Config

// Errors returned by the GPU executor.
var (
	ErrUnavailable         = internalwebgpu.ErrUnavailable
	ErrUnsupportedOperator = internalwebgpu.ErrUnsupportedOperator
	ErrInvalidCopyTarget   = internalwebgpu.ErrInvalidCopyTarget
	ErrUnboundEdge         = internalwebgpu.ErrUnboundEdge
)

// Open initializes the default adapter and device.
// Call Release when done to free GPU resources.
func Open() (*Device, error) {
	return internalwebgpu.Open()
}

// DefaultConfig lowers nodes on every CPU.
func DefaultConfig() Config {
	return parallel.DefaultConfig()
}

// IsAvailable reports whether a WebGPU adapter can be opened.
//
// Example:
//
//	if webgpu.IsAvailable() {
//	    dev, _ := webgpu.Open()
//	    exec, err = dev.Build(ctx, g, webgpu.DefaultConfig())
//	} else {
//	    exec, err = cpu.Build(ctx, g, cpu.DefaultOptions())
//	}
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}

// SupportedOps returns the operator types with a GPU kernel.
func SupportedOps() []string {
	return internalwebgpu.SupportedOps()
}
