// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package onnx imports ONNX models as graphs.
//
// Initializers and Constant nodes become constant edges. Graph inputs keep their
// declared element type and shape, and named dimensions (dim_param) become
// dimension variables to bind before planning:
//
//	desc, err := onnx.Load(ctx, "model.onnx")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	g, err := desc.Graph(map[string]int64{"batch_size": 1})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exec, err := cpu.Build(ctx, g, cpu.DefaultOptions())
//
// Models whose data lives in external files, subgraph attributes, and operators
// outside the default domain are rejected.
package onnx

import (
	"context"

	"github.com/born-ml/infer/graph"
	"github.com/born-ml/infer/internal/onnx"
)

// Model is a parsed ONNX model.
type Model = onnx.ModelProto

// Errors returned by Parse and Import.
var (
	ErrMalformed   = onnx.ErrMalformed
	ErrNoGraph     = onnx.ErrNoGraph
	ErrUnsupported = onnx.ErrUnsupported
)

// Load reads a model from a local path, a gs:// URL, or an http(s) URL and
// imports its graph.
func Load(ctx context.Context, location string) (*graph.Description, error) {
	return onnx.Load(ctx, location)
}

// Parse decodes a serialized model.
func Parse(data []byte) (*Model, error) {
	return onnx.Parse(data)
}

// Import converts the graph of m into a builder.
func Import(m *Model) (*graph.Builder, error) {
	return onnx.Import(m)
}
