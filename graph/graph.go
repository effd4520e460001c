// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package graph builds computation graphs of ONNX-style operators.
//
// A graph is described by name: each node lists its ordered input and output
// edges, and each edge may carry a tensor descriptor. Build places the nodes in
// topological order and indexes every edge:
//
//	b := &graph.Builder{
//	    Topology: map[string]graph.Connections{
//	        "fc":  {Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
//	        "act": {Inputs: []string{"h"}, Outputs: []string{"y"}},
//	    },
//	    GlobalInputs:  []string{"x"},
//	    GlobalOutputs: []string{"y"},
//	    Nodes: map[string]graph.Operator{
//	        "fc":  {OpType: "MatMul"},
//	        "act": {OpType: "Relu"},
//	    },
//	    Edges: map[string]*tensor.Tensor{"x": x, "w": w},
//	}
//	g, err := graph.Build(b)
//	err = g.InferShapes()
//
// Graphs can also be loaded from HCL descriptions with Load.
package graph

import (
	"context"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/graphdesc"
	"github.com/born-ml/infer/internal/topo"
)

// Graph is a topology with operators on its nodes and tensors on its edges.
type Graph = graph.Graph

// Builder is the name-keyed description a Graph is built from.
type Builder = graph.Builder

// Connections lists the ordered inputs and outputs of one node.
type Connections = topo.Connections[string]

// Operator is the payload of a node.
type Operator = graph.Operator

// Attribute is a named operator attribute.
type Attribute = graph.Attribute

// AttrType tags the value held by an Attribute.
type AttrType = graph.AttrType

// Attribute types.
const (
	AttrFloat   = graph.AttrFloat
	AttrInt     = graph.AttrInt
	AttrString  = graph.AttrString
	AttrFloats  = graph.AttrFloats
	AttrInts    = graph.AttrInts
	AttrStrings = graph.AttrStrings
)

// Description is a graph loaded from HCL, with default values for its
// dimension variables.
type Description = graphdesc.Description

// Errors returned while building graphs.
var (
	ErrCyclicGraph         = topo.ErrCyclicGraph
	ErrUnsupportedOperator = graph.ErrUnsupportedOperator
	ErrShapeMismatch       = graph.ErrShapeMismatch
	ErrUnboundVariable     = graphdesc.ErrUnboundVariable
)

// Build places the nodes of b in topological order.
func Build(b *Builder) (*Graph, error) {
	return graph.Build(b)
}

// Load reads an HCL description from a local path, a gs:// URL, or an
// http(s) URL. Data files it names are read relative to it.
func Load(ctx context.Context, location string) (*Description, error) {
	return graphdesc.Load(ctx, location)
}

// SupportedOps returns the operator types with shape inference.
func SupportedOps() []string {
	return graph.SupportedOps()
}
