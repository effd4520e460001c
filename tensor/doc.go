// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor describes the tensors carried by the edges of a graph.
//
// # Overview
//
// A Tensor is a descriptor: an element type, a shape, and for constants such as
// weights, the raw little-endian data. Dimensions are either fixed sizes or
// named variables bound before execution:
//
//	x := tensor.New(tensor.Float32, tensor.Shape{tensor.Var("batch"), tensor.Fixed(784)})
//	w, err := tensor.FromSlice(weights, tensor.Dims(784, 10))
//
// # Supported Data Types
//
// DataType is numbered like ONNX TensorProto.DataType. The reference kernels
// compute in float32; copy-like operators accept any fixed-size type.
//
// # Raw Data
//
// View and Bytes reinterpret data in place, which is how values are passed to
// and from executors:
//
//	err := g.CopyIn(x, tensor.Bytes(input))
//	out, err := g.CopyOut(y)
//	probs := tensor.View[float32](out)
package tensor
