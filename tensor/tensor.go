// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/infer/internal/tensor"
)

// DType is a constraint for element types that can be viewed in place.
type DType = tensor.DType

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
	Float16 DataType = tensor.Float16
	Int8    DataType = tensor.Int8
	Int16   DataType = tensor.Int16
	Int32   DataType = tensor.Int32
	Int64   DataType = tensor.Int64
	Uint8   DataType = tensor.Uint8
	Uint16  DataType = tensor.Uint16
	Uint32  DataType = tensor.Uint32
	Uint64  DataType = tensor.Uint64
	Bool    DataType = tensor.Bool
)

// Dim is one dimension of a shape: a fixed size or a named variable.
type Dim = tensor.Dim

// Shape is a list of dimensions. Shape{} is a scalar.
type Shape = tensor.Shape

// Tensor describes the value carried by an edge.
type Tensor = tensor.Tensor

// Fixed returns a dimension of size n.
func Fixed(n int64) Dim {
	return tensor.Fixed(n)
}

// Var returns a dimension bound later by name.
func Var(name string) Dim {
	return tensor.Var(name)
}

// Dims returns a shape of fixed dimensions.
func Dims(dims ...int64) Shape {
	return tensor.Dims(dims...)
}

// ParseDataType parses a data type name such as "float32" or "int64".
func ParseDataType(name string) (DataType, error) {
	return tensor.ParseDataType(name)
}

// New creates a tensor descriptor without data.
func New(dt DataType, shape Shape) *Tensor {
	return tensor.New(dt, shape)
}

// FromSlice creates a constant tensor holding a copy of data.
func FromSlice[T DType](data []T, shape Shape) (*Tensor, error) {
	return tensor.FromSlice(data, shape)
}
