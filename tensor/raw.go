// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"github.com/born-ml/infer/internal/tensor"
)

// View interprets raw bytes as a slice of T without copying.
func View[T DType](data []byte) []T {
	return tensor.View[T](data)
}

// Bytes interprets a slice of T as raw bytes without copying.
func Bytes[T DType](v []T) []byte {
	return tensor.Bytes(v)
}
