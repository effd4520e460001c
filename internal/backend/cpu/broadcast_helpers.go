package cpu

import (
	"slices"

	"github.com/born-ml/infer/internal/tensor"
)

// computeBroadcastStridesForShape computes strides for broadcasting a shape to outShape.
// Returns strides where dimensions of size 1 have stride 0 (for broadcasting).
func computeBroadcastStridesForShape(inShape, outShape []int) []int {
	outDim := len(outShape)
	strides := make([]int, outDim)

	// Pad input shape with 1s on the left
	inDim := len(inShape)
	offset := outDim - inDim

	origStrides := tensor.ComputeStrides(inShape)

	for i := 0; i < outDim; i++ {
		inIdx := i - offset
		switch {
		case inIdx < 0:
			strides[i] = 0
		case inShape[inIdx] == 1:
			// Broadcast dimension, stride is 0
			strides[i] = 0
		default:
			strides[i] = origStrides[inIdx]
		}
	}

	return strides
}

// computeFlatIndex computes the flat index in the source array for a given output index.
// outStrides: strides of the output shape.
// inStrides: broadcast-adjusted strides of the input shape.
func computeFlatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}

// broadcastIndex maps every output element to an element of an input.
// It returns nil when the input already has the output's shape.
func broadcastIndex(inShape, outShape []int) []int {
	if slices.Equal(inShape, outShape) {
		return nil
	}
	outStrides := tensor.ComputeStrides(outShape)
	inStrides := computeBroadcastStridesForShape(inShape, outShape)
	n := 1
	for _, d := range outShape {
		n *= d
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = computeFlatIndex(i, outStrides, inStrides)
	}
	return idx
}
