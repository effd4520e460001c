package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
)

func (r *Registry) registerActivations() {
	r.Register("Relu", lowerUnary(func(x float32) float32 {
		if x > 0 {
			return x
		}
		return 0
	}))
	r.Register("Sigmoid", lowerUnary(func(x float32) float32 {
		return float32(1 / (1 + math.Exp(-float64(x))))
	}))
	r.Register("Tanh", lowerUnary(func(x float32) float32 {
		return float32(math.Tanh(float64(x)))
	}))
	r.Register("Softmax", lowerSoftmax)
}

func lowerUnary(f func(x float32) float32) LowerFunc {
	return func(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
		if err := requireArity(op, inputs, outputs, 1, 1); err != nil {
			return Lowered{}, err
		}
		if err := requireFloat32(op, inputs[0], outputs[0]); err != nil {
			return Lowered{}, err
		}
		return Lowered{Routine: func(in, out [][]byte, _ []byte) {
			src, dst := tensor.AsFloat32(in[0]), tensor.AsFloat32(out[0])
			for i, v := range src {
				dst[i] = f(v)
			}
		}}, nil
	}
}

// lowerSoftmax computes softmax along the axis attribute (default -1).
// Softmax(x_i) = exp(x_i - max) / sum(exp(x_j - max)) over the axis.
func lowerSoftmax(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
	if err := requireArity(op, inputs, outputs, 1, 1); err != nil {
		return Lowered{}, err
	}
	if err := requireFloat32(op, inputs[0], outputs[0]); err != nil {
		return Lowered{}, err
	}
	shape, err := inputs[0].Shape.Ints()
	if err != nil {
		return Lowered{}, err
	}
	ndim := len(shape)
	dim := int(op.AttrInt("axis", -1))
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		return Lowered{}, fmt.Errorf("softmax: axis %d out of range for rank %d", op.AttrInt("axis", -1), ndim)
	}

	strides := tensor.ComputeStrides(shape)
	dimSize := shape[dim]
	dimStride := strides[dim]

	// Number of "rows" (groups of elements that share softmax computation)
	numRows := 1
	for i := range shape {
		if i != dim {
			numRows *= shape[i]
		}
	}

	return Lowered{Routine: func(in, out [][]byte, _ []byte) {
		src, dst := tensor.AsFloat32(in[0]), tensor.AsFloat32(out[0])
		for row := 0; row < numRows; row++ {
			baseIdx := 0
			remaining := row
			for i := ndim - 1; i >= 0; i-- {
				if i == dim {
					continue
				}
				coord := remaining % shape[i]
				remaining /= shape[i]
				baseIdx += coord * strides[i]
			}

			// Find max for numerical stability
			maxVal := float32(math.Inf(-1))
			for i := 0; i < dimSize; i++ {
				if v := src[baseIdx+i*dimStride]; v > maxVal {
					maxVal = v
				}
			}

			var sum float32
			for i := 0; i < dimSize; i++ {
				idx := baseIdx + i*dimStride
				expVal := float32(math.Exp(float64(src[idx] - maxVal)))
				dst[idx] = expVal
				sum += expVal
			}

			for i := 0; i < dimSize; i++ {
				dst[baseIdx+i*dimStride] /= sum
			}
		}
	}}, nil
}
