package cpu

import (
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
)

func (r *Registry) registerElementwise() {
	r.Register("Add", lowerBinary(func(a, b float32) float32 { return a + b }))
	r.Register("Sub", lowerBinary(func(a, b float32) float32 { return a - b }))
	r.Register("Mul", lowerBinary(func(a, b float32) float32 { return a * b }))
	r.Register("Div", lowerBinary(func(a, b float32) float32 { return a / b }))
}

// lowerBinary lowers an element-wise float32 operator with NumPy-style broadcasting.
func lowerBinary(f func(a, b float32) float32) LowerFunc {
	return func(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
		if err := requireArity(op, inputs, outputs, 2, 2); err != nil {
			return Lowered{}, err
		}
		if err := requireFloat32(op, inputs[0], inputs[1], outputs[0]); err != nil {
			return Lowered{}, err
		}
		aShape, err := inputs[0].Shape.Ints()
		if err != nil {
			return Lowered{}, err
		}
		bShape, err := inputs[1].Shape.Ints()
		if err != nil {
			return Lowered{}, err
		}
		outShape, err := outputs[0].Shape.Ints()
		if err != nil {
			return Lowered{}, err
		}
		aIdx := broadcastIndex(aShape, outShape)
		bIdx := broadcastIndex(bShape, outShape)

		if aIdx == nil && bIdx == nil {
			// Fast path: same shape
			return Lowered{Routine: func(in, out [][]byte, _ []byte) {
				a, b, dst := tensor.AsFloat32(in[0]), tensor.AsFloat32(in[1]), tensor.AsFloat32(out[0])
				for i := range dst {
					dst[i] = f(a[i], b[i])
				}
			}}, nil
		}
		return Lowered{Routine: func(in, out [][]byte, _ []byte) {
			a, b, dst := tensor.AsFloat32(in[0]), tensor.AsFloat32(in[1]), tensor.AsFloat32(out[0])
			for i := range dst {
				ai, bi := i, i
				if aIdx != nil {
					ai = aIdx[i]
				}
				if bIdx != nil {
					bi = bIdx[i]
				}
				dst[i] = f(a[ai], b[bi])
			}
		}}, nil
	}
}
