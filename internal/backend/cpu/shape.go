package cpu

import (
	"fmt"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
)

func (r *Registry) registerShapeOps() {
	r.Register("Identity", lowerCopy(1, 1))
	// The target shape was consumed by shape inference; only the data moves.
	r.Register("Reshape", lowerCopy(2, 2))
	r.Register("Flatten", lowerCopy(1, 1))
}

// lowerCopy lowers operators whose output holds the bytes of their first input
// unchanged. Any data type is accepted.
func lowerCopy(lo, hi int) LowerFunc {
	return func(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
		if err := requireArity(op, inputs, outputs, lo, hi); err != nil {
			return Lowered{}, err
		}
		in, out := inputs[0], outputs[0]
		if in.DType != out.DType {
			return Lowered{}, fmt.Errorf("%s: data type changes from %v to %v", op.OpType, in.DType, out.DType)
		}
		if numElements(in) != numElements(out) {
			return Lowered{}, fmt.Errorf("%s: %v and %v differ in element count", op.OpType, in.Shape, out.Shape)
		}
		return Lowered{Routine: func(in, out [][]byte, _ []byte) {
			copy(out[0], in[0])
		}}, nil
	}
}
