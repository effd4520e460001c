package cpu

import (
	"fmt"
	"slices"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/parallel"
	"github.com/born-ml/infer/internal/stack"
	"github.com/born-ml/infer/internal/tensor"
)

// rowConfig splits the rows of large products across goroutines.
var rowConfig = parallel.DefaultConfig()

func (r *Registry) registerMatMul() {
	r.Register("MatMul", lowerMatMul)
	r.Register("Gemm", lowerGemm)
}

// lowerMatMul lowers batched matrix multiplication.
//
//	[..., M, K] @ [..., K, N] -> [..., M, N]
//
// Leading dimensions broadcast against each other.
func lowerMatMul(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
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
	ra, rb, ro := len(aShape), len(bShape), len(outShape)
	if ra < 2 || rb < 2 || ro < 2 {
		return Lowered{}, fmt.Errorf("matmul: inputs must be at least 2D, got %v and %v", aShape, bShape)
	}

	m, k := aShape[ra-2], aShape[ra-1]
	k2, n := bShape[rb-2], bShape[rb-1]
	if k != k2 || outShape[ro-2] != m || outShape[ro-1] != n {
		return Lowered{}, fmt.Errorf("matmul: shape mismatch %v @ %v -> %v", aShape, bShape, outShape)
	}

	batch := outShape[:ro-2]
	aBatch := broadcastIndex(aShape[:ra-2], batch)
	bBatch := broadcastIndex(bShape[:rb-2], batch)
	batchSize := 1
	for _, d := range batch {
		batchSize *= d
	}

	return Lowered{Routine: func(in, out [][]byte, _ []byte) {
		a, b, c := tensor.AsFloat32(in[0]), tensor.AsFloat32(in[1]), tensor.AsFloat32(out[0])
		for i := 0; i < batchSize; i++ {
			ai, bi := i, i
			if aBatch != nil {
				ai = aBatch[i]
			}
			if bBatch != nil {
				bi = bBatch[i]
			}
			matmulFloat32(c[i*m*n:(i+1)*m*n], a[ai*m*k:(ai+1)*m*k], b[bi*k*n:(bi+1)*k*n], m, k, n)
		}
	}}, nil
}

// lowerGemm lowers Y = alpha * A' * B' + beta * C, where A' and B' are optionally
// transposed. Transposed operands are staged in the workspace.
func lowerGemm(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
	if err := requireArity(op, inputs, outputs, 2, 3); err != nil {
		return Lowered{}, err
	}
	if err := requireFloat32(op, slices.Concat(inputs, outputs)...); err != nil {
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
	if len(aShape) != 2 || len(bShape) != 2 {
		return Lowered{}, fmt.Errorf("gemm: operands must be 2D, got %v and %v", aShape, bShape)
	}

	transA := op.AttrInt("transA", 0) != 0
	transB := op.AttrInt("transB", 0) != 0
	alpha := op.AttrFloat("alpha", 1)
	beta := op.AttrFloat("beta", 1)

	m, k := aShape[0], aShape[1]
	if transA {
		m, k = k, m
	}
	k2, n := bShape[0], bShape[1]
	if transB {
		k2, n = n, k2
	}
	if k != k2 {
		return Lowered{}, fmt.Errorf("gemm: inner dimensions %d and %d differ", k, k2)
	}

	var cIdx []int
	hasC := len(inputs) == 3
	if hasC {
		cShape, err := inputs[2].Shape.Ints()
		if err != nil {
			return Lowered{}, err
		}
		cIdx = broadcastIndex(cShape, []int{m, n})
	}

	staged := 0
	if transA {
		staged += m * k
	}
	if transB {
		staged += k * n
	}
	ws, err := stack.Layout{Size: 4, Align: 4}.Array(staged)
	if err != nil {
		return Lowered{}, err
	}

	return Lowered{Workspace: ws, Routine: func(in, out [][]byte, workspace []byte) {
		a, b, y := tensor.AsFloat32(in[0]), tensor.AsFloat32(in[1]), tensor.AsFloat32(out[0])
		scratch := tensor.AsFloat32(workspace)
		if transA {
			transposeFloat32(scratch[:m*k], a, k, m)
			a, scratch = scratch[:m*k], scratch[m*k:]
		}
		if transB {
			transposeFloat32(scratch[:k*n], b, n, k)
			b = scratch[:k*n]
		}
		matmulFloat32(y, a, b, m, k, n)

		var c []float32
		if hasC {
			c = tensor.AsFloat32(in[2])
		}
		for i := range y {
			v := alpha * y[i]
			if c != nil {
				ci := i
				if cIdx != nil {
					ci = cIdx[i]
				}
				v += beta * c[ci]
			}
			y[i] = v
		}
	}}, nil
}

// matmulFloat32 performs naive matrix multiplication for float32.
// C[i,j] = sum_k A[i,k] * B[k,j]
func matmulFloat32(c, a, b []float32, m, k, n int) {
	parallel.For(m, func(i int) {
		for j := 0; j < n; j++ {
			sum := float32(0)
			for kIdx := 0; kIdx < k; kIdx++ {
				sum += a[i*k+kIdx] * b[kIdx*n+j]
			}
			c[i*n+j] = sum
		}
	}, rowConfig)
}

// transposeFloat32 writes the transpose of the rows x cols matrix src into dst.
func transposeFloat32(dst, src []float32, rows, cols int) {
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}
}
