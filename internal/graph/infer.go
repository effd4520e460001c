package graph

import (
	"fmt"
	"slices"
	"sort"

	"github.com/born-ml/infer/internal/tensor"
)

// InferFunc computes the output descriptors of an operator from its inputs.
type InferFunc func(op *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

var inferFuncs = map[string]InferFunc{
	"Identity": inferUnary,
	"Relu":     inferUnary,
	"Sigmoid":  inferUnary,
	"Tanh":     inferUnary,
	"Softmax":  inferUnary,
	"Add":      inferBinary,
	"Sub":      inferBinary,
	"Mul":      inferBinary,
	"Div":      inferBinary,
	"MatMul":   inferMatMul,
	"Gemm":     inferGemm,
	"Reshape":  inferReshape,
	"Flatten":  inferFlatten,
}

// SupportedOps returns the operator types shape inference knows, sorted.
func SupportedOps() []string {
	ops := make([]string, 0, len(inferFuncs))
	for op := range inferFuncs {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// InferShapes fills the descriptors of node outputs in topological order.
// Outputs that already carry a descriptor must agree with the inferred one.
func (g *Graph) InferShapes() error {
	for st := range g.Topology.All() {
		op := &g.Nodes[st.Node]
		inputs := make([]*tensor.Tensor, len(st.Inputs))
		for k, e := range st.Inputs {
			t := g.Edges[e]
			if t == nil || t.DType == tensor.Undefined {
				return fmt.Errorf("node %s: input %s: %w", op.Name, g.EdgeName(e), ErrUntypedEdge)
			}
			inputs[k] = t
		}

		infer, ok := inferFuncs[op.OpType]
		if !ok {
			return fmt.Errorf("node %s: %w: %s", op.Name, ErrUnsupportedOperator, op.OpType)
		}
		outs, err := infer(op, inputs)
		if err != nil {
			return fmt.Errorf("node %s (%s): %w", op.Name, op.OpType, err)
		}
		if len(outs) != st.Outputs.Len() {
			return fmt.Errorf("node %s (%s): produces %d outputs, graph declares %d",
				op.Name, op.OpType, len(outs), st.Outputs.Len())
		}

		for k, e := range st.Outputs.Indices() {
			declared := g.Edges[e]
			if declared == nil || declared.DType == tensor.Undefined {
				g.Edges[e] = outs[k]
				continue
			}
			if declared.DType != outs[k].DType || !declared.Shape.Equal(outs[k].Shape) {
				return fmt.Errorf("node %s: output %s declared %v, inferred %v: %w",
					op.Name, g.EdgeName(e), declared, outs[k], ErrShapeMismatch)
			}
		}
	}
	return nil
}

func wantInputs(inputs []*tensor.Tensor, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		if lo == hi {
			return fmt.Errorf("requires %d inputs, got %d", lo, len(inputs))
		}
		return fmt.Errorf("requires %d to %d inputs, got %d", lo, hi, len(inputs))
	}
	return nil
}

func inferUnary(_ *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(inputs, 1, 1); err != nil {
		return nil, err
	}
	return []*tensor.Tensor{tensor.New(inputs[0].DType, inputs[0].Shape)}, nil
}

func inferBinary(_ *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(inputs, 2, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if a.DType != b.DType {
		return nil, fmt.Errorf("%w: data types %v and %v", ErrShapeMismatch, a.DType, b.DType)
	}
	shape, _, err := tensor.BroadcastShapes(a.Shape, b.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	return []*tensor.Tensor{tensor.New(a.DType, shape)}, nil
}

func inferMatMul(_ *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(inputs, 2, 2); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if a.DType != b.DType {
		return nil, fmt.Errorf("%w: data types %v and %v", ErrShapeMismatch, a.DType, b.DType)
	}
	if len(a.Shape) < 2 || len(b.Shape) < 2 {
		return nil, fmt.Errorf("%w: matmul needs rank >= 2, got %v and %v", ErrShapeMismatch, a.Shape, b.Shape)
	}
	ra, rb := len(a.Shape), len(b.Shape)
	if a.Shape[ra-1] != b.Shape[rb-2] {
		return nil, fmt.Errorf("%w: matmul %v x %v", ErrShapeMismatch, a.Shape, b.Shape)
	}
	batch, _, err := tensor.BroadcastShapes(a.Shape[:ra-2], b.Shape[:rb-2])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	shape := append(batch, a.Shape[ra-2], b.Shape[rb-1])
	return []*tensor.Tensor{tensor.New(a.DType, shape)}, nil
}

// inferGemm implements Y = alpha*A'*B' + beta*C for 2-D A and B.
func inferGemm(op *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(inputs, 2, 3); err != nil {
		return nil, err
	}
	a, b := inputs[0], inputs[1]
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("%w: gemm needs 2-D operands, got %v and %v", ErrShapeMismatch, a.Shape, b.Shape)
	}
	m, k := a.Shape[0], a.Shape[1]
	if op.AttrInt("transA", 0) != 0 {
		m, k = k, m
	}
	kb, n := b.Shape[0], b.Shape[1]
	if op.AttrInt("transB", 0) != 0 {
		kb, n = n, kb
	}
	if k != kb {
		return nil, fmt.Errorf("%w: gemm inner dimensions %v and %v", ErrShapeMismatch, k, kb)
	}
	out := tensor.Shape{m, n}
	if len(inputs) == 3 {
		if _, _, err := tensor.BroadcastShapes(out, inputs[2].Shape); err != nil {
			return nil, fmt.Errorf("%w: bias: %w", ErrShapeMismatch, err)
		}
	}
	return []*tensor.Tensor{tensor.New(a.DType, out)}, nil
}

// inferReshape follows ONNX: 0 copies the input dimension, -1 takes what is left.
// The target shape must be a constant int64 tensor.
func inferReshape(op *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(inputs, 2, 2); err != nil {
		return nil, err
	}
	x, target := inputs[0], inputs[1]
	if target.DType != tensor.Int64 || !target.HasData() {
		return nil, fmt.Errorf("reshape target must be a constant int64 tensor")
	}
	allowZero := op.AttrInt("allowzero", 0) != 0

	dims := tensor.View[int64](target.Data)
	out := make(tensor.Shape, len(dims))
	infer := -1
	for i, d := range dims {
		switch {
		case d == -1:
			if infer >= 0 {
				return nil, fmt.Errorf("reshape target %v has more than one -1", dims)
			}
			infer = i
		case d == 0 && !allowZero:
			if i >= len(x.Shape) {
				return nil, fmt.Errorf("reshape target %v copies missing dimension %d", dims, i)
			}
			out[i] = x.Shape[i]
		case d < 0:
			return nil, fmt.Errorf("reshape target %v has invalid dimension %d", dims, d)
		default:
			out[i] = tensor.Fixed(d)
		}
	}

	if infer >= 0 {
		rest := slices.Concat(out[:infer], out[infer+1:])
		d, err := quotient(x.Shape, rest)
		if err != nil {
			return nil, fmt.Errorf("reshape %v to %v: %w", x.Shape, dims, err)
		}
		out[infer] = d
	} else if !sameVolume(x.Shape, out) {
		return nil, fmt.Errorf("%w: reshape %v to %v changes the element count", ErrShapeMismatch, x.Shape, out)
	}
	return []*tensor.Tensor{tensor.New(x.DType, out)}, nil
}

// inferFlatten reshapes to 2-D around axis (default 1, negative counts from the end).
func inferFlatten(op *Operator, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := wantInputs(inputs, 1, 1); err != nil {
		return nil, err
	}
	x := inputs[0]
	axis := int(op.AttrInt("axis", 1))
	if axis < 0 {
		axis += len(x.Shape)
	}
	if axis < 0 || axis > len(x.Shape) {
		return nil, fmt.Errorf("flatten axis %d out of range for %v", axis, x.Shape)
	}
	outer, err := quotient(x.Shape[:axis], nil)
	if err != nil {
		return nil, fmt.Errorf("flatten %v: %w", x.Shape, err)
	}
	inner, err := quotient(x.Shape[axis:], nil)
	if err != nil {
		return nil, fmt.Errorf("flatten %v: %w", x.Shape, err)
	}
	return []*tensor.Tensor{tensor.New(x.DType, tensor.Shape{outer, inner})}, nil
}

// factors splits a shape into the product of its fixed dimensions and the sorted
// list of its symbolic ones.
func factors(s tensor.Shape) (int64, []string) {
	fixed := int64(1)
	var vars []string
	for _, d := range s {
		if d.IsFixed() {
			fixed *= d.Value
		} else {
			vars = append(vars, d.Variable)
		}
	}
	slices.Sort(vars)
	return fixed, vars
}

// quotient returns volume(num)/volume(den) as a single dimension. Symbolic
// dimensions cancel by name; at most one may be left over.
func quotient(num, den tensor.Shape) (tensor.Dim, error) {
	nf, nv := factors(num)
	df, dv := factors(den)
	for _, v := range dv {
		i := slices.Index(nv, v)
		if i < 0 {
			return tensor.Dim{}, fmt.Errorf("symbolic dimension %q does not divide", v)
		}
		nv = slices.Delete(nv, i, i+1)
	}
	if df == 0 || nf%df != 0 {
		return tensor.Dim{}, fmt.Errorf("%w: %d elements do not divide by %d", ErrShapeMismatch, nf, df)
	}
	q := nf / df
	switch {
	case len(nv) == 0:
		return tensor.Fixed(q), nil
	case len(nv) == 1 && q == 1:
		return tensor.Var(nv[0]), nil
	default:
		return tensor.Dim{}, fmt.Errorf("cannot express %d x %v as one dimension", q, nv)
	}
}

func sameVolume(a, b tensor.Shape) bool {
	af, av := factors(a)
	bf, bv := factors(b)
	return af == bf && slices.Equal(av, bv)
}
