package webgpu

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/stack"
	"github.com/born-ml/infer/internal/tensor"
)

// Alignment is the byte alignment of every planned object. It is the minimum
// storage buffer offset alignment WebGPU guarantees.
const Alignment = 256

const maxRank = 8

// regionID numbers the storage buffers bound by every kernel.
type regionID uint32

const (
	regionPinned regionID = iota
	regionReusable
	regionConstants
	regionExterns
	numRegions
)

// String implements fmt.Stringer.
func (r regionID) String() string {
	switch r {
	case regionPinned:
		return "pinned"
	case regionReusable:
		return "reusable"
	case regionConstants:
		return "constants"
	case regionExterns:
		return "externs"
	default:
		return fmt.Sprintf("region(%d)", uint32(r))
	}
}

// operand locates the first 32-bit word of an edge.
type operand struct {
	region regionID
	offset uint32
}

// operandRef marks the two parameter words that receive the region and offset
// of an edge once memory is planned.
type operandRef struct {
	word int
	edge int
}

// kernel is the lowered form of one node: a shader, its uniform parameters, and
// the dispatch size. A kernel with an empty shader has nothing to do.
type kernel struct {
	shader     string
	params     []uint32
	operands   []operandRef
	workgroups [3]uint32
}

// bind returns the parameters with every operand filled in from loc.
func (k *kernel) bind(loc []operand) []uint32 {
	p := slices.Clone(k.params)
	for _, r := range k.operands {
		p[r.word] = uint32(loc[r.edge].region)
		p[r.word+1] = loc[r.edge].offset
	}
	return p
}

// paramBytes encodes parameters as a little-endian uniform buffer.
func paramBytes(p []uint32) []byte {
	return tensor.Bytes(p)
}

// lowerFunc lowers one node. ins and outs are edge indices matching inputs and outputs.
type lowerFunc func(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error)

var kernels = map[string]lowerFunc{
	"Identity": lowerCopy,
	"Reshape":  lowerCopy,
	"Flatten":  lowerCopy,
	"Relu":     lowerUnary,
	"Sigmoid":  lowerUnary,
	"Tanh":     lowerUnary,
	"Add":      lowerBinary,
	"Sub":      lowerBinary,
	"Mul":      lowerBinary,
	"Div":      lowerBinary,
	"MatMul":   lowerMatMul,
	"Gemm":     lowerGemm,
	"Softmax":  lowerSoftmax,
}

// SupportedOps returns the operator types with a GPU kernel, sorted.
func SupportedOps() []string {
	ops := make([]string, 0, len(kernels))
	for op := range kernels {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func lowerNode(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	lower, ok := kernels[op.OpType]
	if !ok {
		return kernel{}, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op.OpType)
	}
	if len(outputs) != 1 {
		return kernel{}, fmt.Errorf("%s: expected 1 output, got %d", op.OpType, len(outputs))
	}
	return lower(op, inputs, outputs, ins, outs)
}

// u32 narrows a size that was checked against math.MaxUint32.
func u32(v int) uint32 {
	return uint32(v) //nolint:gosec // G115: callers check the range
}

func checkWords(n int) error {
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%w: %d elements exceed 32-bit indexing", ErrUnsupportedOperator, n)
	}
	return nil
}

func requireFloat32(op *graph.Operator, ts ...*tensor.Tensor) error {
	for _, t := range ts {
		if t.DType != tensor.Float32 {
			return fmt.Errorf("%w: %s on %v (only float32 supported)", ErrUnsupportedOperator, op.OpType, t.DType)
		}
	}
	return nil
}

func requireInputs(op *graph.Operator, inputs []*tensor.Tensor, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		return fmt.Errorf("%s: expected %d to %d inputs, got %d", op.OpType, lo, hi, len(inputs))
	}
	return nil
}

// elementwise returns the dispatch size for n threads of workgroupSize, spilling
// into the y dimension past the per-dimension limit.
func elementwise(n int) ([3]uint32, error) {
	groups := (n + workgroupSize - 1) / workgroupSize
	x := min(groups, maxWorkgroupsPerDimension)
	if x == 0 {
		return [3]uint32{}, nil
	}
	y := (groups + x - 1) / x
	if y > maxWorkgroupsPerDimension {
		return [3]uint32{}, fmt.Errorf("%w: %d elements exceed one dispatch", ErrUnsupportedOperator, n)
	}
	return [3]uint32{u32(x), u32(y), 1}, nil
}

// tiles returns the dispatch size of a 16x16 tiled kernel.
func tiles(rows, cols, batch int) ([3]uint32, error) {
	x, y := (cols+15)/16, (rows+15)/16
	if x > maxWorkgroupsPerDimension || y > maxWorkgroupsPerDimension || batch > maxWorkgroupsPerDimension {
		return [3]uint32{}, fmt.Errorf("%w: [%d %d %d] exceeds one dispatch", ErrUnsupportedOperator, batch, rows, cols)
	}
	return [3]uint32{u32(x), u32(y), u32(batch)}, nil
}

// pad16 extends parameters to a whole number of 16-byte rows.
func pad16(p []uint32) []uint32 {
	for len(p)%4 != 0 {
		p = append(p, 0)
	}
	return p
}

// broadcastStrides returns the strides of inShape viewed with outShape's rank.
// Broadcast dimensions get stride 0.
func broadcastStrides(inShape, outShape []int) []int {
	strides := make([]int, len(outShape))
	orig := tensor.ComputeStrides(inShape)
	offset := len(outShape) - len(inShape)
	for i := range outShape {
		j := i - offset
		if j < 0 || inShape[j] == 1 {
			continue
		}
		strides[i] = orig[j]
	}
	return strides
}

func lowerCopy(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	if err := requireInputs(op, inputs, 1, 2); err != nil {
		return kernel{}, err
	}
	in, out := inputs[0], outputs[0]
	if in.DType != out.DType {
		return kernel{}, fmt.Errorf("%s: data type changes from %v to %v", op.OpType, in.DType, out.DType)
	}
	size, err := out.ByteSize()
	if err != nil {
		return kernel{}, err
	}
	words := (size + 3) / 4
	if err := checkWords(words); err != nil {
		return kernel{}, err
	}
	wg, err := elementwise(words)
	if err != nil || words == 0 {
		return kernel{}, err
	}
	return kernel{
		shader:     "copy",
		params:     pad16([]uint32{u32(words), 0, 0, 0, 0}),
		operands:   []operandRef{{word: 1, edge: ins[0]}, {word: 3, edge: outs[0]}},
		workgroups: wg,
	}, nil
}

func lowerUnary(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	if err := requireInputs(op, inputs, 1, 1); err != nil {
		return kernel{}, err
	}
	if err := requireFloat32(op, inputs[0], outputs[0]); err != nil {
		return kernel{}, err
	}
	n, err := outputs[0].NumElements()
	if err != nil {
		return kernel{}, err
	}
	if err := checkWords(n); err != nil {
		return kernel{}, err
	}
	wg, err := elementwise(n)
	if err != nil || n == 0 {
		return kernel{}, err
	}
	return kernel{
		shader:     op.OpType,
		params:     pad16([]uint32{u32(n), 0, 0, 0, 0}),
		operands:   []operandRef{{word: 1, edge: ins[0]}, {word: 3, edge: outs[0]}},
		workgroups: wg,
	}, nil
}

func lowerBinary(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	if err := requireInputs(op, inputs, 2, 2); err != nil {
		return kernel{}, err
	}
	if err := requireFloat32(op, inputs[0], inputs[1], outputs[0]); err != nil {
		return kernel{}, err
	}
	aShape, err := inputs[0].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	bShape, err := inputs[1].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	outShape, err := outputs[0].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	if len(outShape) > maxRank {
		return kernel{}, fmt.Errorf("%w: %s on rank %d", ErrUnsupportedOperator, op.OpType, len(outShape))
	}
	n, err := outputs[0].NumElements()
	if err != nil {
		return kernel{}, err
	}
	if err := checkWords(n); err != nil {
		return kernel{}, err
	}
	wg, err := elementwise(n)
	if err != nil || n == 0 {
		return kernel{}, err
	}

	p := make([]uint32, 32)
	p[0], p[1] = u32(n), u32(len(outShape))
	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)
	for d, s := range tensor.ComputeStrides(outShape) {
		p[8+d] = u32(s)
		p[16+d] = u32(aStrides[d])
		p[24+d] = u32(bStrides[d])
	}
	return kernel{
		shader: op.OpType,
		params: p,
		operands: []operandRef{
			{word: 2, edge: ins[0]},
			{word: 4, edge: ins[1]},
			{word: 6, edge: outs[0]},
		},
		workgroups: wg,
	}, nil
}

// lowerMatMul supports batch dimensions that either match the output or
// broadcast as a whole.
func lowerMatMul(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	if err := requireInputs(op, inputs, 2, 2); err != nil {
		return kernel{}, err
	}
	if err := requireFloat32(op, inputs[0], inputs[1], outputs[0]); err != nil {
		return kernel{}, err
	}
	aShape, err := inputs[0].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	bShape, err := inputs[1].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	outShape, err := outputs[0].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	ra, rb, ro := len(aShape), len(bShape), len(outShape)
	if ra < 2 || rb < 2 || ro < 2 {
		return kernel{}, fmt.Errorf("matmul: inputs must be at least 2D, got %v and %v", aShape, bShape)
	}
	m, k, n := aShape[ra-2], aShape[ra-1], bShape[rb-1]
	if bShape[rb-2] != k || outShape[ro-2] != m || outShape[ro-1] != n {
		return kernel{}, fmt.Errorf("matmul: shape mismatch %v @ %v -> %v", aShape, bShape, outShape)
	}
	batch := 1
	for _, d := range outShape[:ro-2] {
		batch *= d
	}
	aStride, err := batchStride(aShape[:ra-2], outShape[:ro-2], m*k)
	if err != nil {
		return kernel{}, err
	}
	bStride, err := batchStride(bShape[:rb-2], outShape[:ro-2], k*n)
	if err != nil {
		return kernel{}, err
	}
	if err := checkWords(batch * m * n); err != nil {
		return kernel{}, err
	}
	if batch*m*n == 0 {
		return kernel{}, nil
	}
	wg, err := tiles(m, n, batch)
	if err != nil {
		return kernel{}, err
	}
	return kernel{
		shader: "MatMul",
		params: pad16([]uint32{
			u32(m), u32(k), u32(n), u32(batch),
			0, 0, u32(aStride),
			0, 0, u32(bStride),
			0, 0,
		}),
		operands:   []operandRef{{word: 4, edge: ins[0]}, {word: 7, edge: ins[1]}, {word: 10, edge: outs[0]}},
		workgroups: wg,
	}, nil
}

// batchStride returns the element stride between consecutive batches of an
// operand: matrix when its batch dimensions equal the output's, 0 when they hold
// a single matrix.
func batchStride(in, out []int, matrix int) (int, error) {
	count := 1
	for _, d := range in {
		count *= d
	}
	switch {
	case count == 1:
		return 0, nil
	case slices.Equal(in, out):
		return matrix, nil
	default:
		return 0, fmt.Errorf("%w: matmul batch %v against %v", ErrUnsupportedOperator, in, out)
	}
}

func lowerGemm(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	if err := requireInputs(op, inputs, 2, 3); err != nil {
		return kernel{}, err
	}
	if err := requireFloat32(op, slices.Concat(inputs, outputs)...); err != nil {
		return kernel{}, err
	}
	aShape, err := inputs[0].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	bShape, err := inputs[1].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	if len(aShape) != 2 || len(bShape) != 2 {
		return kernel{}, fmt.Errorf("gemm: operands must be 2D, got %v and %v", aShape, bShape)
	}
	transA := op.AttrInt("transA", 0) != 0
	transB := op.AttrInt("transB", 0) != 0
	m, k := aShape[0], aShape[1]
	if transA {
		m, k = k, m
	}
	k2, n := bShape[0], bShape[1]
	if transB {
		k2, n = n, k2
	}
	if k != k2 {
		return kernel{}, fmt.Errorf("gemm: inner dimensions %d and %d differ", k, k2)
	}
	if err := checkWords(m * n); err != nil {
		return kernel{}, err
	}
	if m*n == 0 {
		return kernel{}, nil
	}
	wg, err := tiles(m, n, 1)
	if err != nil {
		return kernel{}, err
	}

	p := make([]uint32, 20)
	p[0], p[1], p[2] = u32(m), u32(k), u32(n)
	if transA {
		p[3] = 1
	}
	if transB {
		p[4] = 1
	}
	p[16] = math.Float32bits(op.AttrFloat("alpha", 1))
	p[17] = math.Float32bits(op.AttrFloat("beta", 1))
	operands := []operandRef{{word: 8, edge: ins[0]}, {word: 10, edge: ins[1]}, {word: 14, edge: outs[0]}}
	if len(inputs) == 3 {
		cShape, err := inputs[2].Shape.Ints()
		if err != nil {
			return kernel{}, err
		}
		if len(cShape) > 2 {
			return kernel{}, fmt.Errorf("gemm: bias must be at most 2D, got %v", cShape)
		}
		s := broadcastStrides(cShape, []int{m, n})
		p[5], p[6], p[7] = 1, u32(s[0]), u32(s[1])
		operands = append(operands, operandRef{word: 12, edge: ins[2]})
	}
	return kernel{shader: "Gemm", params: p, operands: operands, workgroups: wg}, nil
}

func lowerSoftmax(op *graph.Operator, inputs, outputs []*tensor.Tensor, ins, outs []int) (kernel, error) {
	if err := requireInputs(op, inputs, 1, 1); err != nil {
		return kernel{}, err
	}
	if err := requireFloat32(op, inputs[0], outputs[0]); err != nil {
		return kernel{}, err
	}
	shape, err := inputs[0].Shape.Ints()
	if err != nil {
		return kernel{}, err
	}
	axis := int(op.AttrInt("axis", -1))
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return kernel{}, fmt.Errorf("softmax: axis %d out of range for rank %d", op.AttrInt("axis", -1), len(shape))
	}
	n, err := inputs[0].NumElements()
	if err != nil {
		return kernel{}, err
	}
	if err := checkWords(n); err != nil {
		return kernel{}, err
	}
	if n == 0 {
		return kernel{}, nil
	}
	inner := tensor.ComputeStrides(shape)[axis]
	rows := n / shape[axis]
	groups := (rows + workgroupSize - 1) / workgroupSize
	if groups > maxWorkgroupsPerDimension {
		return kernel{}, fmt.Errorf("%w: %d softmax rows exceed one dispatch", ErrUnsupportedOperator, rows)
	}
	return kernel{
		shader:     "Softmax",
		params:     pad16([]uint32{u32(rows), u32(shape[axis]), u32(inner), 0, 0, 0, 0}),
		operands:   []operandRef{{word: 3, edge: ins[0]}, {word: 5, edge: outs[0]}},
		workgroups: [3]uint32{u32(groups), 1, 1},
	}, nil
}

// regions assigns every edge of a plan a place in one of the four regions.
// Constants and externs are packed at Alignment by flat calculators.
type regions struct {
	operands []operand
	ranges   []stack.Range // Byte range of each edge inside its region
	sizes    [numRegions]int
}

func placeEdges(plan *stack.Plan, edges []*tensor.Tensor) (*regions, error) {
	r := &regions{
		operands: make([]operand, len(plan.Edges)),
		ranges:   make([]stack.Range, len(plan.Edges)),
	}
	constants, externs := stack.NewFlat(), stack.NewFlat()
	for e, slot := range plan.Edges {
		var (
			id  regionID
			rng stack.Range
		)
		switch slot.Class {
		case stack.Pinned:
			id, rng = regionPinned, slot.Range
		case stack.OnStack:
			id, rng = regionReusable, slot.Range
		case stack.Constant, stack.Extern:
			l, err := edges[e].Layout(Alignment)
			if err != nil {
				return nil, fmt.Errorf("edge %d: %w", e, err)
			}
			calc := constants
			id = regionConstants
			if slot.Class == stack.Extern {
				calc, id = externs, regionExterns
			}
			if rng, err = calc.Alloc(l); err != nil {
				return nil, fmt.Errorf("edge %d: %w", e, err)
			}
		default:
			panic(fmt.Sprintf("webgpu: invalid class %v", slot.Class))
		}
		if uint64(rng.Start/4) > math.MaxUint32 {
			return nil, fmt.Errorf("%w: edge %d at byte %d", ErrUnsupportedOperator, e, rng.Start)
		}
		r.operands[e] = operand{region: id, offset: u32(rng.Start / 4)}
		r.ranges[e] = rng
	}
	r.sizes[regionPinned] = plan.PinnedSize
	r.sizes[regionReusable] = plan.ReusableSize
	r.sizes[regionConstants] = constants.Peak()
	r.sizes[regionExterns] = externs.Peak()
	return r, nil
}

// bufferSize rounds a region up so that it can be bound: bindings are never
// empty and copies move whole 32-bit words.
func bufferSize(n int) uint64 {
	if n < Alignment {
		return Alignment
	}
	return uint64((n + Alignment - 1) &^ (Alignment - 1))
}

// layoutSource describes a graph to the planner. Kernels need no workspace.
type layoutSource struct {
	g *graph.Graph
}

func (s layoutSource) TensorLayout(i int) (stack.Layout, error) {
	return s.g.Edges[i].Layout(1)
}

func (layoutSource) WorkspaceLayout(int) (stack.Layout, error) {
	return stack.Layout{Align: 1}, nil
}

func (s layoutSource) IsConstant(i int) bool {
	return s.g.Edges[i].HasData()
}
