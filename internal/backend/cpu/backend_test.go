package cpu

import (
	"context"
	"errors"
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/parallel"
	"github.com/born-ml/infer/internal/stack"
	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/topo"
)

const epsilon = 1e-5

func constant[T tensor.DType](t *testing.T, data []T, dims ...int64) *tensor.Tensor {
	t.Helper()
	c, err := tensor.FromSlice(data, tensor.Dims(dims...))
	require.NoError(t, err)
	return c
}

// mlp computes relu(x @ w + b) for x of shape [batch, 4].
func mlp(t *testing.T) *graph.Builder {
	t.Helper()
	return &graph.Builder{
		Topology: map[string]topo.Connections[string]{
			"fc":   {Inputs: []string{"x", "w"}, Outputs: []string{"h"}},
			"bias": {Inputs: []string{"h", "b"}, Outputs: []string{"z"}},
			"act":  {Inputs: []string{"z"}, Outputs: []string{"y"}},
		},
		GlobalInputs:  []string{"x"},
		GlobalOutputs: []string{"y"},
		Nodes: map[string]graph.Operator{
			"fc":   {OpType: "MatMul"},
			"bias": {OpType: "Add"},
			"act":  {OpType: "Relu"},
		},
		Edges: map[string]*tensor.Tensor{
			"x": tensor.New(tensor.Float32, tensor.Shape{tensor.Var("batch"), tensor.Fixed(4)}),
			"w": constant(t, []float32{
				1, 2, 3,
				-1, -2, -3,
				0, 0, 0,
				1, 1, 1,
			}, 4, 3),
			"b": constant(t, []float32{0.5, 0, -10}, 3),
		},
	}
}

func build(t *testing.T, b *graph.Builder, vars map[string]int64, opts Options) *Graph {
	t.Helper()
	g, err := graph.Build(b)
	require.NoError(t, err)
	require.NoError(t, g.InferShapes())
	g, err = g.Substitute(vars)
	require.NoError(t, err)
	cg, err := Build(context.Background(), g, opts)
	require.NoError(t, err)
	return cg
}

func edge(t *testing.T, g *Graph, name string) int {
	t.Helper()
	e, ok := g.Edge(name)
	require.True(t, ok, name)
	return e
}

func copyIn(t *testing.T, g *Graph, name string, data []float32) {
	t.Helper()
	require.NoError(t, g.CopyIn(edge(t, g, name), tensor.Bytes(data)))
}

func copyOut(t *testing.T, g *Graph, name string) []float32 {
	t.Helper()
	b, err := g.CopyOut(edge(t, g, name))
	require.NoError(t, err)
	return tensor.AsFloat32(b)
}

func TestBuildAndRun_MLP(t *testing.T) {
	calculators := map[string]stack.Calculator{
		"unidir": stack.UnidirCalculator{},
		"flat":   stack.FlatCalculator{},
	}
	for name, calc := range calculators {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.Calculator = calc
			g := build(t, mlp(t), map[string]int64{"batch": 2}, opts)

			copyIn(t, g, "x", []float32{
				1, 0, 0, 0,
				0, 1, 0, 1,
			})
			require.NoError(t, g.Run(context.Background()))
			assert.InDeltaSlice(t, []float32{1.5, 2, 0, 0.5, 0, 0}, copyOut(t, g, "y"), epsilon)

			// A second run reuses the same memory.
			copyIn(t, g, "x", []float32{
				0, 0, 0, 2,
				1, 1, 0, 0,
			})
			require.NoError(t, g.Run(context.Background()))
			assert.InDeltaSlice(t, []float32{2.5, 2, 0, 0.5, 0, 0}, copyOut(t, g, "y"), epsilon)
		})
	}
}

func TestBuild_Classes(t *testing.T) {
	g := build(t, mlp(t), map[string]int64{"batch": 3}, DefaultOptions())
	plan := g.Plan()

	classes := map[string]stack.Class{
		"x": stack.Pinned,
		"w": stack.Constant,
		"h": stack.OnStack,
		"b": stack.Constant,
		"z": stack.OnStack,
		"y": stack.Pinned,
	}
	for name, want := range classes {
		assert.Equal(t, want, plan.Edges[edge(t, g, name)].Class, name)
	}

	align := plan.Alignment
	assert.Contains(t, []int{16, 32, 64}, align)
	for _, slot := range plan.Edges {
		assert.Zero(t, slot.Range.Start%align)
	}
	h, z := plan.Edges[edge(t, g, "h")].Range, plan.Edges[edge(t, g, "z")].Range
	assert.False(t, h.Overlaps(z), "h is read while z is written")
	assert.NoError(t, plan.Replay(stack.NewUnidir()))

	w, err := g.CopyOut(edge(t, g, "w"))
	require.NoError(t, err)
	assert.Len(t, w, 48)
}

func TestGemm(t *testing.T) {
	b := &graph.Builder{
		Topology: map[string]topo.Connections[string]{
			"gemm": {Inputs: []string{"a", "b", "c"}, Outputs: []string{"y"}},
		},
		GlobalInputs:  []string{"a"},
		GlobalOutputs: []string{"y"},
		Nodes: map[string]graph.Operator{
			"gemm": {OpType: "Gemm", Attributes: []graph.Attribute{
				{Name: "transA", Type: graph.AttrInt, I: 1},
				{Name: "transB", Type: graph.AttrInt, I: 1},
				{Name: "alpha", Type: graph.AttrFloat, F: 2},
				{Name: "beta", Type: graph.AttrFloat, F: 0.5},
			}},
		},
		Edges: map[string]*tensor.Tensor{
			"a": tensor.New(tensor.Float32, tensor.Dims(3, 2)),
			"b": constant(t, []float32{1, 0, 1, 0, 1, 0}, 2, 3),
			"c": constant(t, []float32{1, 2}, 2),
		},
	}
	g := build(t, b, nil, DefaultOptions())
	assert.Equal(t, 48, g.Plan().Workspaces[0].Len(), "both operands staged transposed")

	copyIn(t, g, "a", []float32{1, 4, 2, 5, 3, 6})
	require.NoError(t, g.Run(context.Background()))
	assert.InDeltaSlice(t, []float32{8.5, 5, 20.5, 11}, copyOut(t, g, "y"), epsilon)
}

func TestSoftmaxAndReshape(t *testing.T) {
	b := &graph.Builder{
		Topology: map[string]topo.Connections[string]{
			"sm":      {Inputs: []string{"x"}, Outputs: []string{"p"}},
			"reshape": {Inputs: []string{"p", "shape"}, Outputs: []string{"q"}},
		},
		GlobalInputs:  []string{"x"},
		GlobalOutputs: []string{"q"},
		Nodes: map[string]graph.Operator{
			"sm":      {OpType: "Softmax"},
			"reshape": {OpType: "Reshape"},
		},
		Edges: map[string]*tensor.Tensor{
			"x":     tensor.New(tensor.Float32, tensor.Dims(2, 3)),
			"shape": constant(t, []int64{3, -1}, 2),
		},
	}
	g := build(t, b, nil, DefaultOptions())
	q, ok := g.Source().EdgeIndex("q")
	require.True(t, ok)
	assert.Equal(t, tensor.Dims(3, 2), g.Source().Edges[q].Shape)

	copyIn(t, g, "x", []float32{1, 2, 3, 0, 0, 0})
	require.NoError(t, g.Run(context.Background()))

	e1, e2, e3 := math.Exp(-2), math.Exp(-1), 1.0
	sum := e1 + e2 + e3
	want := []float32{
		float32(e1 / sum), float32(e2 / sum), float32(e3 / sum),
		1.0 / 3, 1.0 / 3, 1.0 / 3,
	}
	assert.InDeltaSlice(t, want, copyOut(t, g, "q"), epsilon)
}

func TestBroadcastAndBatchedMatMul(t *testing.T) {
	b := &graph.Builder{
		Topology: map[string]topo.Connections[string]{
			"mm":  {Inputs: []string{"a", "m"}, Outputs: []string{"p"}},
			"sub": {Inputs: []string{"p", "col"}, Outputs: []string{"y"}},
		},
		GlobalInputs:  []string{"a"},
		GlobalOutputs: []string{"y"},
		Nodes: map[string]graph.Operator{
			"mm":  {OpType: "MatMul"},
			"sub": {OpType: "Sub"},
		},
		Edges: map[string]*tensor.Tensor{
			"a":   tensor.New(tensor.Float32, tensor.Dims(2, 2, 2)),
			"m":   constant(t, []float32{0, 1, 1, 0}, 2, 2),
			"col": constant(t, []float32{10, 20}, 2, 1),
		},
	}
	g := build(t, b, nil, DefaultOptions())

	copyIn(t, g, "a", []float32{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, g.Run(context.Background()))
	// m swaps the columns, then row i of every batch loses col[i].
	assert.InDeltaSlice(t, []float32{-8, -9, -16, -17, -4, -5, -12, -13}, copyOut(t, g, "y"), epsilon)
}

func TestExtern(t *testing.T) {
	b := &graph.Builder{
		Topology: map[string]topo.Connections[string]{
			"scale": {Inputs: []string{"x", "k"}, Outputs: []string{"y"}},
		},
		GlobalInputs:  []string{"x"},
		GlobalOutputs: []string{"y"},
		Nodes:         map[string]graph.Operator{"scale": {OpType: "Mul"}},
		Edges: map[string]*tensor.Tensor{
			"x": tensor.New(tensor.Float32, tensor.Dims(3)),
			"k": tensor.New(tensor.Float32, tensor.Dims(1)),
		},
	}
	g := build(t, b, nil, DefaultOptions())
	k := edge(t, g, "k")
	assert.Equal(t, stack.Extern, g.Plan().Edges[k].Class)

	_, err := g.CopyOut(k)
	assert.ErrorIs(t, err, ErrInvalidCopyTarget)

	copyIn(t, g, "x", []float32{1, 2, 3})
	err = g.Run(context.Background())
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "scale", execErr.Name)
	assert.ErrorIs(t, err, ErrUnboundEdge)

	copyIn(t, g, "k", []float32{-2})
	require.NoError(t, g.Run(context.Background()))
	assert.InDeltaSlice(t, []float32{-2, -4, -6}, copyOut(t, g, "y"), epsilon)
	assert.InDeltaSlice(t, []float32{-2}, copyOut(t, g, "k"), epsilon)
}

func TestCopyErrors(t *testing.T) {
	g := build(t, mlp(t), map[string]int64{"batch": 1}, DefaultOptions())
	x, w, y := edge(t, g, "x"), edge(t, g, "w"), edge(t, g, "y")

	assert.ErrorIs(t, g.CopyIn(w, make([]byte, 48)), ErrInvalidCopyTarget, "constant")
	assert.ErrorIs(t, g.CopyIn(x, make([]byte, 15)), ErrInvalidCopyTarget, "short")
	assert.ErrorIs(t, g.CopyIn(-1, nil), ErrInvalidCopyTarget)
	assert.ErrorIs(t, g.CopyIn(99, nil), ErrInvalidCopyTarget)
	assert.ErrorIs(t, g.CopyOutInto(y, make([]byte, 4)), ErrInvalidCopyTarget)

	// A failed batch leaves every edge untouched.
	err := g.CopyInBatch(map[int][]byte{
		x: tensor.Bytes([]float32{1, 1, 1, 1}),
		w: make([]byte, 48),
	})
	assert.ErrorIs(t, err, ErrInvalidCopyTarget)
	assert.Equal(t, []float32{0, 0, 0, 0}, copyOut(t, g, "x"))

	require.NoError(t, g.CopyInBatch(map[int][]byte{x: tensor.Bytes([]float32{0, 0, 0, 1})}))
	require.NoError(t, g.Run(context.Background()))
	outs, err := g.CopyOutBatch([]int{y, x})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.5, 1, 0}, tensor.AsFloat32(outs[0]), epsilon)
	assert.Equal(t, []float32{0, 0, 0, 1}, tensor.AsFloat32(outs[1]))

	dst := make([]byte, 12)
	require.NoError(t, g.CopyOutInto(y, dst))
	assert.Equal(t, outs[0], dst)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("unsupported operator", func(t *testing.T) {
		b := mlp(t)
		b.Nodes["act"] = graph.Operator{OpType: "Conv"}
		b.Edges["h"] = tensor.New(tensor.Float32, tensor.Dims(1, 3))
		b.Edges["z"] = tensor.New(tensor.Float32, tensor.Dims(1, 3))
		b.Edges["y"] = tensor.New(tensor.Float32, tensor.Dims(1, 3))
		b.Edges["x"] = tensor.New(tensor.Float32, tensor.Dims(1, 4))
		g, err := graph.Build(b)
		require.NoError(t, err)
		_, err = Build(context.Background(), g, DefaultOptions())
		assert.ErrorIs(t, err, ErrUnsupportedOperator)
	})

	t.Run("unsupported data type", func(t *testing.T) {
		b := &graph.Builder{
			Topology: map[string]topo.Connections[string]{
				"add": {Inputs: []string{"a", "b"}, Outputs: []string{"c"}},
			},
			GlobalInputs:  []string{"a", "b"},
			GlobalOutputs: []string{"c"},
			Nodes:         map[string]graph.Operator{"add": {OpType: "Add"}},
			Edges: map[string]*tensor.Tensor{
				"a": tensor.New(tensor.Int64, tensor.Dims(2)),
				"b": tensor.New(tensor.Int64, tensor.Dims(2)),
			},
		}
		g, err := graph.Build(b)
		require.NoError(t, err)
		require.NoError(t, g.InferShapes())
		_, err = Build(context.Background(), g, Options{Parallel: parallel.Sequential()})
		assert.ErrorIs(t, err, ErrUnsupportedOperator)
	})

	t.Run("symbolic shape", func(t *testing.T) {
		g, err := graph.Build(mlp(t))
		require.NoError(t, err)
		require.NoError(t, g.InferShapes())
		_, err = Build(context.Background(), g, DefaultOptions())
		assert.ErrorContains(t, err, "batch")
	})

	t.Run("untyped edge", func(t *testing.T) {
		b := mlp(t)
		b.Edges["x"] = tensor.New(tensor.Float32, tensor.Dims(2, 4))
		g, err := graph.Build(b)
		require.NoError(t, err)
		_, err = Build(context.Background(), g, DefaultOptions())
		assert.ErrorIs(t, err, graph.ErrUntypedEdge)
	})
}

func TestRun_Panic(t *testing.T) {
	reg := DefaultRegistry()
	reg.Register("Boom", func(_ *graph.Operator, _, _ []*tensor.Tensor) (Lowered, error) {
		return Lowered{Routine: func(_, _ [][]byte, _ []byte) {
			panic("out of cheese")
		}}, nil
	})

	b := &graph.Builder{
		Topology: map[string]topo.Connections[string]{
			"relu": {Inputs: []string{"x"}, Outputs: []string{"r"}},
			"boom": {Inputs: []string{"r"}, Outputs: []string{"y"}},
		},
		GlobalInputs:  []string{"x"},
		GlobalOutputs: []string{"y"},
		Nodes: map[string]graph.Operator{
			"relu": {OpType: "Relu"},
			"boom": {OpType: "Boom"},
		},
		Edges: map[string]*tensor.Tensor{
			"x": tensor.New(tensor.Float32, tensor.Dims(4)),
			"r": tensor.New(tensor.Float32, tensor.Dims(4)),
			"y": tensor.New(tensor.Float32, tensor.Dims(4)),
		},
	}
	g, err := graph.Build(b)
	require.NoError(t, err)
	opts := DefaultOptions()
	opts.Registry = reg
	cg, err := Build(context.Background(), g, opts)
	require.NoError(t, err)

	err = cg.Run(context.Background())
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.Node)
	assert.Equal(t, "boom", execErr.Name)
	assert.Equal(t, "Boom", execErr.Op)
	assert.ErrorContains(t, err, "out of cheese")
}

func TestRun_Cancelled(t *testing.T) {
	g := build(t, mlp(t), map[string]int64{"batch": 1}, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, g.Run(ctx), context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{
		"Add", "Div", "Flatten", "Gemm", "Identity", "MatMul", "Mul",
		"Relu", "Reshape", "Sigmoid", "Softmax", "Sub", "Tanh",
	}, r.SupportedOps())
	_, ok := r.Get("Conv")
	assert.False(t, ok)

	_, err := NewRegistry().Lower(&graph.Operator{OpType: "Relu"}, nil, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedOperator))
}

func TestElementwise(t *testing.T) {
	tests := []struct {
		op   string
		a, b []float32
		want []float32
	}{
		{"Add", []float32{1, 2}, []float32{3, 4}, []float32{4, 6}},
		{"Sub", []float32{1, 2}, []float32{3, 4}, []float32{-2, -2}},
		{"Mul", []float32{1, 2}, []float32{3, 4}, []float32{3, 8}},
		{"Div", []float32{1, 2}, []float32{4, 4}, []float32{0.25, 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			desc := tensor.New(tensor.Float32, tensor.Dims(2))
			op := graph.Operator{OpType: tt.op}
			l, err := DefaultRegistry().Lower(&op, []*tensor.Tensor{desc, desc}, []*tensor.Tensor{desc})
			require.NoError(t, err)
			out := make([]float32, 2)
			l.Routine([][]byte{tensor.Bytes(tt.a), tensor.Bytes(tt.b)}, [][]byte{tensor.Bytes(out)}, nil)
			assert.InDeltaSlice(t, tt.want, out, epsilon)
		})
	}
}

func TestActivations(t *testing.T) {
	x := []float32{-1, 0, 2}
	tests := []struct {
		op   string
		want func(float64) float64
	}{
		{"Relu", func(v float64) float64 { return math.Max(v, 0) }},
		{"Sigmoid", func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }},
		{"Tanh", math.Tanh},
		{"Identity", func(v float64) float64 { return v }},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			desc := tensor.New(tensor.Float32, tensor.Dims(3))
			op := graph.Operator{OpType: tt.op}
			l, err := DefaultRegistry().Lower(&op, []*tensor.Tensor{desc}, []*tensor.Tensor{desc})
			require.NoError(t, err)
			out := make([]float32, 3)
			l.Routine([][]byte{tensor.Bytes(x)}, [][]byte{tensor.Bytes(out)}, nil)
			for i, v := range x {
				assert.InDelta(t, tt.want(float64(v)), float64(out[i]), epsilon)
			}
		})
	}
}

func TestAlignedBytes(t *testing.T) {
	for _, align := range []int{1, 16, 64, 256} {
		b := alignedBytes(100, align)
		require.Len(t, b, 100)
		assert.Equal(t, 100, cap(b))
		assert.Zero(t, uintptr(unsafe.Pointer(&b[0]))%uintptr(align))
	}
	assert.Nil(t, alignedBytes(0, 64))
	assert.Contains(t, []int{16, 32, 64}, DefaultAlignment())
}

func TestMatmulFloat32_ManyRows(t *testing.T) {
	const m, k, n = 200, 3, 2
	a := make([]float32, m*k)
	for i := range a {
		a[i] = float32(i % 7)
	}
	b := []float32{1, 0, 0, 1, 1, 1}
	c := make([]float32, m*n)
	matmulFloat32(c, a, b, m, k, n)
	for i := 0; i < m; i++ {
		row := a[i*k : (i+1)*k]
		assert.Equal(t, row[0]+row[2], c[i*n], "row %d", i)
		assert.Equal(t, row[1]+row[2], c[i*n+1], "row %d", i)
	}
}
