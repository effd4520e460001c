package onnx

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/infer/internal/backend/cpu"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
)

// classifier is softmax(x @ w + b) with w an initializer, b a Constant node and
// an unnamed Add node.
func classifier(opset int64) []byte {
	w := msg{}.str(8, "w").packedVarints(1, 2, 2).varint(2, int64(tensor.Float32)).
		raw(9, tensor.Bytes([]float32{1, 2, 3, 4}))
	b := msg{}.varint(1, 2).varint(2, int64(tensor.Float32)).float(4, 0.5).float(4, -1)
	valueAttr := msg{}.str(1, "value").sub(5, b).varint(20, int64(AttributeTensor))

	g := msg{}.
		str(2, "classifier").
		sub(1, node("mm", "MatMul", []string{"x", "w"}, []string{"h"})).
		sub(1, node("", "Constant", nil, []string{"b"}, valueAttr)).
		sub(1, node("", "Add", []string{"h", "b"}, []string{"z"})).
		sub(1, node("sm", "Softmax", []string{"z"}, []string{"y"})).
		sub(5, w).
		sub(11, valueInfo("x", tensor.Float32, "N", 2)).
		sub(11, valueInfo("w", tensor.Float32, 2, 2)).
		sub(12, valueInfo("y", tensor.Float32, "N", 2))
	return model(opset, g)
}

func TestImport(t *testing.T) {
	m, err := Parse(classifier(11))
	require.NoError(t, err)
	b, err := Import(m)
	require.NoError(t, err)

	assert.Equal(t, []string{"x"}, b.GlobalInputs, "initializers are not global inputs")
	assert.Equal(t, []string{"y"}, b.GlobalOutputs)
	assert.Len(t, b.Nodes, 3)
	assert.Contains(t, b.Nodes, "Add_2")
	assert.Equal(t, tensor.Shape{tensor.Var("N"), tensor.Fixed(2)}, b.Edges["x"].Shape)
	assert.Equal(t, []float32{1, 2, 3, 4}, tensor.View[float32](b.Edges["w"].Data))
	assert.Equal(t, []float32{0.5, -1}, tensor.View[float32](b.Edges["b"].Data))
	sm := b.Nodes["sm"]
	assert.Equal(t, int64(1), sm.AttrInt("axis", -1), "opset 11 softmax axis")

	m, err = Parse(classifier(13))
	require.NoError(t, err)
	b, err = Import(m)
	require.NoError(t, err)
	assert.Empty(t, b.Nodes["sm"].Attributes)

	g, err := graph.Build(b)
	require.NoError(t, err)
	require.NoError(t, g.InferShapes())
	y, ok := g.EdgeIndex("y")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{tensor.Var("N"), tensor.Fixed(2)}, g.Edges[y].Shape)
}

func TestLoad_Run(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classifier.onnx")
	require.NoError(t, os.WriteFile(path, classifier(13), 0o600))

	ctx := context.Background()
	d, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "classifier", d.Name)

	_, err = d.Graph(nil)
	require.Error(t, err, "N is unbound")
	g, err := d.Graph(map[string]int64{"N": 2})
	require.NoError(t, err)

	exec, err := cpu.Build(ctx, g, cpu.DefaultOptions())
	require.NoError(t, err)
	x, ok := exec.Edge("x")
	require.True(t, ok)
	y, ok := exec.Edge("y")
	require.True(t, ok)

	require.NoError(t, exec.CopyInBatch(map[int][]byte{x: tensor.Bytes([]float32{1, 0, 0, 1})}))
	require.NoError(t, exec.Run(ctx))
	out, err := exec.CopyOutBatch([]int{y})
	require.NoError(t, err)

	// Both rows of x@w+b differ by 0.5 between their columns.
	hi := float32(1 / (1 + math.Exp(-0.5)))
	assert.InDeltaSlice(t, []float32{hi, 1 - hi, hi, 1 - hi}, tensor.View[float32](out[0]), 1e-6)

	_, err = Load(ctx, filepath.Join(t.TempDir(), "missing.onnx"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestImport_Errors(t *testing.T) {
	withNode := func(n msg) *ModelProto {
		g := msg{}.sub(1, n).sub(11, valueInfo("x", tensor.Float32, 2)).sub(12, valueInfo("y", tensor.Float32, 2))
		m, err := Parse(model(13, g))
		require.NoError(t, err)
		return m
	}

	tests := []struct {
		name  string
		model *ModelProto
		err   error
	}{
		{"no graph", &ModelProto{}, ErrNoGraph},
		{"custom domain", withNode(node("c", "Relu", []string{"x"}, []string{"y"}).str(7, "com.example")), ErrUnsupported},
		{"omitted middle input", withNode(node("g", "Gemm", []string{"x", "", "x"}, []string{"y"})), ErrUnsupported},
		{"graph attribute", withNode(node("i", "If", []string{"x"}, []string{"y"},
			msg{}.str(1, "then_branch").varint(20, int64(AttributeGraph)))), ErrUnsupported},
		{"untyped attribute", withNode(node("r", "Relu", []string{"x"}, []string{"y"}, msg{}.str(1, "alpha"))), ErrMalformed},
		{"constant with input", withNode(node("k", "Constant", []string{"x"}, []string{"y"},
			msg{}.str(1, "value_int").varint(3, 1).varint(20, int64(AttributeInt)))), ErrMalformed},
		{"external data", &ModelProto{Graph: &GraphProto{Initializers: []TensorProto{
			{Name: "w", DataType: tensor.Float32, DataLocation: 1},
		}}}, ErrUnsupported},
		{"short data", &ModelProto{Graph: &GraphProto{Initializers: []TensorProto{
			{Name: "w", DataType: tensor.Float32, Dims: []int64{3}, FloatData: []float32{1, 2}},
		}}}, ErrMalformed},
		{"string initializer", &ModelProto{Graph: &GraphProto{Initializers: []TensorProto{
			{Name: "s", DataType: tensor.String, Dims: []int64{1}},
		}}}, ErrUnsupported},
		{"input without shape", &ModelProto{Graph: &GraphProto{Inputs: []ValueInfoProto{
			{Name: "x", Type: &TypeProto{TensorType: &TensorTypeProto{ElemType: tensor.Float32}}},
		}}}, ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Import(tt.model)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestImport_OptionalAndConstants(t *testing.T) {
	g := msg{}.
		sub(1, node("k", "Constant", nil, []string{"shape"},
			msg{}.str(1, "value_ints").packedVarints(8, 0, -1).varint(20, int64(AttributeInts)))).
		sub(1, node("r", "Reshape", []string{"x", "shape"}, []string{"y", ""})).
		sub(11, valueInfo("x", tensor.Float32, 2, nil, 3)).
		sub(12, valueInfo("y", tensor.Float32, 2, 6))
	m, err := Parse(model(13, g))
	require.NoError(t, err)

	b, err := Import(m)
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, b.Topology["r"].Outputs, "trailing omitted outputs are dropped")
	assert.Equal(t, []int64{0, -1}, tensor.View[int64](b.Edges["shape"].Data))
	assert.Equal(t, tensor.Shape{tensor.Fixed(2), tensor.Var("x_1"), tensor.Fixed(3)}, b.Edges["x"].Shape)
}

func TestTensorFromProto_TypedData(t *testing.T) {
	tests := []struct {
		name string
		tp   TensorProto
		want []byte
	}{
		{"int8", TensorProto{DataType: tensor.Int8, Dims: []int64{2}, Int32Data: []int32{-1, 7}}, tensor.Bytes([]int8{-1, 7})},
		{"uint16", TensorProto{DataType: tensor.Uint16, Dims: []int64{1}, Int32Data: []int32{65535}}, tensor.Bytes([]uint16{65535})},
		{"bool", TensorProto{DataType: tensor.Bool, Dims: []int64{2}, Int32Data: []int32{0, 3}}, tensor.Bytes([]bool{false, true})},
		{"uint32", TensorProto{DataType: tensor.Uint32, Dims: []int64{1}, Uint64Data: []uint64{9}}, tensor.Bytes([]uint32{9})},
		{"float64", TensorProto{DataType: tensor.Float64, DoubleData: []float64{2.5}}, tensor.Bytes([]float64{2.5})},
		{"empty", TensorProto{DataType: tensor.Float32, Dims: []int64{0}}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tensorFromProto(&tt.tp)
			require.NoError(t, err)
			assert.True(t, got.HasData())
			assert.Equal(t, tt.want, got.Data)
		})
	}
}
