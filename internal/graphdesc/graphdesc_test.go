package graphdesc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/born-ml/infer/internal/blobs"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/weights"
)

func TestLoad(t *testing.T) {
	d, err := Load(context.Background(), filepath.Join("testdata", "mlp.hcl"))
	require.NoError(t, err)
	assert.Equal(t, "mlp", d.Name)
	assert.Equal(t, []string{"batch"}, d.Variables())

	b := d.Builder
	assert.Equal(t, []string{"x"}, b.GlobalInputs)
	assert.Equal(t, []string{"y"}, b.GlobalOutputs)
	assert.Equal(t, tensor.Shape{tensor.Var("batch"), tensor.Fixed(2)}, b.Edges["x"].Shape)
	assert.False(t, b.Edges["x"].HasData())
	assert.Equal(t, []float32{1, 0, -1, 0, 1, 2}, tensor.AsFloat32(b.Edges["w"].Data))
	assert.Equal(t, []float32{1, 2, -4}, tensor.AsFloat32(b.Edges["b"].Data))
	assert.Equal(t, []int64{0, -1}, tensor.View[int64](b.Edges["target"].Data))

	fc := b.Nodes["fc"]
	assert.Equal(t, "Gemm", fc.OpType)
	assert.Equal(t, []graph.Attribute{
		{Name: "alpha", Type: graph.AttrInt, I: 1},
		{Name: "beta", Type: graph.AttrFloat, F: 0.5},
	}, fc.Attributes)
	assert.InDelta(t, 1.0, fc.AttrFloat("alpha", 0), 1e-9)

	sym, err := d.Symbolic()
	require.NoError(t, err)
	y, ok := sym.EdgeIndex("y")
	require.True(t, ok)
	assert.Equal(t, tensor.Shape{tensor.Var("batch"), tensor.Fixed(3)}, sym.Edges[y].Shape)

	g, err := d.Graph(nil)
	require.NoError(t, err)
	assert.Equal(t, tensor.Dims(2, 3), g.Edges[y].Shape)

	g, err = d.Graph(map[string]int64{"batch": 5})
	require.NoError(t, err)
	assert.Equal(t, tensor.Dims(5, 3), g.Edges[y].Shape)
	assert.Equal(t, int64(2), d.Vars["batch"], "defaults untouched")
}

func parse(t *testing.T, src string, r blobs.Reader) (*Description, error) {
	t.Helper()
	return Parse(context.Background(), []byte(src), "test.hcl", r)
}

const header = `
graph "g" {
  inputs  = ["x"]
  outputs = ["y"]
}
tensor "x" {
  dtype = "float32"
  shape = ["n"]
}
node "id" {
  op      = "Identity"
  inputs  = ["x"]
  outputs = ["y"]
}
`

func TestGraph_UnboundVariable(t *testing.T) {
	d, err := parse(t, header, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Variables())

	_, err = d.Graph(nil)
	assert.ErrorIs(t, err, ErrUnboundVariable)

	g, err := d.Graph(map[string]int64{"n": 7})
	require.NoError(t, err)
	y, _ := g.EdgeIndex("y")
	assert.Equal(t, tensor.Dims(7), g.Edges[y].Shape)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"syntax", `graph "g" {`, "parse"},
		{"missing graph", `tensor "x" { dtype = "float32" }`, "decode"},
		{"duplicate node", header + `node "id" {
  op = "Relu"
  inputs = ["x"]
  outputs = ["z"]
}`, "node \"id\": defined more than once"},
		{"duplicate tensor", header + `tensor "x" { dtype = "float32" }`, "tensor \"x\": defined more than once"},
		{"bad dtype", header + `tensor "w" { dtype = "tensor" }`, "unknown data type"},
		{"bad shape", header + `tensor "w" {
  dtype = "float32"
  shape = [1.5]
}`, "dimension 0"},
		{"scalar shape", header + `tensor "w" {
  dtype = "float32"
  shape = 3
}`, "must be a list"},
		{"short data", header + `tensor "w" {
  dtype = "float32"
  shape = [3]
  data = [1, 2]
}`, "does not match"},
		{"symbolic constant", header + `tensor "w" {
  dtype = "float32"
  shape = ["n"]
  data = [1]
}`, "symbolic"},
		{"data and file", header + `tensor "w" {
  dtype = "float32"
  data = 1
  file = "w.bin"
}`, "mutually exclusive"},
		{"file without reader", header + `tensor "w" {
  dtype = "float32"
  file = "w.bin"
}`, "no reader"},
		{"bad attrs", header + `node "r" {
  op = "Relu"
  inputs = ["x"]
  outputs = ["z"]
  attrs = { perm = [1, "a"] }
}`, "mixed list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, tt.src, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_DataFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "w.bin"), tensor.Bytes([]int32{4, 5}), 0o600))
	r := &blobs.LocalStore{Dir: dir}

	d, err := parse(t, header+`tensor "w" {
  dtype = "int32"
  shape = [2]
  file  = "w.bin"
}`, r)
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 5}, tensor.View[int32](d.Builder.Edges["w"].Data))

	_, err = parse(t, header+`tensor "w" {
  dtype = "int32"
  shape = [3]
  file  = "w.bin"
}`, r)
	assert.ErrorIs(t, err, ErrDataSize)
	assert.ErrorContains(t, err, "holds 8 bytes")

	_, err = parse(t, header+`tensor "w" {
  dtype = "int32"
  file  = "missing.bin"
}`, r)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Checkpoint(t *testing.T) {
	dir := t.TempDir()
	w, err := tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6}, tensor.Dims(2, 3))
	require.NoError(t, err)
	b, err := tensor.FromSlice([]float32{0.5, -0.5, 1}, tensor.Dims(3))
	require.NoError(t, err)
	f, err := os.Create(filepath.Join(dir, "mlp.safetensors"))
	require.NoError(t, err)
	require.NoError(t, weights.WriteSafeTensors(f, map[string]*tensor.Tensor{"fc.weight": w, "fc.bias": b}, nil))
	require.NoError(t, f.Close())
	r := &blobs.LocalStore{Dir: dir}

	d, err := parse(t, header+`tensor "w" {
  dtype = "float32"
  shape = [2, 3]
  file  = "mlp.safetensors"
  key   = "fc.weight"
}

tensor "fc.bias" {
  dtype = "float32"
  file  = "mlp.safetensors"
}`, r)
	require.NoError(t, err)
	assert.Equal(t, w, d.Builder.Edges["w"])
	assert.Equal(t, b, d.Builder.Edges["fc.bias"], "key defaults to the tensor name and the shape to the stored one")

	tests := []struct {
		name  string
		block string
		err   error
	}{
		{"wrong shape", `tensor "w" {
  dtype = "float32"
  shape = [3, 2]
  file  = "mlp.safetensors"
  key   = "fc.weight"
}`, ErrDataSize},
		{"wrong dtype", `tensor "w" {
  dtype = "float64"
  file  = "mlp.safetensors"
  key   = "fc.weight"
}`, ErrDataSize},
		{"missing key", `tensor "w" {
  dtype = "float32"
  file  = "mlp.safetensors"
  key   = "fc2.weight"
}`, weights.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parse(t, header+tt.block, r)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err = parse(t, header+`tensor "w" {
  dtype = "float32"
  file  = "w.bin"
  key   = "fc.weight"
}`, r)
	assert.ErrorContains(t, err, "needs a checkpoint file")
}

func TestDecodeAttrs(t *testing.T) {
	attrs, err := decodeAttrs(cty.ObjectVal(map[string]cty.Value{
		"axis":   cty.NumberIntVal(-1),
		"eps":    cty.NumberFloatVal(0.25),
		"mode":   cty.StringVal("linear"),
		"keep":   cty.True,
		"perm":   cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.NumberIntVal(0)}),
		"scales": cty.TupleVal([]cty.Value{cty.NumberIntVal(1), cty.NumberFloatVal(0.5)}),
		"names":  cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
		"empty":  cty.EmptyTupleVal,
	}))
	require.NoError(t, err)

	want := []graph.Attribute{
		{Name: "axis", Type: graph.AttrInt, I: -1},
		{Name: "empty", Type: graph.AttrInts},
		{Name: "eps", Type: graph.AttrFloat, F: 0.25},
		{Name: "keep", Type: graph.AttrInt, I: 1},
		{Name: "mode", Type: graph.AttrString, S: "linear"},
		{Name: "names", Type: graph.AttrStrings, Strings: []string{"a", "b"}},
		{Name: "perm", Type: graph.AttrInts, Ints: []int64{1, 0}},
		{Name: "scales", Type: graph.AttrFloats, Floats: []float32{1, 0.5}},
	}
	assert.Equal(t, want, attrs)

	_, err = decodeAttrs(cty.StringVal("x"))
	assert.Error(t, err)
	attrs, err = decodeAttrs(cty.NilVal)
	require.NoError(t, err)
	assert.Nil(t, attrs)
}

func TestDecodeData(t *testing.T) {
	b, err := decodeData(tensor.Bool, tensor.Dims(2), cty.TupleVal([]cty.Value{cty.True, cty.False}))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0}, b.Data)

	s, err := decodeData(tensor.Float64, tensor.Shape{}, cty.NumberFloatVal(2.5))
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5}, tensor.View[float64](s.Data))

	_, err = decodeData(tensor.Uint8, tensor.Dims(1), cty.TupleVal([]cty.Value{cty.NumberIntVal(-1)}))
	assert.Error(t, err)
	_, err = decodeData(tensor.String, tensor.Dims(1), cty.TupleVal([]cty.Value{cty.StringVal("a")}))
	assert.Error(t, err)
}
