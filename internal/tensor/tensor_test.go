package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/infer/internal/stack"
)

func TestDataType(t *testing.T) {
	tests := []struct {
		dt    DataType
		size  int
		name  string
		float bool
	}{
		{Float32, 4, "float32", true},
		{Float64, 8, "float64", true},
		{Float16, 2, "float16", true},
		{Int64, 8, "int64", false},
		{Uint8, 1, "uint8", false},
		{Bool, 1, "bool", false},
		{String, 0, "string", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.size, tt.dt.Size())
			assert.Equal(t, tt.name, tt.dt.String())
			assert.Equal(t, tt.float, tt.dt.IsFloat())

			parsed, err := ParseDataType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.dt, parsed)
		})
	}

	dt, err := ParseDataType(" Float ")
	require.NoError(t, err)
	assert.Equal(t, Float32, dt)
	_, err = ParseDataType("tensor")
	assert.Error(t, err)
	assert.Equal(t, "DataType(99)", DataType(99).String())
	assert.True(t, Int32.IsNumeric())
	assert.False(t, Bool.IsNumeric())
}

func TestShape_NumElements(t *testing.T) {
	n, err := Dims(2, 3, 4).NumElements()
	require.NoError(t, err)
	assert.Equal(t, 24, n)

	n, err = Shape{}.NumElements()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "scalar")

	n, err = Dims(5, 0).NumElements()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = Shape{Var("batch"), Fixed(3)}.NumElements()
	assert.ErrorContains(t, err, "batch")

	_, err = Dims(1<<40, 1<<40).NumElements()
	assert.Error(t, err)
}

func TestShape_Resolve(t *testing.T) {
	s := Shape{Var("batch"), Fixed(3), Var("seq")}
	assert.Equal(t, []string{"batch", "seq"}, s.Variables())
	assert.False(t, s.IsConcrete())

	r, err := s.Resolve(map[string]int64{"batch": 8})
	require.NoError(t, err)
	assert.Equal(t, Shape{Fixed(8), Fixed(3), Var("seq")}, r)
	assert.Equal(t, Var("batch"), s[0], "source shape untouched")

	r, err = r.Resolve(map[string]int64{"seq": 16})
	require.NoError(t, err)
	assert.True(t, r.IsConcrete())
	assert.Equal(t, "[8 3 16]", r.String())

	_, err = s.Resolve(map[string]int64{"batch": -1})
	assert.Error(t, err)
}

func TestParseDim(t *testing.T) {
	d, err := ParseDim("12")
	require.NoError(t, err)
	assert.Equal(t, Fixed(12), d)
	d, err = ParseDim("batch")
	require.NoError(t, err)
	assert.Equal(t, Var("batch"), d)
	_, err = ParseDim("-3")
	assert.Error(t, err)
	_, err = ParseDim("")
	assert.Error(t, err)
}

func TestBroadcastShapes(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Shape
		want      Shape
		broadcast bool
		wantErr   bool
	}{
		{"same", Dims(3, 5), Dims(3, 5), Dims(3, 5), false, false},
		{"column", Dims(3, 1), Dims(3, 5), Dims(3, 5), true, false},
		{"rank", Dims(2, 3, 4), Dims(4), Dims(2, 3, 4), true, false},
		{"symbolic", Shape{Var("batch"), Fixed(5)}, Dims(1, 5), Shape{Var("batch"), Fixed(5)}, true, false},
		{"mismatch", Dims(3, 4), Dims(3, 5), nil, false, true},
		{"symbol vs size", Shape{Var("n")}, Dims(3), nil, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, broadcast, err := BroadcastShapes(tt.a, tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.broadcast, broadcast)
		})
	}
}

func TestComputeStrides(t *testing.T) {
	assert.Equal(t, []int{12, 4, 1}, ComputeStrides([]int{2, 3, 4}))
	assert.Empty(t, ComputeStrides(nil))
}

func TestTensor_Layout(t *testing.T) {
	x := New(Float32, Dims(2, 3))
	assert.False(t, x.HasData())

	l, err := x.Layout(1)
	require.NoError(t, err)
	assert.Equal(t, stack.Layout{Size: 24, Align: 4}, l)

	l, err = x.Layout(64)
	require.NoError(t, err)
	assert.Equal(t, stack.Layout{Size: 24, Align: 64}, l)

	_, err = New(Float32, Shape{Var("batch")}).Layout(1)
	assert.Error(t, err)
	_, err = New(String, Dims(2)).Layout(1)
	assert.Error(t, err)
}

func TestFromSlice(t *testing.T) {
	w, err := FromSlice([]float32{1, 2, 3, 4}, Dims(2, 2))
	require.NoError(t, err)
	assert.True(t, w.HasData())
	assert.Equal(t, Float32, w.DType)
	assert.Len(t, w.Data, 16)
	assert.Equal(t, []float32{1, 2, 3, 4}, AsFloat32(w.Data))

	_, err = FromSlice([]float32{1, 2, 3}, Dims(2, 2))
	assert.Error(t, err)

	ids, err := FromSlice([]int64{7, 9}, Dims(2))
	require.NoError(t, err)
	assert.Equal(t, Int64, ids.DType)
	assert.Equal(t, []int64{7, 9}, View[int64](ids.Data))
}

func TestTensor_Resolve(t *testing.T) {
	x := New(Float32, Shape{Var("batch"), Fixed(4)})
	r, err := x.Resolve(map[string]int64{"batch": 2})
	require.NoError(t, err)
	size, err := r.ByteSize()
	require.NoError(t, err)
	assert.Equal(t, 32, size)
	assert.Equal(t, "float32[batch 4]", x.String())
}
