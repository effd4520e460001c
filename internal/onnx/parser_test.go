package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/infer/internal/tensor"
)

func TestParse_Model(t *testing.T) {
	graph := msg{}.
		str(2, "add").
		sub(1, node("sum", "Add", []string{"x", "y"}, []string{"z"})).
		sub(11, valueInfo("x", tensor.Float32, "N", 3)).
		sub(11, valueInfo("y", tensor.Float32, 3)).
		sub(12, valueInfo("z", tensor.Float32, "N", 3)).
		varint(99, 7) // unknown fields are skipped

	m, err := Parse(model(17, graph))
	require.NoError(t, err)
	assert.Equal(t, int64(8), m.IRVersion)
	assert.Equal(t, "unit-test", m.ProducerName)
	assert.Equal(t, int64(17), m.Opset())
	assert.Equal(t, []StringStringEntry{{Key: "author", Value: "tests"}}, m.MetadataProps)

	require.NotNil(t, m.Graph)
	assert.Equal(t, "add", m.Graph.Name)
	require.Len(t, m.Graph.Nodes, 1)
	n := m.Graph.Nodes[0]
	assert.Equal(t, "sum", n.Name)
	assert.Equal(t, "Add", n.OpType)
	assert.Equal(t, []string{"x", "y"}, n.Inputs)
	assert.Equal(t, []string{"z"}, n.Outputs)

	require.Len(t, m.Graph.Inputs, 2)
	x := m.Graph.Inputs[0]
	assert.Equal(t, tensor.Float32, x.Type.TensorType.ElemType)
	assert.Equal(t, []DimensionProto{{DimParam: "N"}, {DimValue: 3, HasValue: true}}, x.Type.TensorType.Shape.Dims)
}

func TestParse_TensorEncodings(t *testing.T) {
	tests := []struct {
		name string
		msg  msg
		want TensorProto
	}{
		{
			name: "packed",
			msg:  msg{}.packedVarints(1, 2, 2).varint(2, 1).packedFloats(4, 1, 2, 3, 4).str(8, "w"),
			want: TensorProto{Name: "w", DataType: tensor.Float32, Dims: []int64{2, 2}, FloatData: []float32{1, 2, 3, 4}},
		},
		{
			name: "unpacked",
			msg:  msg{}.varint(1, 3).varint(2, 7).varint(7, -1).varint(7, 5).varint(7, 9),
			want: TensorProto{DataType: tensor.Int64, Dims: []int64{3}, Int64Data: []int64{-1, 5, 9}},
		},
		{
			name: "raw",
			msg:  msg{}.varint(1, 2).varint(2, 6).raw(9, tensor.Bytes([]int32{-7, 8})),
			want: TensorProto{DataType: tensor.Int32, Dims: []int64{2}, RawData: tensor.Bytes([]int32{-7, 8})},
		},
		{
			name: "negative int32",
			msg:  msg{}.varint(2, 6).packedVarints(5, -3, 4),
			want: TensorProto{DataType: tensor.Int32, Int32Data: []int32{-3, 4}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTensor(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Attributes(t *testing.T) {
	a, err := parseAttribute(msg{}.str(1, "alpha").float(2, 0.25).varint(20, int64(AttributeFloat)))
	require.NoError(t, err)
	assert.Equal(t, AttributeProto{Name: "alpha", Type: AttributeFloat, F: 0.25}, a)

	a, err = parseAttribute(msg{}.str(1, "perm").packedVarints(8, 1, 0, 2).varint(20, int64(AttributeInts)))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0, 2}, a.Ints)

	a, err = parseAttribute(msg{}.str(1, "scales").float(7, 1.5).float(7, 2).varint(20, int64(AttributeFloats)))
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, 2}, a.Floats)

	a, err = parseAttribute(msg{}.str(1, "modes").str(9, "a").str(9, "b").varint(20, int64(AttributeStrings)))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, a.Strings)

	value := msg{}.varint(2, 1).packedFloats(4, 3)
	a, err = parseAttribute(msg{}.str(1, "value").sub(5, value).varint(20, int64(AttributeTensor)))
	require.NoError(t, err)
	require.NotNil(t, a.T)
	assert.Equal(t, []float32{3}, a.T.FloatData)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated tag", []byte{0x80}},
		{"truncated length", protowire.AppendTag(nil, 7, protowire.BytesType)},
		{"length past end", append(protowire.AppendTag(nil, 7, protowire.BytesType), 10, 1)},
		{"string as varint", msg{}.varint(2, 3)},
		{"version as string", msg{}.str(1, "eight")},
		{"bad graph", msg{}.raw(7, []byte{0xff})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	m, err := Parse(nil)
	require.NoError(t, err, "an empty message is valid")
	assert.Nil(t, m.Graph)
}
