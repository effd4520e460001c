package onnx

import "github.com/born-ml/infer/internal/tensor"

// The message types below hold the subset of the ONNX protobuf schema the
// importer reads. Unknown fields are skipped while parsing.

// ModelProto is the top-level ONNX message.
type ModelProto struct {
	IRVersion       int64
	OpsetImport     []OperatorSetID
	ProducerName    string
	ProducerVersion string
	Domain          string
	ModelVersion    int64
	DocString       string
	Graph           *GraphProto
	MetadataProps   []StringStringEntry
}

// GraphProto is the computation graph of a model.
type GraphProto struct {
	Name         string
	Nodes        []NodeProto
	Inputs       []ValueInfoProto
	Outputs      []ValueInfoProto
	Initializers []TensorProto
	ValueInfo    []ValueInfoProto
}

// NodeProto is one operator invocation.
type NodeProto struct {
	Name       string
	OpType     string
	Domain     string
	Inputs     []string
	Outputs    []string
	Attributes []AttributeProto
}

// TensorProto holds an initializer or a tensor attribute.
// Data is in RawData, or in the typed field matching DataType.
type TensorProto struct {
	Name       string
	DataType   tensor.DataType
	Dims       []int64
	RawData    []byte
	FloatData  []float32
	DoubleData []float64
	Int32Data  []int32
	Int64Data  []int64
	Uint64Data []uint64
	// DataLocation is 1 when the data lives in an external file.
	DataLocation int64
}

// ValueInfoProto names a graph input or output and its type.
type ValueInfoProto struct {
	Name string
	Type *TypeProto
}

// TypeProto only carries the tensor case of the ONNX type union.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto is an element type and an optional shape.
type TensorTypeProto struct {
	ElemType tensor.DataType
	Shape    *TensorShapeProto
}

// TensorShapeProto lists the dimensions of a tensor type.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto is either a size or a named parameter. Neither set means unknown.
type DimensionProto struct {
	DimValue int64
	DimParam string
	HasValue bool
}

// AttributeProto is one named operator attribute.
type AttributeProto struct {
	Name    string
	Type    AttributeType
	F       float32
	I       int64
	S       []byte
	T       *TensorProto
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// AttributeType is AttributeProto.AttributeType.
type AttributeType int32

// Attribute types.
const (
	AttributeUndefined AttributeType = 0
	AttributeFloat     AttributeType = 1
	AttributeInt       AttributeType = 2
	AttributeString    AttributeType = 3
	AttributeTensor    AttributeType = 4
	AttributeGraph     AttributeType = 5
	AttributeFloats    AttributeType = 6
	AttributeInts      AttributeType = 7
	AttributeStrings   AttributeType = 8
)

// OperatorSetID is one opset import.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry is a metadata key-value pair.
type StringStringEntry struct {
	Key   string
	Value string
}
