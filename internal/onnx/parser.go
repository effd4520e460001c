package onnx

import (
	"fmt"

	"github.com/born-ml/infer/internal/tensor"
)

// Parse decodes a serialized ModelProto.
func Parse(data []byte) (*ModelProto, error) {
	m, err := parseModel(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model: %w", err)
	}
	return m, nil
}

func parseModel(b []byte) (*ModelProto, error) {
	m := &ModelProto{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.IRVersion, err = f.asInt64()
		case 2:
			m.ProducerName, err = f.asString()
		case 3:
			m.ProducerVersion, err = f.asString()
		case 4:
			m.Domain, err = f.asString()
		case 5:
			m.ModelVersion, err = f.asInt64()
		case 6:
			m.DocString, err = f.asString()
		case 7:
			m.Graph, err = message(f, parseGraph)
		case 8:
			m.OpsetImport, err = appendMessage(m.OpsetImport, f, parseOperatorSetID)
		case 14:
			m.MetadataProps, err = appendMessage(m.MetadataProps, f, parseStringStringEntry)
		}
		return err
	})
	return m, err
}

func parseGraph(b []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			g.Nodes, err = appendMessage(g.Nodes, f, parseNode)
		case 2:
			g.Name, err = f.asString()
		case 5:
			g.Initializers, err = appendMessage(g.Initializers, f, parseTensor)
		case 11:
			g.Inputs, err = appendMessage(g.Inputs, f, parseValueInfo)
		case 12:
			g.Outputs, err = appendMessage(g.Outputs, f, parseValueInfo)
		case 13:
			g.ValueInfo, err = appendMessage(g.ValueInfo, f, parseValueInfo)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return g, nil
}

func parseNode(b []byte) (NodeProto, error) {
	var n NodeProto
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			n.Inputs, err = appendString(n.Inputs, f)
		case 2:
			n.Outputs, err = appendString(n.Outputs, f)
		case 3:
			n.Name, err = f.asString()
		case 4:
			n.OpType, err = f.asString()
		case 5:
			n.Attributes, err = appendMessage(n.Attributes, f, parseAttribute)
		case 7:
			n.Domain, err = f.asString()
		}
		return err
	})
	if err != nil {
		return n, fmt.Errorf("node %q: %w", n.Name, err)
	}
	return n, nil
}

func parseTensor(b []byte) (TensorProto, error) {
	var t TensorProto
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			t.Dims, err = appendVarints(t.Dims, f)
		case 2:
			var dt int64
			dt, err = f.asInt64()
			t.DataType = tensor.DataType(dt)
		case 4:
			t.FloatData, err = appendFloat32s(t.FloatData, f)
		case 5:
			t.Int32Data, err = appendVarints(t.Int32Data, f)
		case 7:
			t.Int64Data, err = appendVarints(t.Int64Data, f)
		case 8:
			t.Name, err = f.asString()
		case 9:
			t.RawData, err = f.asBytes()
		case 10:
			t.DoubleData, err = appendFloat64s(t.DoubleData, f)
		case 11:
			t.Uint64Data, err = appendVarints(t.Uint64Data, f)
		case 14:
			t.DataLocation, err = f.asInt64()
		}
		return err
	})
	if err != nil {
		return t, fmt.Errorf("tensor %q: %w", t.Name, err)
	}
	return t, nil
}

func parseValueInfo(b []byte) (ValueInfoProto, error) {
	var v ValueInfoProto
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			v.Name, err = f.asString()
		case 2:
			v.Type, err = message(f, parseType)
		}
		return err
	})
	if err != nil {
		return v, fmt.Errorf("value %q: %w", v.Name, err)
	}
	return v, nil
}

func parseType(b []byte) (*TypeProto, error) {
	t := &TypeProto{}
	err := walk(b, func(f field) error {
		var err error
		if f.num == 1 {
			t.TensorType, err = message(f, parseTensorType)
		}
		return err
	})
	return t, err
}

func parseTensorType(b []byte) (*TensorTypeProto, error) {
	t := &TensorTypeProto{}
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var dt int64
			dt, err = f.asInt64()
			t.ElemType = tensor.DataType(dt)
		case 2:
			t.Shape, err = message(f, parseTensorShape)
		}
		return err
	})
	return t, err
}

func parseTensorShape(b []byte) (*TensorShapeProto, error) {
	s := &TensorShapeProto{}
	err := walk(b, func(f field) error {
		var err error
		if f.num == 1 {
			s.Dims, err = appendMessage(s.Dims, f, parseDimension)
		}
		return err
	})
	return s, err
}

func parseDimension(b []byte) (DimensionProto, error) {
	var d DimensionProto
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			d.DimValue, err = f.asInt64()
			d.HasValue = true
		case 2:
			d.DimParam, err = f.asString()
		}
		return err
	})
	return d, err
}

func parseAttribute(b []byte) (AttributeProto, error) {
	var a AttributeProto
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			a.Name, err = f.asString()
		case 2:
			a.F, err = f.asFloat32()
		case 3:
			a.I, err = f.asInt64()
		case 4:
			a.S, err = f.asBytes()
		case 5:
			var t TensorProto
			if t, err = message(f, parseTensor); err == nil {
				a.T = &t
			}
		case 7:
			a.Floats, err = appendFloat32s(a.Floats, f)
		case 8:
			a.Ints, err = appendVarints(a.Ints, f)
		case 9:
			var s []byte
			if s, err = f.asBytes(); err == nil {
				a.Strings = append(a.Strings, s)
			}
		case 20:
			var typ int64
			typ, err = f.asInt64()
			a.Type = AttributeType(typ)
		}
		return err
	})
	if err != nil {
		return a, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	return a, nil
}

func parseOperatorSetID(b []byte) (OperatorSetID, error) {
	var o OperatorSetID
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			o.Domain, err = f.asString()
		case 2:
			o.Version, err = f.asInt64()
		}
		return err
	})
	return o, err
}

func parseStringStringEntry(b []byte) (StringStringEntry, error) {
	var e StringStringEntry
	err := walk(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			e.Key, err = f.asString()
		case 2:
			e.Value, err = f.asString()
		}
		return err
	})
	return e, err
}
