package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/born-ml/infer/internal/tensor"
)

// msg builds protobuf messages for tests.
type msg []byte

func (m msg) varint(num protowire.Number, v int64) msg {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, uint64(v))
}

func (m msg) str(num protowire.Number, s string) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendString(m, s)
}

func (m msg) raw(num protowire.Number, b []byte) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

func (m msg) sub(num protowire.Number, sub msg) msg {
	return m.raw(num, sub)
}

func (m msg) float(num protowire.Number, v float32) msg {
	m = protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(m, math.Float32bits(v))
}

func (m msg) packedVarints(num protowire.Number, vs ...int64) msg {
	var body []byte
	for _, v := range vs {
		body = protowire.AppendVarint(body, uint64(v))
	}
	return m.raw(num, body)
}

func (m msg) packedFloats(num protowire.Number, vs ...float32) msg {
	var body []byte
	for _, v := range vs {
		body = protowire.AppendFixed32(body, math.Float32bits(v))
	}
	return m.raw(num, body)
}

func node(name, op string, inputs, outputs []string, attrs ...msg) msg {
	var m msg
	for _, in := range inputs {
		m = m.str(1, in)
	}
	for _, out := range outputs {
		m = m.str(2, out)
	}
	if name != "" {
		m = m.str(3, name)
	}
	m = m.str(4, op)
	for _, a := range attrs {
		m = m.sub(5, a)
	}
	return m
}

func intAttr(name string, v int64) msg {
	return msg{}.str(1, name).varint(3, v).varint(20, int64(AttributeInt))
}

// valueInfo declares a tensor of type dt. Dimensions are ints for sizes,
// strings for parameters and nil for unknown.
func valueInfo(name string, dt tensor.DataType, dims ...any) msg {
	var shape msg
	for _, d := range dims {
		var dim msg
		switch d := d.(type) {
		case int:
			dim = dim.varint(1, int64(d))
		case string:
			dim = dim.str(2, d)
		}
		shape = shape.sub(1, dim)
	}
	tt := msg{}.varint(1, int64(dt)).sub(2, shape)
	return msg{}.str(1, name).sub(2, msg{}.sub(1, tt))
}

func model(opset int64, graph msg) []byte {
	m := msg{}.varint(1, 8).str(2, "unit-test").sub(7, graph)
	m = m.sub(8, msg{}.str(1, "").varint(2, opset))
	return m.sub(14, msg{}.str(1, "author").str(2, "tests"))
}
