package onnx

import (
	"fmt"

	"github.com/born-ml/infer/internal/tensor"
)

// tensorFromProto converts an initializer to a constant tensor. Data comes from
// raw_data when present, otherwise from the typed field ONNX assigns to the
// element type.
func tensorFromProto(tp *TensorProto) (*tensor.Tensor, error) {
	if tp.DataLocation == 1 {
		return nil, fmt.Errorf("%w: external data", ErrUnsupported)
	}
	dt := tp.DataType
	if dt.Size() == 0 {
		return nil, fmt.Errorf("%w: data type %v", ErrUnsupported, dt)
	}
	for _, d := range tp.Dims {
		if d < 0 {
			return nil, fmt.Errorf("%w: negative dimension in %v", ErrMalformed, tp.Dims)
		}
	}
	shape := tensor.Dims(tp.Dims...)
	n, err := shape.NumElements()
	if err != nil {
		return nil, err
	}

	var data []byte
	if tp.RawData != nil {
		data = append([]byte(nil), tp.RawData...)
	} else {
		data = typedData(tp)
	}
	if len(data) != n*dt.Size() {
		return nil, fmt.Errorf("%w: %d bytes of data for %v%v", ErrMalformed, len(data), dt, shape)
	}
	if data == nil {
		data = []byte{}
	}
	t := tensor.New(dt, shape)
	t.Data = data
	return t, nil
}

func typedData(tp *TensorProto) []byte {
	switch tp.DataType {
	case tensor.Float32, tensor.Complex64:
		return tensor.Bytes(tp.FloatData)
	case tensor.Float64, tensor.Complex128:
		return tensor.Bytes(tp.DoubleData)
	case tensor.Int64:
		return tensor.Bytes(tp.Int64Data)
	case tensor.Int32:
		return tensor.Bytes(tp.Int32Data)
	case tensor.Int16:
		return tensor.Bytes(narrow[int16](tp.Int32Data))
	case tensor.Int8:
		return tensor.Bytes(narrow[int8](tp.Int32Data))
	case tensor.Uint8:
		return tensor.Bytes(narrow[uint8](tp.Int32Data))
	case tensor.Uint16, tensor.Float16, tensor.BFloat16:
		return tensor.Bytes(narrow[uint16](tp.Int32Data))
	case tensor.Bool:
		b := make([]bool, len(tp.Int32Data))
		for i, v := range tp.Int32Data {
			b[i] = v != 0
		}
		return tensor.Bytes(b)
	case tensor.Uint32:
		return tensor.Bytes(narrow[uint32](tp.Uint64Data))
	case tensor.Uint64:
		return tensor.Bytes(tp.Uint64Data)
	default:
		return nil
	}
}

func narrow[D int8 | int16 | uint8 | uint16 | uint32, S int32 | uint64](src []S) []D {
	out := make([]D, len(src))
	for i, v := range src {
		out[i] = D(v)
	}
	return out
}
