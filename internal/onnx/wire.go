package onnx

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// field is one decoded protobuf field. Scalar values are in u, length-delimited
// ones in b.
type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

// walk calls fn for every field of the message encoded in b, in wire order.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.u = uint64(v)
		case protowire.Fixed64Type:
			f.u, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f field) wireError() error {
	return fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, f.num, f.typ)
}

func (f field) asInt64() (int64, error) {
	if f.typ != protowire.VarintType {
		return 0, f.wireError()
	}
	return int64(f.u), nil
}

func (f field) asFloat32() (float32, error) {
	if f.typ != protowire.Fixed32Type {
		return 0, f.wireError()
	}
	return math.Float32frombits(uint32(f.u)), nil
}

func (f field) asBytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, f.wireError()
	}
	return f.b, nil
}

func (f field) asString() (string, error) {
	b, err := f.asBytes()
	return string(b), err
}

func appendString(dst []string, f field) ([]string, error) {
	s, err := f.asString()
	if err != nil {
		return dst, err
	}
	return append(dst, s), nil
}

func message[T any](f field, parse func([]byte) (T, error)) (T, error) {
	b, err := f.asBytes()
	if err != nil {
		var zero T
		return zero, err
	}
	return parse(b)
}

func appendMessage[T any](dst []T, f field, parse func([]byte) (T, error)) ([]T, error) {
	m, err := message(f, parse)
	if err != nil {
		return dst, err
	}
	return append(dst, m), nil
}

// appendVarints accepts both the packed and the unpacked encoding of a
// repeated integer field.
func appendVarints[T int32 | int64 | uint64](dst []T, f field) ([]T, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, T(f.u)), nil
	case protowire.BytesType:
		for b := f.b; len(b) > 0; {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return dst, fmt.Errorf("%w: field %d: %w", ErrMalformed, f.num, protowire.ParseError(n))
			}
			dst = append(dst, T(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return dst, f.wireError()
	}
}

func appendFloat32s(dst []float32, f field) ([]float32, error) {
	switch f.typ {
	case protowire.Fixed32Type:
		return append(dst, math.Float32frombits(uint32(f.u))), nil
	case protowire.BytesType:
		for b := f.b; len(b) > 0; {
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return dst, fmt.Errorf("%w: field %d: %w", ErrMalformed, f.num, protowire.ParseError(n))
			}
			dst = append(dst, math.Float32frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return dst, f.wireError()
	}
}

func appendFloat64s(dst []float64, f field) ([]float64, error) {
	switch f.typ {
	case protowire.Fixed64Type:
		return append(dst, math.Float64frombits(f.u)), nil
	case protowire.BytesType:
		for b := f.b; len(b) > 0; {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return dst, fmt.Errorf("%w: field %d: %w", ErrMalformed, f.num, protowire.ParseError(n))
			}
			dst = append(dst, math.Float64frombits(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return dst, f.wireError()
	}
}
