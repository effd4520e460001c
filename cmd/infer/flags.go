package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/born-ml/infer/internal/tensor"
)

// varFlag collects -var name=value bindings of dimension variables.
type varFlag map[string]int64

func (v varFlag) String() string {
	parts := make([]string, 0, len(v))
	for k, n := range v {
		parts = append(parts, fmt.Sprintf("%s=%d", k, n))
	}
	return strings.Join(parts, ",")
}

func (v varFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("variable %s: invalid size %q", name, value)
	}
	v[name] = n
	return nil
}

// inputFlag collects -input name=values. Values are a comma separated list of
// numbers, or @path to read raw bytes from a file.
type inputFlag map[string]string

func (f inputFlag) String() string {
	return fmt.Sprint(map[string]string(f))
}

func (f inputFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=values, got %q", s)
	}
	f[name] = value
	return nil
}

// encode turns an input value into bytes for a tensor of type dt.
func encode(dt tensor.DataType, value string) ([]byte, error) {
	if path, ok := strings.CutPrefix(value, "@"); ok {
		return os.ReadFile(path)
	}
	fields := strings.Split(value, ",")
	switch dt {
	case tensor.Float32:
		return encodeWith(fields, func(s string) (float32, error) {
			f, err := strconv.ParseFloat(s, 32)
			return float32(f), err
		})
	case tensor.Float64:
		return encodeWith(fields, func(s string) (float64, error) {
			return strconv.ParseFloat(s, 64)
		})
	case tensor.Int32:
		return encodeWith(fields, func(s string) (int32, error) {
			n, err := strconv.ParseInt(s, 10, 32)
			return int32(n), err
		})
	case tensor.Int64:
		return encodeWith(fields, func(s string) (int64, error) {
			return strconv.ParseInt(s, 10, 64)
		})
	default:
		return nil, fmt.Errorf("cannot parse %v values, use @file", dt)
	}
}

func encodeWith[T tensor.DType](fields []string, parse func(string) (T, error)) ([]byte, error) {
	vals := make([]T, len(fields))
	for i, s := range fields {
		v, err := parse(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		vals[i] = v
	}
	return tensor.Bytes(vals), nil
}

// decode formats the values of a tensor of type dt.
func decode(dt tensor.DataType, data []byte) string {
	switch dt {
	case tensor.Float32:
		return fmt.Sprint(tensor.View[float32](data))
	case tensor.Float64:
		return fmt.Sprint(tensor.View[float64](data))
	case tensor.Int32:
		return fmt.Sprint(tensor.View[int32](data))
	case tensor.Int64:
		return fmt.Sprint(tensor.View[int64](data))
	case tensor.Bool:
		return fmt.Sprint(tensor.View[bool](data))
	default:
		return fmt.Sprintf("<%d bytes>", len(data))
	}
}
