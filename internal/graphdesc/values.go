package graphdesc

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
)

// elements returns the members of a list or tuple, or v itself for a primitive.
func elements(v cty.Value) ([]cty.Value, error) {
	switch {
	case v.IsNull():
		return nil, nil
	case !v.IsKnown():
		return nil, fmt.Errorf("value is not known")
	case v.Type().IsPrimitiveType():
		return []cty.Value{v}, nil
	case v.CanIterateElements() && !v.Type().IsMapType() && !v.Type().IsObjectType():
		out := make([]cty.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, el := it.Element()
			out = append(out, el)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %s", v.Type().FriendlyName())
	}
}

// decodeShape reads a list of sizes and variable names. A missing shape is a scalar.
func decodeShape(v cty.Value) (tensor.Shape, error) {
	if !v.IsNull() && v.Type().IsPrimitiveType() {
		return nil, fmt.Errorf("shape must be a list, got %s", v.Type().FriendlyName())
	}
	els, err := elements(v)
	if err != nil {
		return nil, err
	}
	shape := make(tensor.Shape, len(els))
	for i, el := range els {
		switch {
		case el.IsNull():
			return nil, fmt.Errorf("dimension %d is null", i)
		case el.Type() == cty.String:
			if shape[i], err = tensor.ParseDim(el.AsString()); err != nil {
				return nil, fmt.Errorf("dimension %d: %w", i, err)
			}
		case el.Type() == cty.Number:
			var n int64
			if err := gocty.FromCtyValue(el, &n); err != nil {
				return nil, fmt.Errorf("dimension %d: %w", i, err)
			}
			if n < 0 {
				return nil, fmt.Errorf("dimension %d: negative size %d", i, n)
			}
			shape[i] = tensor.Fixed(n)
		default:
			return nil, fmt.Errorf("dimension %d: expected a number or a name, got %s", i, el.Type().FriendlyName())
		}
	}
	return shape, nil
}

// decodeData converts an inline list into a constant tensor of the given type.
func decodeData(dt tensor.DataType, shape tensor.Shape, v cty.Value) (*tensor.Tensor, error) {
	switch dt {
	case tensor.Float32:
		return decodeList[float32](shape, v, cty.Number)
	case tensor.Float64:
		return decodeList[float64](shape, v, cty.Number)
	case tensor.Int8:
		return decodeList[int8](shape, v, cty.Number)
	case tensor.Int16:
		return decodeList[int16](shape, v, cty.Number)
	case tensor.Int32:
		return decodeList[int32](shape, v, cty.Number)
	case tensor.Int64:
		return decodeList[int64](shape, v, cty.Number)
	case tensor.Uint8:
		return decodeList[uint8](shape, v, cty.Number)
	case tensor.Uint16:
		return decodeList[uint16](shape, v, cty.Number)
	case tensor.Uint32:
		return decodeList[uint32](shape, v, cty.Number)
	case tensor.Uint64:
		return decodeList[uint64](shape, v, cty.Number)
	case tensor.Bool:
		return decodeList[bool](shape, v, cty.Bool)
	default:
		return nil, fmt.Errorf("inline data is not supported for %v", dt)
	}
}

func decodeList[T tensor.DType](shape tensor.Shape, v cty.Value, elem cty.Type) (*tensor.Tensor, error) {
	els, err := elements(v)
	if err != nil {
		return nil, err
	}
	vals := make([]T, len(els))
	for i, el := range els {
		el, err := convert.Convert(el, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if err := gocty.FromCtyValue(el, &vals[i]); err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
	}
	t, err := tensor.FromSlice(vals, shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataSize, err)
	}
	return t, nil
}

// decodeAttrs turns an object into operator attributes, in name order.
// Whole numbers become ints, other numbers floats; bools become 0 or 1.
func decodeAttrs(v cty.Value) ([]graph.Attribute, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("attrs must be an object, got %s", v.Type().FriendlyName())
	}
	var attrs []graph.Attribute
	for it := v.ElementIterator(); it.Next(); {
		k, el := it.Element()
		name := k.AsString()
		a, err := decodeAttr(name, el)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		attrs = append(attrs, a)
	}
	return attrs, nil
}

func decodeAttr(name string, v cty.Value) (graph.Attribute, error) {
	a := graph.Attribute{Name: name}
	if v.IsNull() || !v.IsKnown() {
		return a, fmt.Errorf("value must be known and not null")
	}
	switch ty := v.Type(); {
	case ty == cty.Number:
		if isWhole(v) {
			a.Type = graph.AttrInt
			return a, gocty.FromCtyValue(v, &a.I)
		}
		a.Type = graph.AttrFloat
		return a, gocty.FromCtyValue(v, &a.F)
	case ty == cty.String:
		a.Type, a.S = graph.AttrString, v.AsString()
		return a, nil
	case ty == cty.Bool:
		a.Type = graph.AttrInt
		if v.True() {
			a.I = 1
		}
		return a, nil
	}

	els, err := elements(v)
	if err != nil {
		return a, err
	}
	if len(els) == 0 {
		a.Type = graph.AttrInts
		return a, nil
	}
	switch els[0].Type() {
	case cty.String:
		a.Type = graph.AttrStrings
		a.Strings = make([]string, len(els))
		for i, el := range els {
			if el.Type() != cty.String {
				return a, fmt.Errorf("element %d: mixed list", i)
			}
			a.Strings[i] = el.AsString()
		}
		return a, nil
	case cty.Number:
		whole := true
		for i, el := range els {
			if el.Type() != cty.Number || el.IsNull() {
				return a, fmt.Errorf("element %d: mixed list", i)
			}
			whole = whole && isWhole(el)
		}
		if whole {
			a.Type = graph.AttrInts
			a.Ints = make([]int64, len(els))
			for i, el := range els {
				if err := gocty.FromCtyValue(el, &a.Ints[i]); err != nil {
					return a, fmt.Errorf("element %d: %w", i, err)
				}
			}
			return a, nil
		}
		a.Type = graph.AttrFloats
		a.Floats = make([]float32, len(els))
		for i, el := range els {
			if err := gocty.FromCtyValue(el, &a.Floats[i]); err != nil {
				return a, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return a, nil
	default:
		return a, fmt.Errorf("unsupported value of type %s", v.Type().FriendlyName())
	}
}

func isWhole(v cty.Value) bool {
	return v.AsBigFloat().IsInt()
}
