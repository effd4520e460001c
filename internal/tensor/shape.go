package tensor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dim is one dimension of a shape: either a fixed size or a named variable.
type Dim struct {
	Value    int64
	Variable string // Non-empty for symbolic dimensions
}

// Fixed returns a dimension of size n.
func Fixed(n int64) Dim {
	return Dim{Value: n}
}

// Var returns a symbolic dimension.
func Var(name string) Dim {
	return Dim{Variable: name}
}

// IsFixed reports whether d has a known size.
func (d Dim) IsFixed() bool {
	return d.Variable == ""
}

// String implements fmt.Stringer.
func (d Dim) String() string {
	if d.IsFixed() {
		return strconv.FormatInt(d.Value, 10)
	}
	return d.Variable
}

// ParseDim parses "3" as a fixed dimension and anything else as a variable.
func ParseDim(s string) (Dim, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Dim{}, fmt.Errorf("empty dimension")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return Dim{}, fmt.Errorf("negative dimension %d", n)
		}
		return Fixed(n), nil
	}
	return Var(s), nil
}

// Shape represents the dimensions of a tensor.
type Shape []Dim

// Dims builds a fixed shape.
func Dims(dims ...int64) Shape {
	s := make(Shape, len(dims))
	for i, d := range dims {
		s[i] = Fixed(d)
	}
	return s
}

// IsConcrete reports whether every dimension is fixed.
func (s Shape) IsConcrete() bool {
	for _, d := range s {
		if !d.IsFixed() {
			return false
		}
	}
	return true
}

// Variables returns the names of the symbolic dimensions in order of appearance.
func (s Shape) Variables() []string {
	var out []string
	seen := make(map[string]bool)
	for _, d := range s {
		if !d.IsFixed() && !seen[d.Variable] {
			seen[d.Variable] = true
			out = append(out, d.Variable)
		}
	}
	return out
}

// NumElements returns the total number of elements. A scalar has one element.
// It fails when a dimension is symbolic or the product overflows.
func (s Shape) NumElements() (int, error) {
	n := int64(1)
	for i, d := range s {
		if !d.IsFixed() {
			return 0, fmt.Errorf("dimension %d is unresolved variable %q", i, d.Variable)
		}
		if d.Value < 0 {
			return 0, fmt.Errorf("invalid dimension at index %d: %d", i, d.Value)
		}
		if d.Value != 0 && n > math.MaxInt/d.Value {
			return 0, fmt.Errorf("shape %v overflows", s)
		}
		n *= d.Value
	}
	return int(n), nil
}

// Ints returns the dimensions as ints. It fails on symbolic dimensions.
func (s Shape) Ints() ([]int, error) {
	out := make([]int, len(s))
	for i, d := range s {
		if !d.IsFixed() {
			return nil, fmt.Errorf("dimension %d is unresolved variable %q", i, d.Variable)
		}
		out[i] = int(d.Value)
	}
	return out, nil
}

// Resolve substitutes the variables found in vars. Unknown variables stay symbolic.
func (s Shape) Resolve(vars map[string]int64) (Shape, error) {
	out := s.Clone()
	for i, d := range out {
		if d.IsFixed() {
			continue
		}
		v, ok := vars[d.Variable]
		if !ok {
			continue
		}
		if v < 0 {
			return nil, fmt.Errorf("variable %q has negative value %d", d.Variable, v)
		}
		out[i] = Fixed(v)
	}
	return out, nil
}

// Equal checks if two shapes are equal, symbol for symbol.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = d.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// ComputeStrides calculates row-major strides for concrete dimensions.
// Strides define memory layout: stride[i] = product of all dimensions after i.
func ComputeStrides(dims []int) []int {
	strides := make([]int, len(dims))
	if len(dims) == 0 {
		return strides
	}

	strides[len(dims)-1] = 1
	for i := len(dims) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * dims[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting rules.
//
// Rules:
// 1. Compare shapes element-wise from right to left
// 2. Dimensions are compatible if:
//   - They are equal (same size or same variable), OR
//   - One of them is 1
//
// 3. Missing dimensions are treated as 1
//
// Returns the broadcasted shape, a flag indicating if broadcasting is needed, and an error if incompatible.
//
// Examples:
//
//	(3, 1) + (3, 5) → (3, 5), true, nil
//	(batch, 5) + (5) → (batch, 5), true, nil
//	(3, 5) + (3, 5) → (3, 5), false, nil
//	(3, 4) + (3, 5) → nil, false, Error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	maxLen := max(len(a), len(b))
	result := make(Shape, maxLen)
	needsBroadcast := len(a) != len(b)
	one := Fixed(1)

	for i := 0; i < maxLen; i++ {
		aIdx := len(a) - 1 - i
		bIdx := len(b) - 1 - i

		aDim := one
		if aIdx >= 0 {
			aDim = a[aIdx]
		}

		bDim := one
		if bIdx >= 0 {
			bDim = b[bIdx]
		}

		switch {
		case aDim == bDim:
			result[maxLen-1-i] = aDim
		case aDim == one:
			result[maxLen-1-i] = bDim
			needsBroadcast = true
		case bDim == one:
			result[maxLen-1-i] = aDim
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %v vs %v)",
				a, b, maxLen-1-i, aDim, bDim)
		}
	}

	return result, needsBroadcast, nil
}
