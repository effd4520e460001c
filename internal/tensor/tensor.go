package tensor

import (
	"fmt"

	"github.com/born-ml/infer/internal/stack"
)

// Tensor describes the value carried by one edge: its element type, its shape, and
// for weights and other constants, its data.
//
// Example:
//
//	x := tensor.New(tensor.Float32, tensor.Shape{tensor.Var("batch"), tensor.Fixed(784)})
//	w, _ := tensor.FromSlice([]float32{...}, tensor.Dims(784, 10))
type Tensor struct {
	DType DataType
	Shape Shape
	Data  []byte // Nil unless the tensor is a constant
}

// New creates a tensor descriptor without data.
func New(dt DataType, shape Shape) *Tensor {
	return &Tensor{DType: dt, Shape: shape.Clone()}
}

// FromSlice creates a constant tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice[T DType](data []T, shape Shape) (*Tensor, error) {
	n, err := shape.NumElements()
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, n, len(data))
	}
	t := New(dataTypeOf[T](), shape)
	t.Data = append([]byte(nil), Bytes(data)...)
	return t, nil
}

// HasData reports whether the tensor carries its own data.
func (t *Tensor) HasData() bool {
	return t.Data != nil
}

// NumElements returns the total number of elements.
func (t *Tensor) NumElements() (int, error) {
	return t.Shape.NumElements()
}

// ByteSize returns the total memory size in bytes.
func (t *Tensor) ByteSize() (int, error) {
	if t.DType.Size() == 0 {
		return 0, fmt.Errorf("data type %v has no fixed size", t.DType)
	}
	n, err := t.Shape.NumElements()
	if err != nil {
		return 0, err
	}
	l, err := stack.Layout{Size: t.DType.Size(), Align: 1}.Array(n)
	if err != nil {
		return 0, err
	}
	return l.Size, nil
}

// Layout returns the memory layout of the tensor, aligned to its element size and
// at least align bytes.
func (t *Tensor) Layout(align int) (stack.Layout, error) {
	size, err := t.ByteSize()
	if err != nil {
		return stack.Layout{}, err
	}
	l := stack.Layout{Size: size, Align: t.DType.Size()}
	if l.Align&(l.Align-1) != 0 {
		l.Align = 1
	}
	l = l.WithAlign(align)
	if err := l.Validate(); err != nil {
		return stack.Layout{}, err
	}
	return l, nil
}

// Resolve returns a copy of t with the variables of vars substituted in its shape.
func (t *Tensor) Resolve(vars map[string]int64) (*Tensor, error) {
	shape, err := t.Shape.Resolve(vars)
	if err != nil {
		return nil, err
	}
	return &Tensor{DType: t.DType, Shape: shape, Data: t.Data}, nil
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t.HasData() {
		return fmt.Sprintf("%v%v (%d bytes)", t.DType, t.Shape, len(t.Data))
	}
	return fmt.Sprintf("%v%v", t.DType, t.Shape)
}
