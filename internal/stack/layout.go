package stack

import (
	"fmt"
	"math"
	"math/bits"
)

// Layout is the size and alignment of one object.
type Layout struct {
	Size  int
	Align int
}

// NewLayout returns a validated layout.
func NewLayout(size, align int) (Layout, error) {
	l := Layout{Size: size, Align: align}
	if err := l.Validate(); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// Validate checks that the size is non-negative and the alignment a power of two.
func (l Layout) Validate() error {
	if l.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrCapacityOverflow, l.Size)
	}
	if l.Align <= 0 || bits.OnesCount(uint(l.Align)) != 1 {
		return fmt.Errorf("%w: alignment %d is not a power of two", ErrCapacityOverflow, l.Align)
	}
	return nil
}

// WithAlign returns l aligned to at least align.
func (l Layout) WithAlign(align int) Layout {
	if align > l.Align {
		l.Align = align
	}
	return l
}

// Array returns the layout of n consecutive elements of l.
func (l Layout) Array(n int) (Layout, error) {
	if n < 0 {
		return Layout{}, fmt.Errorf("%w: negative element count %d", ErrCapacityOverflow, n)
	}
	hi, lo := bits.Mul(uint(l.Size), uint(n))
	if hi != 0 || lo > math.MaxInt {
		return Layout{}, fmt.Errorf("%w: %d x %d bytes", ErrCapacityOverflow, n, l.Size)
	}
	return Layout{Size: int(lo), Align: l.Align}, nil
}

// String implements fmt.Stringer.
func (l Layout) String() string {
	return fmt.Sprintf("%dB@%d", l.Size, l.Align)
}

// Range is a half-open byte range.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bytes in the range.
func (r Range) Len() int {
	return r.End - r.Start
}

// Empty reports whether the range holds no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return !r.Empty() && !o.Empty() && r.Start < o.End && o.Start < r.End
}

// String implements fmt.Stringer.
func (r Range) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// alignUp rounds offset up to a multiple of align, a power of two.
func alignUp(offset, align int) (int, error) {
	if offset > math.MaxInt-(align-1) {
		return 0, fmt.Errorf("%w: offset %d", ErrCapacityOverflow, offset)
	}
	return (offset + align - 1) &^ (align - 1), nil
}

// place returns the range of l placed at the first aligned offset from start.
func place(start int, l Layout) (Range, error) {
	head, err := alignUp(start, l.Align)
	if err != nil {
		return Range{}, err
	}
	if head > math.MaxInt-l.Size {
		return Range{}, fmt.Errorf("%w: %v at offset %d", ErrCapacityOverflow, l, head)
	}
	return Range{Start: head, End: head + l.Size}, nil
}
