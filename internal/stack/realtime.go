package stack

import "fmt"

// RealtimeCalculator hands out byte ranges one request at a time.
type RealtimeCalculator interface {
	// Alloc places an object. Zero-size objects get the empty range 0..0.
	Alloc(l Layout) (Range, error)
	// Free returns a range obtained from Alloc. Freeing an empty range is a no-op.
	Free(r Range) error
	// Peak returns the high-water mark in bytes.
	Peak() int
	// Used returns the number of live bytes.
	Used() int
}

// Flat places objects at strictly increasing offsets and never reuses memory.
type Flat struct {
	pos  int
	used int
}

// NewFlat returns an empty flat calculator.
func NewFlat() *Flat {
	return &Flat{}
}

// Alloc implements RealtimeCalculator.
func (f *Flat) Alloc(l Layout) (Range, error) {
	if err := l.Validate(); err != nil {
		return Range{}, err
	}
	if l.Size == 0 {
		return Range{}, nil
	}
	r, err := place(f.pos, l)
	if err != nil {
		return Range{}, err
	}
	f.pos = r.End
	f.used += l.Size
	return r, nil
}

// Free implements RealtimeCalculator. Memory is never reclaimed.
func (f *Flat) Free(r Range) error {
	if r.Empty() {
		return nil
	}
	if r.Start < 0 || r.End > f.pos {
		return fmt.Errorf("%w: %v beyond peak %d", ErrInvalidFree, r, f.pos)
	}
	f.used -= r.Len()
	return nil
}

// Peak implements RealtimeCalculator.
func (f *Flat) Peak() int {
	return f.pos
}

// Used implements RealtimeCalculator.
func (f *Flat) Used() int {
	return f.used
}
