package stack

import (
	"fmt"

	"github.com/google/btree"
)

// Unidir reuses freed memory with best-fit placement and grows in one direction.
//
// Free ranges are indexed three ways: ordered by (length, start) for best-fit
// lookup, and by head and by tail for coalescing neighbors on free.
type Unidir struct {
	used int
	peak int

	free     *btree.BTreeG[Range]
	headTail map[int]int
	tailHead map[int]int
	live     map[int]int // Start -> End of allocated ranges
}

func bySizeThenStart(a, b Range) bool {
	if a.Len() != b.Len() {
		return a.Len() < b.Len()
	}
	return a.Start < b.Start
}

// NewUnidir returns an empty unidirectional calculator.
func NewUnidir() *Unidir {
	return &Unidir{
		free:     btree.NewG(8, bySizeThenStart),
		headTail: make(map[int]int),
		tailHead: make(map[int]int),
		live:     make(map[int]int),
	}
}

// Alloc implements RealtimeCalculator.
//
// The smallest free range that still fits after alignment wins. Without one, the
// free range touching the peak is extended; otherwise the peak grows. Padding
// skipped for alignment goes back to the free index.
func (u *Unidir) Alloc(l Layout) (Range, error) {
	if err := l.Validate(); err != nil {
		return Range{}, err
	}
	if l.Size == 0 {
		return Range{}, nil
	}

	var (
		hole  Range
		found bool
		r     Range
		err   error
	)
	u.free.AscendGreaterOrEqual(Range{Start: 0, End: l.Size}, func(f Range) bool {
		r, err = place(f.Start, l)
		if err == nil && r.End <= f.End {
			hole, found = f, true
			return false
		}
		return true
	})

	switch {
	case found:
		u.remove(hole)
		u.insert(Range{Start: hole.Start, End: r.Start})
		u.insert(Range{Start: r.End, End: hole.End})
	case u.hasFreeTail():
		head := u.tailHead[u.peak]
		if r, err = place(head, l); err != nil {
			return Range{}, err
		}
		u.remove(Range{Start: head, End: u.peak})
		u.insert(Range{Start: head, End: r.Start})
		u.peak = r.End
	default:
		if r, err = place(u.peak, l); err != nil {
			return Range{}, err
		}
		u.insert(Range{Start: u.peak, End: r.Start})
		u.peak = r.End
	}

	u.used += l.Size
	u.live[r.Start] = r.End
	return r, nil
}

// Free implements RealtimeCalculator. The range merges with free neighbors.
func (u *Unidir) Free(r Range) error {
	if r.Empty() {
		return nil
	}
	if end, ok := u.live[r.Start]; !ok || end != r.End {
		return fmt.Errorf("%w: %v is not allocated", ErrInvalidFree, r)
	}
	delete(u.live, r.Start)
	u.used -= r.Len()

	if head, ok := u.tailHead[r.Start]; ok {
		u.remove(Range{Start: head, End: r.Start})
		r.Start = head
	}
	if tail, ok := u.headTail[r.End]; ok {
		u.remove(Range{Start: r.End, End: tail})
		r.End = tail
	}
	u.insert(r)
	return nil
}

// Peak implements RealtimeCalculator.
func (u *Unidir) Peak() int {
	return u.peak
}

// Used implements RealtimeCalculator.
func (u *Unidir) Used() int {
	return u.used
}

// FreeRanges returns the free ranges in best-fit order.
func (u *Unidir) FreeRanges() []Range {
	out := make([]Range, 0, u.free.Len())
	u.free.Ascend(func(r Range) bool {
		out = append(out, r)
		return true
	})
	return out
}

func (u *Unidir) hasFreeTail() bool {
	_, ok := u.tailHead[u.peak]
	return ok
}

func (u *Unidir) insert(r Range) {
	if r.Empty() {
		return
	}
	u.headTail[r.Start] = r.End
	u.tailHead[r.End] = r.Start
	u.free.ReplaceOrInsert(r)
}

func (u *Unidir) remove(r Range) {
	delete(u.headTail, r.Start)
	delete(u.tailHead, r.End)
	u.free.Delete(r)
}
