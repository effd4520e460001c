package stack

import "fmt"

// Op is the kind of a traced call.
type Op uint8

// Traced operations.
const (
	OpAlloc Op = iota
	OpFree
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case OpAlloc:
		return "alloc"
	case OpFree:
		return "free"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Event is one call made on a RealtimeCalculator.
type Event struct {
	Op     Op
	Layout Layout // Requested layout, for OpAlloc
	Range  Range  // Returned range for OpAlloc, released range for OpFree
}

// Trace is an ordered allocation history.
type Trace []Event

// Replay runs the calls of tr against calc and checks that every allocation lands
// where it did originally.
func Replay(tr Trace, calc RealtimeCalculator) error {
	for i, ev := range tr {
		switch ev.Op {
		case OpAlloc:
			r, err := calc.Alloc(ev.Layout)
			if err != nil {
				return fmt.Errorf("replay event %d: %w", i, err)
			}
			if r != ev.Range {
				return fmt.Errorf("%w: event %d allocated %v, traced %v", ErrReplayMismatch, i, r, ev.Range)
			}
		case OpFree:
			if err := calc.Free(ev.Range); err != nil {
				return fmt.Errorf("replay event %d: %w", i, err)
			}
		default:
			return fmt.Errorf("replay event %d: unknown op %v", i, ev.Op)
		}
	}
	return nil
}

// recording forwards to a RealtimeCalculator and reports each call.
type recording struct {
	RealtimeCalculator
	rec Recorder
}

func (r *recording) Alloc(l Layout) (Range, error) {
	got, err := r.RealtimeCalculator.Alloc(l)
	if err == nil {
		r.rec.Record(Event{Op: OpAlloc, Layout: l, Range: got})
	}
	return got, err
}

func (r *recording) Free(rg Range) error {
	err := r.RealtimeCalculator.Free(rg)
	if err == nil {
		r.rec.Record(Event{Op: OpFree, Range: rg})
	}
	return err
}
