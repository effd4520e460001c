package stack

import (
	"fmt"

	"github.com/born-ml/infer/internal/topo"
)

// Calculator assigns stack offsets to the objects of a topology and returns the
// capacity they need.
type Calculator interface {
	Calculate(t *topo.Topology, m Manager) (int, error)
}

// Manager supplies layouts to a Calculator and receives the offsets it assigns.
type Manager interface {
	// WorkspaceLayout returns the workspace of node i.
	WorkspaceLayout(i int) Layout
	// TensorLayout returns the layout of edge i.
	TensorLayout(i int) Layout
	// SetWorkspaceOffset records the offset of node i's workspace.
	SetWorkspaceOffset(i, offset int)
	// SetTensorOffset records the offset of edge i.
	SetTensorOffset(i, offset int)
	// TensorOffset returns the recorded offset of edge i.
	TensorOffset(i int) (int, bool)
}

// Recorder is implemented by managers that want every Alloc and Free call.
type Recorder interface {
	Record(ev Event)
}

// realtime wraps rt so that calls are recorded when m is a Recorder.
func realtime(rt RealtimeCalculator, m Manager) RealtimeCalculator {
	if rec, ok := m.(Recorder); ok {
		return &recording{RealtimeCalculator: rt, rec: rec}
	}
	return rt
}

// FlatCalculator gives every node output and workspace its own range.
// Global outputs are left to the caller.
type FlatCalculator struct{}

// Calculate implements Calculator.
func (FlatCalculator) Calculate(t *topo.Topology, m Manager) (int, error) {
	rt := realtime(NewFlat(), m)
	for st := range t.All() {
		for e := st.Outputs.Start; e < st.Outputs.End; e++ {
			if t.IsGlobalOutput(e) {
				continue
			}
			r, err := rt.Alloc(m.TensorLayout(e))
			if err != nil {
				return 0, fmt.Errorf("edge %d: %w", e, err)
			}
			m.SetTensorOffset(e, r.Start)
		}
		r, err := rt.Alloc(m.WorkspaceLayout(st.Node))
		if err != nil {
			return 0, fmt.Errorf("workspace of node %d: %w", st.Node, err)
		}
		m.SetWorkspaceOffset(st.Node, r.Start)
	}
	return rt.Peak(), nil
}

// UnidirCalculator reuses memory as soon as the last consumer of an edge has run.
//
// Per node, in topological order: outputs are allocated, the workspace is
// allocated and released, outputs nobody reads are released, then each input's
// reference count drops and the edge is released at zero. Global outputs are left
// to the caller.
type UnidirCalculator struct{}

// Calculate implements Calculator.
func (UnidirCalculator) Calculate(t *topo.Topology, m Manager) (int, error) {
	rc := make([]int, t.EdgeCount())
	for st := range t.All() {
		for _, e := range st.Inputs {
			rc[e]++
		}
	}
	onStack := make([]bool, t.EdgeCount())

	rt := realtime(NewUnidir(), m)
	var dead []Range
	for st := range t.All() {
		dead = dead[:0]
		for e := st.Outputs.Start; e < st.Outputs.End; e++ {
			if t.IsGlobalOutput(e) {
				continue
			}
			r, err := rt.Alloc(m.TensorLayout(e))
			if err != nil {
				return 0, fmt.Errorf("edge %d: %w", e, err)
			}
			m.SetTensorOffset(e, r.Start)
			if rc[e] > 0 {
				onStack[e] = true
			} else {
				dead = append(dead, r)
			}
		}

		ws, err := rt.Alloc(m.WorkspaceLayout(st.Node))
		if err != nil {
			return 0, fmt.Errorf("workspace of node %d: %w", st.Node, err)
		}
		m.SetWorkspaceOffset(st.Node, ws.Start)
		if err := rt.Free(ws); err != nil {
			return 0, err
		}
		for _, r := range dead {
			if err := rt.Free(r); err != nil {
				return 0, err
			}
		}

		for _, e := range st.Inputs {
			if !onStack[e] {
				continue
			}
			if rc[e] == 0 {
				return 0, fmt.Errorf("%w: edge %d at node %d", ErrRefCountUnderflow, e, st.Node)
			}
			rc[e]--
			if rc[e] > 0 {
				continue
			}
			off, ok := m.TensorOffset(e)
			if !ok {
				return 0, fmt.Errorf("%w: edge %d has no offset", ErrInvalidFree, e)
			}
			if err := rt.Free(Range{Start: off, End: off + m.TensorLayout(e).Size}); err != nil {
				return 0, fmt.Errorf("edge %d: %w", e, err)
			}
			onStack[e] = false
		}
	}
	return rt.Peak(), nil
}

// Layouts is a slice-backed Manager that also records the allocation trace.
type Layouts struct {
	Tensors          []Layout
	Workspaces       []Layout
	TensorOffsets    []int // -1 until assigned
	WorkspaceOffsets []int // -1 until assigned
	Trace            Trace
}

// NewLayouts returns a Manager for t with every layout empty.
func NewLayouts(t *topo.Topology) *Layouts {
	l := &Layouts{
		Tensors:          make([]Layout, t.EdgeCount()),
		Workspaces:       make([]Layout, t.NodeCount()),
		TensorOffsets:    make([]int, t.EdgeCount()),
		WorkspaceOffsets: make([]int, t.NodeCount()),
	}
	for i := range l.Tensors {
		l.Tensors[i] = Layout{Align: 1}
		l.TensorOffsets[i] = -1
	}
	for i := range l.Workspaces {
		l.Workspaces[i] = Layout{Align: 1}
		l.WorkspaceOffsets[i] = -1
	}
	return l
}

// WorkspaceLayout implements Manager.
func (l *Layouts) WorkspaceLayout(i int) Layout { return l.Workspaces[i] }

// TensorLayout implements Manager.
func (l *Layouts) TensorLayout(i int) Layout { return l.Tensors[i] }

// SetWorkspaceOffset implements Manager.
func (l *Layouts) SetWorkspaceOffset(i, offset int) { l.WorkspaceOffsets[i] = offset }

// SetTensorOffset implements Manager.
func (l *Layouts) SetTensorOffset(i, offset int) { l.TensorOffsets[i] = offset }

// TensorOffset implements Manager.
func (l *Layouts) TensorOffset(i int) (int, bool) {
	off := l.TensorOffsets[i]
	return off, off >= 0
}

// Record implements Recorder.
func (l *Layouts) Record(ev Event) {
	l.Trace = append(l.Trace, ev)
}
