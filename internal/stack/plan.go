package stack

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/topo"
)

// Region identifies one of the two planned byte regions.
type Region uint8

// Regions.
const (
	RegionPinned Region = iota
	RegionReusable
)

// String implements fmt.Stringer.
func (r Region) String() string {
	switch r {
	case RegionPinned:
		return "pinned"
	case RegionReusable:
		return "reusable"
	default:
		return fmt.Sprintf("Region(%d)", uint8(r))
	}
}

// Class says where the bytes of an edge live.
type Class uint8

// Edge classes.
const (
	// Constant edges point at weight data carried by the graph. They are never
	// allocated and never written.
	Constant Class = iota
	// Extern edges are locals without data. The host binds them with a copy.
	Extern
	// Pinned edges live in the pinned region: global inputs and outputs.
	Pinned
	// OnStack edges live in the reusable region.
	OnStack
)

// String implements fmt.Stringer.
func (c Class) String() string {
	switch c {
	case Constant:
		return "constant"
	case Extern:
		return "extern"
	case Pinned:
		return "pinned"
	case OnStack:
		return "stack"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// Region returns the region an edge of class c is planned in. It reports false for
// classes that are not backed by a planned region.
func (c Class) Region() (Region, bool) {
	switch c {
	case Pinned:
		return RegionPinned, true
	case OnStack:
		return RegionReusable, true
	case Constant, Extern:
		return 0, false
	default:
		panic(fmt.Sprintf("stack: invalid class %d", uint8(c)))
	}
}

// HostWritable reports whether the host may copy bytes into an edge of class c.
func (c Class) HostWritable() bool {
	switch c {
	case Extern, Pinned, OnStack:
		return true
	case Constant:
		return false
	default:
		panic(fmt.Sprintf("stack: invalid class %d", uint8(c)))
	}
}

// EdgeSlot is the planned location of one edge.
type EdgeSlot struct {
	Class Class
	Range Range // Byte range inside the class's region; zero for Constant and Extern
}

// Plan is the memory layout of one executable graph. It is immutable once built.
type Plan struct {
	Edges        []EdgeSlot
	Workspaces   []Range // Per node, inside the reusable region
	PinnedSize   int
	ReusableSize int
	Alignment    int
	Trace        Trace // Allocation history of the reusable region
}

// Size returns the capacity of region r.
func (p *Plan) Size(r Region) int {
	if r == RegionPinned {
		return p.PinnedSize
	}
	return p.ReusableSize
}

// Replay re-derives the reusable region with calc and checks it matches the plan.
func (p *Plan) Replay(calc RealtimeCalculator) error {
	if err := Replay(p.Trace, calc); err != nil {
		return err
	}
	if calc.Peak() != p.ReusableSize {
		return fmt.Errorf("%w: peak %d, planned %d", ErrReplayMismatch, calc.Peak(), p.ReusableSize)
	}
	return nil
}

// LayoutSource describes the objects of a graph to the Planner.
type LayoutSource interface {
	// TensorLayout returns the layout of edge i.
	TensorLayout(i int) (Layout, error)
	// WorkspaceLayout returns the scratch memory node i needs while it runs.
	WorkspaceLayout(i int) (Layout, error)
	// IsConstant reports whether edge i carries its own data.
	IsConstant(i int) bool
}

// Planner turns a topology and its layouts into a Plan.
type Planner struct {
	// Calculator plans the reusable region.
	Calculator Calculator
	// Alignment is the minimum alignment of every planned object.
	Alignment int
}

// NewPlanner returns a planner using the unidirectional calculator.
func NewPlanner(alignment int) *Planner {
	return &Planner{Calculator: UnidirCalculator{}, Alignment: alignment}
}

// Plan classifies every edge and assigns offsets.
//
// Global inputs and outputs are pinned, except outputs that are constants.
// Locals are Constant when they carry data and Extern otherwise. Every other node
// output goes on the stack.
func (p *Planner) Plan(ctx context.Context, t *topo.Topology, src LayoutSource) (*Plan, error) {
	log := klog.FromContext(ctx)

	align := p.Alignment
	if align == 0 {
		align = 1
	}
	if err := (Layout{Align: align}).Validate(); err != nil {
		return nil, fmt.Errorf("planner alignment: %w", err)
	}

	m := NewLayouts(t)
	for e := range m.Tensors {
		l, err := src.TensorLayout(e)
		if err != nil {
			return nil, fmt.Errorf("layout of edge %d: %w", e, err)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("layout of edge %d: %w", e, err)
		}
		m.Tensors[e] = l.WithAlign(align)
	}
	for n := range m.Workspaces {
		l, err := src.WorkspaceLayout(n)
		if err != nil {
			return nil, fmt.Errorf("workspace of node %d: %w", n, err)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("workspace of node %d: %w", n, err)
		}
		m.Workspaces[n] = l.WithAlign(align)
	}

	plan := &Plan{
		Edges:      make([]EdgeSlot, t.EdgeCount()),
		Workspaces: make([]Range, t.NodeCount()),
		Alignment:  align,
	}
	classified := make([]bool, t.EdgeCount())

	for st := range t.All() {
		for e := st.Locals.Start; e < st.Locals.End; e++ {
			if src.IsConstant(e) {
				plan.Edges[e] = EdgeSlot{Class: Constant}
				classified[e] = true
			} else {
				plan.Edges[e] = EdgeSlot{Class: Extern}
			}
		}
	}

	pinned := NewFlat()
	pin := func(e int) error {
		if classified[e] {
			return nil
		}
		r, err := pinned.Alloc(m.Tensors[e])
		if err != nil {
			return fmt.Errorf("pin edge %d: %w", e, err)
		}
		plan.Edges[e] = EdgeSlot{Class: Pinned, Range: r}
		classified[e] = true
		return nil
	}
	for _, e := range t.GlobalInputs().Indices() {
		if err := pin(e); err != nil {
			return nil, err
		}
	}
	for _, e := range t.GlobalOutputs() {
		if err := pin(e); err != nil {
			return nil, err
		}
	}
	plan.PinnedSize = pinned.Peak()

	size, err := p.Calculator.Calculate(t, m)
	if err != nil {
		return nil, fmt.Errorf("plan reusable region: %w", err)
	}
	plan.ReusableSize = size
	plan.Trace = m.Trace

	for st := range t.All() {
		for e := st.Outputs.Start; e < st.Outputs.End; e++ {
			if classified[e] {
				continue
			}
			off, ok := m.TensorOffset(e)
			if !ok {
				return nil, fmt.Errorf("plan: edge %d was not placed", e)
			}
			plan.Edges[e] = EdgeSlot{Class: OnStack, Range: Range{Start: off, End: off + m.Tensors[e].Size}}
		}
		off := m.WorkspaceOffsets[st.Node]
		plan.Workspaces[st.Node] = Range{Start: off, End: off + m.Workspaces[st.Node].Size}
	}

	log.V(2).Info("Planned memory",
		"nodes", t.NodeCount(), "edges", t.EdgeCount(),
		"pinned", plan.PinnedSize, "reusable", plan.ReusableSize, "events", len(plan.Trace))
	return plan, nil
}
