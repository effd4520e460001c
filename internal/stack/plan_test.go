package stack

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/infer/internal/topo"
)

// chain returns x -> n0 -> t0 -> n1 -> t1 -> ... -> n(count-1) -> y.
func chain(t *testing.T, count int) *topo.Topology {
	t.Helper()
	c := topo.NewComposer()
	e := c.AddEdge()
	for range count {
		n, err := c.AddNode([]int{e}, 1)
		require.NoError(t, err)
		e = c.Output(n, 0)
	}
	require.NoError(t, c.MarkOutputs(e))
	tp, err := c.Topology()
	require.NoError(t, err)
	return tp
}

func reference(t *testing.T) *topo.Topology {
	t.Helper()
	b := topo.Builder[string, int, string, int]{
		Topology: map[string]topo.Connections[string]{
			"A": {Inputs: []string{"a", "b"}, Outputs: []string{"c", "d"}},
			"B": {Inputs: []string{"d", "e"}, Outputs: []string{"f"}},
			"C": {Inputs: []string{"f", "c"}, Outputs: []string{"z"}},
		},
		GlobalInputs:  []string{"a"},
		GlobalOutputs: []string{"z"},
	}
	g, err := b.Build()
	require.NoError(t, err)
	return g.Topology
}

func uniform(tp *topo.Topology, size int) *Layouts {
	m := NewLayouts(tp)
	for i := range m.Tensors {
		m.Tensors[i] = Layout{Size: size, Align: 1}
	}
	return m
}

func TestUnidirCalculator_Chain(t *testing.T) {
	tp := chain(t, 4)
	m := uniform(tp, 16)

	peak, err := UnidirCalculator{}.Calculate(tp, m)
	require.NoError(t, err)
	assert.Equal(t, 32, peak)
	// t0, t1, t2 alternate between two slots; y is left to the caller.
	assert.Equal(t, []int{-1, 0, 16, 0, -1}, m.TensorOffsets)
}

func TestFlatCalculator_Chain(t *testing.T) {
	tp := chain(t, 4)
	m := uniform(tp, 16)

	peak, err := FlatCalculator{}.Calculate(tp, m)
	require.NoError(t, err)
	assert.Equal(t, 48, peak)
	assert.Equal(t, []int{-1, 0, 16, 32, -1}, m.TensorOffsets)
}

func TestUnidirCalculator_Reference(t *testing.T) {
	tp := reference(t)
	m := uniform(tp, 16)
	m.Workspaces[1] = Layout{Size: 16, Align: 1}

	peak, err := UnidirCalculator{}.Calculate(tp, m)
	require.NoError(t, err)
	assert.Equal(t, 64, peak)

	// Edges: a b c d e f z.
	assert.Equal(t, []int{-1, -1, 0, 16, -1, 32, -1}, m.TensorOffsets)
	assert.Equal(t, 48, m.WorkspaceOffsets[1])

	// The trace replays on a fresh calculator.
	u := NewUnidir()
	require.NoError(t, Replay(m.Trace, u))
	assert.Equal(t, peak, u.Peak())
	assert.Equal(t, 0, u.Used())
}

func TestUnidirCalculator_UnreadOutput(t *testing.T) {
	// n0 produces (t0, dropped); n1 reads t0. The dropped output is released at
	// once so n1's output lands on it.
	c := topo.NewComposer()
	x := c.AddEdge()
	n0, err := c.AddNode([]int{x}, 2)
	require.NoError(t, err)
	n1, err := c.AddNode([]int{c.Output(n0, 0)}, 2)
	require.NoError(t, err)
	require.NoError(t, c.MarkOutputs(c.Output(n1, 1)))
	tp, err := c.Topology()
	require.NoError(t, err)

	m := uniform(tp, 16)
	peak, err := UnidirCalculator{}.Calculate(tp, m)
	require.NoError(t, err)
	assert.Equal(t, 32, peak)
	assert.Equal(t, []int{-1, 0, 16, 16, -1}, m.TensorOffsets)
}

type fakeSource struct {
	tensors    []Layout
	workspaces []Layout
	constants  map[int]bool
	err        error
}

func (f *fakeSource) TensorLayout(i int) (Layout, error) {
	if f.err != nil {
		return Layout{}, f.err
	}
	return f.tensors[i], nil
}

func (f *fakeSource) WorkspaceLayout(i int) (Layout, error) {
	return f.workspaces[i], nil
}

func (f *fakeSource) IsConstant(i int) bool {
	return f.constants[i]
}

func newFakeSource(tp *topo.Topology, size int) *fakeSource {
	f := &fakeSource{
		tensors:    make([]Layout, tp.EdgeCount()),
		workspaces: make([]Layout, tp.NodeCount()),
		constants:  make(map[int]bool),
	}
	for i := range f.tensors {
		f.tensors[i] = Layout{Size: size, Align: 4}
	}
	for i := range f.workspaces {
		f.workspaces[i] = Layout{Align: 1}
	}
	return f
}

func TestPlanner_Reference(t *testing.T) {
	tp := reference(t)
	src := newFakeSource(tp, 16)
	src.constants[1] = true // b
	src.workspaces[2] = Layout{Size: 8, Align: 1}

	plan, err := NewPlanner(64).Plan(context.Background(), tp, src)
	require.NoError(t, err)

	classes := make([]Class, len(plan.Edges))
	for i, s := range plan.Edges {
		classes[i] = s.Class
	}
	assert.Equal(t, []Class{Pinned, Constant, OnStack, OnStack, Extern, OnStack, Pinned}, classes)

	assert.Equal(t, Range{Start: 0, End: 16}, plan.Edges[0].Range)
	assert.Equal(t, Range{Start: 64, End: 80}, plan.Edges[6].Range)
	assert.Equal(t, 80, plan.PinnedSize)
	assert.Equal(t, 80, plan.Size(RegionPinned))

	for _, e := range []int{2, 3, 5} {
		assert.Zero(t, plan.Edges[e].Range.Start%64, "edge %d", e)
		assert.Equal(t, 16, plan.Edges[e].Range.Len())
		assert.LessOrEqual(t, plan.Edges[e].Range.End, plan.ReusableSize)
	}
	assert.Equal(t, 8, plan.Workspaces[2].Len())
	assert.Equal(t, plan.ReusableSize, plan.Size(RegionReusable))

	require.NoError(t, plan.Replay(NewUnidir()))
}

func TestPlanner_LiveEdgesNeverOverlap(t *testing.T) {
	tp := reference(t)
	src := newFakeSource(tp, 24)
	src.workspaces[0] = Layout{Size: 40, Align: 8}
	src.workspaces[1] = Layout{Size: 8, Align: 8}

	plan, err := NewPlanner(8).Plan(context.Background(), tp, src)
	require.NoError(t, err)

	// While B runs: c and d (inputs still live), f, and B's workspace.
	live := []Range{plan.Edges[2].Range, plan.Edges[3].Range, plan.Edges[5].Range, plan.Workspaces[1]}
	for i := range live {
		for j := i + 1; j < len(live); j++ {
			assert.False(t, live[i].Overlaps(live[j]), "%v overlaps %v", live[i], live[j])
		}
	}
}

func TestPlanner_DiamondExternOutput(t *testing.T) {
	c := topo.NewComposer()
	e0, e1 := c.AddEdge(), c.AddEdge()
	n0, err := c.AddNode([]int{e0, e1}, 2)
	require.NoError(t, err)
	e4 := c.AddEdge()
	n1, err := c.AddNode([]int{c.Output(n0, 1), e4}, 1)
	require.NoError(t, err)
	n2, err := c.AddNode([]int{c.Output(n1, 0), c.Output(n0, 0)}, 1)
	require.NoError(t, err)
	require.NoError(t, c.MarkOutputs(c.Output(n2, 0), e4))
	tp, err := c.Topology()
	require.NoError(t, err)

	plan, err := NewPlanner(1).Plan(context.Background(), tp, newFakeSource(tp, 4))
	require.NoError(t, err)
	assert.Equal(t, Pinned, plan.Edges[e4].Class)
	assert.Equal(t, Pinned, plan.Edges[6].Class)
	assert.Equal(t, 16, plan.PinnedSize)
}

func TestPlanner_Errors(t *testing.T) {
	tp := reference(t)

	src := newFakeSource(tp, 4)
	src.err = errors.New("unresolved dimension")
	_, err := NewPlanner(1).Plan(context.Background(), tp, src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "layout of edge 0")

	src = newFakeSource(tp, 4)
	src.tensors[3] = Layout{Size: -4, Align: 1}
	_, err = NewPlanner(1).Plan(context.Background(), tp, src)
	assert.ErrorIs(t, err, ErrCapacityOverflow)

	_, err = NewPlanner(3).Plan(context.Background(), tp, newFakeSource(tp, 4))
	assert.ErrorIs(t, err, ErrCapacityOverflow)
}

func TestPlanner_FlatCalculator(t *testing.T) {
	tp := chain(t, 4)
	p := &Planner{Calculator: FlatCalculator{}, Alignment: 1}
	plan, err := p.Plan(context.Background(), tp, newFakeSource(tp, 16))
	require.NoError(t, err)
	assert.Equal(t, 48, plan.ReusableSize)
	require.NoError(t, plan.Replay(NewFlat()))
}

func TestClass(t *testing.T) {
	r, ok := OnStack.Region()
	assert.True(t, ok)
	assert.Equal(t, RegionReusable, r)
	_, ok = Extern.Region()
	assert.False(t, ok)

	assert.False(t, Constant.HostWritable())
	assert.True(t, Extern.HostWritable())
	assert.Equal(t, "stack", OnStack.String())
	assert.Panics(t, func() { Class(42).HostWritable() })
}
