// Package cpu implements the CPU executor: operators are lowered to routines,
// memory is planned once, and Run executes the routines in topological order over
// the planned regions.
package cpu

import (
	"context"
	"fmt"

	"golang.org/x/sys/cpu"
	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/parallel"
	"github.com/born-ml/infer/internal/stack"
	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/topo"
)

// Options configures Build.
type Options struct {
	// Calculator plans the reusable region. Nil means stack.UnidirCalculator.
	Calculator stack.Calculator
	// Alignment of every planned object. Zero means DefaultAlignment().
	Alignment int
	// Parallel controls concurrent lowering.
	Parallel parallel.Config
	// Registry supplies the lowerings. Nil means DefaultRegistry().
	Registry *Registry
}

// DefaultOptions returns options for the host CPU.
func DefaultOptions() Options {
	return Options{
		Calculator: stack.UnidirCalculator{},
		Alignment:  DefaultAlignment(),
		Parallel:   parallel.DefaultConfig(),
		Registry:   DefaultRegistry(),
	}
}

// DefaultAlignment returns the widest vector register size of the host in bytes.
func DefaultAlignment() int {
	switch {
	case cpu.X86.HasAVX512F:
		return 64
	case cpu.X86.HasAVX2:
		return 32
	default:
		return 16
	}
}

// node is one lowered node ready to run.
type node struct {
	step    topo.Step
	name    string
	op      string
	routine Routine
}

// Graph is an executable graph. It owns its memory regions and is not safe for
// concurrent use.
type Graph struct {
	src   *graph.Graph
	plan  *stack.Plan
	nodes []node

	pinned   []byte
	reusable []byte

	// edges holds the bytes of every edge: a view into a region, the data of a
	// constant, or a host-owned buffer for a bound extern. Unbound externs are nil.
	edges [][]byte
	sizes []int
}

// Build lowers every node of g, plans its memory, and allocates the regions.
//
// Every edge of g must carry a concrete descriptor: run graph.InferShapes and
// Substitute first. Lowering runs concurrently according to opts.Parallel and is
// joined before planning starts.
func Build(ctx context.Context, g *graph.Graph, opts Options) (*Graph, error) {
	log := klog.FromContext(ctx)

	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Calculator == nil {
		opts.Calculator = stack.UnidirCalculator{}
	}
	if opts.Alignment == 0 {
		opts.Alignment = DefaultAlignment()
	}

	sizes := make([]int, len(g.Edges))
	for e, t := range g.Edges {
		if t == nil || t.DType == tensor.Undefined {
			return nil, fmt.Errorf("edge %s: %w", g.EdgeName(e), graph.ErrUntypedEdge)
		}
		size, err := t.ByteSize()
		if err != nil {
			return nil, fmt.Errorf("edge %s: %w", g.EdgeName(e), err)
		}
		if t.HasData() && len(t.Data) != size {
			return nil, fmt.Errorf("edge %s: %d bytes of data for %v", g.EdgeName(e), len(t.Data), t)
		}
		sizes[e] = size
	}

	steps := make([]topo.Step, 0, g.Topology.NodeCount())
	for st := range g.Topology.All() {
		steps = append(steps, st)
	}

	lowered, err := parallel.Map(ctx, len(steps), func(_ context.Context, i int) (Lowered, error) {
		st := steps[i]
		op := &g.Nodes[st.Node]
		inputs := make([]*tensor.Tensor, len(st.Inputs))
		for k, e := range st.Inputs {
			inputs[k] = g.Edges[e]
		}
		outputs := make([]*tensor.Tensor, 0, st.Outputs.Len())
		for _, e := range st.Outputs.Indices() {
			outputs = append(outputs, g.Edges[e])
		}
		l, err := opts.Registry.Lower(op, inputs, outputs)
		if err != nil {
			return Lowered{}, fmt.Errorf("lower node %s: %w", op.Name, err)
		}
		return l, nil
	}, opts.Parallel)
	if err != nil {
		return nil, err
	}

	planner := &stack.Planner{Calculator: opts.Calculator, Alignment: opts.Alignment}
	plan, err := planner.Plan(ctx, g.Topology, &layoutSource{g: g, lowered: lowered})
	if err != nil {
		return nil, err
	}

	out := &Graph{
		src:      g,
		plan:     plan,
		nodes:    make([]node, len(steps)),
		pinned:   alignedBytes(plan.PinnedSize, plan.Alignment),
		reusable: alignedBytes(plan.ReusableSize, plan.Alignment),
		edges:    make([][]byte, len(g.Edges)),
		sizes:    sizes,
	}
	for i, st := range steps {
		op := &g.Nodes[st.Node]
		out.nodes[i] = node{step: st, name: op.Name, op: op.OpType, routine: lowered[i].Routine}
	}
	for e, slot := range plan.Edges {
		switch slot.Class {
		case stack.Constant:
			out.edges[e] = g.Edges[e].Data
		case stack.Extern:
		case stack.Pinned:
			out.edges[e] = out.pinned[slot.Range.Start:slot.Range.End:slot.Range.End]
			// Global inputs with data start out holding it.
			copy(out.edges[e], g.Edges[e].Data)
		case stack.OnStack:
			out.edges[e] = out.reusable[slot.Range.Start:slot.Range.End:slot.Range.End]
		default:
			panic(fmt.Sprintf("cpu: invalid class %v", slot.Class))
		}
	}

	log.Info("Built CPU graph",
		"nodes", len(out.nodes), "edges", len(out.edges),
		"pinned", plan.PinnedSize, "reusable", plan.ReusableSize, "alignment", plan.Alignment)
	return out, nil
}

// Plan returns the memory plan of the graph.
func (g *Graph) Plan() *stack.Plan {
	return g.plan
}

// Source returns the graph g was built from.
func (g *Graph) Source() *graph.Graph {
	return g.src
}

// Edge returns the index of the edge with the given name.
func (g *Graph) Edge(name string) (int, bool) {
	return g.src.EdgeIndex(name)
}

// layoutSource adapts a graph and its lowered nodes to stack.LayoutSource.
type layoutSource struct {
	g       *graph.Graph
	lowered []Lowered
}

func (s *layoutSource) TensorLayout(i int) (stack.Layout, error) {
	return s.g.Edges[i].Layout(1)
}

func (s *layoutSource) WorkspaceLayout(i int) (stack.Layout, error) {
	return s.lowered[i].Workspace, nil
}

func (s *layoutSource) IsConstant(i int) bool {
	return s.g.Edges[i].HasData()
}
