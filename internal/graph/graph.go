package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/topo"
)

// Builder is the name-keyed description a Graph is built from.
type Builder = topo.Builder[string, Operator, string, *tensor.Tensor]

// Graph is a topology with operator payloads on its nodes and tensor descriptors on
// its edges. The slices are indexed like the topology.
type Graph struct {
	Topology  *topo.Topology
	Nodes     []Operator
	Edges     []*tensor.Tensor
	EdgeNames []string
}

// Build places the nodes of b in topological order.
// Node names default to their keys; missing edge descriptors stay nil until
// InferShapes fills them.
func Build(b *Builder) (*Graph, error) {
	g, keys, err := b.BuildWithKeys()
	if err != nil {
		return nil, err
	}
	for i := range g.Nodes {
		if g.Nodes[i].Name == "" {
			g.Nodes[i].Name = keys.Nodes[i]
		}
	}
	return &Graph{
		Topology:  g.Topology,
		Nodes:     g.Nodes,
		Edges:     g.Edges,
		EdgeNames: keys.Edges,
	}, nil
}

// EdgeIndex returns the index of the edge with the given name.
func (g *Graph) EdgeIndex(name string) (int, bool) {
	i := slices.Index(g.EdgeNames, name)
	return i, i >= 0
}

// EdgeName returns the name of edge e, or a placeholder when the graph is unnamed.
func (g *Graph) EdgeName(e int) string {
	if e < len(g.EdgeNames) && g.EdgeNames[e] != "" {
		return g.EdgeNames[e]
	}
	return fmt.Sprintf("%%%d", e)
}

// InputNames returns the names of the global inputs.
func (g *Graph) InputNames() []string {
	var out []string
	for _, e := range g.Topology.GlobalInputs().Indices() {
		out = append(out, g.EdgeName(e))
	}
	return out
}

// OutputNames returns the names of the global outputs.
func (g *Graph) OutputNames() []string {
	var out []string
	for _, e := range g.Topology.GlobalOutputs() {
		out = append(out, g.EdgeName(e))
	}
	return out
}

// Variables returns the sorted names of all symbolic dimensions.
func (g *Graph) Variables() []string {
	var out []string
	for _, t := range g.Edges {
		if t != nil {
			out = append(out, t.Shape.Variables()...)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Substitute returns a copy of g with the variables in vars bound to concrete sizes.
// Topology and operators are shared.
func (g *Graph) Substitute(vars map[string]int64) (*Graph, error) {
	out := &Graph{
		Topology:  g.Topology,
		Nodes:     g.Nodes,
		Edges:     make([]*tensor.Tensor, len(g.Edges)),
		EdgeNames: g.EdgeNames,
	}
	for i, t := range g.Edges {
		if t == nil {
			continue
		}
		r, err := t.Resolve(vars)
		if err != nil {
			return nil, fmt.Errorf("edge %s: %w", g.EdgeName(i), err)
		}
		out.Edges[i] = r
	}
	return out, nil
}

// String renders the graph one edge and one node per line.
func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph (%s) -> (%s)\n",
		strings.Join(g.InputNames(), ", "), strings.Join(g.OutputNames(), ", "))
	for e, t := range g.Edges {
		fmt.Fprintf(&sb, "  %%%d %s: %v\n", e, g.EdgeName(e), t)
	}
	for st := range g.Topology.All() {
		ins := make([]string, len(st.Inputs))
		for k, e := range st.Inputs {
			ins[k] = g.EdgeName(e)
		}
		outs := make([]string, 0, st.Outputs.Len())
		for _, e := range st.Outputs.Indices() {
			outs = append(outs, g.EdgeName(e))
		}
		op := g.Nodes[st.Node]
		fmt.Fprintf(&sb, "  *%d %s = %v(%s) -> (%s)\n",
			st.Node, op.Name, &op, strings.Join(ins, ", "), strings.Join(outs, ", "))
	}
	return sb.String()
}
