package topo

import (
	"fmt"
	"slices"
)

// EdgeRef identifies an edge in a Searcher.
type EdgeRef int

// External is the sentinel consumer of global outputs.
const External NodeRef = -1

type searchNode struct {
	inputs       []EdgeRef
	outputs      []EdgeRef
	predecessors []NodeRef
	successors   []NodeRef
}

type searchEdge struct {
	source  NodeRef // External when the edge has no producing node
	targets []NodeRef
}

// Searcher is a read-only query index over a Topology.
//
// Nodes and edges live in two arenas addressed by NodeRef and EdgeRef.
type Searcher struct {
	topology      *Topology
	nodes         []searchNode
	edges         []searchEdge
	globalOutputs []EdgeRef
}

// NewSearcher indexes t in one linear pass.
func NewSearcher(t *Topology) *Searcher {
	s := &Searcher{
		topology: t,
		nodes:    make([]searchNode, t.NodeCount()),
		edges:    make([]searchEdge, t.EdgeCount()),
	}
	for i := range s.edges {
		s.edges[i].source = External
	}

	for st := range t.All() {
		n := NodeRef(st.Node)
		node := &s.nodes[n]
		for _, e := range st.Inputs {
			node.inputs = append(node.inputs, EdgeRef(e))
			edge := &s.edges[e]
			if edge.source != External {
				node.predecessors = append(node.predecessors, edge.source)
				succ := &s.nodes[edge.source].successors
				if len(*succ) == 0 || (*succ)[len(*succ)-1] != n {
					*succ = append(*succ, n)
				}
			}
			if len(edge.targets) == 0 || edge.targets[len(edge.targets)-1] != n {
				edge.targets = append(edge.targets, n)
			}
		}
		slices.Sort(node.predecessors)
		node.predecessors = slices.Compact(node.predecessors)

		for e := st.Outputs.Start; e < st.Outputs.End; e++ {
			node.outputs = append(node.outputs, EdgeRef(e))
			s.edges[e].source = n
		}
	}

	for _, e := range t.GlobalOutputs() {
		s.globalOutputs = append(s.globalOutputs, EdgeRef(e))
		edge := &s.edges[e]
		if !slices.Contains(edge.targets, External) {
			edge.targets = append(edge.targets, External)
		}
	}
	return s
}

// Topology returns the indexed topology.
func (s *Searcher) Topology() *Topology {
	return s.topology
}

// Nodes returns every node reference in topological order.
func (s *Searcher) Nodes() []NodeRef {
	out := make([]NodeRef, len(s.nodes))
	for i := range out {
		out[i] = NodeRef(i)
	}
	return out
}

// Edges returns every edge reference in index order.
func (s *Searcher) Edges() []EdgeRef {
	out := make([]EdgeRef, len(s.edges))
	for i := range out {
		out[i] = EdgeRef(i)
	}
	return out
}

// Node validates i as a node index.
func (s *Searcher) Node(i int) (NodeRef, error) {
	if i < 0 || i >= len(s.nodes) {
		return 0, graphErr(ErrInvalidIndex, fmt.Sprintf("node %d", i), "searcher has %d nodes", len(s.nodes))
	}
	return NodeRef(i), nil
}

// Edge validates i as an edge index.
func (s *Searcher) Edge(i int) (EdgeRef, error) {
	if i < 0 || i >= len(s.edges) {
		return 0, graphErr(ErrInvalidIndex, fmt.Sprintf("edge %d", i), "searcher has %d edges", len(s.edges))
	}
	return EdgeRef(i), nil
}

// Inputs returns the ordered input edges of n.
func (s *Searcher) Inputs(n NodeRef) []EdgeRef {
	return slices.Clone(s.nodes[n].inputs)
}

// Outputs returns the ordered output edges of n.
func (s *Searcher) Outputs(n NodeRef) []EdgeRef {
	return slices.Clone(s.nodes[n].outputs)
}

// Predecessors returns the nodes producing any input of n, ascending.
func (s *Searcher) Predecessors(n NodeRef) []NodeRef {
	return slices.Clone(s.nodes[n].predecessors)
}

// Successors returns the nodes consuming any output of n, ascending.
// The External sentinel is never included.
func (s *Searcher) Successors(n NodeRef) []NodeRef {
	return slices.Clone(s.nodes[n].successors)
}

// Source returns the node producing e. It reports false for global inputs and
// local edges.
func (s *Searcher) Source(e EdgeRef) (NodeRef, bool) {
	src := s.edges[e].source
	return src, src != External
}

// Targets returns the nodes consuming e in ascending order, followed by External
// when e is a global output.
func (s *Searcher) Targets(e EdgeRef) []NodeRef {
	return slices.Clone(s.edges[e].targets)
}

// GlobalInputs returns every edge without a producing node, ascending.
// This covers declared global inputs and local edges alike.
func (s *Searcher) GlobalInputs() []EdgeRef {
	var out []EdgeRef
	for i, e := range s.edges {
		if e.source == External {
			out = append(out, EdgeRef(i))
		}
	}
	return out
}

// GlobalOutputs returns the global output edges in declaration order.
func (s *Searcher) GlobalOutputs() []EdgeRef {
	return slices.Clone(s.globalOutputs)
}

// Clone returns a deep copy of the index. The Topology is shared since it is immutable.
func (s *Searcher) Clone() *Searcher {
	c := &Searcher{
		topology:      s.topology,
		nodes:         make([]searchNode, len(s.nodes)),
		edges:         make([]searchEdge, len(s.edges)),
		globalOutputs: slices.Clone(s.globalOutputs),
	}
	for i, n := range s.nodes {
		c.nodes[i] = searchNode{
			inputs:       slices.Clone(n.inputs),
			outputs:      slices.Clone(n.outputs),
			predecessors: slices.Clone(n.predecessors),
			successors:   slices.Clone(n.successors),
		}
	}
	for i, e := range s.edges {
		c.edges[i] = searchEdge{source: e.source, targets: slices.Clone(e.targets)}
	}
	return c
}
