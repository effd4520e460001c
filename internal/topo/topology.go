package topo

import (
	"fmt"
	"iter"
)

// Node stores the edge counts of one node.
type Node struct {
	LocalEdges int // Edges first consumed here and produced by nobody
	Inputs     int // Number of input connections
	Outputs    int // Number of output edges
}

// EdgeRange is a half-open range of edge indices.
type EdgeRange struct {
	Start int
	End   int
}

// Len returns the number of edges in the range.
func (r EdgeRange) Len() int {
	return r.End - r.Start
}

// Contains reports whether edge i lies in the range.
func (r EdgeRange) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Indices returns the edge indices as a slice.
func (r EdgeRange) Indices() []int {
	out := make([]int, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		out = append(out, i)
	}
	return out
}

// Step is one node visited in topological order.
type Step struct {
	Node    int
	Inputs  []int
	Locals  EdgeRange
	Outputs EdgeRange
}

// Topology is an immutable ordered-multi-edge DAG.
type Topology struct {
	globalInputsLen  int
	globalOutputsLen int
	nodes            []Node
	connections      []int

	// Derived at construction.
	inputStart []int // Offset of node i's inputs in connections
	edgeStart  []int // First local edge of node i
	edgeCount  int
}

// New validates raw topology arrays and returns an immutable Topology.
// The slices are copied.
func New(globalInputsLen int, nodes []Node, connections []int, globalOutputsLen int) (*Topology, error) {
	if globalInputsLen < 0 || globalOutputsLen < 0 {
		return nil, graphErr(ErrInvalidIndex, "topology", "negative global edge count")
	}
	t := &Topology{
		globalInputsLen:  globalInputsLen,
		globalOutputsLen: globalOutputsLen,
		nodes:            append([]Node(nil), nodes...),
		connections:      append([]int(nil), connections...),
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return t, nil
}

// index computes prefix sums and checks the topological invariants.
func (t *Topology) index() error {
	t.inputStart = make([]int, len(t.nodes))
	t.edgeStart = make([]int, len(t.nodes))

	conn := t.globalOutputsLen
	edges := t.globalInputsLen
	for i, n := range t.nodes {
		if n.LocalEdges < 0 || n.Inputs < 0 || n.Outputs < 0 {
			return graphErr(ErrInvalidIndex, fmt.Sprintf("node %d", i), "negative edge count")
		}
		t.inputStart[i] = conn
		t.edgeStart[i] = edges
		if conn+n.Inputs > len(t.connections) {
			return graphErr(ErrInvalidIndex, fmt.Sprintf("node %d", i),
				"connections array too short (%d)", len(t.connections))
		}
		// Inputs may reference this node's own locals but never its outputs.
		visible := edges + n.LocalEdges
		for _, e := range t.connections[conn : conn+n.Inputs] {
			if e < 0 || e >= visible {
				return graphErr(ErrDanglingEdgeReference, fmt.Sprintf("node %d", i),
					"input edge %d not produced before the node", e)
			}
		}
		conn += n.Inputs
		edges += n.LocalEdges + n.Outputs
	}
	if conn != len(t.connections) {
		return graphErr(ErrInvalidIndex, "topology",
			"connections length %d, expected %d", len(t.connections), conn)
	}
	t.edgeCount = edges
	for _, e := range t.connections[:t.globalOutputsLen] {
		if e < 0 || e >= edges {
			return graphErr(ErrDanglingEdgeReference, fmt.Sprintf("edge %d", e), "global output out of range")
		}
	}
	return nil
}

// NodeCount returns the number of nodes.
func (t *Topology) NodeCount() int {
	return len(t.nodes)
}

// EdgeCount returns the number of edges.
func (t *Topology) EdgeCount() int {
	return t.edgeCount
}

// GlobalInputs returns the range of global input edges.
func (t *Topology) GlobalInputs() EdgeRange {
	return EdgeRange{Start: 0, End: t.globalInputsLen}
}

// GlobalOutputs returns the global output edge indices in declaration order.
// The returned slice must not be modified.
func (t *Topology) GlobalOutputs() []int {
	return t.connections[:t.globalOutputsLen]
}

// Connections returns the raw connections array. It must not be modified.
func (t *Topology) Connections() []int {
	return t.connections
}

// Node returns the counts of node i.
func (t *Topology) Node(i int) Node {
	return t.nodes[i]
}

// Nodes returns a copy of all node descriptors.
func (t *Topology) Nodes() []Node {
	return append([]Node(nil), t.nodes...)
}

// Inputs returns the input edges of node i. The slice must not be modified.
func (t *Topology) Inputs(i int) []int {
	start := t.inputStart[i]
	return t.connections[start : start+t.nodes[i].Inputs]
}

// Locals returns the local edges introduced by node i.
func (t *Topology) Locals(i int) EdgeRange {
	start := t.edgeStart[i]
	return EdgeRange{Start: start, End: start + t.nodes[i].LocalEdges}
}

// Outputs returns the output edges of node i.
func (t *Topology) Outputs(i int) EdgeRange {
	start := t.edgeStart[i] + t.nodes[i].LocalEdges
	return EdgeRange{Start: start, End: start + t.nodes[i].Outputs}
}

// Step returns node i with its resolved edges.
func (t *Topology) Step(i int) Step {
	return Step{
		Node:    i,
		Inputs:  t.Inputs(i),
		Locals:  t.Locals(i),
		Outputs: t.Outputs(i),
	}
}

// All iterates nodes in topological order.
func (t *Topology) All() iter.Seq[Step] {
	return func(yield func(Step) bool) {
		for i := range t.nodes {
			if !yield(t.Step(i)) {
				return
			}
		}
	}
}

// IsGlobalOutput reports whether edge e is one of the global outputs.
func (t *Topology) IsGlobalOutput(e int) bool {
	for _, o := range t.GlobalOutputs() {
		if o == e {
			return true
		}
	}
	return false
}

// EdgeRefCounts returns, per edge, the number of times it is referenced in the
// connections array (node inputs plus global outputs).
func (t *Topology) EdgeRefCounts() []int {
	rc := make([]int, t.edgeCount)
	for _, e := range t.connections {
		rc[e]++
	}
	return rc
}

// Producer returns the node producing edge e, or -1 for global inputs and locals.
func (t *Topology) Producer(e int) int {
	if e < t.globalInputsLen || e >= t.edgeCount || len(t.nodes) == 0 {
		return -1
	}
	// Binary search over edgeStart.
	lo, hi := 0, len(t.nodes)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if t.edgeStart[mid] <= e {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if t.Outputs(lo).Contains(e) {
		return lo
	}
	return -1
}

// String renders the topology in a compact one-line-per-node form.
func (t *Topology) String() string {
	s := fmt.Sprintf("graph. %v <- %v\n", t.GlobalOutputs(), t.GlobalInputs().Indices())
	for st := range t.All() {
		s += fmt.Sprintf("*%d. %v <- %v (locals %v)\n", st.Node, st.Outputs.Indices(), st.Inputs, st.Locals.Indices())
	}
	return s
}
