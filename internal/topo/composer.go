package topo

import "fmt"

// NodeRef identifies a node added to a Composer.
type NodeRef int

// Composer builds a Topology incrementally, in topological order.
//
// Edges added before the first node are global inputs. Edges added after a node,
// or after AddLocal, become local edges of the next node added, which must
// consume them.
type Composer struct {
	globalInputs int
	nodes        []Node
	inputs       []int
	outputs      []int
	edgeCount    int
	pending      []int // Locals waiting for the next node
	globalOut    []int
	marked       map[int]bool
}

// NewComposer returns an empty Composer.
func NewComposer() *Composer {
	return &Composer{marked: make(map[int]bool)}
}

// AddEdge allocates a new unproduced edge.
func (c *Composer) AddEdge() int {
	e := c.edgeCount
	c.edgeCount++
	if len(c.nodes) == 0 && len(c.pending) == 0 {
		c.globalInputs++
	} else {
		c.pending = append(c.pending, e)
	}
	return e
}

// AddLocal allocates a new edge owned by the next node, even before the first one.
func (c *Composer) AddLocal() int {
	e := c.edgeCount
	c.edgeCount++
	c.pending = append(c.pending, e)
	return e
}

// AddNode appends a node consuming inputs and producing outputs new edges.
func (c *Composer) AddNode(inputs []int, outputs int) (NodeRef, error) {
	if outputs < 0 {
		return 0, fmt.Errorf("add node: negative output count %d", outputs)
	}
	for _, e := range inputs {
		if e < 0 || e >= c.edgeCount {
			return 0, graphErr(ErrDanglingEdgeReference, fmt.Sprintf("edge %d", e), "not allocated")
		}
	}
	for _, e := range c.pending {
		if !contains(inputs, e) {
			return 0, graphErr(ErrDanglingEdgeReference, fmt.Sprintf("edge %d", e),
				"local edge must be consumed by node %d", len(c.nodes))
		}
	}
	c.nodes = append(c.nodes, Node{
		LocalEdges: len(c.pending),
		Inputs:     len(inputs),
		Outputs:    outputs,
	})
	c.inputs = append(c.inputs, inputs...)
	c.outputs = append(c.outputs, c.edgeCount)
	c.edgeCount += outputs
	c.pending = c.pending[:0]
	return NodeRef(len(c.nodes) - 1), nil
}

// Output returns the k-th output edge of node n.
func (c *Composer) Output(n NodeRef, k int) int {
	if k < 0 || k >= c.nodes[n].Outputs {
		panic(fmt.Sprintf("topo: node %d has no output %d", n, k))
	}
	return c.outputs[n] + k
}

// MarkOutputs appends edges to the global outputs, in order.
func (c *Composer) MarkOutputs(edges ...int) error {
	for _, e := range edges {
		if e < 0 || e >= c.edgeCount {
			return graphErr(ErrDanglingEdgeReference, fmt.Sprintf("edge %d", e), "not allocated")
		}
		if c.marked[e] {
			return graphErr(ErrDuplicateProducer, fmt.Sprintf("edge %d", e), "already marked as output")
		}
		c.marked[e] = true
		c.globalOut = append(c.globalOut, e)
	}
	return nil
}

// Topology finishes composition.
func (c *Composer) Topology() (*Topology, error) {
	if len(c.pending) > 0 {
		return nil, graphErr(ErrDanglingEdgeReference, fmt.Sprintf("edge %d", c.pending[0]),
			"local edge is not consumed by any node")
	}
	connections := make([]int, 0, len(c.globalOut)+len(c.inputs))
	connections = append(connections, c.globalOut...)
	connections = append(connections, c.inputs...)
	return New(c.globalInputs, c.nodes, connections, len(c.globalOut))
}

func contains(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
