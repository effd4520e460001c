package topo

import (
	"fmt"
	"slices"
)

// Subgraph is a Topology cut out of a larger one.
type Subgraph struct {
	Topology *Topology
	Nodes    []NodeRef // New node index -> source node
	Edges    []EdgeRef // New edge index -> source edge
}

// Extract builds the subgraph induced by nodes.
//
// Edges consumed by a kept node but produced elsewhere become global inputs. Edges
// produced by a kept node and read outside the selection, or by the caller, become
// global outputs. Locals stay locals when their owning node is kept and reads them.
func (s *Searcher) Extract(nodes []NodeRef) (*Subgraph, error) {
	keep := slices.Clone(nodes)
	slices.Sort(keep)
	keep = slices.Compact(keep)
	kept := make(map[NodeRef]bool, len(keep))
	for _, n := range keep {
		if _, err := s.Node(int(n)); err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		kept[n] = true
	}

	var (
		c      = NewComposer()
		remap  = make(map[EdgeRef]int)
		source []EdgeRef
	)
	isLocalOf := func(n NodeRef, e EdgeRef) bool {
		return s.topology.Locals(int(n)).Contains(int(e))
	}

	for _, n := range keep {
		for _, e := range s.nodes[n].inputs {
			if _, ok := remap[e]; ok {
				continue
			}
			if src, ok := s.Source(e); ok && kept[src] {
				continue
			}
			if isLocalOf(n, e) {
				continue
			}
			remap[e] = c.AddEdge()
			source = append(source, e)
		}
	}

	var outputs []EdgeRef
	for i, n := range keep {
		inputs := make([]int, 0, len(s.nodes[n].inputs))
		for _, e := range s.nodes[n].inputs {
			idx, ok := remap[e]
			if !ok {
				// Only locals of n are left unmapped here.
				idx = c.AddLocal()
				remap[e] = idx
				source = append(source, e)
			}
			inputs = append(inputs, idx)
		}
		ref, err := c.AddNode(inputs, len(s.nodes[n].outputs))
		if err != nil {
			return nil, fmt.Errorf("extract node %d: %w", n, err)
		}
		if int(ref) != i {
			panic("topo: composer node index out of sync")
		}
		for k, e := range s.nodes[n].outputs {
			remap[e] = c.Output(ref, k)
			source = append(source, e)
			if s.escapes(e, kept) {
				outputs = append(outputs, e)
			}
		}
	}

	marked := make([]int, len(outputs))
	for i, e := range outputs {
		marked[i] = remap[e]
	}
	if err := c.MarkOutputs(marked...); err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	t, err := c.Topology()
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return &Subgraph{Topology: t, Nodes: keep, Edges: source}, nil
}

// escapes reports whether e is read by the caller or by a node outside kept.
func (s *Searcher) escapes(e EdgeRef, kept map[NodeRef]bool) bool {
	for _, t := range s.edges[e].targets {
		if t == External || !kept[t] {
			return true
		}
	}
	return false
}
