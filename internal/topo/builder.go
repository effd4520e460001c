package topo

import (
	"fmt"
	"sort"
)

// Connections lists the ordered input and output edge keys of one node.
type Connections[EK comparable] struct {
	Inputs  []EK
	Outputs []EK
}

// Graph is a Topology plus node and edge payloads indexed to match it.
type Graph[N, E any] struct {
	Topology *Topology
	Nodes    []N
	Edges    []E
}

// Keys maps the indices of a built Graph back to the builder's keys.
type Keys[NK, EK comparable] struct {
	Nodes []NK
	Edges []EK
}

// Builder is a map-keyed, human-editable graph description.
//
// Example:
//
//	b := topo.Builder[string, string, string, int]{
//	    Topology: map[string]topo.Connections[string]{
//	        "A": {Inputs: []string{"a", "b"}, Outputs: []string{"c", "d"}},
//	        "B": {Inputs: []string{"d", "e"}, Outputs: []string{"f"}},
//	        "C": {Inputs: []string{"f", "c"}, Outputs: []string{"z"}},
//	    },
//	    GlobalInputs:  []string{"a"},
//	    GlobalOutputs: []string{"z"},
//	}
//	g, err := b.Build()
type Builder[NK comparable, N any, EK comparable, E any] struct {
	// Topology records, per node, its ordered inputs and outputs.
	Topology map[NK]Connections[EK]
	// GlobalInputs are edges supplied by the caller.
	GlobalInputs []EK
	// GlobalOutputs are edges returned to the caller.
	GlobalOutputs []EK
	// Nodes holds node payloads. A nil map means every node gets the zero value.
	Nodes map[NK]N
	// Edges holds edge payloads. Missing entries get the zero value.
	Edges map[EK]E
	// Less orders nodes that become ready at the same time. Nil compares keys
	// by their fmt.Sprint form.
	Less func(a, b NK) bool
}

// Build places every node in topological order and returns the compact graph.
func (b *Builder[NK, N, EK, E]) Build() (*Graph[N, E], error) {
	g, _, err := b.BuildWithKeys()
	return g, err
}

// BuildWithKeys is Build that also returns the key of every node and edge index.
//
//nolint:gocognit,gocyclo,cyclop,funlen // Placement, validation and reindexing share state.
func (b *Builder[NK, N, EK, E]) BuildWithKeys() (*Graph[N, E], Keys[NK, EK], error) {
	var keys Keys[NK, EK]

	// Every edge with a known source: global inputs and node outputs.
	const globalProducer = -1
	producer := make(map[EK]int, len(b.GlobalInputs))
	for _, e := range b.GlobalInputs {
		if _, dup := producer[e]; dup {
			return nil, keys, graphErr(ErrDuplicateProducer, e, "declared twice as a global input")
		}
		producer[e] = globalProducer
	}

	order := b.sortedNodeKeys()
	ord := make(map[NK]int, len(order))
	for i, k := range order {
		ord[k] = i
	}
	for i, k := range order {
		for _, e := range b.Topology[k].Outputs {
			if prev, dup := producer[e]; dup {
				if prev == globalProducer {
					return nil, keys, graphErr(ErrDuplicateProducer, e, "global input is also produced by node %v", k)
				}
				return nil, keys, graphErr(ErrDuplicateProducer, e, "produced by %v and %v", order[prev], k)
			}
			producer[e] = i
		}
	}

	// Kahn bookkeeping: pending counts distinct node-produced inputs.
	pending := make([]int, len(order))
	waiting := make(map[EK][]int)
	for i, k := range order {
		seen := make(map[EK]struct{})
		for _, e := range b.Topology[k].Inputs {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			if p, ok := producer[e]; ok && p != globalProducer {
				pending[i]++
				waiting[e] = append(waiting[e], i)
			}
		}
	}
	queue := make([]int, 0, len(order))
	for i := range order {
		if pending[i] == 0 {
			queue = append(queue, i)
		}
	}

	var (
		topoNodes   = make([]Node, 0, len(order))
		connections = make([]int, len(b.GlobalOutputs))
		nodes       = make([]N, 0, len(order))
		edges       = make([]E, 0)
		keyToIdx    = make(map[EK]int)
	)
	pushEdge := func(e EK) {
		keyToIdx[e] = len(edges)
		edges = append(edges, b.Edges[e])
		keys.Edges = append(keys.Edges, e)
	}
	for _, e := range b.GlobalInputs {
		pushEdge(e)
	}

	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		k := order[i]
		conn := b.Topology[k]

		payload, ok := b.Nodes[k]
		if !ok && b.Nodes != nil {
			return nil, keys, graphErr(ErrMissingNodePayload, k, "")
		}

		// Inputs never produced by anyone become locals of this node.
		var locals []EK
		for _, e := range conn.Inputs {
			if _, assigned := keyToIdx[e]; assigned {
				continue
			}
			if _, produced := producer[e]; produced {
				// Unreachable when pending reached zero; guards against misuse.
				return nil, keys, graphErr(ErrCyclicGraph, k, "input %v not yet produced", e)
			}
			keyToIdx[e] = -1 // reserve to dedupe repeated locals
			locals = append(locals, e)
		}
		topoNodes = append(topoNodes, Node{
			LocalEdges: len(locals),
			Inputs:     len(conn.Inputs),
			Outputs:    len(conn.Outputs),
		})
		nodes = append(nodes, payload)
		keys.Nodes = append(keys.Nodes, k)

		for _, e := range locals {
			pushEdge(e)
		}
		for _, e := range conn.Inputs {
			connections = append(connections, keyToIdx[e])
		}
		for _, e := range conn.Outputs {
			pushEdge(e)
			for _, c := range waiting[e] {
				pending[c]--
				if pending[c] == 0 {
					queue = append(queue, c)
				}
			}
		}
	}

	if len(topoNodes) < len(order) {
		for i, k := range order {
			if pending[i] > 0 {
				return nil, keys, graphErr(ErrCyclicGraph, k,
					"%d of %d nodes could not be placed", len(order)-len(topoNodes), len(order))
			}
		}
	}

	for i, e := range b.GlobalOutputs {
		idx, ok := keyToIdx[e]
		if !ok {
			return nil, keys, graphErr(ErrDanglingEdgeReference, e, "global output is never produced")
		}
		connections[i] = idx
	}

	t, err := New(len(b.GlobalInputs), topoNodes, connections, len(b.GlobalOutputs))
	if err != nil {
		return nil, keys, fmt.Errorf("built topology is invalid: %w", err)
	}
	return &Graph[N, E]{Topology: t, Nodes: nodes, Edges: edges}, keys, nil
}

// sortedNodeKeys returns node keys in a deterministic order.
func (b *Builder[NK, N, EK, E]) sortedNodeKeys() []NK {
	order := make([]NK, 0, len(b.Topology))
	for k := range b.Topology {
		order = append(order, k)
	}
	less := b.Less
	if less == nil {
		less = func(x, y NK) bool { return fmt.Sprint(x) < fmt.Sprint(y) }
	}
	sort.SliceStable(order, func(i, j int) bool { return less(order[i], order[j]) })
	return order
}
