// Package topo provides the compact ordered-multi-edge graph topology used by the
// inference engine.
//
// A Topology knows nothing about operators or tensors. It stores three counts per
// node (local edges, inputs, outputs) and one flat connections array. Edge indices
// are laid out in a fixed order:
//
//	[global inputs][node 0 locals][node 0 outputs][node 1 locals][node 1 outputs]...
//
// and the connections array holds:
//
//	[global outputs][node 0 inputs][node 1 inputs]...
//
// With prefix sums computed once at construction, every node's inputs and outputs are
// recovered in O(1).
//
// Three ways to obtain a Topology:
//   - Builder: map-keyed description with arbitrary node/edge keys, placed with a
//     Kahn worklist (cyclic or dangling descriptions are rejected).
//   - Composer: incremental construction in topological order.
//   - New: raw arrays, validated.
//
// Searcher is a read-only index (predecessors, successors, edge sources and targets)
// used by graph tooling such as subgraph extraction. Execution never needs it.
package topo
