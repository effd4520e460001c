// Package stack plans the memory of a computation graph.
//
// Every edge and every node workspace gets a byte offset in one of two regions:
//   - the pinned region, laid out flat and never reused (graph inputs and outputs);
//   - the reusable region, where a liveness-driven allocator hands back a range
//     once its last consumer has run.
//
// Two realtime allocators implement RealtimeCalculator: Flat bumps a cursor and
// never frees, Unidir keeps a best-fit index of free ranges and coalesces neighbors
// on free. Both are deterministic: the same sequence of Alloc/Free calls always
// yields the same ranges, which is what Replay relies on.
//
// Planner combines them into a Plan, the one description of memory that every
// backend consumes.
package stack
