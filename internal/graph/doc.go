// Package graph is the computation graph consumed by the executors: a topology whose
// nodes carry operators and whose edges carry tensor descriptors.
//
// Graphs come out of a Builder keyed by node and edge names. InferShapes fills in
// the descriptors of node outputs for the supported operators and Substitute binds
// symbolic dimensions to concrete sizes.
package graph
