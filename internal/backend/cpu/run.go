package cpu

import (
	"context"
	"fmt"

	"k8s.io/klog/v2"
)

// Run executes every node once, in topological order, on the calling goroutine.
//
// Global inputs and externs must have been copied in. A panic inside a routine is
// returned as an *ExecError naming the node. Run checks ctx between nodes.
func (g *Graph) Run(ctx context.Context) error {
	log := klog.FromContext(ctx)

	var inputs, outputs [][]byte
	for i := range g.nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := &g.nodes[i]

		inputs = inputs[:0]
		for _, e := range n.step.Inputs {
			if g.edges[e] == nil && g.sizes[e] > 0 {
				return g.execError(n, fmt.Errorf("input %s: %w", g.src.EdgeName(e), ErrUnboundEdge))
			}
			inputs = append(inputs, g.edges[e])
		}
		outputs = outputs[:0]
		for _, e := range n.step.Outputs.Indices() {
			outputs = append(outputs, g.edges[e])
		}
		ws := g.plan.Workspaces[n.step.Node]

		if err := g.call(n, inputs, outputs, g.reusable[ws.Start:ws.End:ws.End]); err != nil {
			return err
		}
		log.V(4).Info("Ran node", "node", n.name, "op", n.op)
	}
	return nil
}

func (g *Graph) call(n *node, inputs, outputs [][]byte, workspace []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = g.execError(n, fmt.Errorf("routine panicked: %v", r))
		}
	}()
	n.routine(inputs, outputs, workspace)
	return nil
}

func (g *Graph) execError(n *node, err error) *ExecError {
	return &ExecError{Node: n.step.Node, Name: n.name, Op: n.op, Err: err}
}
