package cpu

import (
	"fmt"

	"github.com/born-ml/infer/internal/stack"
)

// CopyIn copies data into edge e. The length of data must match the edge size.
//
// Copying into an extern binds it: the graph keeps its own copy of the bytes.
// Constants cannot be written.
func (g *Graph) CopyIn(e int, data []byte) error {
	if err := g.checkWrite(e, data); err != nil {
		return err
	}
	g.copyIn(e, data)
	return nil
}

// CopyInBatch copies several edges. Every target is checked before any bytes
// move, so on error the graph is unchanged.
func (g *Graph) CopyInBatch(data map[int][]byte) error {
	for e, d := range data {
		if err := g.checkWrite(e, d); err != nil {
			return err
		}
	}
	for e, d := range data {
		g.copyIn(e, d)
	}
	return nil
}

// CopyOut returns a copy of the bytes of edge e.
//
// Reusable edges hold the value computed by the last Run only until a later node
// reuses their range; global outputs are pinned and always readable.
func (g *Graph) CopyOut(e int) ([]byte, error) {
	if err := g.checkRead(e); err != nil {
		return nil, err
	}
	return append(make([]byte, 0, g.sizes[e]), g.edges[e]...), nil
}

// CopyOutInto copies the bytes of edge e into dst, which must have the edge size.
func (g *Graph) CopyOutInto(e int, dst []byte) error {
	if err := g.checkRead(e); err != nil {
		return err
	}
	if len(dst) != g.sizes[e] {
		return fmt.Errorf("%w: edge %s holds %d bytes, destination has %d",
			ErrInvalidCopyTarget, g.src.EdgeName(e), g.sizes[e], len(dst))
	}
	copy(dst, g.edges[e])
	return nil
}

// CopyOutBatch returns copies of several edges, in the order given.
func (g *Graph) CopyOutBatch(edges []int) ([][]byte, error) {
	out := make([][]byte, len(edges))
	for i, e := range edges {
		b, err := g.CopyOut(e)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (g *Graph) copyIn(e int, data []byte) {
	if g.plan.Edges[e].Class == stack.Extern && g.edges[e] == nil {
		g.edges[e] = make([]byte, g.sizes[e])
	}
	copy(g.edges[e], data)
}

func (g *Graph) checkEdge(e int) error {
	if e < 0 || e >= len(g.edges) {
		return fmt.Errorf("%w: edge %d out of range [0, %d)", ErrInvalidCopyTarget, e, len(g.edges))
	}
	return nil
}

func (g *Graph) checkWrite(e int, data []byte) error {
	if err := g.checkEdge(e); err != nil {
		return err
	}
	if !g.plan.Edges[e].Class.HostWritable() {
		return fmt.Errorf("%w: edge %s is %v", ErrInvalidCopyTarget, g.src.EdgeName(e), g.plan.Edges[e].Class)
	}
	if len(data) != g.sizes[e] {
		return fmt.Errorf("%w: edge %s holds %d bytes, got %d",
			ErrInvalidCopyTarget, g.src.EdgeName(e), g.sizes[e], len(data))
	}
	return nil
}

func (g *Graph) checkRead(e int) error {
	if err := g.checkEdge(e); err != nil {
		return err
	}
	if g.plan.Edges[e].Class == stack.Extern && g.edges[e] == nil {
		return fmt.Errorf("%w: extern %s is not bound", ErrInvalidCopyTarget, g.src.EdgeName(e))
	}
	return nil
}
