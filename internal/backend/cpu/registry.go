package cpu

import (
	"fmt"
	"sort"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/stack"
	"github.com/born-ml/infer/internal/tensor"
)

// Routine executes one lowered node. Inputs and outputs are in declared order.
// Outputs never alias inputs.
type Routine func(inputs, outputs [][]byte, workspace []byte)

// Lowered is the executable form of one node.
type Lowered struct {
	Routine   Routine
	Workspace stack.Layout // Scratch memory the routine needs while it runs
}

// LowerFunc turns an operator and the descriptors of its edges into a Lowered.
// Descriptors are concrete: every shape is fully resolved.
type LowerFunc func(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error)

// Registry maps operator types to lowering functions.
//
// A Registry is read concurrently during Build and must not be modified while a
// Build is running.
type Registry struct {
	lowerers map[string]LowerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{lowerers: make(map[string]LowerFunc)}
}

// DefaultRegistry creates a registry with every built-in routine.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.registerElementwise()
	r.registerActivations()
	r.registerMatMul()
	r.registerShapeOps()

	return r
}

// Register adds or replaces the lowering of an operator type.
func (r *Registry) Register(opType string, lower LowerFunc) {
	r.lowerers[opType] = lower
}

// Get returns the lowering of an operator type.
func (r *Registry) Get(opType string) (LowerFunc, bool) {
	l, ok := r.lowerers[opType]
	return l, ok
}

// Lower lowers one node.
func (r *Registry) Lower(op *graph.Operator, inputs, outputs []*tensor.Tensor) (Lowered, error) {
	lower, ok := r.lowerers[op.OpType]
	if !ok {
		return Lowered{}, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op.OpType)
	}
	l, err := lower(op, inputs, outputs)
	if err != nil {
		return Lowered{}, err
	}
	if l.Workspace.Align == 0 {
		l.Workspace.Align = 1
	}
	return l, nil
}

// SupportedOps returns the registered operator types, sorted.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.lowerers))
	for op := range r.lowerers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func numElements(t *tensor.Tensor) int {
	n, err := t.NumElements()
	if err != nil {
		panic(fmt.Sprintf("cpu: unresolved shape %v", t.Shape))
	}
	return n
}

func requireFloat32(op *graph.Operator, ts ...*tensor.Tensor) error {
	for _, t := range ts {
		if t.DType != tensor.Float32 {
			return fmt.Errorf("%w: %s on %v (only float32 supported)", ErrUnsupportedOperator, op.OpType, t.DType)
		}
	}
	return nil
}

func requireArity(op *graph.Operator, inputs, outputs []*tensor.Tensor, lo, hi int) error {
	if len(inputs) < lo || len(inputs) > hi {
		return fmt.Errorf("%s: expected %d to %d inputs, got %d", op.OpType, lo, hi, len(inputs))
	}
	if len(outputs) != 1 {
		return fmt.Errorf("%s: expected 1 output, got %d", op.OpType, len(outputs))
	}
	return nil
}
