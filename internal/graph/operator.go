package graph

import "fmt"

// AttrType tags the value held by an Attribute, numbered like ONNX AttributeProto.
type AttrType int32

// Attribute types.
const (
	AttrUndefined AttrType = 0
	AttrFloat     AttrType = 1
	AttrInt       AttrType = 2
	AttrString    AttrType = 3
	AttrFloats    AttrType = 6
	AttrInts      AttrType = 7
	AttrStrings   AttrType = 8
)

// Attribute represents a node attribute.
type Attribute struct {
	Name    string    // Attribute name
	Type    AttrType  // Attribute type
	F       float32   // FLOAT value
	I       int64     // INT value
	S       string    // STRING value
	Floats  []float32 // FLOATS array
	Ints    []int64   // INTS array
	Strings []string  // STRINGS array
}

// String implements fmt.Stringer.
func (a Attribute) String() string {
	switch a.Type {
	case AttrFloat:
		return fmt.Sprintf("%s=%g", a.Name, a.F)
	case AttrInt:
		return fmt.Sprintf("%s=%d", a.Name, a.I)
	case AttrString:
		return fmt.Sprintf("%s=%q", a.Name, a.S)
	case AttrFloats:
		return fmt.Sprintf("%s=%v", a.Name, a.Floats)
	case AttrInts:
		return fmt.Sprintf("%s=%v", a.Name, a.Ints)
	case AttrStrings:
		return fmt.Sprintf("%s=%q", a.Name, a.Strings)
	default:
		return a.Name
	}
}

// Operator is the payload of a graph node.
type Operator struct {
	Name       string      // Node name (optional)
	OpType     string      // Operation type (e.g., "MatMul", "Relu")
	Domain     string      // Custom domain (empty for default)
	Attributes []Attribute // Operation attributes
}

func (op *Operator) attr(name string) (*Attribute, bool) {
	for i := range op.Attributes {
		if op.Attributes[i].Name == name {
			return &op.Attributes[i], true
		}
	}
	return nil, false
}

// AttrInt returns an integer attribute or default value.
func (op *Operator) AttrInt(name string, defaultVal int64) int64 {
	if a, ok := op.attr(name); ok {
		return a.I
	}
	return defaultVal
}

// AttrInts returns an integer array attribute.
func (op *Operator) AttrInts(name string) []int64 {
	if a, ok := op.attr(name); ok {
		return a.Ints
	}
	return nil
}

// AttrFloat returns a float attribute or default value. Integer attributes are
// converted.
func (op *Operator) AttrFloat(name string, defaultVal float32) float32 {
	if a, ok := op.attr(name); ok {
		if a.Type == AttrInt {
			return float32(a.I)
		}
		return a.F
	}
	return defaultVal
}

// AttrString returns a string attribute or default value.
func (op *Operator) AttrString(name, defaultVal string) string {
	if a, ok := op.attr(name); ok {
		return a.S
	}
	return defaultVal
}

// String implements fmt.Stringer.
func (op *Operator) String() string {
	s := op.OpType
	if op.Domain != "" {
		s = op.Domain + "." + s
	}
	if len(op.Attributes) > 0 {
		s += fmt.Sprint(op.Attributes)
	}
	return s
}
