package onnx

import (
	"context"
	"fmt"
	"slices"

	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/blobs"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/graphdesc"
	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/topo"
)

// Load reads the model at location and imports its graph.
// See blobs.Open for the supported locations.
func Load(ctx context.Context, location string) (*graphdesc.Description, error) {
	log := klog.FromContext(ctx)

	r, name, err := blobs.Open(location)
	if err != nil {
		return nil, err
	}
	data, err := r.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	b, err := Import(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	log.V(2).Info("Imported ONNX model", "location", location, "producer", m.ProducerName,
		"opset", m.Opset(), "nodes", len(b.Nodes), "inputs", b.GlobalInputs, "outputs", b.GlobalOutputs)
	return &graphdesc.Description{Name: m.Graph.Name, Builder: b}, nil
}

// Opset returns the version of the default operator set, or 0 when the model
// does not import it.
func (m *ModelProto) Opset() int64 {
	for _, o := range m.OpsetImport {
		if isDefaultDomain(o.Domain) {
			return o.Version
		}
	}
	return 0
}

func isDefaultDomain(domain string) bool {
	return domain == "" || domain == "ai.onnx"
}

// Import converts the graph of m into a builder.
//
// Initializers become constant edges and so do the outputs of Constant nodes.
// Graph inputs that are not initializers become global inputs. Unnamed nodes are
// keyed by their operator type and position.
func Import(m *ModelProto) (*graph.Builder, error) {
	g := m.Graph
	if g == nil {
		return nil, ErrNoGraph
	}
	b := &graph.Builder{
		Topology: make(map[string]topo.Connections[string], len(g.Nodes)),
		Nodes:    make(map[string]graph.Operator, len(g.Nodes)),
		Edges:    make(map[string]*tensor.Tensor, len(g.Initializers)+len(g.Inputs)),
	}

	for i := range g.Initializers {
		init := &g.Initializers[i]
		t, err := tensorFromProto(init)
		if err != nil {
			return nil, fmt.Errorf("initializer %q: %w", init.Name, err)
		}
		b.Edges[init.Name] = t
	}

	for i := range g.Inputs {
		in := &g.Inputs[i]
		if _, ok := b.Edges[in.Name]; ok {
			continue
		}
		t, err := descriptor(in)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		b.GlobalInputs = append(b.GlobalInputs, in.Name)
		b.Edges[in.Name] = t
	}
	for i := range g.Outputs {
		b.GlobalOutputs = append(b.GlobalOutputs, g.Outputs[i].Name)
	}

	opset := m.Opset()
	for i := range g.Nodes {
		n := &g.Nodes[i]
		key := n.Name
		if key == "" {
			key = fmt.Sprintf("%s_%d", n.OpType, i)
		}
		if !isDefaultDomain(n.Domain) {
			return nil, fmt.Errorf("node %s: %w: domain %q", key, ErrUnsupported, n.Domain)
		}

		if n.OpType == "Constant" {
			t, err := constantValue(n)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", key, err)
			}
			if _, dup := b.Edges[n.Outputs[0]]; dup {
				return nil, fmt.Errorf("node %s: %w: edge %q defined twice", key, ErrMalformed, n.Outputs[0])
			}
			b.Edges[n.Outputs[0]] = t
			continue
		}

		if _, dup := b.Nodes[key]; dup {
			return nil, fmt.Errorf("%w: node name %q used twice", ErrMalformed, key)
		}
		inputs, err := trimOptional(n.Inputs)
		if err != nil {
			return nil, fmt.Errorf("node %s: inputs: %w", key, err)
		}
		outputs, err := trimOptional(n.Outputs)
		if err != nil {
			return nil, fmt.Errorf("node %s: outputs: %w", key, err)
		}
		attrs, err := attributes(n.Attributes)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", key, err)
		}
		op := graph.Operator{Name: key, OpType: n.OpType, Attributes: attrs}
		upgrade(&op, opset)

		b.Topology[key] = topo.Connections[string]{Inputs: inputs, Outputs: outputs}
		b.Nodes[key] = op
	}
	return b, nil
}

// upgrade rewrites operators whose defaults changed across operator sets.
// Before opset 13 Softmax defaulted to axis 1.
func upgrade(op *graph.Operator, opset int64) {
	if op.OpType == "Softmax" && opset > 0 && opset < 13 {
		if !slices.ContainsFunc(op.Attributes, func(a graph.Attribute) bool { return a.Name == "axis" }) {
			op.Attributes = append(op.Attributes, graph.Attribute{Name: "axis", Type: graph.AttrInt, I: 1})
		}
	}
}

// trimOptional drops trailing empty names, which ONNX uses for omitted optional
// inputs and outputs. An omitted name followed by a present one cannot be
// expressed positionally and is rejected.
func trimOptional(names []string) ([]string, error) {
	end := len(names)
	for end > 0 && names[end-1] == "" {
		end--
	}
	if slices.Contains(names[:end], "") {
		return nil, fmt.Errorf("%w: omitted optional value before %q", ErrUnsupported, names[end-1])
	}
	return names[:end], nil
}

func attributes(attrs []AttributeProto) ([]graph.Attribute, error) {
	out := make([]graph.Attribute, 0, len(attrs))
	for i := range attrs {
		a := &attrs[i]
		ga := graph.Attribute{Name: a.Name, Type: graph.AttrType(a.Type)}
		switch a.Type {
		case AttributeFloat:
			ga.F = a.F
		case AttributeInt:
			ga.I = a.I
		case AttributeString:
			ga.S = string(a.S)
		case AttributeFloats:
			ga.Floats = a.Floats
		case AttributeInts:
			ga.Ints = a.Ints
		case AttributeStrings:
			ga.Strings = make([]string, len(a.Strings))
			for k, s := range a.Strings {
				ga.Strings[k] = string(s)
			}
		case AttributeUndefined:
			return nil, fmt.Errorf("%w: attribute %q has no type", ErrMalformed, a.Name)
		default:
			return nil, fmt.Errorf("%w: attribute %q of type %d", ErrUnsupported, a.Name, a.Type)
		}
		out = append(out, ga)
	}
	return out, nil
}

// descriptor converts the declared type of a graph input. Dimensions that are
// neither sized nor named get a variable named after the input and axis.
func descriptor(vi *ValueInfoProto) (*tensor.Tensor, error) {
	if vi.Type == nil || vi.Type.TensorType == nil {
		return nil, fmt.Errorf("%w: not a tensor", ErrUnsupported)
	}
	tt := vi.Type.TensorType
	if tt.Shape == nil {
		return nil, fmt.Errorf("%w: unknown rank", ErrUnsupported)
	}
	shape := make(tensor.Shape, len(tt.Shape.Dims))
	for i, d := range tt.Shape.Dims {
		switch {
		case d.DimParam != "":
			shape[i] = tensor.Var(d.DimParam)
		case d.HasValue:
			if d.DimValue < 0 {
				return nil, fmt.Errorf("%w: dimension %d is %d", ErrMalformed, i, d.DimValue)
			}
			shape[i] = tensor.Fixed(d.DimValue)
		default:
			shape[i] = tensor.Var(fmt.Sprintf("%s_%d", vi.Name, i))
		}
	}
	return tensor.New(tt.ElemType, shape), nil
}

// constantValue returns the tensor produced by a Constant node.
func constantValue(n *NodeProto) (*tensor.Tensor, error) {
	if len(n.Inputs) != 0 || len(n.Outputs) != 1 || len(n.Attributes) != 1 {
		return nil, fmt.Errorf("%w: Constant takes no inputs, one output and one value attribute", ErrMalformed)
	}
	a := &n.Attributes[0]
	switch a.Name {
	case "value":
		if a.T == nil {
			return nil, fmt.Errorf("%w: Constant value is not a tensor", ErrMalformed)
		}
		return tensorFromProto(a.T)
	case "value_float":
		return tensor.FromSlice([]float32{a.F}, tensor.Shape{})
	case "value_floats":
		return tensor.FromSlice(a.Floats, tensor.Dims(int64(len(a.Floats))))
	case "value_int":
		return tensor.FromSlice([]int64{a.I}, tensor.Shape{})
	case "value_ints":
		return tensor.FromSlice(a.Ints, tensor.Dims(int64(len(a.Ints))))
	default:
		return nil, fmt.Errorf("%w: Constant attribute %q", ErrUnsupported, a.Name)
	}
}
