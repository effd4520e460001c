package graphdesc

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/blobs"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/topo"
	"github.com/born-ml/infer/internal/weights"
)

// Description is a decoded graph description.
type Description struct {
	Name    string
	Builder *graph.Builder
	// Vars holds the default values of dimension variables.
	Vars map[string]int64
}

// Load reads the description at location and the data files it names.
// See blobs.Open for the supported locations.
func Load(ctx context.Context, location string) (*Description, error) {
	r, name, err := blobs.Open(location)
	if err != nil {
		return nil, err
	}
	src, err := r.ReadFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return Parse(ctx, src, location, r)
}

// Parse decodes a description. Data files are read from r, which may be nil
// when the description has none.
func Parse(ctx context.Context, src []byte, filename string, r blobs.Reader) (*Description, error) {
	log := klog.FromContext(ctx)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var root fileRoot
	diags = gohcl.DecodeBody(file.Body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	b := &graph.Builder{
		Topology:      make(map[string]topo.Connections[string], len(root.Nodes)),
		GlobalInputs:  root.Graph.Inputs,
		GlobalOutputs: root.Graph.Outputs,
		Nodes:         make(map[string]graph.Operator, len(root.Nodes)),
		Edges:         make(map[string]*tensor.Tensor, len(root.Tensors)),
	}
	for _, n := range root.Nodes {
		if _, dup := b.Nodes[n.Name]; dup {
			return nil, blockError(n.Range, "node", n.Name, ErrDuplicate)
		}
		attrs, err := decodeAttrs(n.Attrs)
		if err != nil {
			return nil, blockError(n.Range, "node", n.Name, err)
		}
		b.Topology[n.Name] = topo.Connections[string]{Inputs: n.Inputs, Outputs: n.Outputs}
		b.Nodes[n.Name] = graph.Operator{Name: n.Name, OpType: n.Op, Domain: n.Domain, Attributes: attrs}
	}
	td := &tensorDecoder{r: r, checkpoints: make(map[string]weights.File)}
	for _, tb := range root.Tensors {
		if _, dup := b.Edges[tb.Name]; dup {
			return nil, blockError(tb.Range, "tensor", tb.Name, ErrDuplicate)
		}
		t, err := td.decode(ctx, tb)
		if err != nil {
			return nil, blockError(tb.Range, "tensor", tb.Name, err)
		}
		b.Edges[tb.Name] = t
	}

	log.V(2).Info("Loaded graph description", "file", filename, "graph", root.Graph.Name,
		"nodes", len(b.Nodes), "tensors", len(b.Edges))
	return &Description{Name: root.Graph.Name, Builder: b, Vars: root.Graph.Vars}, nil
}

// tensorDecoder decodes tensor blocks. Checkpoint files are decoded once per
// description.
type tensorDecoder struct {
	r           blobs.Reader
	checkpoints map[string]weights.File
}

func (d *tensorDecoder) decode(ctx context.Context, tb *tensorBlock) (*tensor.Tensor, error) {
	dt, err := tensor.ParseDataType(tb.DType)
	if err != nil {
		return nil, err
	}
	shape, err := decodeShape(tb.Shape)
	if err != nil {
		return nil, fmt.Errorf("shape: %w", err)
	}
	hasData := !tb.Data.IsNull()
	switch {
	case hasData && tb.File != "":
		return nil, fmt.Errorf("data and file are mutually exclusive")
	case tb.Key != "" && !weights.IsCheckpoint(tb.File):
		return nil, fmt.Errorf("key %q needs a checkpoint file", tb.Key)
	case hasData:
		if !shape.IsConcrete() {
			return nil, fmt.Errorf("constant with symbolic shape %v", shape)
		}
		return decodeData(dt, shape, tb.Data)
	case weights.IsCheckpoint(tb.File):
		key := tb.Key
		if key == "" {
			key = tb.Name
		}
		return d.fromCheckpoint(ctx, tb.File, key, dt, shape, !tb.Shape.IsNull())
	case tb.File != "":
		t := tensor.New(dt, shape)
		size, err := t.ByteSize()
		if err != nil {
			return nil, err
		}
		data, err := d.read(ctx, tb.File)
		if err != nil {
			return nil, err
		}
		if len(data) != size {
			return nil, fmt.Errorf("%w: %s holds %d bytes, %v needs %d", ErrDataSize, tb.File, len(data), t, size)
		}
		t.Data = data
		return t, nil
	default:
		return tensor.New(dt, shape), nil
	}
}

func (d *tensorDecoder) read(ctx context.Context, name string) ([]byte, error) {
	if d.r == nil {
		return nil, fmt.Errorf("no reader for data file %s", name)
	}
	return d.r.ReadFile(ctx, name)
}

// fromCheckpoint looks key up in a SafeTensors or GGUF file. The declared data
// type must match the stored one, and so must the shape when one is declared.
func (d *tensorDecoder) fromCheckpoint(ctx context.Context, file, key string, dt tensor.DataType, shape tensor.Shape, hasShape bool) (*tensor.Tensor, error) {
	ck, ok := d.checkpoints[file]
	if !ok {
		data, err := d.read(ctx, file)
		if err != nil {
			return nil, err
		}
		if ck, err = weights.Decode(file, data); err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		klog.FromContext(ctx).V(4).Info("Decoded checkpoint", "file", file, "format", ck.Format(), "tensors", len(ck.Names()))
		d.checkpoints[file] = ck
	}
	t, err := ck.Tensor(key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	if t.DType != dt {
		return nil, fmt.Errorf("%w: %s[%q] is %v, declared %v", ErrDataSize, file, key, t.DType, dt)
	}
	if hasShape && !t.Shape.Equal(shape) {
		return nil, fmt.Errorf("%w: %s[%q] has shape %v, declared %v", ErrDataSize, file, key, t.Shape, shape)
	}
	return t, nil
}

// blockError locates err at the block that caused it.
func blockError(rng hcl.Range, kind, name string, err error) error {
	return fmt.Errorf("%s: %s %q: %w", rng, kind, name, err)
}

// Symbolic builds the graph and infers the descriptors of every node output,
// leaving dimension variables in place.
func (d *Description) Symbolic() (*graph.Graph, error) {
	g, err := graph.Build(d.Builder)
	if err != nil {
		return nil, err
	}
	if err := g.InferShapes(); err != nil {
		return nil, err
	}
	return g, nil
}

// Graph builds the graph with every dimension variable bound. Values in vars
// override the defaults of the description.
func (d *Description) Graph(vars map[string]int64) (*graph.Graph, error) {
	g, err := d.Symbolic()
	if err != nil {
		return nil, err
	}
	merged := maps.Clone(d.Vars)
	if merged == nil {
		merged = make(map[string]int64, len(vars))
	}
	maps.Copy(merged, vars)

	var missing []string
	for _, v := range g.Variables() {
		if _, ok := merged[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnboundVariable, missing)
	}
	if len(merged) == 0 {
		return g, nil
	}
	return g.Substitute(merged)
}

// Variables returns the sorted names of the variables with a default value.
func (d *Description) Variables() []string {
	return slices.Sorted(maps.Keys(d.Vars))
}
