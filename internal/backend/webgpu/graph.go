//go:build windows

package webgpu

import (
	"context"
	"fmt"

	"github.com/go-webgpu/webgpu/wgpu"
	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/parallel"
	"github.com/born-ml/infer/internal/stack"
	"github.com/born-ml/infer/internal/tensor"
	"github.com/born-ml/infer/internal/topo"
)

// gpuNode is one node with its pipeline and bind group built ahead of time.
type gpuNode struct {
	name       string
	op         string
	pipeline   *wgpu.ComputePipeline
	bindGroup  *wgpu.BindGroup
	params     *wgpu.Buffer
	workgroups [3]uint32
}

// Graph is an executable graph on a Device. It owns four storage buffers: the
// pinned and reusable regions of its plan, its constants, and its externs.
type Graph struct {
	dev     *Device
	src     *graph.Graph
	plan    *stack.Plan
	regions *regions
	sizes   []int
	bound   []bool
	buffers [numRegions]*wgpu.Buffer
	nodes   []gpuNode
}

// Build lowers every node of g, plans its memory with the shared planner,
// uploads its constants, and prepares one pipeline and bind group per node.
//
// Every edge of g must carry a concrete descriptor.
func (d *Device) Build(ctx context.Context, g *graph.Graph, cfg parallel.Config) (out *Graph, err error) {
	log := klog.FromContext(ctx)

	sizes := make([]int, len(g.Edges))
	for e, t := range g.Edges {
		if t == nil || t.DType == tensor.Undefined {
			return nil, fmt.Errorf("edge %s: %w", g.EdgeName(e), graph.ErrUntypedEdge)
		}
		if sizes[e], err = t.ByteSize(); err != nil {
			return nil, fmt.Errorf("edge %s: %w", g.EdgeName(e), err)
		}
	}

	steps := make([]topo.Step, 0, g.Topology.NodeCount())
	for st := range g.Topology.All() {
		steps = append(steps, st)
	}
	kernels, err := parallel.Map(ctx, len(steps), func(_ context.Context, i int) (kernel, error) {
		st := steps[i]
		op := &g.Nodes[st.Node]
		outs := st.Outputs.Indices()
		inputs := make([]*tensor.Tensor, len(st.Inputs))
		for k, e := range st.Inputs {
			inputs[k] = g.Edges[e]
		}
		outputs := make([]*tensor.Tensor, len(outs))
		for k, e := range outs {
			outputs[k] = g.Edges[e]
		}
		k, err := lowerNode(op, inputs, outputs, st.Inputs, outs)
		if err != nil {
			return kernel{}, fmt.Errorf("lower node %s: %w", op.Name, err)
		}
		return k, nil
	}, cfg)
	if err != nil {
		return nil, err
	}

	plan, err := stack.NewPlanner(Alignment).Plan(ctx, g.Topology, layoutSource{g})
	if err != nil {
		return nil, err
	}
	// The offsets are re-derived from the recorded trace before any buffer is
	// sized from them.
	if err := plan.Replay(stack.NewUnidir()); err != nil {
		return nil, err
	}
	regions, err := placeEdges(plan, g.Edges)
	if err != nil {
		return nil, err
	}

	out = &Graph{
		dev:     d,
		src:     g,
		plan:    plan,
		regions: regions,
		sizes:   sizes,
		bound:   make([]bool, len(g.Edges)),
		nodes:   make([]gpuNode, 0, len(steps)),
	}
	defer func() {
		if r := recover(); r != nil {
			out.Release()
			out, err = nil, fmt.Errorf("webgpu: build: %v", r)
		}
	}()

	const usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst
	constants := make([]byte, regions.sizes[regionConstants])
	for e, slot := range plan.Edges {
		if slot.Class == stack.Constant {
			copy(constants[regions.ranges[e].Start:], g.Edges[e].Data)
		}
	}
	out.buffers[regionConstants] = d.createBuffer(constants, bufferSize(len(constants)), usage)
	for _, id := range []regionID{regionPinned, regionReusable, regionExterns} {
		out.buffers[id] = d.createBuffer(nil, bufferSize(regions.sizes[id]), usage)
	}
	// Global inputs with data start out holding it.
	for e, slot := range plan.Edges {
		if slot.Class == stack.Pinned && g.Edges[e].HasData() {
			d.writeBuffer(out.buffers[regionPinned], uint64(slot.Range.Start), g.Edges[e].Data)
		}
	}

	for i, k := range kernels {
		op := &g.Nodes[steps[i].Node]
		n := gpuNode{name: op.Name, op: op.OpType, workgroups: k.workgroups}
		if k.shader != "" {
			if n.pipeline, err = d.pipeline(k.shader); err != nil {
				out.Release()
				return nil, fmt.Errorf("node %s: %w", op.Name, err)
			}
			params := paramBytes(k.bind(regions.operands))
			n.params = d.createBuffer(params, uint64(len(params)), wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
			entries := make([]wgpu.BindGroupEntry, 0, numRegions+1)
			for id := range numRegions {
				entries = append(entries, wgpu.BufferBindingEntry(uint32(id), out.buffers[id], 0, bufferSize(regions.sizes[id])))
			}
			entries = append(entries, wgpu.BufferBindingEntry(uint32(numRegions), n.params, 0, uint64(len(params))))
			n.bindGroup = d.device.CreateBindGroupSimple(n.pipeline.GetBindGroupLayout(0), entries)
		}
		out.nodes = append(out.nodes, n)
	}

	log.Info("Built WebGPU graph", "device", d.Name(),
		"nodes", len(out.nodes), "pinned", plan.PinnedSize, "reusable", plan.ReusableSize,
		"constants", regions.sizes[regionConstants], "externs", regions.sizes[regionExterns])
	return out, nil
}

// Plan returns the memory plan of the graph.
func (g *Graph) Plan() *stack.Plan {
	return g.plan
}

// Edge returns the index of the edge with the given name.
func (g *Graph) Edge(name string) (int, bool) {
	return g.src.EdgeIndex(name)
}

// Run encodes one compute pass per node into a single command buffer and submits
// it once. Results are visible to the next CopyOut.
func (g *Graph) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for e, ok := range g.bound {
		if !ok && g.plan.Edges[e].Class == stack.Extern && g.sizes[e] > 0 {
			return fmt.Errorf("extern %s: %w", g.src.EdgeName(e), ErrUnboundEdge)
		}
	}

	encoder := g.dev.device.CreateCommandEncoder(nil)
	for i := range g.nodes {
		n := &g.nodes[i]
		if n.pipeline == nil {
			continue
		}
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(n.pipeline)
		pass.SetBindGroup(0, n.bindGroup, nil)
		pass.DispatchWorkgroups(n.workgroups[0], n.workgroups[1], n.workgroups[2])
		pass.End()
	}
	cmdBuffer := encoder.Finish(nil)
	g.dev.queue.Submit(cmdBuffer)

	klog.FromContext(ctx).V(4).Info("Submitted graph", "nodes", len(g.nodes))
	return nil
}

// CopyIn copies data into edge e. Copying into an extern binds it.
func (g *Graph) CopyIn(e int, data []byte) error {
	if err := g.checkWrite(e, data); err != nil {
		return err
	}
	g.copyIn(e, data)
	return nil
}

// CopyInBatch copies several edges after checking every target.
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

// CopyOut reads edge e back to the host.
func (g *Graph) CopyOut(e int) ([]byte, error) {
	if err := g.checkRead(e); err != nil {
		return nil, err
	}
	op := g.regions.operands[e]
	return g.dev.readBuffer(g.buffers[op.region], uint64(g.regions.ranges[e].Start), g.sizes[e])
}

// CopyOutInto reads edge e into dst, which must have the edge size.
func (g *Graph) CopyOutInto(e int, dst []byte) error {
	if err := g.checkRead(e); err != nil {
		return err
	}
	if len(dst) != g.sizes[e] {
		return fmt.Errorf("%w: edge %s holds %d bytes, destination has %d",
			ErrInvalidCopyTarget, g.src.EdgeName(e), g.sizes[e], len(dst))
	}
	b, err := g.CopyOut(e)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// CopyOutBatch reads several edges, in the order given.
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

// Release frees the buffers and bind groups of the graph.
func (g *Graph) Release() {
	for i := range g.nodes {
		if g.nodes[i].bindGroup != nil {
			g.nodes[i].bindGroup.Release()
		}
		if g.nodes[i].params != nil {
			g.nodes[i].params.Release()
		}
	}
	g.nodes = nil
	for i, b := range g.buffers {
		if b != nil {
			b.Release()
			g.buffers[i] = nil
		}
	}
}

func (g *Graph) copyIn(e int, data []byte) {
	op := g.regions.operands[e]
	g.dev.writeBuffer(g.buffers[op.region], uint64(g.regions.ranges[e].Start), data)
	g.bound[e] = true
}

func (g *Graph) checkEdge(e int) error {
	if e < 0 || e >= len(g.sizes) {
		return fmt.Errorf("%w: edge %d out of range [0, %d)", ErrInvalidCopyTarget, e, len(g.sizes))
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
	if g.plan.Edges[e].Class == stack.Extern && !g.bound[e] {
		return fmt.Errorf("%w: extern %s is not bound", ErrInvalidCopyTarget, g.src.EdgeName(e))
	}
	return nil
}
