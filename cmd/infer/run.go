package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"time"

	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/backend/cpu"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/stack"
)

// executor is what run needs from a built graph.
type executor interface {
	Plan() *stack.Plan
	Edge(name string) (int, bool)
	CopyInBatch(data map[int][]byte) error
	Run(ctx context.Context) error
	CopyOutBatch(edges []int) ([][]byte, error)
}

func runCommand(ctx context.Context, args []string, stdout io.Writer) error {
	log := klog.FromContext(ctx)

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var lf loadFlags
	lf.register(fs)
	inputs := inputFlag{}
	fs.Var(inputs, "input", "set an input or extern edge, name=v1,v2,... or name=@file (repeatable)")
	device := fs.String("device", "cpu", "execution device: cpu or webgpu")
	repeat := fs.Int("repeat", 1, "number of times to run the graph")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *repeat < 1 {
		return fmt.Errorf("repeat must be positive, got %d", *repeat)
	}

	g, err := lf.load(ctx, fs)
	if err != nil {
		return err
	}

	var exec executor
	switch *device {
	case "cpu":
		exec, err = cpu.Build(ctx, g, cpu.DefaultOptions())
	case "webgpu":
		var release func()
		exec, release, err = buildGPU(ctx, g)
		if err == nil {
			defer release()
		}
	default:
		return fmt.Errorf("unknown device %q", *device)
	}
	if err != nil {
		return err
	}
	plan := exec.Plan()
	log.V(2).Info("Built graph", "device", *device, "pinned", plan.PinnedSize, "reusable", plan.ReusableSize)

	data, err := encodeInputs(g, exec, inputs)
	if err != nil {
		return err
	}
	if err := exec.CopyInBatch(data); err != nil {
		return err
	}

	startedAt := time.Now()
	for range *repeat {
		if err := exec.Run(ctx); err != nil {
			return err
		}
	}
	log.Info("Ran graph", "device", *device, "runs", *repeat, "duration", time.Since(startedAt))

	outs := g.Topology.GlobalOutputs()
	values, err := exec.CopyOutBatch(outs)
	if err != nil {
		return err
	}
	for i, e := range outs {
		fmt.Fprintf(stdout, "%s %v = %s\n", g.EdgeName(e), g.Edges[e].Shape, decode(g.Edges[e].DType, values[i]))
	}
	return nil
}

func encodeInputs(g *graph.Graph, exec executor, inputs inputFlag) (map[int][]byte, error) {
	data := make(map[int][]byte, len(inputs))
	for name, value := range inputs {
		e, ok := exec.Edge(name)
		if !ok {
			return nil, fmt.Errorf("input %s: no such edge", name)
		}
		b, err := encode(g.Edges[e].DType, value)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", name, err)
		}
		data[e] = b
	}
	return data, nil
}
