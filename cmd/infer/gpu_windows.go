package main

import (
	"context"

	"github.com/born-ml/infer/internal/backend/webgpu"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/parallel"
)

func buildGPU(ctx context.Context, g *graph.Graph) (executor, func(), error) {
	dev, err := webgpu.Open()
	if err != nil {
		return nil, nil, err
	}
	exec, err := dev.Build(ctx, g, parallel.DefaultConfig())
	if err != nil {
		dev.Release()
		return nil, nil, err
	}
	return exec, func() {
		exec.Release()
		dev.Release()
	}, nil
}
