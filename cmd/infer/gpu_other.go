//go:build !windows

package main

import (
	"context"
	"errors"

	"github.com/born-ml/infer/internal/graph"
)

func buildGPU(context.Context, *graph.Graph) (executor, func(), error) {
	return nil, nil, errors.New("webgpu: only available on windows builds")
}
