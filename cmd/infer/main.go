// Command infer inspects and runs computation graphs described in HCL or
// imported from ONNX models.
//
// Usage:
//
//	infer [klog flags] plan [-var name=value]... [-planner unidir|flat] model.hcl|model.onnx
//	infer [klog flags] run [-var name=value]... [-input name=values]... [-device cpu|webgpu] model.hcl|model.onnx
//	infer version
//
// Files ending in .onnx are imported as ONNX models. Models may be local paths, gs:// URLs, or http(s) URLs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func main() {
	ctx := context.Background()
	err := run(ctx, os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("infer", flag.ContinueOnError)
	klog.InitFlags(fs)
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return err
	}

	args = fs.Args()
	if len(args) == 0 {
		usage(stdout)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "infer %s\n", version)
		return nil
	case "plan":
		return planCommand(ctx, args[1:], stdout)
	case "run":
		return runCommand(ctx, args[1:], stdout)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "infer %s - inference for ONNX-style graphs\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  plan     Show the graph and its memory plan")
	fmt.Fprintln(w, "  run      Execute the graph and print its outputs")
	fmt.Fprintln(w, "  version  Show version")
}
