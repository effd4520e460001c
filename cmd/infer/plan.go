package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path"
	"strings"
	"text/tabwriter"

	"k8s.io/klog/v2"

	"github.com/born-ml/infer/internal/backend/cpu"
	"github.com/born-ml/infer/internal/graph"
	"github.com/born-ml/infer/internal/graphdesc"
	"github.com/born-ml/infer/internal/onnx"
	"github.com/born-ml/infer/internal/stack"
)

// loadFlags are shared by every command that loads a description.
type loadFlags struct {
	vars varFlag
}

func (l *loadFlags) register(fs *flag.FlagSet) {
	l.vars = varFlag{}
	fs.Var(l.vars, "var", "bind a dimension variable, name=size (repeatable)")
}

func (l *loadFlags) load(ctx context.Context, fs *flag.FlagSet) (*graph.Graph, error) {
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%s: expected one description, got %d arguments", fs.Name(), fs.NArg())
	}
	d, err := loadDescription(ctx, fs.Arg(0))
	if err != nil {
		return nil, err
	}
	g, err := d.Graph(l.vars)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fs.Arg(0), err)
	}
	klog.FromContext(ctx).V(2).Info("Loaded graph", "name", d.Name, "nodes", g.Topology.NodeCount(), "edges", g.Topology.EdgeCount())
	return g, nil
}

// loadDescription reads an ONNX model or an HCL description, by extension.
func loadDescription(ctx context.Context, location string) (*graphdesc.Description, error) {
	if strings.EqualFold(path.Ext(location), ".onnx") {
		return onnx.Load(ctx, location)
	}
	return graphdesc.Load(ctx, location)
}

func planCommand(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	var lf loadFlags
	lf.register(fs)
	planner := fs.String("planner", "unidir", "reusable region allocator: unidir or flat")
	align := fs.Int("align", cpu.DefaultAlignment(), "alignment of every planned object in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var calc stack.Calculator
	switch *planner {
	case "unidir":
		calc = stack.UnidirCalculator{}
	case "flat":
		calc = stack.FlatCalculator{}
	default:
		return fmt.Errorf("unknown planner %q", *planner)
	}

	g, err := lf.load(ctx, fs)
	if err != nil {
		return err
	}
	p := &stack.Planner{Calculator: calc, Alignment: *align}
	plan, err := p.Plan(ctx, g.Topology, layouts{g})
	if err != nil {
		return err
	}

	fmt.Fprint(stdout, g)
	fmt.Fprintln(stdout)
	return printPlan(stdout, g, plan)
}

func printPlan(w io.Writer, g *graph.Graph, plan *stack.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EDGE\tCLASS\tOFFSET\tSIZE")
	for e, slot := range plan.Edges {
		offset := "-"
		if _, ok := slot.Class.Region(); ok {
			offset = fmt.Sprint(slot.Range.Start)
		}
		size, err := g.Edges[e].ByteSize()
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\t%d\n", g.EdgeName(e), slot.Class, offset, size)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\npinned %d bytes, reusable %d bytes, alignment %d\n",
		plan.PinnedSize, plan.ReusableSize, plan.Alignment)
	return err
}

// layouts sizes edges for planning without lowering any node.
type layouts struct {
	g *graph.Graph
}

func (l layouts) TensorLayout(i int) (stack.Layout, error) {
	return l.g.Edges[i].Layout(1)
}

func (layouts) WorkspaceLayout(int) (stack.Layout, error) {
	return stack.Layout{Align: 1}, nil
}

func (l layouts) IsConstant(i int) bool {
	return l.g.Edges[i].HasData()
}
