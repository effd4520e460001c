package graphdesc

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// fileRoot is decoded from every description file.
type fileRoot struct {
	Graph   graphBlock     `hcl:"graph,block"`
	Tensors []*tensorBlock `hcl:"tensor,block"`
	Nodes   []*nodeBlock   `hcl:"node,block"`
}

type graphBlock struct {
	Name    string           `hcl:"name,label"`
	Inputs  []string         `hcl:"inputs"`
	Outputs []string         `hcl:"outputs"`
	Vars    map[string]int64 `hcl:"vars,optional"`
}

type tensorBlock struct {
	Name  string    `hcl:"name,label"`
	DType string    `hcl:"dtype"`
	Shape cty.Value `hcl:"shape,optional"`
	Data  cty.Value `hcl:"data,optional"`
	File  string    `hcl:"file,optional"`
	Key   string    `hcl:"key,optional"`
	Range hcl.Range `hcl:",def_range"`
}

type nodeBlock struct {
	Name    string    `hcl:"name,label"`
	Op      string    `hcl:"op"`
	Domain  string    `hcl:"domain,optional"`
	Inputs  []string  `hcl:"inputs"`
	Outputs []string  `hcl:"outputs"`
	Attrs   cty.Value `hcl:"attrs,optional"`
	Range   hcl.Range `hcl:",def_range"`
}
