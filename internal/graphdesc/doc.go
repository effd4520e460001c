// Package graphdesc loads computation graphs from HCL descriptions.
//
// A description has one graph block, a tensor block per typed edge, and a node
// block per operator:
//
//	graph "mlp" {
//	  inputs  = ["x"]
//	  outputs = ["y"]
//	  vars    = { batch = 1 }
//	}
//
//	tensor "x" {
//	  dtype = "float32"
//	  shape = ["batch", 4]
//	}
//
//	tensor "w" {
//	  dtype = "float32"
//	  shape = [4, 3]
//	  file  = "w.bin"
//	}
//
//	node "fc" {
//	  op      = "Gemm"
//	  inputs  = ["x", "w"]
//	  outputs = ["y"]
//	  attrs   = { alpha = 0.5, transB = 0 }
//	}
//
//	tensor "b" {
//	  dtype = "float32"
//	  file  = "mlp.safetensors"
//	  key   = "fc.bias"
//	}
//
// Dimensions are numbers or variable names. Constant data is given inline as
// a list, as a file of raw little-endian elements, or as a named tensor of a
// SafeTensors or GGUF checkpoint. Files are read relative to the description.
// A checkpoint tensor takes its shape from the file when none is declared, and
// its key defaults to the block label.
//
// Tensors without data that are neither graph inputs nor node outputs are
// extern weights, bound at run time.
package graphdesc
