// Package onnx imports ONNX models.
//
// Parse decodes the protobuf encoding of a ModelProto into the message types of
// this package, reading only the fields the importer needs. Import turns the
// graph of a model into a graph.Builder: initializers and Constant nodes become
// constant edges, and graph inputs keep their declared element type and shape,
// with dim_param entries as dimension variables.
//
// Example:
//
//	desc, err := onnx.Load(ctx, "gs://models/mlp.onnx")
//	if err != nil {
//	    return err
//	}
//	g, err := desc.Graph(map[string]int64{"batch": 8})
package onnx
