package onnx

import "errors"

// Errors returned by Parse and Import.
var (
	ErrMalformed   = errors.New("malformed ONNX model")
	ErrNoGraph     = errors.New("model has no graph")
	ErrUnsupported = errors.New("unsupported ONNX construct")
)
