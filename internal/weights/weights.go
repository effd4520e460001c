// Package weights reads constant tensors from checkpoint files.
//
// Two container formats are understood: SafeTensors, a JSON header followed by
// raw little-endian data, and GGUF, the llama.cpp format. GGUF tensors stored
// in the Q4_0 and Q8_0 block formats are dequantized to float32 on read.
package weights

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/born-ml/infer/internal/tensor"
)

// Errors returned while decoding checkpoints.
var (
	ErrUnknownFormat   = errors.New("unknown checkpoint format")
	ErrMalformed       = errors.New("malformed checkpoint")
	ErrNotFound        = errors.New("tensor not found in checkpoint")
	ErrUnsupportedType = errors.New("unsupported element type")
)

// Format is a checkpoint container format.
type Format int

// Supported formats.
const (
	FormatUnknown Format = iota
	FormatSafeTensors
	FormatGGUF
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatSafeTensors:
		return "safetensors"
	case FormatGGUF:
		return "gguf"
	default:
		return "unknown"
	}
}

// DetectFormat picks a format from the file extension of name.
func DetectFormat(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".safetensors":
		return FormatSafeTensors
	case ".gguf":
		return FormatGGUF
	default:
		return FormatUnknown
	}
}

// File is a decoded checkpoint. Tensors share no memory with the encoded bytes.
type File interface {
	Format() Format
	// Names returns the tensor names in sorted order.
	Names() []string
	Metadata() map[string]string
	Tensor(name string) (*tensor.Tensor, error)
}

// Decode parses data as a checkpoint in the format implied by name.
func Decode(name string, data []byte) (File, error) {
	switch DetectFormat(name) {
	case FormatSafeTensors:
		return ParseSafeTensors(data)
	case FormatGGUF:
		return ParseGGUF(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, name)
	}
}

// IsCheckpoint reports whether name has the extension of a supported format.
func IsCheckpoint(name string) bool {
	return DetectFormat(name) != FormatUnknown
}
