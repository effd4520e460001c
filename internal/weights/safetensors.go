package weights

import (
	"cmp"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/born-ml/infer/internal/tensor"
)

// SafeTensors layout:
// [8 bytes: header size, uint64 LE]
// [header: JSON object, name -> {dtype, shape, data_offsets}, plus "__metadata__"]
// [data: raw little-endian bytes, offsets relative to the end of the header]

const (
	maxHeaderSize   = 100 << 20
	maxTensorCount  = 100_000
	maxTensorName   = 4096
	metadataKey     = "__metadata__"
	headerAlignment = 8
)

var safeTensorsTypes = map[string]tensor.DataType{
	"BOOL": tensor.Bool,
	"U8":   tensor.Uint8,
	"I8":   tensor.Int8,
	"U16":  tensor.Uint16,
	"I16":  tensor.Int16,
	"F16":  tensor.Float16,
	"BF16": tensor.BFloat16,
	"U32":  tensor.Uint32,
	"I32":  tensor.Int32,
	"F32":  tensor.Float32,
	"U64":  tensor.Uint64,
	"I64":  tensor.Int64,
	"F64":  tensor.Float64,
}

type safeTensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SafeTensors is a decoded SafeTensors file.
type SafeTensors struct {
	metadata map[string]string
	tensors  map[string]safeTensorInfo
	data     []byte
}

var _ File = (*SafeTensors)(nil)

// ParseSafeTensors decodes a SafeTensors file held in memory.
func ParseSafeTensors(data []byte) (*SafeTensors, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header size", ErrMalformed, len(data))
	}
	n := binary.LittleEndian.Uint64(data)
	if n > maxHeaderSize || n > uint64(len(data)-8) {
		return nil, fmt.Errorf("%w: header size %d for a %d byte file", ErrMalformed, n, len(data))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+n], &raw); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}
	if len(raw) > maxTensorCount {
		return nil, fmt.Errorf("%w: %d tensors", ErrMalformed, len(raw))
	}

	st := &SafeTensors{
		tensors: make(map[string]safeTensorInfo, len(raw)),
		data:    data[8+n:],
	}
	for name, value := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(value, &st.metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %w", ErrMalformed, err)
			}
			continue
		}
		if err := validateName(name); err != nil {
			return nil, err
		}
		var info safeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %w", ErrMalformed, name, err)
		}
		st.tensors[name] = info
	}
	if err := validateOffsets(st.tensors, int64(len(st.data))); err != nil {
		return nil, err
	}
	return st, nil
}

func validateName(name string) error {
	if name == "" || len(name) > maxTensorName {
		return fmt.Errorf("%w: tensor name of length %d", ErrMalformed, len(name))
	}
	return nil
}

// validateOffsets rejects data ranges that are inverted, out of bounds, or
// overlapping.
func validateOffsets(tensors map[string]safeTensorInfo, dataSize int64) error {
	names := slices.Sorted(maps.Keys(tensors))
	slices.SortStableFunc(names, func(a, b string) int {
		return cmp.Compare(tensors[a].DataOffsets[0], tensors[b].DataOffsets[0])
	})
	var prev string
	var prevEnd int64
	for _, name := range names {
		start, end := tensors[name].DataOffsets[0], tensors[name].DataOffsets[1]
		switch {
		case start < 0 || end < start:
			return fmt.Errorf("%w: tensor %q has offsets [%d, %d]", ErrMalformed, name, start, end)
		case end > dataSize:
			return fmt.Errorf("%w: tensor %q ends at %d, past the %d data bytes", ErrMalformed, name, end, dataSize)
		case prev != "" && start < prevEnd:
			return fmt.Errorf("%w: tensors %q and %q overlap", ErrMalformed, prev, name)
		}
		prev, prevEnd = name, end
	}
	return nil
}

// Format returns FormatSafeTensors.
func (s *SafeTensors) Format() Format {
	return FormatSafeTensors
}

// Names returns the tensor names in sorted order.
func (s *SafeTensors) Names() []string {
	return slices.Sorted(maps.Keys(s.tensors))
}

// Metadata returns the free-form string metadata of the file.
func (s *SafeTensors) Metadata() map[string]string {
	return s.metadata
}

// Tensor returns a copy of the named tensor.
func (s *SafeTensors) Tensor(name string) (*tensor.Tensor, error) {
	info, ok := s.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	dt, ok := safeTensorsTypes[info.DType]
	if !ok {
		return nil, fmt.Errorf("tensor %q: %w: %s", name, ErrUnsupportedType, info.DType)
	}
	for _, d := range info.Shape {
		if d < 0 {
			return nil, fmt.Errorf("%w: tensor %q has shape %v", ErrMalformed, name, info.Shape)
		}
	}

	t := tensor.New(dt, tensor.Dims(info.Shape...))
	size, err := t.ByteSize()
	if err != nil {
		return nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if end-start != int64(size) {
		return nil, fmt.Errorf("%w: tensor %q holds %d bytes, %v needs %d", ErrMalformed, name, end-start, t, size)
	}
	t.Data = append([]byte{}, s.data[start:end]...)
	return t, nil
}

// WriteSafeTensors encodes tensors in sorted name order. Every tensor must carry
// data. The header is padded with spaces so the data starts 8-byte aligned.
func WriteSafeTensors(w io.Writer, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	names := slices.Sorted(maps.Keys(tensors))

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, name := range names {
		t := tensors[name]
		if err := validateName(name); err != nil {
			return err
		}
		if !t.HasData() {
			return fmt.Errorf("tensor %q has no data", name)
		}
		dt, ok := safeTensorsName(t.DType)
		if !ok {
			return fmt.Errorf("tensor %q: %w: %v", name, ErrUnsupportedType, t.DType)
		}
		dims, err := concreteDims(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		size := int64(len(t.Data))
		header[name] = safeTensorInfo{DType: dt, Shape: dims, DataOffsets: [2]int64{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	for len(headerJSON)%headerAlignment != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Data); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

func safeTensorsName(dt tensor.DataType) (string, bool) {
	for name, t := range safeTensorsTypes {
		if t == dt {
			return name, true
		}
	}
	return "", false
}

func concreteDims(s tensor.Shape) ([]int64, error) {
	dims := make([]int64, len(s))
	for i, d := range s {
		if !d.IsFixed() {
			return nil, fmt.Errorf("symbolic dimension %s", d.Variable)
		}
		dims[i] = d.Value
	}
	return dims, nil
}
