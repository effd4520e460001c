package weights

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/born-ml/infer/internal/tensor"
)

// GGUF layout, version 2 and 3, little-endian:
// [magic "GGUF"][version u32][tensor count u64][metadata count u64]
// [metadata: key string, value type u32, value]...
// [tensor info: name string, rank u32, dims u64..., ggml type u32, offset u64]...
// [padding to the alignment][tensor data]
//
// Dimensions are listed innermost first.

const (
	ggufMagic            = 0x46554747
	ggufDefaultAlignment = 32
	ggufMaxRank          = 8
)

// ggmlType is the element encoding of a GGUF tensor.
type ggmlType uint32

const (
	ggmlF32  ggmlType = 0
	ggmlF16  ggmlType = 1
	ggmlQ4_0 ggmlType = 2 //nolint:revive // GGML name
	ggmlQ8_0 ggmlType = 8 //nolint:revive // GGML name
	ggmlI8   ggmlType = 24
	ggmlI16  ggmlType = 25
	ggmlI32  ggmlType = 26
	ggmlI64  ggmlType = 27
	ggmlF64  ggmlType = 28
	ggmlBF16 ggmlType = 29
)

// plainTypes are stored element by element and need no conversion.
var plainTypes = map[ggmlType]tensor.DataType{
	ggmlF32:  tensor.Float32,
	ggmlF16:  tensor.Float16,
	ggmlI8:   tensor.Int8,
	ggmlI16:  tensor.Int16,
	ggmlI32:  tensor.Int32,
	ggmlI64:  tensor.Int64,
	ggmlF64:  tensor.Float64,
	ggmlBF16: tensor.BFloat16,
}

// blockTypes hold 32 elements per block of the given byte size.
var blockTypes = map[ggmlType]int{
	ggmlQ4_0: 18,
	ggmlQ8_0: 34,
}

const blockElements = 32

type ggufTensor struct {
	dims   []int64 // outermost first
	typ    ggmlType
	offset uint64
	size   int
}

// GGUF is a decoded GGUF file.
type GGUF struct {
	Version   uint32
	metadata  map[string]any
	tensors   map[string]ggufTensor
	alignment int
	data      []byte
}

var _ File = (*GGUF)(nil)

// ParseGGUF decodes a GGUF file held in memory.
func ParseGGUF(data []byte) (*GGUF, error) {
	r := &byteReader{b: data}
	magic := r.u32()
	version := r.u32()
	if r.err == nil && magic != ggufMagic {
		return nil, fmt.Errorf("%w: bad GGUF magic 0x%08X", ErrMalformed, magic)
	}
	if r.err == nil && (version < 2 || version > 3) {
		return nil, fmt.Errorf("%w: GGUF version %d", ErrMalformed, version)
	}
	tensorCount := r.u64()
	kvCount := r.u64()
	if r.err == nil && (tensorCount > maxTensorCount || kvCount > maxTensorCount) {
		return nil, fmt.Errorf("%w: %d tensors and %d metadata entries", ErrMalformed, tensorCount, kvCount)
	}

	g := &GGUF{
		Version:   version,
		metadata:  make(map[string]any, kvCount),
		tensors:   make(map[string]ggufTensor, tensorCount),
		alignment: ggufDefaultAlignment,
	}
	for i := uint64(0); i < kvCount && r.err == nil; i++ {
		key := r.str()
		g.metadata[key] = r.value(r.u32())
	}
	if align, ok := g.metadata["general.alignment"].(uint32); ok && align > 0 {
		g.alignment = int(align)
	}

	for i := uint64(0); i < tensorCount && r.err == nil; i++ {
		name := r.str()
		t, err := r.tensorInfo()
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		if _, dup := g.tensors[name]; dup {
			return nil, fmt.Errorf("%w: tensor %q listed twice", ErrMalformed, name)
		}
		g.tensors[name] = t
	}
	if r.err != nil {
		return nil, r.err
	}

	start := (r.pos + g.alignment - 1) / g.alignment * g.alignment
	if start > len(data) {
		return nil, fmt.Errorf("%w: tensor data starts at %d, past the end of the file", ErrMalformed, start)
	}
	g.data = data[start:]
	for name, t := range g.tensors {
		if t.offset > uint64(len(g.data)) || uint64(t.size) > uint64(len(g.data))-t.offset {
			return nil, fmt.Errorf("%w: tensor %q extends past the end of the file", ErrMalformed, name)
		}
	}
	return g, nil
}

func (r *byteReader) tensorInfo() (ggufTensor, error) {
	rank := r.u32()
	if r.err == nil && rank > ggufMaxRank {
		return ggufTensor{}, fmt.Errorf("%w: rank %d", ErrMalformed, rank)
	}
	dims := make([]int64, rank)
	n := int64(1)
	for i := range dims {
		d := r.u64()
		if d > math.MaxInt32 {
			return ggufTensor{}, fmt.Errorf("%w: dimension %d", ErrMalformed, d)
		}
		dims[len(dims)-1-i] = int64(d)
		n *= int64(d)
		if n > math.MaxInt32*8 {
			return ggufTensor{}, fmt.Errorf("%w: %v is too large", ErrMalformed, dims)
		}
	}
	t := ggufTensor{dims: dims, typ: ggmlType(r.u32()), offset: r.u64()}
	if r.err != nil {
		return t, r.err
	}

	if dt, ok := plainTypes[t.typ]; ok {
		t.size = int(n) * dt.Size()
	} else if blockSize, ok := blockTypes[t.typ]; ok {
		if n%blockElements != 0 {
			return t, fmt.Errorf("%w: %d elements do not fill whole blocks", ErrMalformed, n)
		}
		t.size = int(n/blockElements) * blockSize
	} else {
		return t, fmt.Errorf("%w: ggml type %d", ErrUnsupportedType, t.typ)
	}
	return t, nil
}

// Format returns FormatGGUF.
func (g *GGUF) Format() Format {
	return FormatGGUF
}

// Names returns the tensor names in sorted order.
func (g *GGUF) Names() []string {
	return slices.Sorted(maps.Keys(g.tensors))
}

// Metadata returns the scalar metadata entries formatted as strings.
// Arrays are summarized by their length.
func (g *GGUF) Metadata() map[string]string {
	out := make(map[string]string, len(g.metadata))
	for k, v := range g.metadata {
		if a, ok := v.(ggufArray); ok {
			out[k] = fmt.Sprintf("[%d items]", a.n)
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Tensor returns a copy of the named tensor. Quantized tensors are returned
// as float32.
func (g *GGUF) Tensor(name string) (*tensor.Tensor, error) {
	t, ok := g.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	raw := g.data[t.offset : t.offset+uint64(t.size)]
	shape := tensor.Dims(t.dims...)

	if dt, ok := plainTypes[t.typ]; ok {
		out := tensor.New(dt, shape)
		out.Data = append([]byte{}, raw...)
		return out, nil
	}
	var values []float32
	switch t.typ {
	case ggmlQ4_0:
		values = dequantizeQ4_0(raw)
	case ggmlQ8_0:
		values = dequantizeQ8_0(raw)
	}
	return tensor.FromSlice(values, shape)
}

type ggufArray struct {
	typ uint32
	n   uint64
}

// byteReader decodes little-endian values. The first error sticks and every
// later read returns zero values.
type byteReader struct {
	b   []byte
	pos int
	err error
}

func (r *byteReader) next(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.b)-r.pos) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrMalformed, r.pos)
		return nil
	}
	s := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return s
}

func (r *byteReader) u32() uint32 {
	if b := r.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *byteReader) u64() uint64 {
	if b := r.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *byteReader) str() string {
	return string(r.next(r.u64()))
}

// ggufValueSizes holds the byte size of the fixed-size metadata value types.
var ggufValueSizes = map[uint32]uint64{
	0: 1, 1: 1, 2: 2, 3: 2, 4: 4, 5: 4, 6: 4, 7: 1, 10: 8, 11: 8, 12: 8,
}

const (
	ggufString = 8
	ggufArrayT = 9
)

// value decodes one metadata value of type typ. Arrays are skipped and
// recorded by element type and length.
func (r *byteReader) value(typ uint32) any {
	switch typ {
	case ggufString:
		return r.str()
	case ggufArrayT:
		a := ggufArray{typ: r.u32(), n: r.u64()}
		if size, ok := ggufValueSizes[a.typ]; ok {
			if a.n > uint64(len(r.b)) {
				r.next(a.n)
				return a
			}
			r.next(a.n * size)
			return a
		}
		for i := uint64(0); i < a.n && r.err == nil; i++ {
			r.value(a.typ)
		}
		return a
	}

	size, ok := ggufValueSizes[typ]
	if !ok {
		if r.err == nil {
			r.err = fmt.Errorf("%w: metadata value type %d", ErrMalformed, typ)
		}
		return nil
	}
	b := r.next(size)
	if b == nil {
		return nil
	}
	switch typ {
	case 0:
		return b[0]
	case 1:
		return int8(b[0])
	case 2:
		return binary.LittleEndian.Uint16(b)
	case 3:
		return int16(binary.LittleEndian.Uint16(b))
	case 4:
		return binary.LittleEndian.Uint32(b)
	case 5:
		return int32(binary.LittleEndian.Uint32(b))
	case 6:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case 7:
		return b[0] != 0
	case 10:
		return binary.LittleEndian.Uint64(b)
	case 11:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
}
