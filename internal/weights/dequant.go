package weights

import (
	"encoding/binary"
	"math"
)

// halfToFloat32 converts an IEEE 754 half-precision value.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff
	switch exp {
	case 0:
		// Zero and subnormals: mant * 2^-24.
		v := float32(mant) / (1 << 24)
		if sign != 0 {
			v = -v
		}
		return v
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}

// dequantizeQ8_0 expands blocks of a half scale followed by 32 signed bytes:
// x = d * q.
func dequantizeQ8_0(data []byte) []float32 {
	out := make([]float32, 0, len(data)/34*blockElements)
	for b := data; len(b) >= 34; b = b[34:] {
		d := halfToFloat32(binary.LittleEndian.Uint16(b))
		for _, q := range b[2:34] {
			out = append(out, d*float32(int8(q)))
		}
	}
	return out
}

// dequantizeQ4_0 expands blocks of a half scale followed by 16 bytes of
// nibbles: x = d * (q - 8). Low nibbles hold elements 0..15, high nibbles
// elements 16..31.
func dequantizeQ4_0(data []byte) []float32 {
	out := make([]float32, len(data)/18*blockElements)
	for i, b := 0, data; len(b) >= 18; i, b = i+blockElements, b[18:] {
		d := halfToFloat32(binary.LittleEndian.Uint16(b))
		for j, q := range b[2:18] {
			out[i+j] = d * (float32(q&0x0f) - 8)
			out[i+j+16] = d * (float32(q>>4) - 8)
		}
	}
	return out
}
