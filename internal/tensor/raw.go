package tensor

import "unsafe"

// View interprets raw bytes as a slice of T without copying.
// Trailing bytes that do not fill a whole element are ignored.
func View[T DType](data []byte) []T {
	var zero T
	n := len(data) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by len(data).
	return unsafe.Slice((*T)(unsafe.Pointer(&data[0])), n)
}

// Bytes interprets a slice of T as raw bytes without copying.
func Bytes[T DType](v []T) []byte {
	if len(v) == 0 {
		return nil
	}
	var zero T
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by len(v).
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*int(unsafe.Sizeof(zero)))
}

// AsFloat32 interprets data as []float32.
func AsFloat32(data []byte) []float32 {
	return View[float32](data)
}
