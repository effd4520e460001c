package cpu

import "unsafe"

// alignedBytes allocates size bytes whose first byte is aligned to align, which
// must be a power of two.
func alignedBytes(size, align int) []byte {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size+align-1)
	//nolint:gosec // address arithmetic only, the pointer is not dereferenced.
	pad := int(-uintptr(unsafe.Pointer(&buf[0])) & uintptr(align-1))
	return buf[pad : pad+size : pad+size]
}
