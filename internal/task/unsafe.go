package task

import "unsafe"

// bytesPtr reinterprets a physical page's bytes as a pointer to the
// struct occupying its start, the same get_ref/get_mut-style cast
// internal/fs's block cache uses.
func bytesPtr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}
