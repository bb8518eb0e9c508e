package kheap

import "unsafe"

// nodeAt overlays a freeListNode on top of the first bytes of the block at
// ptr, used to thread a freed block into its size class's free list without
// a separate allocation.
func nodeAt(ptr uintptr) *freeListNode {
	return (*freeListNode)(unsafe.Pointer(ptr))
}

// ptrOf returns the address of a freeListNode as a plain uintptr.
func ptrOf(n *freeListNode) uintptr {
	return uintptr(unsafe.Pointer(n))
}

// zero clears size bytes starting at ptr one machine word at a time,
// falling back to a byte loop for any remainder.
func zero(ptr, size uintptr) {
	words := size / unsafe.Sizeof(uintptr(0))
	base := (*[1 << 30]uintptr)(unsafe.Pointer(ptr))
	for i := uintptr(0); i < words; i++ {
		base[i] = 0
	}
	for i := words * unsafe.Sizeof(uintptr(0)); i < size; i++ {
		(*(*[1 << 30]byte)(unsafe.Pointer(ptr)))[i] = 0
	}
}
