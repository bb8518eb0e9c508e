// Package kheap implements the kernel's only heap allocator: a fixed-size-
// class allocator backed by a bump-region fallback, grounded on the
// original kernel's allocator.rs/fixed_block module. Go's own allocator
// does not use this package: its runtime.sysAlloc hook (kernel/goruntime)
// maps frames from kernel/mem/pmm/allocator directly through kernel/mem/vmm.
//
// Unlike the original's spin::Mutex-guarded global, this allocator uses
// kernel/sync.Spinlock, since it must remain usable from an interrupt
// handler and spinlocks never disable interrupts on their own - matching
// this kernel's rule that heap access is never itself an interrupt-masking
// operation.
package kheap

import (
	"lobsteros/kernel"
	"lobsteros/kernel/sync"
)

// blockSizes are the size classes this allocator maintains a free list for.
// Allocation requests are rounded up to the smallest class that fits;
// anything larger than the top class falls back to the bump region.
var blockSizes = [...]uintptr{8, 16, 32, 64, 128, 256, 512, 1024, 2048}

// freeListNode is written into the first machine word of a free block,
// turning every free block of a given size class into a node of that
// class's singly linked free list.
type freeListNode struct {
	next *freeListNode
}

var (
	errNotInitialized = &kernel.Error{Module: "kheap", Message: "heap not initialized"}
	errOutOfMemory    = &kernel.Error{Module: "kheap", Message: "heap exhausted"}
)

// Heap is a fixed-block-with-bump-fallback allocator over a single
// contiguous virtual address range. The zero value is not usable; call
// Init first.
type Heap struct {
	lock sync.Spinlock

	freeLists [len(blockSizes)]*freeListNode

	bumpNext uintptr
	bumpEnd  uintptr

	initialized bool
}

// Init prepares h to serve allocations out of [start, start+size). The
// caller (kernel/kmain) is responsible for having already mapped that
// range as present+writable, non-executable memory.
func (h *Heap) Init(start, size uintptr) {
	h.bumpNext = start
	h.bumpEnd = start + size
	h.initialized = true
}

// classFor returns the index into blockSizes that can satisfy a request of
// n bytes, or -1 if n exceeds the largest size class.
func classFor(n uintptr) int {
	for i, sz := range blockSizes {
		if n <= sz {
			return i
		}
	}
	return -1
}

// Alloc returns a pointer to a newly allocated, uninitialized block of at
// least size bytes aligned to align (which must be a power of two).
func (h *Heap) Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if !h.initialized {
		return 0, errNotInitialized
	}
	if size == 0 {
		size = 1
	}

	h.lock.Acquire()
	defer h.lock.Release()

	class := classFor(size)
	if class >= 0 && blockSizes[class]%align == 0 {
		if node := h.freeLists[class]; node != nil {
			h.freeLists[class] = node.next
			return uintptr(ptrOf(node)), nil
		}
		// No free block of this class yet; carve one from the bump
		// region sized to the class so it can be recycled later.
		return h.bumpAlloc(blockSizes[class], align)
	}

	return h.bumpAlloc(size, align)
}

// Free returns a previously allocated block of the given size/align back to
// its size class's free list. Blocks larger than the largest size class
// (bump-region-only allocations) cannot be reclaimed, matching the
// original's design of never reclaiming bump memory.
func (h *Heap) Free(ptr, size, align uintptr) {
	class := classFor(size)
	if class < 0 || blockSizes[class]%align != 0 {
		return
	}

	h.lock.Acquire()
	defer h.lock.Release()

	node := nodeAt(ptr)
	node.next = h.freeLists[class]
	h.freeLists[class] = node
}

// bumpAlloc carves size bytes, aligned to align, directly out of the
// not-yet-used tail of the heap region. The caller must hold h.lock.
func (h *Heap) bumpAlloc(size, align uintptr) (uintptr, *kernel.Error) {
	aligned := (h.bumpNext + align - 1) &^ (align - 1)
	if aligned+size > h.bumpEnd {
		return 0, errOutOfMemory
	}
	h.bumpNext = aligned + size
	return aligned, nil
}

// AllocZeroed behaves like Alloc but zeroes the returned block first,
// matching the original kernel's alloc_zeroed calls for hardware command
// structures that must not carry stale bytes into a live descriptor.
func (h *Heap) AllocZeroed(size, align uintptr) (uintptr, *kernel.Error) {
	ptr, err := h.Alloc(size, align)
	if err != nil {
		return 0, err
	}
	zero(ptr, size)
	return ptr, nil
}

// Default is the kernel's single heap instance, initialized once by
// kernel/kmain and used by every package (kernel/ahci, kernel/syscall's
// scratch stacks) that needs dynamically sized, DMA-addressable memory.
var Default Heap

// Init prepares the package-level Default heap; see Heap.Init.
func Init(start, size uintptr) {
	Default.Init(start, size)
}
