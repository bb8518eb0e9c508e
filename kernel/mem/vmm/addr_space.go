package vmm

import (
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/mem"
	"lobsteros/kernel/mem/pmm"
)

// kernelHalfBoundary is the first virtual page index belonging to the
// shared kernel half of every address space; entries at or above this index
// in a PML4 are copied verbatim into every freshly created AddrSpace so the
// kernel's own mappings (code, heap, offset-mapped physical window) stay
// reachable after a CR3 switch into a process's private table.
const kernelHalfBoundary = 256 // PML4 entry 256 == virtual bit 47 set

var (
	// earlyReserveLastUsed is a bump pointer for EarlyReserveRegion; it
	// starts at the top of a dedicated kernel-heap-growth region and
	// counts down. This region is distinct from PhysOffset's physical
	// memory window and from the kernel image itself.
	earlyReserveLastUsed = earlyReserveTopAddr

	errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// earlyReserveTopAddr marks the top of the virtual address range the Go
// runtime's sysReserve/sysAlloc hooks are allowed to carve pages out of.
const earlyReserveTopAddr = uintptr(0xffffff0000000000)

// EarlyReserveRegion reserves a page-aligned contiguous virtual memory
// region of the requested size and returns its virtual address. If size is
// not a multiple of mem.PageSize it is rounded up. Regions are handed out
// from the top of the reserve window downward; this is only meant to be
// used during early kernel init, before a general-purpose virtual address
// space allocator exists.
func EarlyReserveRegion(size mem.Size) (uintptr, *kernel.Error) {
	size = (size + (mem.PageSize - 1)) &^ (mem.PageSize - 1)

	if uintptr(size) > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= uintptr(size)
	return earlyReserveLastUsed, nil
}

// AddrSpace represents one process's private PML4, offset-mapped like the
// kernel's own, but privately owned so that per-process mappings (user
// stack, ELF image, userspace heap) don't leak between processes. Replaces
// gopher-os's recursively self-mapped PageDirectoryTable, which this design
// has no use for: every table in every address space, kernel or user, is
// reachable via physToVirt, so there is never a need for a temporary
// mapping to edit an inactive table.
type AddrSpace struct {
	pml4 pmm.Frame
}

// NewAddrSpace allocates and initializes a fresh private address space: a
// new PML4 frame, zeroed, with the shared kernel-half entries copied in
// from the currently active PML4 so kernel code and the offset-mapped
// physical window stay reachable once this address space is activated.
func NewAddrSpace() (*AddrSpace, *kernel.Error) {
	if frameAllocator == nil {
		return nil, errNoFrameAllocator
	}

	frame, err := frameAllocator()
	if err != nil {
		return nil, err
	}

	newPML4 := ptePtrFn(frame.Address())
	mem.Memset(newPML4, 0, mem.PageSize)

	activePML4 := ptePtrFn(activePDTFn() &^ uintptr(mem.PageSize-1))
	newEntries := (*[512]pageTableEntry)(unsafe.Pointer(newPML4))
	activeEntries := (*[512]pageTableEntry)(unsafe.Pointer(activePML4))
	for i := kernelHalfBoundary; i < 512; i++ {
		newEntries[i] = activeEntries[i]
	}

	return &AddrSpace{pml4: frame}, nil
}

// Activate installs this address space's PML4 as the active one and
// flushes the TLB.
func (as *AddrSpace) Activate() {
	switchPDT(as.pml4.Address())
}

// PML4PhysAddr returns the physical address of this address space's PML4,
// for callers (e.g. kernel/proc) that need to hand it to a context-switch
// primitive.
func (as *AddrSpace) PML4PhysAddr() uintptr {
	return as.pml4.Address()
}
