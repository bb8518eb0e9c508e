package allocator

import (
	"lobsteros/kernel"
	"lobsteros/kernel/bootinfo"
	"lobsteros/kernel/kfmt/early"
	"lobsteros/kernel/mem"
	"lobsteros/kernel/mem/pmm"
	"lobsteros/kernel/mem/vmm"
)

var (
	// EarlyAllocator points to a static instance of the boot memory allocator
	// which is used to bootstrap the kernel before initializing a more
	// advanced memory allocator.
	EarlyAllocator BootMemAllocator

	errBootAllocUnsupportedPageSize = &kernel.Error{Module: "boot_mem_alloc", Message: "allocator only supports allocation requests of order(0)"}
	errBootAllocOutOfMemory         = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
)

// BootMemAllocator implements a rudimentary physical memory allocator used
// to bootstrap the kernel before the real allocator policy exists.
//
// The allocator uses the region information in bootinfo.Active to detect
// free memory blocks and return the next available free frame; allocations
// are tracked via a monotonic cursor so the allocator never has to scan
// allocated/free bitmaps. Deallocation is unsupported: frames handed out
// here are never individually reclaimed, and the allocator stays the
// kernel's frame source (vmm, kheap's backing pages, process images and
// stacks) after boot.
type BootMemAllocator struct {
	allocCount     uint64
	lastAllocIndex int64
}

// Init sets up the boot memory allocator's internal state and prints out
// the system memory map for diagnostics.
func (alloc *BootMemAllocator) Init() {
	alloc.lastAllocIndex = -1

	early.Printf("[boot_mem_alloc] system memory map:\n")
	var totalFree mem.Size
	bootinfo.Active.UsableRegions(func(region bootinfo.MemoryRegion) {
		early.Printf("\t[0x%10x - 0x%10x], size: %10d\n", region.Start, region.End, region.Size())
		totalFree += mem.Size(region.Size())
	})
	early.Printf("[boot_mem_alloc] free memory: %dKb\n", uint64(totalFree/mem.Kb))
}

// AllocFrame scans the usable regions in bootinfo.Active and reserves the
// next available free frame. It returns an error if no more memory can be
// allocated or when the requested page order is greater than zero.
func (alloc *BootMemAllocator) AllocFrame(order mem.PageOrder) (pmm.Frame, *kernel.Error) {
	if order > 0 {
		return pmm.InvalidFrame, errBootAllocUnsupportedPageSize
	}

	var (
		foundPageIndex                           int64 = -1
		regionStartPageIndex, regionEndPageIndex int64
	)
	bootinfo.Active.UsableRegions(func(region bootinfo.MemoryRegion) {
		if foundPageIndex != -1 {
			return
		}

		regionStartPageIndex = int64(((mem.Size(region.Start) + (mem.PageSize - 1)) &^ (mem.PageSize - 1)) >> mem.PageShift)
		regionEndPageIndex = int64(((mem.Size(region.End) - (mem.PageSize - 1)) &^ (mem.PageSize - 1)) >> mem.PageShift)

		// Ignore already allocated regions
		if alloc.lastAllocIndex >= regionEndPageIndex {
			return
		}

		// The last allocated index either points to a previous region or
		// falls inside this one; pick the region start or the next page
		// accordingly.
		if alloc.lastAllocIndex < regionStartPageIndex {
			foundPageIndex = regionStartPageIndex
		} else {
			foundPageIndex = alloc.lastAllocIndex + 1
		}
	})

	if foundPageIndex == -1 {
		return pmm.InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	alloc.lastAllocIndex = foundPageIndex

	return pmm.Frame(foundPageIndex), nil
}

// AllocFrame allocates a single order(0) frame using the package's shared
// EarlyAllocator instance. It has the shape vmm.FrameAllocatorFn expects and
// is the function registered with vmm.SetFrameAllocator.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return EarlyAllocator.AllocFrame(mem.PageOrder(0))
}

// Init prepares the boot memory allocator and registers it as the frame
// allocator every later subsystem (vmm, kheap, AHCI DMA buffers) uses.
func Init() *kernel.Error {
	EarlyAllocator.Init()
	vmm.SetFrameAllocator(AllocFrame)
	return nil
}
