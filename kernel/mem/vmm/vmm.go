package vmm

import (
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/bootinfo"
	"lobsteros/kernel/cpu"
	"lobsteros/kernel/irq"
	"lobsteros/kernel/kfmt/early"
	"lobsteros/kernel/mem"
	"lobsteros/kernel/mem/pmm"
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	panicFn                   = kernel.Panic
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2

	// ReservedZeroedFrame points to a single physical frame whose contents
	// are always zero. It is mapped read-only with FlagCopyOnWrite into
	// every lazily-allocated page until the first write fault gives the
	// page its own private, zeroed backing frame.
	ReservedZeroedFrame pmm.Frame

	// protectReservedZeroedPage becomes true once ReservedZeroedFrame has
	// been initialized; from that point on it must never be mapped RW.
	protectReservedZeroedPage bool
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}

func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	var (
		faultAddress = uintptr(readCR2Fn())
		faultPage    = PageFromAddress(faultAddress)
		pageEntry    *pageTableEntry
	)

	// Lookup entry for the page where the fault occurred
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set. Because every
	// physical frame is reachable through the offset-mapped window there
	// is no need to temporarily map the old or new frame to copy between
	// them - both are just physToVirt(frame.Address()) away.
	if pageEntry != nil && !pageEntry.HasFlags(FlagRW) && pageEntry.HasFlags(FlagCopyOnWrite) {
		var (
			newFrame pmm.Frame
			err      *kernel.Error
		)

		if newFrame, err = frameAllocator(); err != nil {
			nonRecoverablePageFault(faultAddress, errorCode, frame, regs, err)
		} else {
			copyPageContents(physToVirt(pageEntry.Frame().Address()), physToVirt(newFrame.Address()))

			// Update mapping to point to the new frame, flag it as RW and
			// remove the CoW flag
			pageEntry.ClearFlags(FlagCopyOnWrite)
			pageEntry.SetFlags(FlagPresent | FlagRW)
			pageEntry.SetFrame(newFrame)
			flushTLBEntryFn(faultPage.Address())

			// Fault recovered; retry the instruction that caused the fault
			return
		}
	}

	nonRecoverablePageFault(faultAddress, errorCode, frame, regs, nil)
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint64, frame *irq.Frame, regs *irq.Regs, err *kernel.Error) {
	early.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		early.Printf("read from non-present page")
	case errorCode == 1:
		early.Printf("page protection violation (read)")
	case errorCode == 2:
		early.Printf("write to non-present page")
	case errorCode == 3:
		early.Printf("page protection violation (write)")
	case errorCode == 4:
		early.Printf("page-fault in user-mode")
	case errorCode == 8:
		early.Printf("page table has reserved bit set")
	case errorCode == 16:
		early.Printf("instruction fetch")
	default:
		early.Printf("unknown")
	}

	early.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()

	// TODO: Revisit this when user-mode tasks are implemented
	panicFn(err)
}

func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	early.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	early.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	// TODO: Revisit this when user-mode tasks are implemented
	panicFn(nil)
}

// copyPageContents copies one page worth of bytes from src to dst, both
// given as offset-mapped virtual addresses.
func copyPageContents(src, dst uintptr) {
	srcBuf := (*[1 << mem.PageShift]byte)(unsafe.Pointer(src))
	dstBuf := (*[1 << mem.PageShift]byte)(unsafe.Pointer(dst))
	copy(dstBuf[:], srcBuf[:])
}

// reserveZeroedFrame reserves a physical frame to be used together with
// FlagCopyOnWrite for lazy allocation requests.
func reserveZeroedFrame() *kernel.Error {
	var err *kernel.Error

	if ReservedZeroedFrame, err = frameAllocator(); err != nil {
		return err
	}
	mem.Memset(physToVirt(ReservedZeroedFrame.Address()), 0, mem.PageSize)

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}

// Init initializes the vmm system: it records the loader's physical-memory
// offset, reserves the zeroed CoW source frame and installs paging-related
// exception handlers.
func Init() *kernel.Error {
	SetPhysOffset(bootinfo.Active.PhysOffset)

	if err := reserveZeroedFrame(); err != nil {
		return err
	}

	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	return nil
}
