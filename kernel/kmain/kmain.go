package kmain

import (
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/acpi"
	"lobsteros/kernel/ahci"
	"lobsteros/kernel/bootinfo"
	"lobsteros/kernel/console"
	"lobsteros/kernel/cpu"
	"lobsteros/kernel/fat32"
	"lobsteros/kernel/gdt"
	"lobsteros/kernel/goruntime"
	"lobsteros/kernel/irq"
	"lobsteros/kernel/keyboard"
	"lobsteros/kernel/kfmt/early"
	"lobsteros/kernel/mem"
	"lobsteros/kernel/mem/kheap"
	"lobsteros/kernel/mem/pmm/allocator"
	"lobsteros/kernel/mem/vmm"
	"lobsteros/kernel/pci"
	"lobsteros/kernel/pic"
	"lobsteros/kernel/pit"
	"lobsteros/kernel/proc"
	"lobsteros/kernel/sched"
	"lobsteros/kernel/syscall"
)

// timerFrequencyHz is the PIT rate that drives kernel/sched's preemption
// quantum; 100Hz keeps sched.Quantum (20 ticks) at a human-imperceptible
// ~200ms time slice without reloading the divisor on every boot.
const timerFrequencyHz = 100

// bootProcessPath is where Kmain looks for the first program to run, the
// same role the original kernel's hard-coded "/BIN/BASH" lookup plays in
// lib.rs's init, generalized to a directory/file pair since this kernel's
// FAT32 reader exposes 8.3 names rather than a single path string.
var bootProcessPath = [2]string{"BIN", "INIT"}

// loadBootProcess locates bootProcessPath on fs, reads it and builds a
// Process from it, reporting — but not panicking on — any step that fails;
// a kernel with no init program to run still finishes booting, it just has
// no scheduler work to do.
func loadBootProcess(fs *fat32.FileSystem) {
	dir := fs.Root.Lookup(bootProcessPath[0])
	if dir == nil {
		early.Printf("sched: no %s directory on boot volume\n", bootProcessPath[0])
		return
	}
	file := dir.Lookup(bootProcessPath[1])
	if file == nil {
		early.Printf("sched: no %s/%s on boot volume\n", bootProcessPath[0], bootProcessPath[1])
		return
	}

	data, err := fs.ReadFile(file)
	if err != nil {
		early.Printf("sched: %s\n", err.Message)
		return
	}

	process, err := proc.New(data)
	if err != nil {
		early.Printf("proc: %s\n", err.Message)
		return
	}

	if _, err := sched.Global.Push(process); err != nil {
		early.Printf("sched: %s\n", err.Message)
		return
	}

	pit.SetFrequency(timerFrequencyHz)
	irq.HandleIRQ(0, sched.Global.Tick)
	pic.Unmask(0)
	sched.Global.Enable()
}

// kernelHeapSize is the size of the DMA-addressable heap that backs
// kheap.Default, used by device drivers (kernel/ahci) for hardware command
// structures that need explicit size/alignment control Go's own allocator
// does not expose.
const kernelHeapSize = 4 * mem.Mb

func initKernelHeap() *kernel.Error {
	start, err := vmm.EarlyReserveRegion(kernelHeapSize)
	if err != nil {
		return err
	}

	pageCount := uintptr(kernelHeapSize) >> mem.PageShift
	for page := vmm.PageFromAddress(start); pageCount > 0; pageCount, page = pageCount-1, page+1 {
		frame, err := allocator.AllocFrame()
		if err != nil {
			return err
		}
		if err := vmm.Map(page, frame, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			return err
		}
	}

	kheap.Init(start, uintptr(kernelHeapSize))
	return nil
}

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. This function is invoked by the rt0 assembly code
// after setting up the GDT and a minimal g0 struct that allows Go code to
// run on the small bootstrap stack the assembly code allocated.
//
// The rt0 code passes the physical address of a bootinfo.MemoryMap that it
// has already built from the loader's hand-off data, including the virtual
// offset at which it pre-mapped all physical memory.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the
// CPU.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	bootinfo.SetActive((*bootinfo.MemoryMap)(unsafe.Pointer(bootInfoPtr)))

	console.Active.Init()
	console.Active.Clear()

	gdt.Init()
	syscall.Init()

	var err *kernel.Error
	if err = allocator.Init(); err != nil {
		panic(err)
	} else if err = vmm.Init(); err != nil {
		panic(err)
	} else if err = initKernelHeap(); err != nil {
		panic(err)
	}

	irq.Init()
	pic.Init()
	irq.SetEOIFunc(pic.EOI)
	keyboard.Init()

	if err = goruntime.Init(); err != nil {
		panic(err)
	}

	// ACPI/PCI/AHCI/filesystem discovery failures are reported but not
	// fatal: a system with no disk controller, or a disk with no FAT32
	// volume on it, still boots, it just has nothing to load programs from.
	if acpiInfo, acpiErr := acpi.Init(); acpiErr != nil {
		early.Printf("acpi: %s\n", acpiErr.Message)
	} else if devices, pciErr := pci.Enumerate(acpiInfo); pciErr != nil {
		early.Printf("pci: %s\n", pciErr.Message)
	} else if ahciErr := ahci.Init(devices); ahciErr != nil {
		early.Printf("ahci: %s\n", ahciErr.Message)
	} else if ahci.Count() > 0 {
		if fs, fsErr := fat32.Mount(ahci.PortAt(0)); fsErr != nil {
			early.Printf("fat32: %s\n", fsErr.Message)
		} else {
			loadBootProcess(fs)
		}
	}

	// Kmain itself has nothing left to do: whatever runs from here on runs
	// as a scheduled task, driven by the timer tick registered in
	// loadBootProcess. Halting in a loop (rather than returning, which the
	// rt0 code treats as fatal) is what the original's hlt_loop plays at
	// the end of its own init and at the tail of end_current_task.
	for {
		cpu.Halt()
	}
}
