// Package proc builds a ring-3 process from a loaded ELF image: a private
// address space with the kernel half copied in, the image's loadable
// segments mapped at their link addresses, a user stack, and the saved
// register state an IRETQ frame needs to drop into it. Grounded on the
// original kernel's process.rs (new_page_table's kernel-half copy,
// map_process's stack range, switch_to_usermode's IRETQ setup), built on
// top of kernel/mem/vmm.AddrSpace and kernel/elf.Load.
package proc

import (
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/bootinfo"
	"lobsteros/kernel/console"
	"lobsteros/kernel/elf"
	"lobsteros/kernel/gdt"
	"lobsteros/kernel/mem"
	"lobsteros/kernel/mem/pmm"
	"lobsteros/kernel/mem/pmm/allocator"
	"lobsteros/kernel/mem/vmm"
)

// userStackBase/userStackTop mirror the original's fixed USERSPACE_STACK_BASE
// (0x800000) / USERSPACE_STACK (0x810000): a 64KiB stack at a fixed address,
// since this kernel has no user-mode virtual memory allocator yet.
const (
	userStackBase = 0x800000
	userStackTop  = 0x810000
)

// newAddrSpaceFn/activateFn/mapFn/allocFrameFn are package-var seams over
// kernel/mem/vmm and kernel/mem/pmm/allocator, mirroring the outbFn/inbFn
// seam idiom kernel/pic and kernel/pit use: vmm.Map and AddrSpace.Activate
// ultimately execute privileged CR3/page-table instructions that fault in
// a hosted test process, so tests replace these with in-memory fakes.
var (
	newAddrSpaceFn = vmm.NewAddrSpace
	activateFn     = func(as *vmm.AddrSpace) { as.Activate() }
	mapFn          = vmm.Map
	allocFrameFn   = allocator.AllocFrame
)

// Process is one loaded program: its private address space and the
// register state EnterUsermode needs to start it.
type Process struct {
	AddrSpace  *vmm.AddrSpace
	EntryPoint uintptr
	StackTop   uintptr
}

func physToVirt(phys uintptr) uintptr { return phys + bootinfo.Active.PhysOffset }

// New loads image as an ELF64 executable into a freshly created address
// space: every PT_LOAD segment is mapped at its link address (user
// read/write/execute, per the original's USER_ACCESSIBLE|WRITABLE mapping
// flags — this kernel does not yet track per-segment R/W/X flags
// separately), a fixed-size user stack is mapped at
// [userStackBase, userStackTop), and the VGA text page is mapped at its
// physical address.
func New(image []byte) (*Process, *kernel.Error) {
	segments, entry, err := elf.Load(image)
	if err != nil {
		return nil, err
	}

	addrSpace, err := newAddrSpaceFn()
	if err != nil {
		return nil, err
	}
	activateFn(addrSpace)

	for _, seg := range segments {
		if err := mapSegment(seg); err != nil {
			return nil, err
		}
	}

	if err := mapStack(); err != nil {
		return nil, err
	}

	if err := mapVGAFramebuffer(); err != nil {
		return nil, err
	}

	return &Process{
		AddrSpace:  addrSpace,
		EntryPoint: uintptr(entry),
		StackTop:   userStackTop,
	}, nil
}

// mapSegment allocates a physical frame, copies the segment's page-sized
// data into it through the offset-mapped physical window, and maps it at
// the segment's virtual address in the now-active address space.
func mapSegment(seg elf.Segment) *kernel.Error {
	frame, err := allocFrameFn()
	if err != nil {
		return err
	}

	dst := (*[mem.PageSize]byte)(unsafe.Pointer(physToVirt(frame.Address())))
	copy(dst[:], seg.Data)

	return mapFn(vmm.PageFromAddress(seg.VirtAddr), frame,
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible)
}

// mapStack allocates and maps every page of the fixed user stack range,
// zeroing each frame first since allocator.AllocFrame hands back raw,
// possibly stale physical memory.
func mapStack() *kernel.Error {
	for addr := uintptr(userStackBase); addr < userStackTop; addr += uintptr(mem.PageSize) {
		frame, err := allocFrameFn()
		if err != nil {
			return err
		}
		mem.Memset(physToVirt(frame.Address()), 0, mem.PageSize)
		if err := mapFn(vmm.PageFromAddress(addr), frame,
			vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible); err != nil {
			return err
		}
	}
	return nil
}

// mapVGAFramebuffer maps the VGA text buffer's physical page at its own
// address in the now-active address space. kernel/mem/vmm.NewAddrSpace only
// copies the higher-half kernel PML4 entries (256..511); entry 0, which
// covers console.PhysAddr (0xB8000), starts out empty in every new address
// space. SYSCALL does not switch CR3, so print_vga_text (kernel/syscall)
// runs with the calling process's page tables still active and needs this
// mapping present to avoid faulting on every print, the same requirement
// the original's map_process placed on its VGA buffer identity-map.
func mapVGAFramebuffer() *kernel.Error {
	frame := pmm.Frame(console.PhysAddr >> mem.PageShift)
	return mapFn(vmm.PageFromAddress(console.PhysAddr), frame,
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagUserAccessible)
}

// EnterUsermode drops the CPU to ring 3 at p's entry point and stack via
// IRETQ, and never returns. The original's switch_to_usermode builds this
// same five-value IRETQ frame (SS, RSP, RFLAGS, CS, RIP) inline in a single
// asm! block; here the frame assembly and RFLAGS constant live in
// kernel/gdt.UserSelectors plus enterUsermode (usermode_amd64.s), keeping
// the naked-assembly surface as small as the kernel/sched context switch.
func (p *Process) EnterUsermode() {
	userCS, userDS := gdt.UserSelectors()
	enterUsermode(p.EntryPoint, p.StackTop, uint64(userCS), uint64(userDS))
}
