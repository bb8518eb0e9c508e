// Package gdt builds the kernel's global descriptor table: a null
// descriptor, flat ring-0 code/data segments, flat ring-3 code/data
// segments for future user-mode tasks, and a TSS descriptor carrying the
// double-fault interrupt stack. This mirrors what the original kernel's
// gdt.rs builds with the x86_64 crate's GlobalDescriptorTable/TaskStateSegment
// types, reimplemented by hand over kernel/cpu's LoadGDT/LoadTSS/ReloadCS
// primitives since nothing in Go plays that crate's role.
package gdt

import (
	"unsafe"

	"lobsteros/kernel/cpu"
)

// Selector indexes one entry of the GDT, already shifted into the form the
// CPU's segment registers expect (index<<3 | RPL).
type Selector uint16

// doubleFaultStackSize is the size of the dedicated stack the double-fault
// handler runs on via IST1, so a stack overflow doesn't re-fault on the
// same (already exhausted) stack.
const doubleFaultStackSize = 4096 * 5

// privilegeStackSize is the size of the ring-0 stack the CPU switches to on
// a ring3->ring0 transition (TSS.RSP0).
const privilegeStackSize = 0x10000

var (
	doubleFaultStack [doubleFaultStackSize]byte
	privilegeStack   [privilegeStackSize]byte
)

// descriptor flag bits, laid out as the low 32 bits of an 8-byte GDT entry
// (access byte in bits 40-47, relative to a full entry; here pre-shifted to
// live directly in the flags field each accessor builds).
const (
	flagPresent     = 1 << 7
	flagUser        = 1 << 4 // descriptor type: 1 = code/data, 0 = system
	flagExecutable  = 1 << 3
	flagReadWrite   = 1 << 1 // RW for data segments, readable for code segments
	flagLongMode    = 1 << 5 // long-mode code segment (L bit, granularity byte)
	flagDPL3        = 3 << 5
	accessTSSType64 = 0x9 // 64-bit TSS (available), system descriptor type
)

// entry is one 8-byte GDT slot. System descriptors (the TSS) consume two
// consecutive entries.
type entry uint64

func codeSegment(dpl uint64) entry {
	access := uint64(flagPresent|flagUser|flagExecutable|flagReadWrite) | dpl
	return entry((access << 40) | (flagLongMode << 48))
}

func dataSegment(dpl uint64) entry {
	access := uint64(flagPresent|flagUser|flagReadWrite) | dpl
	return entry(access << 40)
}

// table is the fixed layout of this kernel's GDT. Index order fixes the
// selector values below.
type table struct {
	null       entry
	kernelCode entry
	kernelData entry
	tssLow     entry
	tssHigh    entry
	userData   entry
	userCode   entry
}

const (
	// KernelCodeSelector addresses the flat ring-0 code segment.
	KernelCodeSelector = Selector(1 * 8)
	// KernelDataSelector addresses the flat ring-0 data segment.
	KernelDataSelector = Selector(2 * 8)
	// UserCodeSelector addresses the flat ring-3 code segment (RPL bits
	// must be ORed in by the caller when loading it into a segment
	// register or IRETQ frame).
	UserCodeSelector = Selector(6 * 8)
	// UserDataSelector addresses the flat ring-3 data segment.
	UserDataSelector = Selector(5 * 8)
	// TSSSelector addresses the task-state segment descriptor.
	TSSSelector = Selector(3 * 8)

	// DoubleFaultIST is the interrupt-stack-table slot (1-indexed in the
	// TSS, 0-indexed here) reserved for the double-fault handler.
	DoubleFaultIST = 0
)

// taskStateSegment mirrors the amd64 TSS layout the CPU reads on a
// privilege-level change or IST-based interrupt dispatch; only the fields
// this kernel populates are named, the rest stay reserved zero padding.
type taskStateSegment struct {
	_              uint32
	rsp            [3]uint64
	_              uint64
	ist            [7]uint64
	_              uint64
	_              uint16
	ioMapBase      uint16
}

var (
	gdtTable table
	tss      taskStateSegment

	gdtDescriptor struct {
		limit uint16
		base  uintptr
	}
)

func tssBase() uintptr { return uintptr(unsafe.Pointer(&tss)) }

func tssDescriptor(base uintptr, limit uint32) (entry, entry) {
	low := uint64(limit&0xffff) |
		(uint64(base&0xffffff) << 16) |
		(uint64(accessTSSType64|flagPresent) << 40) |
		(uint64((limit>>16)&0xf) << 48) |
		(uint64((base>>24)&0xff) << 56)
	high := entry(uint64(base) >> 32)
	return entry(low), high
}

// Init builds the GDT and TSS, loads them into the CPU and reloads CS so
// that subsequent code runs against the new kernel code segment.
func Init() {
	tss.rsp[0] = uintptr(unsafe.Pointer(&privilegeStack[0])) + privilegeStackSize
	tss.ist[DoubleFaultIST] = uint64(uintptr(unsafe.Pointer(&doubleFaultStack[0])) + doubleFaultStackSize)
	tss.ioMapBase = uint16(unsafe.Sizeof(tss))

	low, high := tssDescriptor(tssBase(), uint32(unsafe.Sizeof(tss)-1))

	gdtTable = table{
		null:       0,
		kernelCode: codeSegment(0),
		kernelData: dataSegment(0),
		userCode:   codeSegment(flagDPL3),
		userData:   dataSegment(flagDPL3),
		tssLow:     low,
		tssHigh:    high,
	}

	gdtDescriptor.limit = uint16(unsafe.Sizeof(gdtTable) - 1)
	gdtDescriptor.base = uintptr(unsafe.Pointer(&gdtTable))

	cpu.LoadGDT(uintptr(unsafe.Pointer(&gdtDescriptor)))
	cpu.ReloadCS(uint16(KernelCodeSelector))
	cpu.LoadTSS(uint16(TSSSelector))
}

// UserSelectors returns the (CS, DS) selector pair for a ring-3 task, with
// the RPL bits already set to ring 3.
func UserSelectors() (cs, ds uint16) {
	return uint16(UserCodeSelector) | 3, uint16(UserDataSelector) | 3
}
