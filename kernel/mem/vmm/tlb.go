package vmm

import "lobsteros/kernel/cpu"

var (
	flushTLBEntry = cpu.FlushTLBEntry
	switchPDT     = cpu.SwitchPDT
	activePDT     = cpu.ActivePDT
)

// PhysOffset is the virtual address at which the loader has mapped all of
// physical memory. Every physical frame's contents are reachable by adding
// this offset to its physical address; SetPhysOffset must be called once,
// during Init, before any Map/Translate call.
var PhysOffset uintptr

// SetPhysOffset records the physical-memory direct-map offset reported by
// the loader's bootinfo.MemoryMap.
func SetPhysOffset(offset uintptr) { PhysOffset = offset }

// physToVirt returns the offset-mapped virtual address for a physical
// address.
func physToVirt(physAddr uintptr) uintptr {
	return physAddr + PhysOffset
}
