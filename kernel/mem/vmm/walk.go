package vmm

import (
	"unsafe"

	"lobsteros/kernel/mem"
)

var (
	// activePDTFn is used by tests to override calls to activePDT which
	// would otherwise fault outside a real MMU.
	activePDTFn = activePDT

	// ptePtrFn resolves a page table entry's physical address to the
	// pointer the walk should dereference. In the real kernel this is
	// physToVirt, since every physical frame is reachable through the
	// offset-mapped window; tests substitute a function that adds the
	// physical address to the base of a Go-allocated buffer of tables.
	ptePtrFn = physToVirt
)

// pageTableWalker is called once per page table level visited by walk. If it
// returns false, the walk stops early.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// walk performs a page table walk for virtAddr against the active PML4.
// Unlike gopher-os's recursively self-mapped walk, this implementation never
// needs a special virtual address trick: every table, at every level, is
// physical memory reachable through the offset-mapped window installed by
// the loader, so each next-level table address is just physToVirt of the
// frame the current entry points to.
func walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableAddr := ptePtrFn(activePDTFn() &^ uintptr(mem.PageSize-1))

	for level := uint8(0); level < pageLevels; level++ {
		entryIndex := (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		entryAddr := tableAddr + (entryIndex << mem.PointerShift)

		pte := (*pageTableEntry)(unsafe.Pointer(entryAddr))
		if !walkFn(level, pte) {
			return
		}

		if level == pageLevels-1 {
			return
		}

		tableAddr = ptePtrFn(pte.Frame().Address())
	}
}
