package ahci

import (
	"testing"
	"unsafe"
)

func TestCommandHeaderSetCommandFISLength(t *testing.T) {
	var h commandHeader
	h.setCommandFISLength(5)
	if h.flags0&0x1f != 5 {
		t.Fatalf("expected low 5 bits to hold 5; got %#x", h.flags0)
	}
}

func TestCommandHeaderSetWriteTogglesOnlyWriteBit(t *testing.T) {
	var h commandHeader
	h.setCommandFISLength(5)
	h.setWrite(true)
	if h.flags0&cmdHeaderWriteBit == 0 {
		t.Fatal("expected write bit to be set")
	}
	if h.flags0&0x1f != 5 {
		t.Fatal("expected command FIS length bits to survive setWrite")
	}
	h.setWrite(false)
	if h.flags0&cmdHeaderWriteBit != 0 {
		t.Fatal("expected write bit to be cleared")
	}
}

func TestPRDTEntryByteCountAndInterrupt(t *testing.T) {
	var e prdtEntry
	e.setByteCount(512*4 - 1)
	e.setInterrupt()
	if e.flags&0x3fffff != 512*4-1 {
		t.Fatalf("expected byte count bits to hold %d; got %#x", 512*4-1, e.flags&0x3fffff)
	}
	if e.flags>>31&1 != 1 {
		t.Fatal("expected interrupt bit to be set")
	}
}

func TestFindCommandSlotSkipsActiveAndIssuedSlots(t *testing.T) {
	h := &hba{hostCapability: 0x1f << 8} // NCS-1 = 31: 32 slots
	reg := &hbaPort{sataActive: 0b11, commandIssue: 0b100}
	p := &Port{hba: h, reg: reg}

	slot, err := p.findCommandSlot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot != 3 {
		t.Fatalf("expected first free slot to be 3; got %d", slot)
	}
}

func TestFindCommandSlotReturnsErrorWhenAllBusy(t *testing.T) {
	h := &hba{hostCapability: 0x00 << 8} // NCS-1 = 0: a single slot
	reg := &hbaPort{sataActive: 0b1}
	p := &Port{hba: h, reg: reg}

	if _, err := p.findCommandSlot(); err != errNoCommandSlots {
		t.Fatalf("expected errNoCommandSlots; got %v", err)
	}
}

func TestRegH2DFISLBAEncoding(t *testing.T) {
	const lba = uint64(0x0102030405)
	var fis regH2DFIS
	fis.lba0 = uint8(lba)
	fis.lba1 = uint8(lba >> 8)
	fis.lba2 = uint8(lba >> 16)
	fis.lba3 = uint8(lba >> 24)
	fis.lba4 = uint8(lba >> 32)
	fis.lba5 = uint8(lba >> 40)

	got := uint64(fis.lba0) | uint64(fis.lba1)<<8 | uint64(fis.lba2)<<16 |
		uint64(fis.lba3)<<24 | uint64(fis.lba4)<<32 | uint64(fis.lba5)<<40
	if got != lba {
		t.Fatalf("expected LBA to round-trip as %#x; got %#x", lba, got)
	}
}

func TestStructSizesMatchHardwareLayout(t *testing.T) {
	if sz := unsafe.Sizeof(commandHeader{}); sz != 32 {
		t.Fatalf("expected commandHeader to be 32 bytes; got %d", sz)
	}
	if sz := unsafe.Sizeof(commandTable{}); sz != 256 {
		t.Fatalf("expected commandTable to be 256 bytes; got %d", sz)
	}
	if sz := unsafe.Sizeof(hbaPort{}); sz != 128 {
		t.Fatalf("expected hbaPort to be 128 bytes; got %d", sz)
	}
	if sz := unsafe.Sizeof(prdtEntry{}); sz != 16 {
		t.Fatalf("expected prdtEntry to be 16 bytes; got %d", sz)
	}
}
