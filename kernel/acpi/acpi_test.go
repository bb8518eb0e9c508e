package acpi

import (
	"testing"
	"unsafe"

	"lobsteros/kernel/bootinfo"
)

// setupFakePhysicalMemory allocates a buffer large enough to cover the RSDP
// scan region and points bootinfo.Active.PhysOffset at it, so phys+offset
// addresses used by findRSDP/readTableHeader land inside real process
// memory instead of the real (inaccessible-from-a-hosted-test) BIOS region.
func setupFakePhysicalMemory(t *testing.T) (offset uintptr, region []byte) {
	t.Helper()
	size := 0x300000
	buf := make([]byte, size)
	base := uintptr(unsafe.Pointer(&buf[0]))
	offset = base

	bootinfo.SetActive(&bootinfo.MemoryMap{PhysOffset: offset})
	return offset, buf
}

func checksumByte(b []byte) byte {
	var neg byte
	for _, c := range b {
		neg -= c
	}
	return neg
}

func writeRSDP(region []byte, physAddr uintptr, rsdtAddr uint32) {
	r := RSDPDescriptor{
		Signature:   rsdpSignature,
		OEMID:       [6]byte{'L', 'O', 'B', 'S', 'T', 'R'},
		Revision:    0,
		RSDTAddress: rsdtAddr,
	}
	raw := (*[unsafe.Sizeof(RSDPDescriptor{})]byte)(unsafe.Pointer(&r))
	r.Checksum = checksumByte(raw[:])
	copy(region[physAddr:], raw[:])
}

func writeSDTHeader(region []byte, physAddr uintptr, sig [4]byte, length uint32) {
	h := SDTHeader{Signature: sig, Length: length}
	raw := (*[unsafe.Sizeof(SDTHeader{})]byte)(unsafe.Pointer(&h))
	copy(region[physAddr:], raw[:])
}

func fixupChecksum(region []byte, physAddr uintptr, length uint32) {
	region[physAddr+9] = 0 // checksum field offset within SDTHeader
	region[physAddr+9] = checksumByte(region[physAddr : physAddr+uintptr(length)])
}

func TestInitFindsRSDPAndChildTables(t *testing.T) {
	_, region := setupFakePhysicalMemory(t)

	const (
		rsdtAddr = 0x200000
		madtAddr = 0x201000
	)

	writeSDTHeader(region, madtAddr, [4]byte{'A', 'P', 'I', 'C'}, uint32(unsafe.Sizeof(SDTHeader{})))
	fixupChecksum(region, madtAddr, uint32(unsafe.Sizeof(SDTHeader{})))

	rsdtLen := uint32(unsafe.Sizeof(SDTHeader{})) + 4
	writeSDTHeader(region, rsdtAddr, [4]byte{'R', 'S', 'D', 'T'}, rsdtLen)
	// single 4-byte child pointer immediately after the header
	childOff := rsdtAddr + uintptr(unsafe.Sizeof(SDTHeader{}))
	*(*uint32)(unsafe.Pointer(&region[childOff])) = uint32(madtAddr)
	fixupChecksum(region, rsdtAddr, rsdtLen)

	writeRSDP(region, rsdpLow+rsdpAlignment, uint32(rsdtAddr))

	info, err := Init()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.RSDP.RSDTAddress != rsdtAddr {
		t.Fatalf("expected RSDT address %#x; got %#x", rsdtAddr, info.RSDP.RSDTAddress)
	}
	if info.Lookup("RSDT") == nil {
		t.Error("expected RSDT to be present in the table map")
	}
	if info.Lookup("APIC") == nil {
		t.Error("expected APIC (MADT) child table to be mapped")
	}
}

func TestInitFailsWithoutRSDP(t *testing.T) {
	setupFakePhysicalMemory(t)

	if _, err := Init(); err != errMissingRSDP {
		t.Fatalf("expected errMissingRSDP; got %v", err)
	}
}

func TestChecksumMismatchTableIsSkipped(t *testing.T) {
	_, region := setupFakePhysicalMemory(t)

	const (
		rsdtAddr = 0x200000
		badAddr  = 0x201000
	)

	// bad table: header written but checksum left wrong on purpose
	writeSDTHeader(region, badAddr, [4]byte{'B', 'A', 'D', 'T'}, uint32(unsafe.Sizeof(SDTHeader{})))

	rsdtLen := uint32(unsafe.Sizeof(SDTHeader{})) + 4
	writeSDTHeader(region, rsdtAddr, [4]byte{'R', 'S', 'D', 'T'}, rsdtLen)
	childOff := rsdtAddr + uintptr(unsafe.Sizeof(SDTHeader{}))
	*(*uint32)(unsafe.Pointer(&region[childOff])) = uint32(badAddr)
	fixupChecksum(region, rsdtAddr, rsdtLen)

	writeRSDP(region, rsdpLow+rsdpAlignment, uint32(rsdtAddr))

	info, err := Init()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Lookup("BADT") != nil {
		t.Error("expected checksum-failing table to be skipped, not added to the map")
	}
}
