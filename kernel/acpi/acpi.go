// Package acpi locates the root system description pointer and walks its
// child tables far enough to hand kernel/pci the MCFG table it needs for
// PCIe enumeration. It deliberately stops there: no AML interpreter, no
// power-management tables. gopher-os's device/acpi package goes much
// further (a full ACPI machine language VM under device/acpi/aml) but that
// is out of scope here; the RSDP-scan-then-RSDT/XSDT-children algorithm
// below follows the original kernel's acpi.rs instead, while keeping
// gopher-os's SDTHeader field layout and errMissingRSDP-style sentinel
// errors (device/acpi/table, device/acpi/acpi.go).
package acpi

import (
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/bootinfo"
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}
)

// rsdpLow/rsdpHigh bound the physical memory region the BIOS places the
// RSDP signature in (the original's RSDP_REGION, 0x80000..=0xFFFFF);
// rsdpAlignment is the scan step the signature is guaranteed to be aligned
// to.
const (
	rsdpLow       = 0x00080000
	rsdpHigh      = 0x000fffff
	rsdpAlignment = 16
)

var rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}

// RSDPDescriptor is the ACPI 1.0 root system description pointer.
type RSDPDescriptor struct {
	Signature    [8]byte
	Checksum     uint8
	OEMID        [6]byte
	Revision     uint8
	RSDTAddress  uint32
}

// SDTHeader is the common header every ACPI table (RSDT, XSDT, FADT, MCFG,
// ...) starts with.
type SDTHeader struct {
	Signature       [4]byte
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       uint32
	CreatorRevision uint32
}

// SignatureString returns the 4-character ASCII table signature.
func (h *SDTHeader) SignatureString() string { return string(h.Signature[:]) }

// Info is the parsed result of Init: the RSDP plus every child table
// reachable from the RSDT/XSDT, keyed by signature.
type Info struct {
	RSDP   *RSDPDescriptor
	Tables map[string]*SDTHeader
}

// Lookup returns the table with the given 4-character signature, or nil.
func (info *Info) Lookup(signature string) *SDTHeader {
	return info.Tables[signature]
}

func physToVirt(phys uintptr) uintptr {
	return phys + bootinfo.Active.PhysOffset
}

func checksumOK(base uintptr, length uintptr) bool {
	var sum uint8
	for i := uintptr(0); i < length; i++ {
		sum += *(*uint8)(unsafe.Pointer(base + i))
	}
	return sum == 0
}

// findRSDP scans the BIOS-reserved region for the RSDP signature.
func findRSDP() (*RSDPDescriptor, *kernel.Error) {
	for phys := uintptr(rsdpLow); phys <= rsdpHigh; phys += rsdpAlignment {
		addr := physToVirt(phys)
		sig := (*[8]byte)(unsafe.Pointer(addr))
		if *sig != rsdpSignature {
			continue
		}
		if !checksumOK(addr, unsafe.Sizeof(RSDPDescriptor{})) {
			continue
		}
		rsdp := (*RSDPDescriptor)(unsafe.Pointer(addr))
		if rsdp.Revision != 0 {
			// This kernel only parses the ACPI 1.0 RSDP layout; skip a
			// revision it doesn't understand rather than misread an
			// extended RSDP as though it were the older, shorter struct.
			continue
		}
		return rsdp, nil
	}
	return nil, errMissingRSDP
}

// readTableHeader maps (via the offset window) and validates the header at
// a physical address, returning a checksum error without discarding the
// header so callers can still report which table failed.
func readTableHeader(physAddr uintptr) (*SDTHeader, *kernel.Error) {
	virt := physToVirt(physAddr)
	header := (*SDTHeader)(unsafe.Pointer(virt))
	if !checksumOK(virt, uintptr(header.Length)) {
		return header, errTableChecksumMismatch
	}
	return header, nil
}

// childPointers returns the physical addresses listed in the RSDT/XSDT
// payload that follows header, reading 4-byte entries for an RSDT and
// 8-byte entries for an XSDT.
func childPointers(header *SDTHeader, physAddr uintptr, is64Bit bool) []uintptr {
	headerSize := unsafe.Sizeof(SDTHeader{})
	payloadLen := uintptr(header.Length) - headerSize
	entrySize := uintptr(4)
	if is64Bit {
		entrySize = 8
	}

	count := payloadLen / entrySize
	ptrs := make([]uintptr, count)
	base := physToVirt(physAddr) + headerSize
	for i := uintptr(0); i < count; i++ {
		if is64Bit {
			ptrs[i] = uintptr(*(*uint64)(unsafe.Pointer(base + i*8)))
		} else {
			ptrs[i] = uintptr(*(*uint32)(unsafe.Pointer(base + i*4)))
		}
	}
	return ptrs
}

// Init locates the RSDP and walks the RSDT to build the table-by-signature
// map. findRSDP only accepts revision-0 RSDPs, so the 64-bit XSDT entry
// path in childPointers is never taken from here. Tables that fail their checksum are
// skipped rather than treated as fatal, matching real firmware's tendency
// to carry a handful of broken OEM tables.
func Init() (*Info, *kernel.Error) {
	rsdp, err := findRSDP()
	if err != nil {
		return nil, err
	}

	is64Bit := rsdp.Revision >= 2
	rootAddr := uintptr(rsdp.RSDTAddress)

	rootHeader, err := readTableHeader(rootAddr)
	if err != nil {
		return nil, err
	}

	info := &Info{RSDP: rsdp, Tables: map[string]*SDTHeader{
		rootHeader.SignatureString(): rootHeader,
	}}

	for _, childAddr := range childPointers(rootHeader, rootAddr, is64Bit) {
		header, err := readTableHeader(childAddr)
		if err != nil {
			continue
		}
		info.Tables[header.SignatureString()] = header
	}

	return info, nil
}
