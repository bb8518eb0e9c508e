// Package elf parses 64-bit little-endian ELF executables and produces the
// page-sized, BSS-zeroed segment images kernel/proc maps into a fresh
// address space. The header/program-header field layouts and verification
// rules are grounded on the original kernel's elf.rs; unlike kernel/fat32's
// boot sector, ELF64's header and program header fields all fall on
// naturally aligned byte offsets, so they are read the same way every other
// on-disk/MMIO struct in this tree is read: an unsafe.Pointer overlay, not
// encoding/binary.
package elf

import (
	"reflect"
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/mem"
)

var (
	errTooSmall        = &kernel.Error{Module: "elf", Message: "image too small to contain an ELF header"}
	errBadMagic        = &kernel.Error{Module: "elf", Message: "bad ELF magic number"}
	errNot64Bit        = &kernel.Error{Module: "elf", Message: "only 64-bit ELF images are supported"}
	errNotLittleEndian = &kernel.Error{Module: "elf", Message: "only little-endian ELF images are supported"}
	errNotX86_64       = &kernel.Error{Module: "elf", Message: "only x86-64 ELF images are supported"}
	errTruncated       = &kernel.Error{Module: "elf", Message: "image truncated before its program header table"}
)

const (
	classELF64       = 2
	dataLittleEndian = 1
	machineX86_64    = 0x3e
)

var magicNumber = [4]uint8{0x7f, 'E', 'L', 'F'}

// Header is the 64-byte ELF64 file header.
type Header struct {
	Magic                    [4]uint8
	Class                    uint8
	Data                     uint8
	IdentVersion             uint8
	OSABI                    uint8
	identPad                 [8]uint8
	Type                     uint16
	Machine                  uint16
	Version                  uint32
	Entry                    uint64
	ProgramHeaderOffset      uint64
	SectionHeaderOffset      uint64
	Flags                    uint32
	HeaderSize               uint16
	ProgramHeaderEntrySize   uint16
	ProgramHeaderCount       uint16
	SectionHeaderEntrySize   uint16
	SectionHeaderCount       uint16
	SectionHeaderStringIndex uint16
}

// ProgramHeaderType identifies what a program header entry describes.
type ProgramHeaderType uint32

// Program header types this loader cares about; the rest (Dynamic, Interp,
// Note, SHLib, PHDR) are parsed but skipped by Load since
// this kernel only loads static, non-dynamically-linked executables.
const (
	PTNull    ProgramHeaderType = 0x0
	PTLoad    ProgramHeaderType = 0x1
	PTDynamic ProgramHeaderType = 0x2
	PTInterp  ProgramHeaderType = 0x3
	PTNote    ProgramHeaderType = 0x4
	PTShlib   ProgramHeaderType = 0x5
	PTPhdr    ProgramHeaderType = 0x6
)

// ProgramHeader is one ELF64 program header table entry. The reserved
// 8 bytes between VirtAddr and FileSize hold the physical address field
// (p_paddr); this kernel never loads to a fixed physical address, so it is
// kept unexported the same way the original left it as a raw reserved gap.
type ProgramHeader struct {
	Type     ProgramHeaderType
	Flags    uint32
	Offset   uint64
	VirtAddr uint64
	physAddr uint64
	FileSize uint64
	MemSize  uint64
	Align    uint64
}

// Segment is one page-sized, page-aligned chunk of a loaded LOAD segment,
// zero-padded past the file's data into its BSS. kernel/proc maps each one
// into a fresh AddrSpace at VirtAddr.
type Segment struct {
	VirtAddr uintptr
	Data     []byte
}

// ParseHeader validates and returns the ELF header at the start of image.
func ParseHeader(image []byte) (*Header, *kernel.Error) {
	if len(image) < int(unsafe.Sizeof(Header{})) {
		return nil, errTooSmall
	}
	header := (*Header)(unsafe.Pointer(&image[0]))
	if header.Magic != magicNumber {
		return nil, errBadMagic
	}
	if header.Class != classELF64 {
		return nil, errNot64Bit
	}
	if header.Data != dataLittleEndian {
		return nil, errNotLittleEndian
	}
	if header.Machine != machineX86_64 {
		return nil, errNotX86_64
	}
	return header, nil
}

func programHeaders(image []byte, header *Header) ([]ProgramHeader, *kernel.Error) {
	entrySize := uintptr(unsafe.Sizeof(ProgramHeader{}))
	count := uintptr(header.ProgramHeaderCount)
	tableEnd := uintptr(header.ProgramHeaderOffset) + count*entrySize
	if tableEnd > uintptr(len(image)) {
		return nil, errTruncated
	}

	var headers []ProgramHeader
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&headers))
	hdr.Data = uintptr(unsafe.Pointer(&image[header.ProgramHeaderOffset]))
	hdr.Len = int(count)
	hdr.Cap = int(count)
	return headers, nil
}

// pageAlign rounds addr down to the nearest page boundary.
func pageAlign(addr uint64) uint64 {
	return addr &^ (uint64(mem.PageSize) - 1)
}

// pageAlignUp rounds addr up to the nearest page boundary.
func pageAlignUp(addr uint64) uint64 {
	return (addr + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
}

// loadSegment turns one PT_LOAD program header into a run of page-sized
// Segments spanning [page-aligned virt_addr, page-aligned virt_addr+mem_size),
// with the first FileSize bytes of file data copied in at their true
// virtual offset and everything else left zeroed for BSS.
//
// The original walks this in two separate page_count/file_data_page_count
// loops, each sized with a `/0x1000 + 1` division that always allocates one
// page more than the data needs, even when it divides evenly; it is also
// easy to misread as dividing to cover the *true* data size. Using
// pageAlignUp's proper ceiling division and a single zero-initialized
// buffer removes both the off-by-one and the two-loop bookkeeping.
func loadSegment(image []byte, ph *ProgramHeader) ([]Segment, *kernel.Error) {
	if ph.Offset+ph.FileSize > uint64(len(image)) {
		return nil, errTruncated
	}

	regionStart := pageAlign(ph.VirtAddr)
	regionEnd := pageAlignUp(ph.VirtAddr + ph.MemSize)
	buf := make([]byte, regionEnd-regionStart)

	destOffset := ph.VirtAddr - regionStart
	copy(buf[destOffset:destOffset+ph.FileSize], image[ph.Offset:ph.Offset+ph.FileSize])

	pageCount := int((regionEnd - regionStart) / uint64(mem.PageSize))
	segments := make([]Segment, pageCount)
	for i := 0; i < pageCount; i++ {
		start := i * int(mem.PageSize)
		segments[i] = Segment{
			VirtAddr: uintptr(regionStart) + uintptr(i)*uintptr(mem.PageSize),
			Data:     buf[start : start+int(mem.PageSize)],
		}
	}
	return segments, nil
}

// Load parses image as an ELF64 executable and returns every loadable
// segment plus its entry point. Non-LOAD program headers (Dynamic, Interp,
// Note, ...) are ignored, matching the original loader's behavior.
func Load(image []byte) ([]Segment, uint64, *kernel.Error) {
	header, err := ParseHeader(image)
	if err != nil {
		return nil, 0, err
	}

	headers, err := programHeaders(image, header)
	if err != nil {
		return nil, 0, err
	}

	var segments []Segment
	for i := range headers {
		if headers[i].Type != PTLoad {
			continue
		}
		segs, err := loadSegment(image, &headers[i])
		if err != nil {
			return nil, 0, err
		}
		segments = append(segments, segs...)
	}

	return segments, header.Entry, nil
}
