package elf

import (
	"bytes"
	"encoding/binary"
	"testing"

	"lobsteros/kernel/mem"
)

const (
	headerSize = 64
	phEntSize  = 56
)

func putHeader(buf []byte, phCount uint16, entry uint64) {
	copy(buf[0:4], magicNumber[:])
	buf[4] = classELF64
	buf[5] = dataLittleEndian
	buf[6] = 1 // ident version
	buf[7] = 0 // OS ABI
	binary.LittleEndian.PutUint16(buf[16:18], 2) // ET_EXEC
	binary.LittleEndian.PutUint16(buf[18:20], machineX86_64)
	binary.LittleEndian.PutUint32(buf[20:24], 1)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], headerSize) // program header table right after the header
	binary.LittleEndian.PutUint64(buf[40:48], 0)
	binary.LittleEndian.PutUint16(buf[52:54], headerSize)
	binary.LittleEndian.PutUint16(buf[54:56], phEntSize)
	binary.LittleEndian.PutUint16(buf[56:58], phCount)
}

func putProgramHeader(buf []byte, phType uint32, offset, virtAddr, fileSize, memSize uint64) {
	binary.LittleEndian.PutUint32(buf[0:4], phType)
	binary.LittleEndian.PutUint32(buf[4:8], 5) // flags: R+X
	binary.LittleEndian.PutUint64(buf[8:16], offset)
	binary.LittleEndian.PutUint64(buf[16:24], virtAddr)
	binary.LittleEndian.PutUint64(buf[32:40], fileSize)
	binary.LittleEndian.PutUint64(buf[40:48], memSize)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(mem.PageSize))
}

func TestParseHeaderRejectsTooSmallImage(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 10)); err != errTooSmall {
		t.Fatalf("expected errTooSmall; got %v", err)
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	buf := make([]byte, headerSize)
	putHeader(buf, 0, 0)
	buf[0] = 0x00
	if _, err := ParseHeader(buf); err != errBadMagic {
		t.Fatalf("expected errBadMagic; got %v", err)
	}
}

func TestParseHeaderRejectsNon64Bit(t *testing.T) {
	buf := make([]byte, headerSize)
	putHeader(buf, 0, 0)
	buf[4] = 1 // ELFCLASS32
	if _, err := ParseHeader(buf); err != errNot64Bit {
		t.Fatalf("expected errNot64Bit; got %v", err)
	}
}

func TestParseHeaderRejectsBigEndian(t *testing.T) {
	buf := make([]byte, headerSize)
	putHeader(buf, 0, 0)
	buf[5] = 2 // ELFDATA2MSB
	if _, err := ParseHeader(buf); err != errNotLittleEndian {
		t.Fatalf("expected errNotLittleEndian; got %v", err)
	}
}

func TestParseHeaderRejectsWrongMachine(t *testing.T) {
	buf := make([]byte, headerSize)
	putHeader(buf, 0, 0)
	binary.LittleEndian.PutUint16(buf[18:20], 0x03) // EM_386
	if _, err := ParseHeader(buf); err != errNotX86_64 {
		t.Fatalf("expected errNotX86_64; got %v", err)
	}
}

func TestParseHeaderAcceptsValidHeader(t *testing.T) {
	buf := make([]byte, headerSize)
	putHeader(buf, 1, 0x401000)
	header, err := ParseHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header.Entry != 0x401000 {
		t.Fatalf("expected entry 0x401000; got %#x", header.Entry)
	}
	if header.ProgramHeaderCount != 1 {
		t.Fatalf("expected 1 program header; got %d", header.ProgramHeaderCount)
	}
}

// buildImage assembles a minimal single-PT_LOAD ELF image: header,
// one program header, then its file data.
func buildImage(virtAddr uint64, fileData []byte, memSize uint64) []byte {
	image := make([]byte, headerSize+phEntSize+len(fileData))
	putHeader(image, 1, virtAddr)
	putProgramHeader(image[headerSize:headerSize+phEntSize], uint32(PTLoad),
		uint64(headerSize+phEntSize), virtAddr, uint64(len(fileData)), memSize)
	copy(image[headerSize+phEntSize:], fileData)
	return image
}

func TestLoadSingleSegmentWithinOnePage(t *testing.T) {
	data := []byte("hello world")
	image := buildImage(0x400000, data, uint64(len(data)))

	segments, entry, err := Load(image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry != 0x400000 {
		t.Fatalf("expected entry 0x400000; got %#x", entry)
	}
	if len(segments) != 1 {
		t.Fatalf("expected 1 page-sized segment; got %d", len(segments))
	}
	if segments[0].VirtAddr != 0x400000 {
		t.Fatalf("expected page-aligned virt addr 0x400000; got %#x", segments[0].VirtAddr)
	}
	if !bytes.Equal(segments[0].Data[:len(data)], data) {
		t.Fatal("expected file data at the start of the page")
	}
	for _, b := range segments[0].Data[len(data):] {
		if b != 0 {
			t.Fatal("expected bytes past file data to be zeroed")
		}
	}
}

func TestLoadZeroesBSSPastFileSize(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	const bssSize = uint64(mem.PageSize) * 2 // memSize spans well past file_size
	image := buildImage(0x500000, data, bssSize)

	segments, _, err := Load(image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 pages of BSS-backed segment; got %d", len(segments))
	}
	for i, seg := range segments {
		for j, b := range seg.Data {
			if i == 0 && j < len(data) {
				continue
			}
			if b != 0 {
				t.Fatalf("expected zeroed BSS byte at segment %d offset %d; got %#x", i, j, b)
			}
		}
	}
}

func TestLoadHandlesExactPageMultipleWithoutExtraPage(t *testing.T) {
	data := make([]byte, mem.PageSize)
	for i := range data {
		data[i] = byte(i)
	}
	image := buildImage(0x600000, data, uint64(len(data)))

	segments, _, err := Load(image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected exactly 1 page for an exact page-multiple segment (no off-by-one); got %d", len(segments))
	}
}

func TestLoadSkipsNonLoadSegments(t *testing.T) {
	image := make([]byte, headerSize+phEntSize*2)
	putHeader(image, 2, 0x700000)
	putProgramHeader(image[headerSize:headerSize+phEntSize], uint32(PTNote), 0, 0, 0, 0)
	putProgramHeader(image[headerSize+phEntSize:headerSize+2*phEntSize], uint32(PTLoad),
		uint64(headerSize+2*phEntSize), 0x700000, 0, uint64(mem.PageSize))

	segments, _, err := Load(image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected only the PT_LOAD segment to be loaded; got %d", len(segments))
	}
}

func TestLoadRejectsTruncatedProgramHeaderTable(t *testing.T) {
	buf := make([]byte, headerSize)
	putHeader(buf, 3, 0) // claims 3 program headers that don't fit in the image
	if _, _, err := Load(buf); err != errTruncated {
		t.Fatalf("expected errTruncated; got %v", err)
	}
}
