package proc

import (
	"encoding/binary"
	"unsafe"
)

const (
	testELFHeaderSize = 64
	testPHEntSize     = 56
)

// unsafePointerOf returns buf's backing address, used to fake a PhysOffset
// that resolves straight into a real, test-owned byte slice.
func unsafePointerOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

// buildTestImage assembles a minimal single-PT_LOAD little-endian x86-64
// ELF64 image, the same layout kernel/elf's own tests build, so New() can
// be exercised against a real (if tiny) program image.
func buildTestImage(virtAddr uint64, fileData []byte) []byte {
	image := make([]byte, testELFHeaderSize+testPHEntSize+len(fileData))

	copy(image[0:4], []byte{0x7f, 'E', 'L', 'F'})
	image[4] = 2 // ELFCLASS64
	image[5] = 1 // ELFDATA2LSB
	image[6] = 1 // EI_VERSION
	binary.LittleEndian.PutUint16(image[16:18], 2)    // ET_EXEC
	binary.LittleEndian.PutUint16(image[18:20], 0x3e) // EM_X86_64
	binary.LittleEndian.PutUint32(image[20:24], 1)
	binary.LittleEndian.PutUint64(image[24:32], virtAddr) // e_entry
	binary.LittleEndian.PutUint64(image[32:40], testELFHeaderSize)
	binary.LittleEndian.PutUint16(image[52:54], testELFHeaderSize)
	binary.LittleEndian.PutUint16(image[54:56], testPHEntSize)
	binary.LittleEndian.PutUint16(image[56:58], 1) // one program header

	ph := image[testELFHeaderSize : testELFHeaderSize+testPHEntSize]
	binary.LittleEndian.PutUint32(ph[0:4], 1) // PT_LOAD
	binary.LittleEndian.PutUint32(ph[4:8], 5) // flags
	binary.LittleEndian.PutUint64(ph[8:16], testELFHeaderSize+testPHEntSize)
	binary.LittleEndian.PutUint64(ph[16:24], virtAddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(fileData)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(fileData)))
	binary.LittleEndian.PutUint64(ph[48:56], uint64(1))

	copy(image[testELFHeaderSize+testPHEntSize:], fileData)
	return image
}
