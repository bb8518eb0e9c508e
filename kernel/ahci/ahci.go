// Package ahci drives AHCI SATA host bus adapters: it discovers every port
// with a drive attached, programs its command list/received-FIS/command
// table buffers, and issues READ/WRITE DMA EXT commands through them. The
// FIS layouts, HBA/port register layout and command-issue protocol are
// grounded on the original kernel's disk.rs; buffer allocation is grounded
// on kernel/mem/kheap (the kernel's only heap, repurposed here exactly the
// way the original used its global allocator for these same structures) and
// physical addresses are resolved through kernel/mem/vmm.Translate rather
// than a page-table-walking mapper type.
package ahci

import (
	"reflect"
	"unsafe"

	"lobsteros/kernel"
	"lobsteros/kernel/bootinfo"
	"lobsteros/kernel/mem/kheap"
	"lobsteros/kernel/mem/vmm"
	"lobsteros/kernel/pci"
	"lobsteros/kernel/sync"
)

// physToVirt resolves an address in the offset-mapped physical memory
// window, the same trick kernel/pci and kernel/acpi use for ECAM/ACPI
// table access: the loader maps all physical memory (including PCI BAR
// windows) at a fixed virtual offset, so no page-table walk is needed to
// reach the HBA's own registers.
func physToVirt(phys uintptr) uintptr { return phys + bootinfo.Active.PhysOffset }

var (
	errNoCommandSlots = &kernel.Error{Module: "ahci", Message: "no free command slots"}
	errTaskFile       = &kernel.Error{Module: "ahci", Message: "task file error"}
)

// ahciClass/ahciSubclass/ahciInterface identify an AHCI 1.0 SATA controller
// function in PCI configuration space (mass storage / SATA / AHCI).
const (
	ahciClass     = 0x01
	ahciSubclass  = 0x06
	ahciInterface = 0x01
)

// FIS (Frame Information Structure) type bytes, as placed in the first byte
// of every FIS the host or device exchanges.
const (
	fisTypeRegH2D = 0x27
)

// Bit masks within hbaPort's command/status (CMD: ST, FRE, FR, CR) and SATA
// status (SSTS: device present + PHY active) registers.
const (
	portCmdStart     = 0x0001
	portCmdFISRxEn   = 0x0010
	portCmdFISRxRun  = 0x4000
	portCmdStartRun  = 0x8000
	sataStatusActive = 0x101
)

// hba is the AHCI Host Bus Adapter's generic register block (ABAR, PCI
// BAR5).
type hba struct {
	hostCapability   uint32
	globalHostCtrl   uint32
	interruptStatus  uint32
	portImplemented  uint32
	version          uint32
	cccControl       uint32
	cccPorts         uint32
	emLocation       uint32
	emControl        uint32
	hostCapabilityEx uint32
	biosHandoff      uint32
	reserved         [0xa0 - 0x2c]uint8
	vendor           [0x100 - 0xa0]uint8
	ports            [32]hbaPort
}

// hbaPort is one port's 128-byte register block within the hba.
type hbaPort struct {
	clBase          uint32
	clBaseUpper     uint32
	fisBase         uint32
	fisBaseUpper    uint32
	interruptStatus uint32
	interruptEnable uint32
	commandStatus   uint32
	reserved0       [4]uint8
	taskFileData    uint32
	signature       uint32
	sataStatus      uint32
	sataControl     uint32
	sataError       uint32
	sataActive      uint32
	commandIssue    uint32
	reserved1       [68]uint8
}

// commandHeader is one entry of a port's 32-entry command list.
type commandHeader struct {
	flags0                   uint8 // command FIS length (low 5 bits), atapi, write, prefetchable
	flags1                   uint8 // reset, bist, clear-busy, pmp
	prdtLength               uint16
	prdByteCount             uint32
	commandTableDescBase     uint64
	reserved                 [4]uint32
}

const (
	cmdHeaderWriteBit = 1 << 6
)

func (h *commandHeader) setCommandFISLength(dwords uint8) { h.flags0 = (h.flags0 &^ 0x1f) | (dwords & 0x1f) }
func (h *commandHeader) setWrite(write bool) {
	if write {
		h.flags0 |= cmdHeaderWriteBit
	} else {
		h.flags0 &^= cmdHeaderWriteBit
	}
}

// prdtEntry is one Physical Region Descriptor Table entry within a command
// table: a scatter/gather buffer descriptor.
type prdtEntry struct {
	dataBase uint64
	reserved uint32
	flags    uint32 // bits 0-21 byte count-1, bit 31 interrupt-on-completion
}

func (e *prdtEntry) setByteCount(count uint32) {
	e.flags = (e.flags &^ 0x3fffff) | (count & 0x3fffff)
}
func (e *prdtEntry) setInterrupt() { e.flags |= 1 << 31 }

// commandTable holds the command FIS, an ATAPI command area and up to 8
// PRDT entries for one in-flight command.
type commandTable struct {
	commandFIS   [64]uint8
	atapiCommand [16]uint8
	reserved     [48]uint8
	prdtEntries  [8]prdtEntry
}

// regH2DFIS is the host-to-device register FIS used to issue ATA commands.
type regH2DFIS struct {
	fisType    uint8
	flags      uint8 // bits 0-3 port multiplier, bit 7 command/control
	command    uint8
	featureLow uint8
	lba0       uint8
	lba1       uint8
	lba2       uint8
	device     uint8
	lba3       uint8
	lba4       uint8
	lba5       uint8
	featureHi  uint8
	count      uint16
	icc        uint8
	control    uint8
	reserved   [4]uint8
}

const fisFlagCommand = 1 << 7

// Port is one AHCI port with an attached drive, ready to serve sector
// reads/writes.
type Port struct {
	lock sync.Spinlock

	hba           *hba
	reg           *hbaPort
	commandList   []commandHeader
	commandTables []*commandTable
}

var ports []*Port

// Init enumerates every PCI function identifying as an AHCI SATA
// controller and brings up every implemented, drive-present port it finds.
func Init(devices []pci.Device) *kernel.Error {
	ports = nil
	for _, dev := range devices {
		id := dev.Config.Identify()
		if id.Class != ahciClass || id.Subclass != ahciSubclass || id.Interface != ahciInterface {
			continue
		}
		if err := initController(dev.Config); err != nil {
			return err
		}
	}
	return nil
}

func initController(cfg *pci.ConfigSpace) *kernel.Error {
	abar := cfg.BAR[5]
	hbaMem := (*hba)(unsafe.Pointer(physToVirt(uintptr(abar))))

	for i := 0; i < 32; i++ {
		if hbaMem.portImplemented&(1<<uint(i)) == 0 {
			continue
		}
		port := &hbaMem.ports[i]
		if port.sataStatus&sataStatusActive != sataStatusActive {
			continue
		}
		p, err := initPort(hbaMem, port)
		if err != nil {
			return err
		}
		ports = append(ports, p)
	}
	return nil
}

func initPort(hbaMem *hba, port *hbaPort) (*Port, *kernel.Error) {
	// Stop the command engine and FIS receive before reprogramming the
	// port's buffers.
	port.commandStatus &^= portCmdStart
	port.commandStatus &^= portCmdFISRxEn
	for port.commandStatus&(portCmdFISRxRun|portCmdStartRun) != 0 {
	}

	clPtr, clErr := kheap.Default.Alloc(32*unsafe.Sizeof(commandHeader{}), 1024)
	if clErr != nil {
		return nil, clErr
	}
	clPhys, err := vmm.Translate(clPtr)
	if err != nil {
		return nil, err
	}
	port.clBase = uint32(clPhys)
	port.clBaseUpper = uint32(clPhys >> 32)

	fisPtr, fisErr := kheap.Default.Alloc(256, 256)
	if fisErr != nil {
		return nil, fisErr
	}
	fisPhys, err := vmm.Translate(fisPtr)
	if err != nil {
		return nil, err
	}
	port.fisBase = uint32(fisPhys)
	port.fisBaseUpper = uint32(fisPhys >> 32)

	commandList := headerSliceAt(clPtr, 32)
	commandTables := make([]*commandTable, 32)
	for i := range commandList {
		tablePtr, tErr := kheap.Default.AllocZeroed(unsafe.Sizeof(commandTable{}), 128)
		if tErr != nil {
			return nil, tErr
		}
		tablePhys, err := vmm.Translate(tablePtr)
		if err != nil {
			return nil, err
		}
		commandList[i].commandTableDescBase = uint64(tablePhys)
		commandList[i].prdtLength = 8
		commandTables[i] = (*commandTable)(unsafe.Pointer(tablePtr))
	}

	for port.commandStatus&portCmdStartRun != 0 {
	}
	port.commandStatus |= portCmdStart | portCmdFISRxEn

	return &Port{hba: hbaMem, reg: port, commandList: commandList, commandTables: commandTables}, nil
}

// headerSliceAt overlays a []commandHeader directly on top of a heap
// allocation, the same reflect.SliceHeader trick console.Writer uses to
// overlay a []uint16 on top of the VGA framebuffer.
func headerSliceAt(ptr uintptr, count int) []commandHeader {
	var headers []commandHeader
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&headers))
	hdr.Data = ptr
	hdr.Len = count
	hdr.Cap = count
	return headers
}

// findCommandSlot returns the index of a command slot that is neither
// active nor carrying an issued command.
func (p *Port) findCommandSlot() (int, *kernel.Error) {
	slots := p.reg.sataActive | p.reg.commandIssue
	slotCount := (p.hba.hostCapability >> 8) & 0x1f
	for i := uint32(0); i <= slotCount; i++ {
		if slots&(1<<i) == 0 {
			return int(i), nil
		}
	}
	return 0, errNoCommandSlots
}

// Count returns the number of initialized AHCI ports.
func Count() int { return len(ports) }

// PortAt returns the nth initialized port.
func PortAt(i int) *Port { return ports[i] }

// ReadSectors reads sectorCount 512-byte sectors starting at lba into a
// newly allocated buffer.
func (p *Port) ReadSectors(lba uint64, sectorCount uint16) ([]byte, *kernel.Error) {
	buf := make([]byte, 512*int(sectorCount))
	if err := p.transfer(lba, sectorCount, buf, false); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteSectors writes buf (exactly 512*sectorCount bytes) to disk starting
// at lba.
func (p *Port) WriteSectors(lba uint64, sectorCount uint16, buf []byte) *kernel.Error {
	return p.transfer(lba, sectorCount, buf, true)
}

func (p *Port) transfer(lba uint64, sectorCount uint16, buf []byte, write bool) *kernel.Error {
	p.lock.Acquire()
	defer p.lock.Release()

	p.reg.interruptStatus = 0xffffffff

	slot, err := p.findCommandSlot()
	if err != nil {
		return err
	}

	const fisDwords = uint8(unsafe.Sizeof(regH2DFIS{}) / 4)
	p.commandList[slot].setCommandFISLength(fisDwords)
	p.commandList[slot].setWrite(write)

	table := p.commandTables[slot]
	prdt := &table.prdtEntries[0]

	bufPhys, err := vmm.Translate(uintptr(unsafe.Pointer(&buf[0])))
	if err != nil {
		return err
	}
	prdt.dataBase = uint64(bufPhys)
	prdt.setByteCount(uint32(len(buf)) - 1)
	prdt.setInterrupt()

	cmdFIS := (*regH2DFIS)(unsafe.Pointer(&table.commandFIS[0]))
	*cmdFIS = regH2DFIS{}
	cmdFIS.fisType = fisTypeRegH2D
	cmdFIS.flags = fisFlagCommand
	if write {
		cmdFIS.command = 0x35 // WRITE DMA EXT
	} else {
		cmdFIS.command = 0x25 // READ DMA EXT
	}
	cmdFIS.lba0 = uint8(lba)
	cmdFIS.lba1 = uint8(lba >> 8)
	cmdFIS.lba2 = uint8(lba >> 16)
	cmdFIS.lba3 = uint8(lba >> 24)
	cmdFIS.lba4 = uint8(lba >> 32)
	cmdFIS.lba5 = uint8(lba >> 40)
	cmdFIS.device = 1 << 6 // LBA mode
	cmdFIS.count = sectorCount

	for p.reg.taskFileData&0x88 != 0 {
	}

	p.reg.commandIssue |= 1 << uint(slot)

	for p.reg.commandIssue&(1<<uint(slot)) != 0 {
		if p.reg.interruptStatus>>30&1 == 1 {
			return errTaskFile
		}
	}
	if p.reg.interruptStatus>>30&1 == 1 {
		return errTaskFile
	}
	return nil
}
