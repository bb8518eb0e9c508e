// Package pic drives the two cascaded 8259A programmable interrupt
// controllers that own IRQ lines 0-15 on this platform. Port addresses and
// initialization-command-word bits are grounded on the constants other
// retrieved kernels define for the same chip (core_engine/devices in the
// example pack); the remap-then-mask-all-then-let-each-driver-Unmask
// sequence follows the textbook 8259A dance every hobby x86 kernel runs.
package pic

import "lobsteros/kernel/cpu"

const (
	masterCommandPort = 0x20
	masterDataPort    = 0x21
	slaveCommandPort  = 0xA0
	slaveDataPort     = 0xA1

	icw1Init  = 0x10
	icw1ICW4  = 0x01
	icw4_8086 = 0x01

	eoiCommand = 0x20
)

// Offset is the IDT vector the first (master) IRQ line is remapped to;
// kernel/irq dispatches IRQ n from vector Offset+n.
const Offset = 0x20

var (
	// outbFn/inbFn are mocked by tests and are automatically inlined by the
	// compiler; real port I/O can't run in a hosted test process.
	outbFn = cpu.Outb
	inbFn  = cpu.Inb
)

// Init remaps the master/slave PICs so their IRQ lines land on vectors
// Offset..Offset+15 instead of overlapping the CPU exception vectors
// 0x08-0x0f, then masks every line until a driver calls Unmask for the
// ones it actually wants.
func Init() {
	// ICW1: start initialization sequence, expect ICW4.
	outbFn(masterCommandPort, icw1Init|icw1ICW4)
	outbFn(slaveCommandPort, icw1Init|icw1ICW4)

	// ICW2: vector offsets.
	outbFn(masterDataPort, Offset)
	outbFn(slaveDataPort, Offset+8)

	// ICW3: tell master there's a slave at IRQ2, tell slave its cascade identity.
	outbFn(masterDataPort, 1<<2)
	outbFn(slaveDataPort, 2)

	// ICW4: 8086/8088 mode.
	outbFn(masterDataPort, icw4_8086)
	outbFn(slaveDataPort, icw4_8086)

	// Mask every line; individual drivers unmask the ones they own.
	outbFn(masterDataPort, 0xff)
	outbFn(slaveDataPort, 0xff)
}

// Unmask enables delivery of IRQ line irqLine (0-15).
func Unmask(irqLine uint8) {
	if irqLine < 8 {
		mask := inbFn(masterDataPort)
		outbFn(masterDataPort, mask&^(1<<irqLine))
		return
	}
	mask := inbFn(slaveDataPort)
	outbFn(slaveDataPort, mask&^(1<<(irqLine-8)))
	// The cascade line itself (IRQ2) must stay unmasked for slave IRQs to
	// reach the CPU at all.
	masterMask := inbFn(masterDataPort)
	outbFn(masterDataPort, masterMask&^(1<<2))
}

// Mask disables delivery of IRQ line irqLine (0-15).
func Mask(irqLine uint8) {
	if irqLine < 8 {
		mask := inbFn(masterDataPort)
		outbFn(masterDataPort, mask|(1<<irqLine))
		return
	}
	mask := inbFn(slaveDataPort)
	outbFn(slaveDataPort, mask|(1<<(irqLine-8)))
}

// EOI acknowledges the interrupt for irqLine, signalling both PICs when the
// line came from the slave.
func EOI(irqLine uint8) {
	if irqLine >= 8 {
		outbFn(slaveCommandPort, eoiCommand)
	}
	outbFn(masterCommandPort, eoiCommand)
}
