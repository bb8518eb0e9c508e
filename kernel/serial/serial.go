// Package serial drives the 16550-compatible UART at COM1 for the kernel's
// diagnostic log. It stays deliberately dumb: no formatting happens here,
// only raw byte output, following gopher-os's allocation-free early output
// discipline (kernel/kfmt/early) so it is safe to call from the earliest
// boot code and from panic handlers.
package serial

import "lobsteros/kernel/cpu"

const (
	comPort = 0x3F8

	regData        = 0
	regIntEnable   = 1
	regFIFOCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
	divisorLowReg  = 0
	divisorHighReg = 1

	lineStatusTHRE = 1 << 5 // transmit holding register empty
)

// Port is a single 16550 UART. COM1 is wired up as the package-level
// default used by the kernel's log sinks.
type Port struct {
	base uint16
}

// COM1 is the UART the kernel logs to.
var COM1 = &Port{base: comPort}

// Init programs the UART for 38400 8N1 with FIFOs enabled, mirroring the
// standard "bring up a 16550" sequence used throughout the bare-metal Go
// and Rust corpora.
func (p *Port) Init() {
	cpu.Outb(p.base+regIntEnable, 0x00) // disable all interrupts
	cpu.Outb(p.base+regLineCtrl, 0x80)  // enable DLAB to set baud divisor
	cpu.Outb(p.base+divisorLowReg, 0x03)
	cpu.Outb(p.base+divisorHighReg, 0x00)
	cpu.Outb(p.base+regLineCtrl, 0x03)  // 8 bits, no parity, one stop bit
	cpu.Outb(p.base+regFIFOCtrl, 0xC7)  // enable + clear 14-byte FIFOs
	cpu.Outb(p.base+regModemCtrl, 0x0B) // IRQs enabled (OUT2), RTS/DTR set
}

func (p *Port) transmitEmpty() bool {
	return cpu.Inb(p.base+regLineStatus)&lineStatusTHRE != 0
}

// WriteByte blocks until the transmit holding register is empty and then
// writes a single byte to the wire.
func (p *Port) WriteByte(b byte) {
	for !p.transmitEmpty() {
	}
	cpu.Outb(p.base+regData, b)
}

// Write sends every byte of data to the UART in order, preceding each '\n'
// with a '\r'.
func (p *Port) Write(data []byte) (int, error) {
	for _, b := range data {
		if b == '\n' {
			p.WriteByte('\r')
		}
		p.WriteByte(b)
	}
	return len(data), nil
}
