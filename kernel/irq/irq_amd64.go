// Package irq routes x86 exceptions and hardware interrupts to Go handler
// functions. It plays the role gopher-os's kernel/gate package plays,
// generalized to split the interrupt-gate entry frame (Frame) from the
// general-purpose register snapshot (Regs) so that exception handlers with
// and without a hardware error code can share one dispatch path, and
// extended with IRQ-line registration for the PIC/APIC-driven hardware
// interrupts this kernel's spec needs (timer tick, AHCI completion, ...).
//
// The gate-entry stubs and the IDT loading itself cannot be expressed in
// Go and live in idt_amd64.s; every stub vectors through one of two
// Go-visible entrypoints, dispatchException (vectors 0-31) or dispatchIRQ
// (vectors 32-47).
package irq

import (
	"lobsteros/kernel/kfmt/early"
)

// ExceptionNumber identifies one of the fixed CPU exception vectors.
type ExceptionNumber uint8

// Exception vectors this kernel installs handlers for.
const (
	DivideByZero       = ExceptionNumber(0)
	DebugException     = ExceptionNumber(1)
	NMI                = ExceptionNumber(2)
	Breakpoint         = ExceptionNumber(3)
	Overflow           = ExceptionNumber(4)
	BoundRangeExceeded = ExceptionNumber(5)
	InvalidOpcode      = ExceptionNumber(6)
	DeviceNotAvailable = ExceptionNumber(7)
	DoubleFault        = ExceptionNumber(8)
	InvalidTSS         = ExceptionNumber(10)
	SegmentNotPresent  = ExceptionNumber(11)
	StackSegmentFault  = ExceptionNumber(12)
	GPFException       = ExceptionNumber(13)
	PageFaultException = ExceptionNumber(14)
)

// hasErrorCode reports whether the CPU pushes a 64-bit error code for this
// exception, matching the amd64 architecture manual's fixed list.
func (n ExceptionNumber) hasErrorCode() bool {
	switch n {
	case 8, 10, 11, 12, 13, 14, 17, 21, 29, 30:
		return true
	default:
		return false
	}
}

// firstIRQVector is the IDT slot the first IRQ line (after PIC remapping)
// is wired to; IRQ n is dispatched from vector firstIRQVector+n.
const firstIRQVector = 0x20

// Regs is a snapshot of the general-purpose registers at the moment an
// exception, interrupt or syscall occurred.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
}

// Print writes the register snapshot to the active console, used by crash
// handlers.
func (r *Regs) Print() {
	early.Printf("RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	early.Printf("RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	early.Printf("RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	early.Printf("RBP = %16x\n", r.RBP)
	early.Printf("R8  = %16x R9  = %16x\n", r.R8, r.R9)
	early.Printf("R10 = %16x R11 = %16x\n", r.R10, r.R11)
	early.Printf("R12 = %16x R13 = %16x\n", r.R12, r.R13)
	early.Printf("R14 = %16x R15 = %16x\n", r.R14, r.R15)
}

// Frame is the CPU-pushed return frame an IRETQ consumes, unchanged by the
// handler unless it means to alter where execution resumes.
type Frame struct {
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// Print writes the return frame to the active console.
func (f *Frame) Print() {
	early.Printf("RIP = %16x CS  = %16x\n", f.RIP, f.CS)
	early.Printf("RSP = %16x SS  = %16x\n", f.RSP, f.SS)
	early.Printf("RFL = %16x\n", f.RFlags)
}

// ExceptionHandler handles an exception that has no CPU-pushed error code.
type ExceptionHandler func(frame *Frame, regs *Regs)

// ExceptionHandlerWithCode handles an exception that carries a CPU-pushed
// error code (page faults, GPF, ...).
type ExceptionHandlerWithCode func(errorCode uint64, frame *Frame, regs *Regs)

// IRQHandler handles a hardware interrupt line once it has been unmasked.
type IRQHandler func(regs *Regs)

var (
	exceptionHandlers         [32]ExceptionHandler
	exceptionHandlersWithCode [32]ExceptionHandlerWithCode
	irqHandlers               [16]IRQHandler

	// eoiFn acknowledges a hardware interrupt with the PIC/APIC once its
	// handler has run; registered through SetEOIFunc (kernel/kmain passes
	// pic.EOI).
	eoiFn func(irqLine uint8)
)

// HandleException installs handler as the target for an exception vector
// that has no CPU-pushed error code. It panics if num carries an error code
// on this architecture (use HandleExceptionWithCode instead).
func HandleException(num ExceptionNumber, handler ExceptionHandler) {
	if num.hasErrorCode() {
		panic("irq: exception carries an error code")
	}
	exceptionHandlers[num] = handler
}

// HandleExceptionWithCode installs handler as the target for an exception
// vector that carries a CPU-pushed error code.
func HandleExceptionWithCode(num ExceptionNumber, handler ExceptionHandlerWithCode) {
	if !num.hasErrorCode() {
		panic("irq: exception does not carry an error code")
	}
	exceptionHandlersWithCode[num] = handler
}

// HandleIRQ installs handler as the target for hardware interrupt line
// irqLine (0-15, pre-PIC-remap numbering).
func HandleIRQ(irqLine uint8, handler IRQHandler) {
	irqHandlers[irqLine] = handler
}

// SetEOIFunc registers the function used to acknowledge a hardware
// interrupt once its handler has returned.
func SetEOIFunc(fn func(irqLine uint8)) {
	eoiFn = fn
}

// dispatchException is called from the assembly gate stub for vectors 0-31.
// It is exported via go:linkname-free direct symbol reference from
// idt_amd64.s.
func dispatchException(vector uint8, errorCode uint64, frame *Frame, regs *Regs) {
	num := ExceptionNumber(vector)
	if num.hasErrorCode() {
		if h := exceptionHandlersWithCode[num]; h != nil {
			h(errorCode, frame, regs)
			return
		}
	} else if h := exceptionHandlers[num]; h != nil {
		h(frame, regs)
		return
	}

	early.Printf("\nunhandled exception %d (error code %d)\n", vector, errorCode)
	frame.Print()
	regs.Print()
	for {
	}
}

// dispatchIRQ is called from the assembly gate stub for vectors 32-47.
func dispatchIRQ(vector uint8, frame *Frame, regs *Regs) {
	line := vector - firstIRQVector
	if int(line) < len(irqHandlers) {
		if h := irqHandlers[line]; h != nil {
			h(regs)
		}
	}
	if eoiFn != nil {
		eoiFn(line)
	}
}

// installIDT populates the IDT with gate descriptors pointing at the
// generated per-vector assembly stubs and loads it into the CPU. All 48
// vectors (32 exceptions + 16 IRQ lines) are installed unconditionally.
// dispatchIRQ only sends the EOI for a line without a registered Go handler;
// dispatchException prints the frame and registers and spins forever for an
// exception without one.
func installIDT()

// Init installs the IDT. It must run after kernel/gdt.Init, since the IDT's
// gate descriptors reference the kernel code segment selector.
func Init() {
	installIDT()
}
