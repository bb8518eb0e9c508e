// Package cpu exposes the handful of amd64 primitives that cannot be
// expressed in Go: port I/O, control-register access, MSR access and
// interrupt masking. Each function below is declared without a body, the
// same pattern gopher-os's kernel/cpu/cpu_amd64.go uses for EnableInterrupts
// /DisableInterrupts/Halt/FlushTLBEntry/SwitchPDT/ActivePDT; this file keeps
// those six and adds the register/port-I/O primitives spec.md's GDT, IDT,
// PIC, PIT, AHCI and SYSCALL components need. The bodies live in
// cpu_amd64.s.
package cpu

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution until the next interrupt.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the faulting address recorded by the last page fault.
func ReadCR2() uintptr

// Inb reads a single byte from the given I/O port.
func Inb(port uint16) uint8

// Outb writes a single byte to the given I/O port.
func Outb(port uint16, value uint8)

// Inl reads a 32-bit value from the given I/O port.
func Inl(port uint16) uint32

// Outl writes a 32-bit value to the given I/O port.
func Outl(port uint16, value uint32)

// Rdmsr reads the model-specific register identified by id.
func Rdmsr(id uint32) uint64

// Wrmsr writes value to the model-specific register identified by id.
func Wrmsr(id uint32, value uint64)

// LoadGDT loads a new global descriptor table from the packed
// {limit,base} pseudo-descriptor at descAddr.
func LoadGDT(descAddr uintptr)

// LoadIDT loads a new interrupt descriptor table from the packed
// {limit,base} pseudo-descriptor at descAddr.
func LoadIDT(descAddr uintptr)

// LoadTSS loads the task register with the given GDT selector.
func LoadTSS(selector uint16)

// ReloadCS performs a far-return sequence to reload CS with the given
// selector; used once after installing a fresh GDT.
func ReloadCS(selector uint16)

// ReadRFlags returns the current value of the flags register.
func ReadRFlags() uint64
