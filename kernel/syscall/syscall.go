// Package syscall installs the SYSCALL/SYSRET entry point ring-3 processes
// use to ask the kernel to do something on their behalf, and dispatches
// each call to its handler. Grounded on the original kernel's syscall.rs
// (MSR setup in its init, the naked syscall_wrapper trampoline, the
// setup/delete stack helpers) and syscall/{display,process}.rs (the two
// calls this kernel currently exposes). Dispatch is a plain switch over a
// small integer, not a map, mirroring the rest of this codebase's
// preference for explicit tables over reflection before a map's hashing
// and bucket allocation are worth paying for.
package syscall

import (
	"reflect"
	"unicode/utf8"
	"unsafe"

	"lobsteros/kernel/console"
	"lobsteros/kernel/cpu"
	"lobsteros/kernel/kfmt/early"
	"lobsteros/kernel/mem/kheap"
	"lobsteros/kernel/sched"
)

// syscallEntryPC returns syscallEntry's entry address for Init to program
// into IA32_LSTAR. Like kernel/sched's trampolinePC, this is a leaf asm
// routine rather than a reflect-based lookup from Go, since reading the
// address of a Go-declared, assembly-bodied function only works reliably
// from within its own package's assembly.
func syscallEntryPC() uintptr

// Model-specific register numbers SYSCALL/SYSRET configuration lives at,
// matching the original's MSR_SCE/IA32_STAR/IA32_LSTAR/IA32_FMASK
// constants.
const (
	msrEFER  = 0xc0000080
	msrSTAR  = 0xc0000081
	msrLSTAR = 0xc0000082
	msrFMASK = 0xc0000084

	// eferSCE is EFER bit 0, which enables the SYSCALL/SYSRET instruction
	// pair.
	eferSCE = 1 << 0

	// starSelectors packs the kernel/user CS/SS selector bases SYSCALL and
	// SYSRET derive their target segment registers from: bits 32-47 hold
	// the kernel CS (kernel SS = kernel CS + 8), bits 48-63 hold the
	// selector SYSRET adds 16 to for user CS (and 8 for user SS),
	// matching the layout kernel/gdt.Init lays its GDT out in.
	starSelectors = 0x0023_0008_0000_0000

	// rflagsMaskIF clears the interrupt flag (bit 9) on SYSCALL entry, so a
	// second interrupt can't land on the syscall stack before it has a
	// stack pointer to run on.
	rflagsMaskIF = 0x200

	// syscallStackSize is how much scratch stack each in-flight syscall
	// gets, matching the original's STACK_SIZE.
	syscallStackSize = 0x1000
)

// Number identifies one of the syscalls this kernel implements.
type Number uint64

const (
	// SysPrintText writes a UTF-8 buffer to the console, grounded on
	// syscall/display.rs's print_vga_text.
	SysPrintText Number = 0
	// SysExit ends the calling process, grounded on syscall/process.rs's
	// exit.
	SysExit Number = 1
)

const (
	resultOK          int64 = 0
	resultInvalidUTF8 int64 = -1
)

// syscallEntry is the SYSCALL target installed into IA32_LSTAR by Init; its
// body lives in trampoline_amd64.s.
func syscallEntry()

// Init enables SYSCALL/SYSRET and points it at syscallEntry, mirroring the
// original's syscall::init.
func Init() {
	cpu.Wrmsr(msrEFER, cpu.Rdmsr(msrEFER)|eferSCE)
	cpu.Wrmsr(msrFMASK, rflagsMaskIF)
	cpu.Wrmsr(msrSTAR, starSelectors)
	cpu.Wrmsr(msrLSTAR, uint64(syscallEntryPC()))
}

// allocSyscallStack and freeSyscallStack back trampoline_amd64.s's stack
// swap: SYSCALL enters on the calling process's own (small, user-mapped)
// stack, which isn't a safe place to run arbitrarily deep kernel code, so
// the trampoline immediately switches to a heap-backed scratch stack for
// the duration of the call, the same two-step the original's
// setup_syscall_stack/delete_syscall_stack perform via alloc::alloc.
func allocSyscallStack() uintptr {
	base, err := kheap.Default.Alloc(syscallStackSize, 8)
	if err != nil {
		panic(err)
	}
	return base + syscallStackSize
}

func freeSyscallStack(stackTop uintptr) {
	kheap.Default.Free(stackTop-syscallStackSize, syscallStackSize, 8)
}

// endCurrentTaskFn and consoleWriteFn are seams over the real scheduler and
// console so syscall_test.go can assert on dispatch's decisions without a
// running scheduler or mapped VGA buffer.
var (
	endCurrentTaskFn = sched.Global.EndCurrentTask
	consoleWriteFn   = console.Active.Write
	readUserBytesFn  = readUserBytes
)

// readUserBytes overlays a []byte onto a user-supplied (addr, length) pair.
// The calling process's address space is still active when dispatch runs
// (SYSCALL doesn't switch CR3), so addr is already valid to dereference
// directly, the same overlay-on-raw-memory idiom kernel/ahci and
// kernel/elf use for hardware/on-disk structures.
func readUserBytes(addr uintptr, length uint64) []byte {
	var data []byte
	hdr := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	hdr.Data = addr
	hdr.Len = int(length)
	hdr.Cap = int(length)
	return data
}

// dispatch is syscallEntry's Go-side counterpart, called once the
// trampoline has switched onto a scratch stack. It mirrors the original's
// syscall_handler, returning the value that ends up in RAX after SYSRET.
func dispatch(num, arg0, arg1, arg2, arg3 uint64) int64 {
	switch Number(num) {
	case SysExit:
		endCurrentTaskFn()
		return resultOK
	case SysPrintText:
		return printText(arg0, arg1)
	default:
		early.Printf("syscall: unknown id=%d\n", num)
		return resultOK
	}
}

// printText implements SysPrintText: arg0/arg1 are a user virtual address
// and byte length, grounded on print_vga_text's own (text_addr, length)
// signature and its UTF-8 validation/error code.
func printText(addr, length uint64) int64 {
	data := readUserBytesFn(uintptr(addr), length)
	if !utf8.Valid(data) {
		return resultInvalidUTF8
	}
	consoleWriteFn(data)
	return resultOK
}
