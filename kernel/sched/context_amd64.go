package sched

// SavedContext holds the subset of machine state a cooperative context
// switch needs to preserve: the callee-saved general-purpose registers and
// the stack pointer. It deliberately carries no instruction pointer field —
// SwitchContext resumes a context by restoring its RSP and executing RET,
// so whatever address sits on top of that stack (a prior SwitchContext call
// site, or the trampoline address installed by newTaskContext) becomes the
// next instruction executed.
//
// Field order matches context_amd64.s's fixed byte offsets exactly; do not
// reorder without updating the assembly.
type SavedContext struct {
	RSP uintptr
	RBX uintptr
	RBP uintptr
	R12 uintptr
	R13 uintptr
	R14 uintptr
	R15 uintptr
}

// SwitchContext saves the currently running context's callee-saved
// registers and stack pointer into prev, then restores next's and resumes
// execution there. It returns only when some later SwitchContext call
// switches back into prev.
func SwitchContext(prev, next *SavedContext)

// newTaskContext prepares stackTop (the highest address of a freshly
// allocated, downward-growing stack) so that the first SwitchContext into
// it lands in trampoline, and returns the initial RSP to store in the
// task's SavedContext.
func newTaskContext(stackTop uintptr, trampoline uintptr) uintptr

// taskTrampoline is the landing point for every task's first SwitchContext:
// RET has no real caller to return to the first time a task runs, so its
// stack is seeded with this function's address instead. It calls into
// runStartedTask to begin the task proper and never returns.
func taskTrampoline()

// trampolinePC returns taskTrampoline's entry address, for newTaskContext
// to seed onto a new task's stack. Reading the address of a Go-declared,
// assembly-bodied function like this only works reliably from within its
// own package's assembly, which is why this is a leaf asm routine rather
// than a reflect-based lookup from scheduler.go.
func trampolinePC() uintptr
