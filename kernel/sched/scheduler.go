// Package sched implements a single-CPU, preemptive round-robin scheduler
// for ring-3 processes. It is grounded on the original kernel's
// threading/scheduler.rs (the READY/RUNNING/WAITING/DONE task states, the
// quantum-based tick/preempt loop, get_next_task's wrap-around scan that
// reaps DONE tasks and skips WAITING ones), but the context switch itself
// is redesigned: instead of scheduler.rs's Process::activate/deactivate
// pair and its "TODO this is awful" SCHEDULER.force_unlock() workaround for
// re-entering the global lock mid-switch, each task owns an explicit
// SavedContext and the switch goes through the single SwitchContext
// assembly primitive in context_amd64.s, with the scheduler's spinlock held
// only around the queue-mutation bookkeeping and released before the
// register switch itself runs.
package sched

import (
	"lobsteros/kernel"
	"lobsteros/kernel/bootinfo"
	"lobsteros/kernel/cpu"
	"lobsteros/kernel/irq"
	"lobsteros/kernel/mem"
	"lobsteros/kernel/mem/pmm/allocator"
	"lobsteros/kernel/proc"
	"lobsteros/kernel/sync"
)

// Quantum is the number of timer ticks a task runs before being preempted,
// matching the original's QUANTUM constant (≈18.63ms at the original's
// assumed tick rate).
const Quantum = 20

// kernelStackPages sizes every task's private kernel stack (used only while
// executing scheduler/interrupt code on its behalf, never by the ring-3
// program itself, which runs on the stack kernel/proc maps into user space).
const kernelStackPages = 4

// PID uniquely identifies a task for the lifetime of the scheduler.
type PID uint64

// TaskState mirrors the original's TaskState enum.
type TaskState int

const (
	TaskReady TaskState = iota
	TaskRunning
	TaskWaiting
	TaskDone
)

// Task is one schedulable unit of execution: a process plus the saved
// register state needed to resume it.
type Task struct {
	id      PID
	state   TaskState
	process *proc.Process
	context SavedContext
	started bool
}

// ID returns the task's unique identifier.
func (t *Task) ID() PID { return t.id }

// State returns the task's current scheduling state.
func (t *Task) State() TaskState { return t.state }

// allocFrameFn is a seam over the privileged frame allocator, mirroring
// kernel/proc's own seam set: newKernelStack ultimately touches real
// physical frames through the offset-mapped window, which a hosted test
// cannot do without a fake PhysOffset backing a real buffer.
var allocFrameFn = allocator.AllocFrame

func newKernelStack() (uintptr, *kernel.Error) {
	top := uintptr(0)
	for i := 0; i < kernelStackPages; i++ {
		frame, err := allocFrameFn()
		if err != nil {
			return 0, err
		}
		pageTop := physToVirt(frame.Address()) + uintptr(mem.PageSize)
		if i == 0 {
			top = pageTop
		}
	}
	return top, nil
}

func physToVirt(phys uintptr) uintptr { return phys + bootinfo.Active.PhysOffset }

// Scheduler is a single run queue shared by every task on this CPU. The
// zero value is not usable; use New.
type Scheduler struct {
	mu      sync.Spinlock
	tasks   []*Task
	current int // index into tasks, or -1 when nothing has run yet
	nextID  PID
	ticks   uint32
	enabled bool
}

// New returns an empty, disabled scheduler.
func New() *Scheduler {
	return &Scheduler{current: -1}
}

// Global is the scheduler the timer IRQ and syscall dispatch wire
// themselves to; kernel/kmain owns starting it.
var Global = New()

// Enable lets Tick start preempting tasks. Before Enable is called, Tick is
// a no-op, matching the original's is_enabled guard (set only once boot has
// finished setting up the first task).
func (s *Scheduler) Enable() {
	s.mu.Acquire()
	s.enabled = true
	s.mu.Release()
}

// switchContextFn is a seam over the real assembly primitive: executing it
// for real in a hosted test would repoint the Go runtime's own stack
// pointer at kernel-only memory and crash the test process immediately.
var switchContextFn = SwitchContext

// currentlyStarting is set immediately before the first SwitchContext into
// a never-run task, and read back by runStartedTask once taskTrampoline
// lands. It only ever holds a value for the duration of that single switch.
var currentlyStarting *Task

// runStartedTask is taskTrampoline's Go-side counterpart: it begins a
// freshly scheduled task's actual work. It never returns.
func runStartedTask() {
	t := currentlyStarting
	currentlyStarting = nil
	t.process.EnterUsermode()
}

// Push adds process to the run queue in the READY state and returns its
// assigned PID, mirroring the original's push_task.
func (s *Scheduler) Push(process *proc.Process) (PID, *kernel.Error) {
	stackTop, err := newKernelStack()
	if err != nil {
		return 0, err
	}

	s.mu.Acquire()
	defer s.mu.Release()

	s.nextID++
	t := &Task{id: s.nextID, state: TaskReady, process: process}
	t.context.RSP = newTaskContext(stackTop, trampolinePC())
	s.tasks = append(s.tasks, t)
	return t.id, nil
}

// Tick advances the currently running task's quantum counter and preempts
// it once the quantum expires. It is installed as the IRQ0 (PIT) handler by
// kernel/kmain and is a no-op until Enable has been called.
func (s *Scheduler) Tick(regs *irq.Regs) {
	if !s.enabled {
		return
	}
	s.ticks++
	if s.ticks >= Quantum {
		s.ticks = 0
		s.reschedule(func(current *Task) {
			if current.state == TaskRunning {
				current.state = TaskReady
			}
		})
	}
}

// BlockCurrent moves the running task to WAITING and switches away from it,
// mirroring the original's block_current — used by code that needs to wait
// on an event (disk completion, a lock) without busy-spinning the CPU.
func (s *Scheduler) BlockCurrent() {
	s.reschedule(func(current *Task) {
		current.state = TaskWaiting
	})
}

// EndCurrentTask marks the running task DONE and switches away from it
// permanently, mirroring the original's end_current_task. It does not
// return to the caller.
func (s *Scheduler) EndCurrentTask() {
	s.reschedule(func(current *Task) {
		current.state = TaskDone
	})

	// No other task was ready to switch to; wait for a timer interrupt to
	// give this CPU something to do, same as the original's trailing
	// hlt_loop call.
	for {
		cpu.Halt()
	}
}

// reschedule marks the current task (via markCurrent, run under the lock)
// and switches to the next READY task, if any. The lock is released before
// SwitchContext runs, so a task resumed on another path can immediately
// acquire it again — the original's scheduler.rs holds SCHEDULER locked
// across the entire switch and papers over the resulting self-deadlock with
// an explicit force_unlock() call; narrowing the critical section to queue
// bookkeeping only removes the need for that.
func (s *Scheduler) reschedule(markCurrent func(current *Task)) {
	s.mu.Acquire()

	if s.current >= 0 && s.current < len(s.tasks) {
		markCurrent(s.tasks[s.current])
	}

	nextIdx := s.nextReadyLocked()
	if nextIdx < 0 {
		s.mu.Release()
		return
	}

	var prevCtx *SavedContext
	if s.current >= 0 && s.current < len(s.tasks) {
		prevCtx = &s.tasks[s.current].context
	} else {
		prevCtx = &idleContext
	}

	next := s.tasks[nextIdx]
	next.state = TaskRunning
	s.current = nextIdx

	firstRun := !next.started
	next.started = true
	if firstRun {
		currentlyStarting = next
	}

	s.mu.Release()

	switchContextFn(prevCtx, &next.context)
}

// idleContext holds the boot CPU's own register state while it briefly
// plays the role of "the task that was running before the first real task
// was scheduled", so the very first reschedule has somewhere to save to.
var idleContext SavedContext

// nextReadyLocked reaps every DONE task and then scans forward from the
// current task, cyclically, for the next READY one, skipping WAITING (and
// already-RUNNING) tasks. It mirrors the original's get_next_task, but reaps
// DONE tasks in one pass up front rather than interleaving removal with the
// scan, which is what let the original's current_task bookkeeping drift out
// of sync with the slice it was indexing as it deleted from under itself.
// Callers must hold s.mu.
func (s *Scheduler) nextReadyLocked() int {
	if len(s.tasks) == 0 {
		return -1
	}

	current := (*Task)(nil)
	if s.current >= 0 && s.current < len(s.tasks) {
		current = s.tasks[s.current]
	}

	live := s.tasks[:0]
	for _, t := range s.tasks {
		if t.state != TaskDone {
			live = append(live, t)
		}
	}
	s.tasks = live

	s.current = -1
	for i, t := range s.tasks {
		if t == current {
			s.current = i
			break
		}
	}

	if len(s.tasks) == 0 {
		return -1
	}

	start := s.current
	for i := 1; i <= len(s.tasks); i++ {
		idx := (start + i) % len(s.tasks)
		if s.tasks[idx].state == TaskReady {
			return idx
		}
	}
	return -1
}
