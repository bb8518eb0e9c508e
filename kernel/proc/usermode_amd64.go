package proc

// enterUsermode builds the five-value IRETQ frame (SS, RSP, RFLAGS, CS, RIP)
// the original kernel's switch_to_usermode assembles inline in one asm!
// block, and executes IRETQ to drop the CPU to ring 3. It never returns;
// the body lives in usermode_amd64.s.
func enterUsermode(entry, stackTop uintptr, cs, ds uint64)
