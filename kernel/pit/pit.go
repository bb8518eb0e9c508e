// Package pit programs the 8253/8254 programmable interval timer to fire
// IRQ0 at a fixed frequency, giving the scheduler (kernel/sched) its
// preemption tick. Port addresses follow the same constants other retrieved
// kernels define for this chip (core_engine/devices in the example pack).
package pit

import "lobsteros/kernel/cpu"

const (
	counter0Port = 0x40
	commandPort  = 0x43

	// baseFrequency is the PIT's fixed input clock in Hz.
	baseFrequency = 1193182

	// modeRateGenerator selects mode 2 (rate generator), channel 0,
	// access mode lobyte/hibyte.
	modeRateGenerator = 0x34
)

var outbFn = cpu.Outb

// SetFrequency programs channel 0 to fire at approximately hz interrupts
// per second. Frequencies below baseFrequency/65536 saturate at the
// slowest rate the 16-bit reload counter can express.
func SetFrequency(hz uint32) {
	divisor := baseFrequency / hz
	if divisor > 0xffff {
		divisor = 0xffff
	}
	if divisor == 0 {
		divisor = 1
	}

	outbFn(commandPort, modeRateGenerator)
	outbFn(counter0Port, uint8(divisor&0xff))
	outbFn(counter0Port, uint8(divisor>>8))
}
