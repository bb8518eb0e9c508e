package keyboard

import "testing"

func resetState(t *testing.T) {
	head, tail, count = 0, 0, 0
	t.Cleanup(func() { head, tail, count = 0, 0, 0 })
}

func TestHandleIRQReadsPortAndBuffers(t *testing.T) {
	resetState(t)
	orig := inbFn
	inbFn = func(port uint16) uint8 {
		if port != dataPort {
			t.Fatalf("inbFn called with port %#x, want %#x", port, dataPort)
		}
		return 0x1e
	}
	t.Cleanup(func() { inbFn = orig })

	handleIRQ(nil)

	got, ok := ReadScancode()
	if !ok {
		t.Fatal("ReadScancode() reported empty after handleIRQ")
	}
	if got != 0x1e {
		t.Fatalf("ReadScancode() = %#x, want %#x", got, 0x1e)
	}
}

func TestReadScancodeFIFOOrder(t *testing.T) {
	resetState(t)
	push(0x01)
	push(0x02)
	push(0x03)

	for _, want := range []byte{0x01, 0x02, 0x03} {
		got, ok := ReadScancode()
		if !ok || got != want {
			t.Fatalf("ReadScancode() = (%#x, %v), want (%#x, true)", got, ok, want)
		}
	}

	if _, ok := ReadScancode(); ok {
		t.Fatal("ReadScancode() should report empty after draining the buffer")
	}
}

func TestPushDropsOldestWhenBufferFull(t *testing.T) {
	resetState(t)
	for i := 0; i < bufferSize+5; i++ {
		push(byte(i))
	}

	got, ok := ReadScancode()
	if !ok {
		t.Fatal("ReadScancode() reported empty after overfilling the buffer")
	}
	if want := byte(5); got != want {
		t.Fatalf("oldest surviving scancode = %#x, want %#x (first 5 should have been dropped)", got, want)
	}
}
