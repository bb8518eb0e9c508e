package syscall

import (
	"testing"

	"lobsteros/kernel/console"
)

func withSeams(t *testing.T, endCurrentTask func(), consoleWrite func([]byte) (int, error), readUserBytes func(uintptr, uint64) []byte) {
	prevEnd, prevWrite, prevRead := endCurrentTaskFn, consoleWriteFn, readUserBytesFn
	endCurrentTaskFn, consoleWriteFn, readUserBytesFn = endCurrentTask, consoleWrite, readUserBytes
	t.Cleanup(func() {
		endCurrentTaskFn, consoleWriteFn, readUserBytesFn = prevEnd, prevWrite, prevRead
	})
}

func TestDispatchExitEndsCurrentTask(t *testing.T) {
	called := false
	withSeams(t, func() { called = true }, nil, nil)

	got := dispatch(uint64(SysExit), 0, 0, 0, 0)

	if got != resultOK {
		t.Fatalf("dispatch(SysExit) = %d, want %d", got, resultOK)
	}
	if !called {
		t.Fatal("dispatch(SysExit) did not call endCurrentTaskFn")
	}
}

func TestDispatchPrintTextWritesValidUTF8(t *testing.T) {
	var written []byte
	withSeams(t, nil, func(p []byte) (int, error) {
		written = append([]byte(nil), p...)
		return len(p), nil
	}, func(addr uintptr, length uint64) []byte {
		return []byte("hello, kernel")[:length]
	})

	got := dispatch(uint64(SysPrintText), 0, 13, 0, 0)

	if got != resultOK {
		t.Fatalf("dispatch(SysPrintText) = %d, want %d", got, resultOK)
	}
	if string(written) != "hello, kernel" {
		t.Fatalf("console received %q, want %q", written, "hello, kernel")
	}
}

func TestDispatchPrintTextRejectsInvalidUTF8(t *testing.T) {
	wrote := false
	withSeams(t, nil, func(p []byte) (int, error) {
		wrote = true
		return len(p), nil
	}, func(addr uintptr, length uint64) []byte {
		return []byte{0xff, 0xfe, 0xfd}[:length]
	})

	got := dispatch(uint64(SysPrintText), 0, 3, 0, 0)

	if got != resultInvalidUTF8 {
		t.Fatalf("dispatch(SysPrintText) = %d, want %d", got, resultInvalidUTF8)
	}
	if wrote {
		t.Fatal("dispatch(SysPrintText) wrote invalid UTF-8 to the console")
	}
}

func TestDispatchUnknownSyscall(t *testing.T) {
	prevActive := console.Active
	console.Active = console.NewHostedWriter()
	t.Cleanup(func() { console.Active = prevActive })

	got := dispatch(999, 0, 0, 0, 0)

	if got != resultOK {
		t.Fatalf("dispatch(999) = %d, want %d (unknown ids log and return 0)", got, resultOK)
	}
}
