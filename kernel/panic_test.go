package kernel

import (
	"bytes"
	"testing"

	"lobsteros/kernel/console"
	"lobsteros/kernel/cpu"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
	}()

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled = false
		w := mockTTY()
		err := &Error{Module: "test", Message: "panic test"}

		Panic(err)

		exp := "\n-----------------------------------\n[test] unrecoverable error: panic test\n*** kernel panic: system halted ***\n-----------------------------------"

		if got := readTTY(w); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		cpuHaltCalled = false
		w := mockTTY()

		Panic(nil)

		exp := "\n-----------------------------------\n*** kernel panic: system halted ***\n-----------------------------------"

		if got := readTTY(w); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})
}

// readTTY reconstructs the text that was written to w as a sequence of
// newline-joined rows, trimming the untouched tail of the 80x25 grid.
func readTTY(w *console.Writer) string {
	const width, height = 80, 25
	fb := w.Framebuffer()

	rowText := func(row int) string {
		var buf bytes.Buffer
		for col := 0; col < width; col++ {
			if ch := byte(fb[row*width+col] & 0xff); ch != 0 {
				buf.WriteByte(ch)
			}
		}
		return buf.String()
	}

	lastUsedRow := -1
	for row := 0; row < height; row++ {
		if rowText(row) != "" {
			lastUsedRow = row
		}
	}

	var buf bytes.Buffer
	for row := 0; row <= lastUsedRow; row++ {
		if row > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(rowText(row))
	}

	return buf.String()
}

func mockTTY() *console.Writer {
	w := console.NewHostedWriter()
	console.Active = w
	return w
}
