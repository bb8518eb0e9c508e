// Package console implements a minimal VGA text-mode writer, giving early
// boot logging and the print_vga_text syscall (kernel/syscall) somewhere to
// write before any richer display driver exists.
//
// The row/column cursor, color attribute byte and scroll-on-overflow
// behavior follow the classic VGA text-mode console shape; the framebuffer
// is mapped as a Go slice via a synthesized slice header instead of looping
// over a raw pointer, the same trick gopher-os's kernel/driver/video/console
// uses.
package console

import (
	"reflect"
	"unsafe"
)

const (
	// PhysAddr is the VGA text-mode framebuffer's fixed physical address.
	// kernel/proc maps this same address into every process's address
	// space, since SYSCALL does not switch CR3 and print_vga_text runs
	// with the calling process's page tables still active.
	PhysAddr = uintptr(0xB8000)

	bufferWidth  = 80
	bufferHeight = 25
)

// Color is one of the 16 EGA text-mode colors.
type Color uint8

// nolint
const (
	Black Color = iota
	Blue
	Green
	Cyan
	Red
	Magenta
	Brown
	LightGray
	DarkGray
	LightBlue
	LightGreen
	LightCyan
	LightRed
	Pink
	Yellow
	White
)

// ColorCode packs a foreground/background color pair (and an optional blink
// bit) into the attribute byte the VGA text buffer expects.
type ColorCode uint8

// NewColorCode builds a ColorCode from a foreground/background pair.
func NewColorCode(fg, bg Color, blink bool) ColorCode {
	code := ColorCode(uint8(bg)<<4 | uint8(fg))
	if blink {
		code |= 1 << 7
	}
	return code
}

// packChar builds the two-byte (char, attribute) cell the VGA text mode
// hardware expects; it is read/written as a single little-endian uint16 so
// that Go's struct layout never has to match the hardware layout exactly.
func packChar(ch byte, color ColorCode) uint16 {
	return uint16(ch) | uint16(color)<<8
}

// Writer implements a scrolling VGA text-mode console using a
// slice-over-physical-memory framebuffer.
type Writer struct {
	row, col     int
	defaultColor ColorCode
	fb           []uint16
}

// Active is the console instance used by kernel/kfmt/early and by the
// print_vga_text syscall. It is initialized once during boot by calling
// Init.
var Active = &Writer{}

// Init wires up the writer's framebuffer pointer. Safe to call multiple
// times; only the first call has an effect.
func (w *Writer) Init() {
	if w.fb != nil {
		return
	}
	w.defaultColor = NewColorCode(White, Black, false)
	w.fb = *(*[]uint16)(unsafe.Pointer(&reflect.SliceHeader{
		Data: PhysAddr,
		Len:  bufferWidth * bufferHeight,
		Cap:  bufferWidth * bufferHeight,
	}))
}

// SetColor changes the color used for subsequently written bytes.
func (w *Writer) SetColor(c ColorCode) { w.defaultColor = c }

// Framebuffer exposes the writer's backing cells, letting other packages'
// hosted tests inspect what was written without duplicating VGA internals.
func (w *Writer) Framebuffer() []uint16 { return w.fb }

// NewHostedWriter builds a Writer backed by an ordinary Go slice instead of
// the physical VGA framebuffer, letting other packages' hosted tests drive
// console.Active output without touching real hardware memory.
func NewHostedWriter() *Writer {
	w := &Writer{defaultColor: NewColorCode(White, Black, false)}
	w.fb = make([]uint16, bufferWidth*bufferHeight)
	return w
}

// WriteByte writes a single byte at the current cursor position, honoring
// '\n' as a line break and wrapping/scrolling as needed.
func (w *Writer) WriteByte(b byte) {
	if b == '\n' {
		w.newline()
		return
	}
	w.fb[w.row*bufferWidth+w.col] = packChar(b, w.defaultColor)
	w.col++
	if w.col >= bufferWidth {
		w.newline()
	}
}

// Write implements io.Writer-like semantics without actually importing io,
// matching the restrictions early-boot code operates under.
func (w *Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || (b >= 0x20 && b <= 0x7e) {
			w.WriteByte(b)
		} else {
			w.WriteByte('?')
		}
	}
	return len(p), nil
}

// WriteStringAt writes s starting at screen cell (row, col) using the
// writer's current default color, without moving the writer's own cursor.
// This is the primitive the print_vga_text syscall uses.
func (w *Writer) WriteStringAt(row, col int, s string) {
	for i := 0; i < len(s) && col+i < bufferWidth && row < bufferHeight; i++ {
		w.fb[row*bufferWidth+col+i] = packChar(s[i], w.defaultColor)
	}
}

func (w *Writer) newline() {
	w.row++
	w.col = 0
	if w.row >= bufferHeight {
		w.row = bufferHeight - 1
		copy(w.fb[0:(bufferHeight-1)*bufferWidth], w.fb[bufferWidth:bufferHeight*bufferWidth])
		w.clearRow(bufferHeight - 1)
	}
}

func (w *Writer) clearRow(row int) {
	blank := packChar(' ', w.defaultColor)
	for col := 0; col < bufferWidth; col++ {
		w.fb[row*bufferWidth+col] = blank
	}
}

// Clear blanks the whole screen and resets the cursor to the origin.
func (w *Writer) Clear() {
	for row := 0; row < bufferHeight; row++ {
		w.clearRow(row)
	}
	w.row, w.col = 0, 0
}
