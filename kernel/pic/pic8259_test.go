package pic

import "testing"

// fakePorts intercepts outbFn/inbFn with an in-memory port space so tests
// never execute real IN/OUT instructions.
type fakePorts struct {
	values map[uint16]uint8
	writes []struct {
		port  uint16
		value uint8
	}
}

func withFakePorts(t *testing.T) *fakePorts {
	t.Helper()
	fp := &fakePorts{values: map[uint16]uint8{
		masterDataPort: 0,
		slaveDataPort:  0,
	}}

	origOut, origIn := outbFn, inbFn
	outbFn = func(port uint16, value uint8) {
		fp.values[port] = value
		fp.writes = append(fp.writes, struct {
			port  uint16
			value uint8
		}{port, value})
	}
	inbFn = func(port uint16) uint8 { return fp.values[port] }
	t.Cleanup(func() { outbFn, inbFn = origOut, origIn })

	return fp
}

func TestInitMasksBothPICsAndSetsOffsets(t *testing.T) {
	fp := withFakePorts(t)

	Init()

	if got := fp.values[masterDataPort]; got != 0xff {
		t.Errorf("expected master IMR to end masked (0xff); got %#x", got)
	}
	if got := fp.values[slaveDataPort]; got != 0xff {
		t.Errorf("expected slave IMR to end masked (0xff); got %#x", got)
	}

	var sawMasterOffset, sawSlaveOffset bool
	for _, w := range fp.writes {
		if w.port == masterDataPort && w.value == Offset {
			sawMasterOffset = true
		}
		if w.port == slaveDataPort && w.value == Offset+8 {
			sawSlaveOffset = true
		}
	}
	if !sawMasterOffset || !sawSlaveOffset {
		t.Error("expected ICW2 writes to program the remapped vector offsets")
	}
}

func TestUnmaskClearsOnlyTargetBit(t *testing.T) {
	fp := withFakePorts(t)
	fp.values[masterDataPort] = 0xff

	Unmask(1)

	if got := fp.values[masterDataPort]; got&(1<<1) != 0 {
		t.Errorf("expected bit 1 cleared; IMR = %#x", got)
	}
	if got := fp.values[masterDataPort]; got&(1<<0) == 0 {
		t.Errorf("expected bit 0 to stay set; IMR = %#x", got)
	}
}

func TestUnmaskSlaveLineAlsoUnmasksCascade(t *testing.T) {
	fp := withFakePorts(t)
	fp.values[masterDataPort] = 0xff
	fp.values[slaveDataPort] = 0xff

	Unmask(8) // slave IRQ0

	if got := fp.values[slaveDataPort]; got&1 != 0 {
		t.Errorf("expected slave bit 0 cleared; got %#x", got)
	}
	if got := fp.values[masterDataPort]; got&(1<<2) != 0 {
		t.Errorf("expected master cascade bit (2) cleared; got %#x", got)
	}
}

func TestMaskSetsTargetBit(t *testing.T) {
	fp := withFakePorts(t)
	fp.values[masterDataPort] = 0

	Mask(3)

	if got := fp.values[masterDataPort]; got != 1<<3 {
		t.Errorf("expected only bit 3 set; got %#x", got)
	}
}

func TestEOISignalsSlaveOnlyForSlaveLines(t *testing.T) {
	fp := withFakePorts(t)

	EOI(1) // master line
	masterOnly := len(fp.writes)

	EOI(9) // slave line
	if len(fp.writes) != masterOnly+2 {
		t.Fatalf("expected a slave-line EOI to write both PICs; got %d new writes", len(fp.writes)-masterOnly)
	}
}
