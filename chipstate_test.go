package oplsong

import "testing"

func TestValidRegister(t *testing.T) {
	cases := []struct {
		reg  uint16
		want bool
	}{
		{0x00, true},
		{0x01, true},
		{0x06, false},
		{0x07, false},
		{0x08, true},
		{0x09, false},
		{0x20, true},
		{0x60, true},
		{0xA0, true},
		{0xB0, true},
		{0xBD, true},
		{0xC0, true},
		{0xE0, true},
		{0x105, true},
		{0x106, false}, // same hole layout in bank 1
	}
	for _, c := range cases {
		if got := ValidRegister(c.reg); got != c.want {
			t.Errorf("ValidRegister(0x%03X) = %v, want %v", c.reg, got, c.want)
		}
	}
}

func TestChannelOffset(t *testing.T) {
	cases := []struct {
		ch   int
		want uint16
	}{
		{0, 0x000},
		{8, 0x008},
		{9, 0x100},
		{17, 0x108},
	}
	for _, c := range cases {
		if got := ChannelOffset(c.ch); got != c.want {
			t.Errorf("ChannelOffset(%d) = 0x%03X, want 0x%03X", c.ch, got, c.want)
		}
	}
}

func TestOperatorOffsetDistinctSlots(t *testing.T) {
	seen := make(map[uint16]bool)
	for _, ch := range []int{0, 1, 2, 9, 10, 11} {
		for s := 0; s < 4; s++ {
			off := OperatorOffset(ch, s)
			if seen[off] {
				t.Fatalf("OperatorOffset(%d, %d) = 0x%02X collides with an earlier slot", ch, s, off)
			}
			seen[off] = true
		}
	}
}

func TestOperatorOffsetTwoOpChannelsShareNoSlots(t *testing.T) {
	// Channel 0 slots 0/1 and channel 3 slots 0/1 are distinct two-op
	// voices until four-op mode pairs them.
	a0 := OperatorOffset(0, 0)
	a1 := OperatorOffset(0, 1)
	b0 := OperatorOffset(3, 0)
	b1 := OperatorOffset(3, 1)
	if a0 == b0 || a0 == b1 || a1 == b0 || a1 == b1 {
		t.Fatalf("two-op channels 0 and 3 unexpectedly share an operator offset")
	}
}

func TestOperatorOffsetFourOpPairing(t *testing.T) {
	// In four-op mode, channel 0's slots 2/3 resolve to channel 3's
	// slots 0/1 - this is address arithmetic, not a special case.
	if got, want := OperatorOffset(0, 2), OperatorOffset(3, 0); got != want {
		t.Errorf("OperatorOffset(0,2) = 0x%02X, want 0x%02X (= OperatorOffset(3,0))", got, want)
	}
	if got, want := OperatorOffset(0, 3), OperatorOffset(3, 1); got != want {
		t.Errorf("OperatorOffset(0,3) = 0x%02X, want 0x%02X (= OperatorOffset(3,1))", got, want)
	}
}

func TestFnumToFrequencyRoundTrip(t *testing.T) {
	freq := FnumToFrequency(517, 4)
	fnum, block, clip := FrequencyToFnum(freq, 4)
	if clip {
		t.Fatalf("unexpected clip converting %.2fHz back to fnum", freq)
	}
	if fnum != 517 || block != 4 {
		t.Errorf("round trip fnum=%d block=%d, want fnum=517 block=4", fnum, block)
	}
}

func TestFrequencyToFnumClipsAboveRange(t *testing.T) {
	fnum, block, clip := FrequencyToFnum(10000, 0)
	if !clip {
		t.Fatal("expected clip for a frequency above OPL3 range")
	}
	if fnum != 1023 || block != 7 {
		t.Errorf("clipped fnum=%d block=%d, want 1023,7", fnum, block)
	}
}

func TestFrequencyToFnumZero(t *testing.T) {
	fnum, block, clip := FrequencyToFnum(0, 3)
	if clip {
		t.Fatal("zero frequency should never clip")
	}
	if fnum != 0 || block != 3 {
		t.Errorf("FrequencyToFnum(0, 3) = %d,%d, want 0,3 (block preserved)", fnum, block)
	}
}

func TestIsFourOp(t *testing.T) {
	cs := NewChipState()
	if cs.IsFourOp(0) {
		t.Fatal("channel 0 should not be four-op before register 0x104 is set")
	}
	cs.Write(0x104, 0x01)
	if !cs.IsFourOp(0) {
		t.Fatal("channel 0 should be four-op once bit 0 of 0x104 is set")
	}
	if cs.IsFourOp(1) {
		t.Fatal("channel 1 should be unaffected by channel 0's four-op bit")
	}
	if cs.IsFourOp(6) {
		t.Fatal("channel 6 is never a four-op-capable primary")
	}
}
