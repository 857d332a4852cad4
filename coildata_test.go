package modbus

import "testing"

func TestCoilDataSetGetFlip(t *testing.T) {
	c := NewCoilData(10)
	if c.Get(3) {
		t.Fatalf("new CoilData must start clear")
	}
	c.Set(3, true)
	if !c.Get(3) {
		t.Fatalf("Set(3, true) did not stick")
	}
	if got := c.Flip(3); got {
		t.Fatalf("Flip(3) after Set(true) should return false, got %v", got)
	}
	if c.Get(3) {
		t.Fatalf("coil 3 should be clear after Flip")
	}
}

func TestCoilDataToWireZeroesUnusedBits(t *testing.T) {
	c := NewCoilData(5)
	for i := 0; i < 5; i++ {
		c.Set(i, true)
	}
	wire := c.ToWire(0, 5)
	if len(wire) != 1 {
		t.Fatalf("ToWire(0,5) len = %d, want 1", len(wire))
	}
	if wire[0] != 0x1F {
		t.Fatalf("ToWire(0,5) = 0x%02X, want 0x1F", wire[0])
	}
}

func TestCoilDataToWireOffsetMatchesWireOrigin(t *testing.T) {
	c := NewCoilData(16)
	c.Set(8, true)
	c.Set(10, true)
	wire := c.ToWire(8, 8)
	if wire[0] != 0x05 {
		t.Fatalf("ToWire(8,8) = 0x%02X, want 0x05", wire[0])
	}
}

func TestCoilDataSetRangeRoundTrip(t *testing.T) {
	c := NewCoilData(16)
	payload := []byte{0xCD, 0x01}
	c.SetRange(0, 16, payload)
	if got := c.ToWire(0, 16); got[0] != payload[0] || got[1] != payload[1] {
		t.Fatalf("round trip mismatch: got %v, want %v", got, payload)
	}
}

func TestCoilDataFromWire(t *testing.T) {
	c := NewCoilDataFromWire([]byte{0x0A}, 4)
	if c.Get(0) || !c.Get(1) || c.Get(2) || !c.Get(3) {
		t.Fatalf("NewCoilDataFromWire(0x0A, 4) decoded incorrectly")
	}
}
