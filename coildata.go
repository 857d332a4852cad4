package modbus

// CoilData is a fixed-capacity, LSB-first packed bit vector: bit i of coil
// i lives at byte i/8, bit i%8, matching the packed []byte wire layout
// that FC 0x01/0x02 replies and FC 0x0F requests (AddRequestWriteCoils,
// BuildWriteMultipleCoils) carry. Wrapping that
// convention in a type gives single-bit access without re-deriving the
// byte/bit arithmetic at every call site.
type CoilData struct {
	bits  []byte
	count int
}

// NewCoilData allocates a CoilData holding count coils, all clear.
func NewCoilData(count int) *CoilData {
	return &CoilData{
		bits:  make([]byte, (count+7)/8),
		count: count,
	}
}

// NewCoilDataFromWire wraps a packed byte slice as already received or
// ready to send, keeping only the low count bits significant.
func NewCoilDataFromWire(wire []byte, count int) *CoilData {
	buf := make([]byte, (count+7)/8)
	copy(buf, wire)
	return &CoilData{bits: buf, count: count}
}

// Count reports the number of coils this CoilData holds.
func (c *CoilData) Count() int { return c.count }

// Get reports whether coil i is set. i must be in [0, Count()).
func (c *CoilData) Get(i int) bool {
	return c.bits[i/8]&(1<<uint(i%8)) != 0
}

// Set forces coil i to the given value.
func (c *CoilData) Set(i int, v bool) {
	byteIdx, bitMask := i/8, byte(1<<uint(i%8))
	if v {
		c.bits[byteIdx] |= bitMask
	} else {
		c.bits[byteIdx] &^= bitMask
	}
}

// Flip toggles coil i and returns its new value.
func (c *CoilData) Flip(i int) bool {
	c.bits[i/8] ^= 1 << uint(i%8)
	return c.Get(i)
}

// SetRange copies count bits starting at coil index start out of values,
// where values is itself an LSB-first packed slice starting at bit 0 (the
// layout FC 0x0F's request payload uses). It is the inverse of ToWire.
func (c *CoilData) SetRange(start, count int, values []byte) {
	for i := 0; i < count; i++ {
		v := values[i/8]&(1<<uint(i%8)) != 0
		c.Set(start+i, v)
	}
}

// ToWire extracts count coils starting at start into a freshly packed
// LSB-first byte slice of ceil(count/8) bytes, with any unused high bits
// of the final byte zeroed, as FC 0x01/0x02 responses require.
func (c *CoilData) ToWire(start, count int) []byte {
	out := make([]byte, (count+7)/8)
	for i := 0; i < count; i++ {
		if c.Get(start + i) {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}
