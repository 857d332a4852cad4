package modbus

import "testing"

func TestCRC16TableMatchesSlow(t *testing.T) {
	cases := [][]byte{
		{0x02, 0x07},
		{0x01, 0x03, 0x00, 0x00, 0x00, 0x02},
		{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03},
		{},
	}
	for _, data := range cases {
		if got, want := crc16(data), crc16Slow(data); got != want {
			t.Errorf("crc16(%v) = 0x%04X, crc16Slow = 0x%04X", data, got, want)
		}
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// Read holding registers request for slave 0x11, FC 0x03, addr 0x006B, qty 0x0003.
	// Per the Modbus spec worked example, the wire bytes are CRC-lo=0x76,
	// CRC-hi=0x87, i.e. the 16-bit value is 0x8776.
	data := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if got, want := crc16(data), uint16(0x8776); got != want {
		t.Fatalf("crc16 = 0x%04X, want 0x%04X", got, want)
	}
}

func TestCRC16VerifyRoundTrip(t *testing.T) {
	data := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	framed := crc16Append(append([]byte{}, data...))
	if !crc16Verify(framed) {
		t.Fatalf("crc16Verify(%v) = false, want true", framed)
	}
	framed[len(framed)-1] ^= 0xFF
	if crc16Verify(framed) {
		t.Fatalf("crc16Verify should fail after corrupting CRC byte")
	}
}

func TestCRC16VerifyShortInput(t *testing.T) {
	if crc16Verify([]byte{0x01}) {
		t.Fatalf("crc16Verify on a too-short slice must report false")
	}
}
