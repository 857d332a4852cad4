package modbus

import (
	"io"
	"time"

	goserial "github.com/hootrhino/goserial"
)

// SerialPort is the capability a Modbus RTU framer needs from its physical
// link: write a burst of bytes, pull back whatever has arrived so far
// without blocking past its own read deadline, and flush stale bytes after
// a framing error. OpenSerialPort and NewFakeSerialPort construct the two
// implementations this package ships.
type SerialPort interface {
	io.Writer
	// ReadAvailable reads up to len(buf) bytes, blocking at most until its
	// internal timeout elapses, and returns the bytes actually read.
	ReadAvailable(buf []byte) (int, error)
	// Flush discards any buffered but unread bytes.
	Flush() error
	Close() error
}

// goSerialPort adapts github.com/hootrhino/goserial's io.ReadWriteCloser
// port to SerialPort. goserial.Config.Timeout bounds every Read call, so
// ReadAvailable only ever blocks that long.
type goSerialPort struct {
	port io.ReadWriteCloser
}

// OpenSerialPort opens a physical serial line through goserial using the
// given address (e.g. "/dev/ttyUSB0" or "COM3"), baud rate, and per-read
// timeout. Modbus RTU is always 8 data bits with one stop bit; parity is
// left to the caller since it's a per-network wiring choice.
func OpenSerialPort(address string, baudRate int, parity string, timeout time.Duration) (SerialPort, error) {
	port, err := goserial.Open(&goserial.Config{
		Address:  address,
		BaudRate: baudRate,
		DataBits: 8,
		StopBits: 1,
		Parity:   parity,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	return &goSerialPort{port: port}, nil
}

func (p *goSerialPort) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *goSerialPort) ReadAvailable(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Flush drains bytes already sitting in the OS read buffer using the
// port's own (short) timeout; goserial has no dedicated flush call.
func (p *goSerialPort) Flush() error {
	discard := make([]byte, 256)
	for {
		n, err := p.port.Read(discard)
		if n == 0 || err != nil {
			return nil
		}
	}
}

func (p *goSerialPort) Close() error {
	return p.port.Close()
}

// FakeSerialPort is an in-memory SerialPort for tests: writes go to TX,
// and RX is drained by ReadAvailable as if it were the wire.
type FakeSerialPort struct {
	TX     [][]byte
	RX     []byte
	Closed bool
}

// NewFakeSerialPort returns a FakeSerialPort with no queued bytes.
func NewFakeSerialPort() *FakeSerialPort {
	return &FakeSerialPort{}
}

func (f *FakeSerialPort) Write(b []byte) (int, error) {
	cp := append([]byte(nil), b...)
	f.TX = append(f.TX, cp)
	return len(b), nil
}

// Feed appends bytes to RX as if the remote end had transmitted them.
func (f *FakeSerialPort) Feed(b []byte) {
	f.RX = append(f.RX, b...)
}

func (f *FakeSerialPort) ReadAvailable(buf []byte) (int, error) {
	if len(f.RX) == 0 {
		return 0, nil
	}
	n := copy(buf, f.RX)
	f.RX = f.RX[n:]
	return n, nil
}

func (f *FakeSerialPort) Flush() error {
	f.RX = nil
	return nil
}

func (f *FakeSerialPort) Close() error {
	f.Closed = true
	return nil
}
