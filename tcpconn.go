package modbus

import (
	"io"
	"net"
	"strconv"
	"time"
)

// TcpConnection is the capability a Modbus TCP framer needs from an
// already-connected socket: write a frame, pull back whatever has arrived
// within a deadline, and close. Connecting and disabling Nagle's algorithm
// are not part of this interface; DialTCP does both before returning a
// connection. netTcpConnection and FakeTcpConnection are the two
// implementations this package ships.
type TcpConnection interface {
	io.Writer
	ReadAvailable(buf []byte, deadline time.Time) (int, error)
	Close() error
}

// netTcpConnection adapts a net.Conn to TcpConnection, applying a
// per-call read deadline the way free_frame_transport.go does for its
// generic io.ReadWriteCloser.
type netTcpConnection struct {
	conn net.Conn
}

// DialTCP connects to a Modbus TCP server and disables Nagle's algorithm,
// since MBAP frames are small and latency-sensitive.
func DialTCP(host string, port int, dialTimeout time.Duration) (TcpConnection, error) {
	conn, err := net.DialTimeout("tcp", joinHostPort(host, port), dialTimeout)
	if err != nil {
		return nil, IPConnectionFailed
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &netTcpConnection{conn: conn}, nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (c *netTcpConnection) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

func (c *netTcpConnection) ReadAvailable(buf []byte, deadline time.Time) (int, error) {
	if !deadline.IsZero() {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.Read(buf)
}

func (c *netTcpConnection) Close() error {
	return c.conn.Close()
}

// FakeTcpConnection is an in-memory TcpConnection for tests. Setting
// WriteErr/ReadErr simulates a dead socket so reconnect logic can be
// exercised without a real network failure.
type FakeTcpConnection struct {
	TX       [][]byte
	RX       []byte
	Closed   bool
	WriteErr error
	ReadErr  error
}

// NewFakeTcpConnection returns a FakeTcpConnection with no queued bytes.
func NewFakeTcpConnection() *FakeTcpConnection {
	return &FakeTcpConnection{}
}

func (f *FakeTcpConnection) Write(b []byte) (int, error) {
	if f.WriteErr != nil {
		return 0, f.WriteErr
	}
	cp := append([]byte(nil), b...)
	f.TX = append(f.TX, cp)
	return len(b), nil
}

// Feed appends bytes to RX as if the remote end had sent them.
func (f *FakeTcpConnection) Feed(b []byte) {
	f.RX = append(f.RX, b...)
}

func (f *FakeTcpConnection) ReadAvailable(buf []byte, _ time.Time) (int, error) {
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	if len(f.RX) == 0 {
		return 0, nil
	}
	n := copy(buf, f.RX)
	f.RX = f.RX[n:]
	return n, nil
}

func (f *FakeTcpConnection) Close() error {
	f.Closed = true
	return nil
}
