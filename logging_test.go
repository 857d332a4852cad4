package modbus

import (
	"strings"
	"testing"
	"time"
)

// TestClientSetLoggerReachesQueueAndFramer confirms SetLogger wires both the
// request queue and the underlying framer, not just one or the other.
func TestClientSetLoggerReachesQueueAndFramer(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug, "CLIENT")

	port := NewFakeSerialPort()
	framer := NewRTUFramer(port, 19200, nil)
	c := NewClient(framer, DefaultConfig())
	c.SetLogger(logger)
	c.Begin()
	defer c.End()

	port.Feed(crc16Append([]byte{0x11, 0x03, 0x02, 0x00, 0x0A}))

	done := make(chan *Response, 1)
	c.OnDataHandler(func(resp *Response, token uint32) { done <- resp })

	if _, errCode := c.AddRequestTwoParams(Target{ServerID: 0x11}, FuncReadHoldingRegisters, 0x006B, 1); errCode != Success {
		t.Fatalf("AddRequestTwoParams = %v", errCode)
	}

	select {
	case resp := <-done:
		if resp.Err != Success {
			t.Fatalf("resp.Err = %v, want Success", resp.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	out := buf.String()
	if !strings.Contains(out, "request queue") {
		t.Fatalf("expected a request-queue log line, got: %q", out)
	}
	if !strings.Contains(out, "rtu framer") {
		t.Fatalf("expected an rtu framer log line, got: %q", out)
	}
}

// TestServerSetLoggerLogsUnhandledRequest confirms Dispatch logs through an
// attached logger, including the warning path for an unregistered handler.
func TestServerSetLoggerLogsUnhandledRequest(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug, "SERVER")

	s := NewServer()
	s.SetLogger(logger)

	reqFrame := []byte{0x11, 0x03, 0x00, 0x6B, 0x00, 0x03}
	if _, err := s.Dispatch(reqFrame); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "dispatching") {
		t.Fatalf("expected a dispatch log line, got: %q", out)
	}
	if !strings.Contains(out, "no handler registered") {
		t.Fatalf("expected a no-handler warning, got: %q", out)
	}
}

// TestTCPFramerSetLoggerLogsConnectAttempts confirms SetLogger on a lazy
// TCPFramer produces log output for the connect path.
func TestTCPFramerSetLoggerLogsConnectAttempts(t *testing.T) {
	logger, buf := newBufferLogger(LevelDebug, "TCP")
	conn := NewFakeTcpConnection()
	f := NewLazyTCPFramer(func() (TcpConnection, error) { return conn, nil })
	f.SetLogger(logger)

	req := &Request{Target: Target{ServerID: 0x11}}
	if _, err := f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(buf.String(), "connect attempt") {
		t.Fatalf("expected a connect-attempt log line, got: %q", buf.String())
	}
}
