package modbus

import (
	"errors"
	"testing"
	"time"
)

func TestTCPFramerSendFramesMBAP(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	req := &Request{Target: Target{ServerID: 0x11}}
	txn, err := f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txn != 0 {
		t.Fatalf("first transaction-id = %d, want 0", txn)
	}
	if len(conn.TX) != 1 || len(conn.TX[0]) != 7+5 {
		t.Fatalf("unexpected write: %v", conn.TX)
	}
}

func TestTCPFramerPumpMatchesResponse(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	req := &Request{Target: Target{ServerID: 0x11}}
	txn, _ := f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second)

	respPDU := []byte{0x03, 0x02, 0x00, 0x0A}
	frame, _ := packMBAP(txn, 0x11, respPDU)
	conn.Feed(frame)

	results, err := f.Pump(time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Unmatched {
		t.Fatalf("expected one matched result, got %+v", results)
	}
	if results[0].Request != req {
		t.Fatalf("result did not carry back the original request")
	}
}

func TestTCPFramerPumpUnmatchedDiscarded(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	frame, _ := packMBAP(99, 0x11, []byte{0x03, 0x02, 0x00, 0x0A})
	conn.Feed(frame)

	results, err := f.Pump(time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || !results[0].Unmatched {
		t.Fatalf("expected one unmatched result, got %+v", results)
	}
}

func TestTCPFramerSweepTimeouts(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	req := &Request{Target: Target{ServerID: 0x11}}
	f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	expired := f.SweepTimeouts(time.Now())
	if len(expired) != 1 || expired[0] != req {
		t.Fatalf("expected req to expire, got %+v", expired)
	}
	if expired2 := f.SweepTimeouts(time.Now()); len(expired2) != 0 {
		t.Fatalf("entry should have been removed after first sweep")
	}
}

func TestTCPFramerAbandonAll(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	req := &Request{Target: Target{ServerID: 0x11}}
	f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second)

	abandoned := f.AbandonAll()
	if len(abandoned) != 1 || abandoned[0] != req {
		t.Fatalf("expected req to be abandoned, got %+v", abandoned)
	}
	if more := f.AbandonAll(); len(more) != 0 {
		t.Fatalf("second AbandonAll should find nothing")
	}
}

func TestTCPFramerLazyConnectDialsOnFirstSend(t *testing.T) {
	conn := NewFakeTcpConnection()
	dialed := 0
	f := NewLazyTCPFramer(func() (TcpConnection, error) {
		dialed++
		return conn, nil
	})
	req := &Request{Target: Target{ServerID: 0x11}}
	if _, err := f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dialed != 1 {
		t.Fatalf("expected exactly one dial, got %d", dialed)
	}
}

func TestTCPFramerReconnectsAfterWriteFailure(t *testing.T) {
	failing := NewFakeTcpConnection()
	failing.WriteErr = errors.New("broken pipe")
	reconnected := NewFakeTcpConnection()
	attempts := []*FakeTcpConnection{failing, reconnected}
	i := 0
	f := NewLazyTCPFramer(func() (TcpConnection, error) {
		c := attempts[i]
		i++
		return c, nil
	})
	f.reconnectBackoff = time.Millisecond

	req1 := &Request{Token: 1, Target: Target{ServerID: 0x11}}
	if _, err := f.Send(req1, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second); err == nil {
		t.Fatalf("expected the first send to fail against the broken connection")
	}

	req2 := &Request{Token: 2, Target: Target{ServerID: 0x11}}
	if _, err := f.Send(req2, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second); err != nil {
		t.Fatalf("expected reconnect to succeed: %v", err)
	}
	if len(reconnected.TX) != 1 {
		t.Fatalf("expected the retried request to go out over the reconnected socket")
	}
}

func TestTCPFramerEnsureConnectedGivesUpAfterMaxAttempts(t *testing.T) {
	attempts := 0
	f := NewLazyTCPFramer(func() (TcpConnection, error) {
		attempts++
		return nil, errors.New("refused")
	})
	f.reconnectBackoff = time.Millisecond
	f.maxReconnectAttempts = 2

	req := &Request{Token: 1, Target: Target{ServerID: 0x11}}
	if _, err := f.Send(req, []byte{0x03}, time.Second); err != IPConnectionFailed {
		t.Fatalf("got %v, want IPConnectionFailed", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly maxReconnectAttempts dials, got %d", attempts)
	}
}

func TestTCPFramerDropConnectionAbandonsOtherPending(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	req1 := &Request{Token: 1, Target: Target{ServerID: 0x11}}
	req2 := &Request{Token: 2, Target: Target{ServerID: 0x11}}
	f.Send(req1, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second)
	f.Send(req2, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second)

	var abandonedTokens []uint32
	f.SetAbandonHandler(func(r *Request, code ErrorCode) {
		if code != IPConnectionFailed {
			t.Fatalf("got %v, want IPConnectionFailed", code)
		}
		abandonedTokens = append(abandonedTokens, r.Token)
	})

	conn.WriteErr = errors.New("broken pipe")
	req3 := &Request{Token: 3, Target: Target{ServerID: 0x11}}
	if _, err := f.Send(req3, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second); err == nil {
		t.Fatalf("expected the write failure to surface")
	}
	if len(abandonedTokens) != 2 {
		t.Fatalf("expected the two earlier pending requests to be abandoned, got %v", abandonedTokens)
	}
}

func TestTCPFramerPartialFrameWaitsForMoreBytes(t *testing.T) {
	conn := NewFakeTcpConnection()
	f := NewTCPFramer(conn)
	req := &Request{Target: Target{ServerID: 0x11}}
	txn, _ := f.Send(req, []byte{0x03, 0x00, 0x6B, 0x00, 0x03}, time.Second)

	frame, _ := packMBAP(txn, 0x11, []byte{0x03, 0x02, 0x00, 0x0A})
	conn.Feed(frame[:5])
	results, _ := f.Pump(time.Time{})
	if len(results) != 0 {
		t.Fatalf("partial frame should not yet produce a result, got %+v", results)
	}
	conn.Feed(frame[5:])
	results, _ = f.Pump(time.Time{})
	if len(results) != 1 {
		t.Fatalf("expected result after remaining bytes arrive, got %+v", results)
	}
}
