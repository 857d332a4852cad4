package modbus

import (
	"net"
	"sync"
	"time"
)

// tcpTransactionEntry is one outstanding request awaiting a matching
// response, keyed by its MBAP transaction-id.
type tcpTransactionEntry struct {
	request  *Request
	deadline time.Time
}

// AbandonHandler is invoked for every pending request dropped outside of
// its own Exchange call: a connection-drop during a different request's
// Send, or a timeout sweep catching a transaction whose own caller already
// stopped waiting on it.
type AbandonHandler func(req *Request, errCode ErrorCode)

// TCPFramer owns one TcpConnection, allocates transaction-ids, and
// correlates incoming MBAP frames with the request that caused them. It
// does not itself run a receive loop goroutine; Pump must be called
// repeatedly (by the worker or a dedicated reader) to make progress.
//
// Connection lifecycle: a framer built with NewLazyTCPFramer/DialTCPFramer
// connects lazily on its first Send and reconnects, up to
// maxReconnectAttempts times with a doubling reconnectBackoff, whenever a
// write or read indicates the socket has died. Every transaction still
// pending on a dropped socket is abandoned with IPConnectionFailed, since
// a reply addressed to it can never arrive.
type TCPFramer struct {
	mu      sync.Mutex
	dial    func() (TcpConnection, error)
	conn    TcpConnection
	nextTxn uint16
	pending map[uint16]*tcpTransactionEntry
	rxBuf   []byte
	logger  *SimpleLogger

	onAbandon AbandonHandler

	maxReconnectAttempts int
	reconnectBackoff     time.Duration
}

// NewTCPFramer wraps an already-connected TcpConnection. It never
// reconnects on its own: a failed write or read drops the connection, and
// every later Send fails with IPConnectionFailed, matching callers that
// manage their own socket lifecycle.
func NewTCPFramer(conn TcpConnection) *TCPFramer {
	return &TCPFramer{
		conn:                 conn,
		pending:              make(map[uint16]*tcpTransactionEntry),
		maxReconnectAttempts: 3,
		reconnectBackoff:     200 * time.Millisecond,
	}
}

// NewLazyTCPFramer defers connecting until the first Send, dialing through
// dial, and reconnects through it (bounded, with backoff) whenever the
// connection drops.
func NewLazyTCPFramer(dial func() (TcpConnection, error)) *TCPFramer {
	return &TCPFramer{
		dial:                 dial,
		pending:              make(map[uint16]*tcpTransactionEntry),
		maxReconnectAttempts: 3,
		reconnectBackoff:     200 * time.Millisecond,
	}
}

// DialTCPFramer is the common-case constructor: a lazy, reconnecting framer
// that dials host:port through DialTCP.
func DialTCPFramer(host string, port int, dialTimeout time.Duration) *TCPFramer {
	return NewLazyTCPFramer(func() (TcpConnection, error) {
		return DialTCP(host, port, dialTimeout)
	})
}

// SetLogger attaches a logger the framer writes connect/reconnect/abandon
// activity to. Passing nil silences it again.
func (f *TCPFramer) SetLogger(l *SimpleLogger) {
	f.mu.Lock()
	f.logger = l
	f.mu.Unlock()
}

// SetAbandonHandler registers the callback invoked for requests dropped
// outside of their own Exchange call (see AbandonHandler).
func (f *TCPFramer) SetAbandonHandler(h AbandonHandler) {
	f.mu.Lock()
	f.onAbandon = h
	f.mu.Unlock()
}

// ensureConnected returns nil immediately if a connection is already
// established, and otherwise dials up to maxReconnectAttempts times
// (doubling reconnectBackoff between tries) before giving up with
// IPConnectionFailed. A framer with no dial func (NewTCPFramer) never
// reconnects once its connection is gone.
func (f *TCPFramer) ensureConnected() error {
	f.mu.Lock()
	conn := f.conn
	dial := f.dial
	logger := f.logger
	maxAttempts := f.maxReconnectAttempts
	backoff := f.reconnectBackoff
	f.mu.Unlock()

	if conn != nil {
		return nil
	}
	if dial == nil {
		return IPConnectionFailed
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		logAt(logger, LevelInfo, "tcp framer: connect attempt %d/%d", attempt, maxAttempts)
		newConn, err := dial()
		if err == nil {
			f.mu.Lock()
			f.conn = newConn
			f.mu.Unlock()
			return nil
		}
		lastErr = err
		logAt(logger, LevelWarning, "tcp framer: connect attempt %d/%d failed: %v", attempt, maxAttempts, err)
		if attempt < maxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	logAt(logger, LevelError, "tcp framer: exhausted reconnect attempts: %v", lastErr)
	return IPConnectionFailed
}

// dropConnection closes the current connection (if any) and abandons
// every pending transaction on it except skip, which the caller is
// already about to report a failure for itself. The next Send lazily
// reconnects through ensureConnected.
func (f *TCPFramer) dropConnection(skip *Request) {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	var abandoned []*Request
	for txn, entry := range f.pending {
		if entry.request == skip {
			continue
		}
		abandoned = append(abandoned, entry.request)
		delete(f.pending, txn)
	}
	f.rxBuf = nil
	logger := f.logger
	f.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	logAt(logger, LevelError, "tcp framer: connection dropped, abandoning %d pending request(s)", len(abandoned))
	f.notifyAbandoned(abandoned, IPConnectionFailed, logger)
}

func (f *TCPFramer) notifyAbandoned(reqs []*Request, code ErrorCode, logger *SimpleLogger) {
	f.mu.Lock()
	handler := f.onAbandon
	f.mu.Unlock()
	for _, req := range reqs {
		logAt(logger, LevelWarning, "tcp framer: abandoning pending request (token=%d) with %s", req.Token, code)
		if handler != nil {
			handler(req, code)
		}
	}
}

// Send ensures a connection exists (dialing/reconnecting as needed),
// allocates the next transaction-id, frames pdu with an MBAP header,
// writes it, and registers a pending entry with the given timeout. A
// write failure drops the connection and abandons every other pending
// transaction before returning the error for req's own caller to report.
func (f *TCPFramer) Send(req *Request, pdu []byte, timeout time.Duration) (uint16, error) {
	if err := f.ensureConnected(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	txn := f.nextTxn
	f.nextTxn++
	frame, err := packMBAP(txn, req.Target.ServerID, pdu)
	if err != nil {
		f.mu.Unlock()
		return 0, err
	}
	f.pending[txn] = &tcpTransactionEntry{request: req, deadline: time.Now().Add(timeout)}
	conn := f.conn
	f.mu.Unlock()

	if _, err := conn.Write(frame); err != nil {
		f.mu.Lock()
		delete(f.pending, txn)
		logger := f.logger
		f.mu.Unlock()
		logAt(logger, LevelError, "tcp framer: write failed: %v", err)
		f.dropConnection(req)
		return 0, err
	}
	return txn, nil
}

// FrameResult is one fully reassembled, correlated TCP response, or a
// report that a frame arrived with no matching pending transaction (which
// is discarded silently per spec, surfaced here only so callers can log
// it if they want).
type FrameResult struct {
	Request *Request
	PDU     []byte
	Unmatched bool
}

// Pump reads whatever bytes are currently available, reassembles complete
// MBAP frames out of the accumulated buffer, and returns the ones that
// completed this call matched against pending transactions. It must be
// called repeatedly (e.g. from the worker's wait loop) to drive receipt.
func (f *TCPFramer) Pump(readDeadline time.Time) ([]FrameResult, error) {
	f.mu.Lock()
	conn := f.conn
	logger := f.logger
	f.mu.Unlock()
	if conn == nil {
		return nil, IPConnectionFailed
	}

	buf := make([]byte, 4096)
	n, err := conn.ReadAvailable(buf, readDeadline)
	if n > 0 {
		f.mu.Lock()
		f.rxBuf = append(f.rxBuf, buf[:n]...)
		f.mu.Unlock()
	}
	if err != nil && n == 0 {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// Expected: Exchange polls with a short per-call read deadline.
			return nil, nil
		}
		logAt(logger, LevelError, "tcp framer: read failed: %v", err)
		f.dropConnection(nil)
		return nil, err
	}

	var results []FrameResult
	f.mu.Lock()
	for {
		if len(f.rxBuf) < 6 {
			break
		}
		length := peekMBAPLength(f.rxBuf)
		total := 6 + int(length)
		if len(f.rxBuf) < total {
			break
		}
		frame := f.rxBuf[:total]
		f.rxBuf = f.rxBuf[total:]

		txn, _, pdu, perr := unpackMBAP(frame)
		if perr != nil {
			continue
		}
		entry, ok := f.pending[txn]
		if !ok {
			results = append(results, FrameResult{Unmatched: true})
			continue
		}
		delete(f.pending, txn)
		results = append(results, FrameResult{Request: entry.request, PDU: pdu})
	}
	f.mu.Unlock()
	return results, nil
}

// SweepTimeouts removes every pending entry whose deadline has passed and
// returns the requests that timed out, for the caller to dispatch to
// on_error. Intended to be called at least every timeout/4.
func (f *TCPFramer) SweepTimeouts(now time.Time) []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var expired []*Request
	for txn, entry := range f.pending {
		if !entry.deadline.After(now) {
			expired = append(expired, entry.request)
			delete(f.pending, txn)
		}
	}
	return expired
}

// AbandonAll removes every pending entry and returns its requests, for
// use when the connection is about to be torn down and reconnected: a
// response delivered on the new socket could never be matched to an
// entry allocated on the old one.
func (f *TCPFramer) AbandonAll() []*Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var abandoned []*Request
	for txn, entry := range f.pending {
		abandoned = append(abandoned, entry.request)
		delete(f.pending, txn)
	}
	f.rxBuf = nil
	return abandoned
}

// Close closes the underlying connection, if any.
func (f *TCPFramer) Close() error {
	f.mu.Lock()
	conn := f.conn
	f.conn = nil
	f.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// pumpPollInterval bounds how long a single Pump read blocks while
// Exchange waits for its own transaction to resolve, so the deadline
// check below runs often enough to honor timeout.
const pumpPollInterval = 20 * time.Millisecond

// Exchange implements Exchanger on top of Send/Pump: it sends req's PDU
// and polls the connection until either the matching frame arrives or
// timeout elapses. Unmatched frames observed along the way are discarded,
// matching spec.md's "stale/duplicate" handling. Every poll also sweeps
// timed-out transactions (well within spec.md's "at least every
// timeout/4" requirement, since pumpPollInterval is a small fixed slice of
// any realistic timeout) so a transaction nobody is actively waiting on
// still gets reported rather than leaking in f.pending forever.
func (f *TCPFramer) Exchange(req *Request, timeout time.Duration) (*Response, ErrorCode) {
	fc := req.FunctionCode()
	txn, err := f.Send(req, req.Bytes()[1:], timeout)
	if err != nil {
		return newExceptionResponse(req, req.Target.ServerID, fc, IPConnectionFailed), IPConnectionFailed
	}
	if req.Target.IsBroadcast() {
		return &Response{Message: NewMessage(0), Err: Success, Request: req}, Success
	}

	deadline := time.Now().Add(timeout)
	for {
		results, _ := f.Pump(time.Now().Add(pumpPollInterval))
		for _, r := range results {
			if r.Unmatched {
				f.mu.Lock()
				logger := f.logger
				f.mu.Unlock()
				logAt(logger, LevelWarning, "tcp framer: discarding unmatched response frame")
				continue
			}
			if r.Request != req {
				continue
			}
			return f.responseFrom(req, fc, r.PDU)
		}

		f.mu.Lock()
		logger := f.logger
		f.mu.Unlock()
		expired := f.SweepTimeouts(time.Now())
		var stale []*Request
		for _, r := range expired {
			if r == req {
				continue // reported below via the deadline check
			}
			stale = append(stale, r)
		}
		f.notifyAbandoned(stale, Timeout, logger)

		if time.Now().After(deadline) {
			f.mu.Lock()
			delete(f.pending, txn)
			f.mu.Unlock()
			logAt(logger, LevelWarning, "tcp framer: request token=%d timed out", req.Token)
			return newExceptionResponse(req, req.Target.ServerID, fc, Timeout), Timeout
		}
	}
}

// responseFrom re-derives a [server-id, fc, payload...] frame from the
// MBAP payload (which carries only fc+payload, the unit-id having
// travelled in the header instead) so ParseFramePDU can decode it
// uniformly with the RTU path.
func (f *TCPFramer) responseFrom(req *Request, fc byte, pdu []byte) (*Response, ErrorCode) {
	frame := append([]byte{req.Target.ServerID}, pdu...)
	parsed, err := ParseFramePDU(frame)
	if err != nil {
		return newExceptionResponse(req, req.Target.ServerID, fc, PacketLengthError), PacketLengthError
	}
	resp := &Response{Message: NewMessageFrom(frame), Request: req}
	if parsed.IsException {
		resp.Err = parsed.Exception
		return resp, parsed.Exception
	}
	resp.Err = Success
	return resp, Success
}
