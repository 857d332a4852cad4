package modbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Config bundles the tunables spec.md's set_timeout/queue_limit surface
// exposes, generalizing the teacher's RTUConfig/TCPTransporterConfig
// pair into one shape shared by both transports.
type Config struct {
	QueueLimit int
	Timeout    time.Duration
	Interval   time.Duration
}

// DefaultConfig matches spec.md §5's stated defaults: a 100-entry queue,
// a 2s per-request timeout, and no mandatory inter-request spacing.
func DefaultConfig() Config {
	return Config{
		QueueLimit: DefaultQueueLimit,
		Timeout:    2 * time.Second,
		Interval:   0,
	}
}

// Client is the library's public entry point: it owns a RequestQueue
// backed by either an RTUFramer or a TCPFramer, and exposes add_request
// (one method per PDU shape, per spec.md §6), generate_request, and a
// synchronous wrapper built on the same queue.
type Client struct {
	queue      *RequestQueue
	cfg        Config
	nextToken  uint32
	inCallback int32 // 1 while executing on the worker goroutine's callback

	cbMu        sync.Mutex // guards userOnData/userOnError against SyncRequest's temporary hooks
	userOnData  OnDataFunc
	userOnError OnErrorFunc
}

// NewClient wires a Client around any Exchanger (an *RTUFramer or
// *TCPFramer), applying cfg's queue depth, timeout, and spacing.
func NewClient(exchange Exchanger, cfg Config) *Client {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	c := &Client{
		queue: NewRequestQueue(exchange, cfg.QueueLimit, cfg.Timeout, cfg.Interval),
		cfg:   cfg,
	}
	c.queue.OnData(c.dispatchData)
	c.queue.OnError(c.dispatchError)
	// A TCPFramer reports requests abandoned outside its own Exchange call
	// (reconnect-drop, timeout sweep) through this hook; route them through
	// the same on_error path as every other failure.
	if ab, ok := exchange.(abandonable); ok {
		ab.SetAbandonHandler(func(req *Request, errCode ErrorCode) {
			c.dispatchError(errCode, req.Token)
		})
	}
	return c
}

// abandonable is implemented by TCPFramer; see AbandonHandler.
type abandonable interface {
	SetAbandonHandler(AbandonHandler)
}

func (c *Client) dispatchData(resp *Response, token uint32) {
	c.cbMu.Lock()
	f := c.userOnData
	c.cbMu.Unlock()
	atomic.StoreInt32(&c.inCallback, 1)
	defer atomic.StoreInt32(&c.inCallback, 0)
	if f != nil {
		f(resp, token)
	}
}

func (c *Client) dispatchError(errCode ErrorCode, token uint32) {
	c.cbMu.Lock()
	f := c.userOnError
	c.cbMu.Unlock()
	atomic.StoreInt32(&c.inCallback, 1)
	defer atomic.StoreInt32(&c.inCallback, 0)
	if f != nil {
		f(errCode, token)
	}
}

// loggable is implemented by RTUFramer and TCPFramer; SetLogger type-asserts
// against it so Client.SetLogger can reach whichever transport backs it
// without Client needing to know which one it is.
type loggable interface {
	SetLogger(*SimpleLogger)
}

// SetLogger attaches a logger to both the request queue and, if the
// underlying Exchanger supports it, the transport framer itself, so a
// single call wires logging all the way down to the wire.
func (c *Client) SetLogger(l *SimpleLogger) {
	c.queue.SetLogger(l)
	if lg, ok := c.queue.exchange.(loggable); ok {
		lg.SetLogger(l)
	}
}

// Begin starts the background worker goroutine.
func (c *Client) Begin() { c.queue.Start() }

// End stops the worker, draining the queue per spec.md's shutdown rules.
func (c *Client) End() { c.queue.Stop() }

// SetTimeout updates the per-request timeout and per-target spacing used
// for every request the worker sends from this point on, including
// requests already waiting in the queue.
func (c *Client) SetTimeout(timeout, interval time.Duration) {
	c.cfg.Timeout = timeout
	c.cfg.Interval = interval
	c.queue.mu.Lock()
	c.queue.timeout = timeout
	c.queue.interval = interval
	c.queue.mu.Unlock()
}

// OnDataHandler registers the single data callback.
func (c *Client) OnDataHandler(f OnDataFunc) {
	c.cbMu.Lock()
	c.userOnData = f
	c.cbMu.Unlock()
}

// OnErrorHandler registers the single error callback.
func (c *Client) OnErrorHandler(f OnErrorFunc) {
	c.cbMu.Lock()
	c.userOnError = f
	c.cbMu.Unlock()
}

func (c *Client) newToken() uint32 {
	return atomic.AddUint32(&c.nextToken, 1)
}

func (c *Client) enqueue(target Target, msg *Message, err error) (uint32, ErrorCode) {
	if err != nil {
		code, ok := err.(ErrorCode)
		if !ok {
			code = UndefinedError
		}
		return 0, code
	}
	token := c.newToken()
	req := &Request{Message: msg, Token: token, Target: target}
	return token, c.queue.Push(req)
}

// AddRequestNoPayload submits an FC 0x07/0x0B/0x0C/0x11-shaped request
// (no payload beyond server-id and function code).
func (c *Client) AddRequestNoPayload(target Target, funcCode byte) (uint32, ErrorCode) {
	var msg *Message
	var err error
	switch funcCode {
	case FuncReadExceptionStatus:
		msg, err = BuildReadExceptionStatus(target.ServerID)
	case FuncReportServerID:
		msg, err = BuildReportServerID(target.ServerID)
	case 0x0B, 0x0C: // Get Comm Event Counter / Get Comm Event Log
		if err = validateServerID(target.ServerID, funcCode); err == nil {
			msg = NewMessage(2).AppendU8(target.ServerID).AppendU8(funcCode)
		}
	default:
		return 0, ParameterCountError
	}
	return c.enqueue(target, msg, err)
}

// AddRequestTwoParams submits an FC 0x01-0x06-shaped request: one address
// and one quantity-or-value parameter.
func (c *Client) AddRequestTwoParams(target Target, funcCode byte, address, param uint16) (uint32, ErrorCode) {
	var msg *Message
	var err error
	switch funcCode {
	case FuncReadCoils:
		msg, err = BuildReadCoils(target.ServerID, address, param)
	case FuncReadDiscreteInputs:
		msg, err = BuildReadDiscreteInputs(target.ServerID, address, param)
	case FuncReadHoldingRegisters:
		msg, err = BuildReadHoldingRegisters(target.ServerID, address, param)
	case FuncReadInputRegisters:
		msg, err = BuildReadInputRegisters(target.ServerID, address, param)
	case FuncWriteSingleCoil:
		msg, err = BuildWriteSingleCoil(target.ServerID, address, param)
	case FuncWriteSingleRegister:
		msg, err = BuildWriteSingleRegister(target.ServerID, address, param)
	default:
		return 0, ParameterCountError
	}
	return c.enqueue(target, msg, err)
}

// AddRequestWriteCoils submits an FC 0x0F request: address, quantity, and
// LSB-first packed coil bytes (e.g. from CoilData.ToWire).
func (c *Client) AddRequestWriteCoils(target Target, address, quantity uint16, values []byte) (uint32, ErrorCode) {
	msg, err := BuildWriteMultipleCoils(target.ServerID, address, quantity, values)
	return c.enqueue(target, msg, err)
}

// AddRequestWriteRegisters submits an FC 0x10 request: address, register
// quantity, and big-endian register bytes.
func (c *Client) AddRequestWriteRegisters(target Target, address, quantity uint16, values []byte) (uint32, ErrorCode) {
	msg, err := BuildWriteMultipleRegisters(target.ServerID, address, quantity, values)
	return c.enqueue(target, msg, err)
}

// AddRequestMaskWrite submits an FC 0x16 request: address, AND-mask,
// OR-mask.
func (c *Client) AddRequestMaskWrite(target Target, address, andMask, orMask uint16) (uint32, ErrorCode) {
	msg, err := BuildMaskWriteRegister(target.ServerID, address, andMask, orMask)
	return c.enqueue(target, msg, err)
}

// AddRequestReadWrite submits an FC 0x17 request: read address/quantity,
// write address/quantity, and the registers to write.
func (c *Client) AddRequestReadWrite(target Target, readAddr, readQty, writeAddr, writeQty uint16, writeValues []byte) (uint32, ErrorCode) {
	msg, err := BuildReadWriteMultipleRegisters(target.ServerID, readAddr, readQty, writeAddr, writeQty, writeValues)
	return c.enqueue(target, msg, err)
}

// AddRequestReadFIFO submits an FC 0x18 request: the FIFO pointer
// register address.
func (c *Client) AddRequestReadFIFO(target Target, fifoPointer uint16) (uint32, ErrorCode) {
	msg, err := BuildReadFIFOQueue(target.ServerID, fifoPointer)
	return c.enqueue(target, msg, err)
}

// GenerateRequest builds the PDU bytes for an arbitrary function code and
// payload without submitting it to the queue, for callers that want to
// inspect or transport a frame themselves.
func (c *Client) GenerateRequest(serverID, funcCode byte, payload []byte) []byte {
	return NewMessage(2 + len(payload)).AppendU8(serverID).AppendU8(funcCode).AppendBytes(payload).Bytes()
}

// SyncRequest builds a request from target, funcCode and payload, submits
// it, and blocks until its callback fires, returning the Response (or a
// synthetic exception Response on error). It must not be called from
// within a data/error callback: that would deadlock the single worker
// goroutine, so it is instead detected and rejected with UndefinedError
// and a nil Response.
func (c *Client) SyncRequest(target Target, funcCode byte, payload []byte) (*Response, ErrorCode) {
	if atomic.LoadInt32(&c.inCallback) == 1 {
		return nil, UndefinedError
	}
	if err := validateServerID(target.ServerID, funcCode); err != nil {
		return newExceptionResponse(&Request{Target: target}, target.ServerID, funcCode, ParameterLimitError), ParameterLimitError
	}

	msg := NewMessage(2 + len(payload)).AppendU8(target.ServerID).AppendU8(funcCode).AppendBytes(payload)
	token := c.newToken()
	req := &Request{Message: msg, Token: token, Target: target}

	result := make(chan *Response, 1)
	errs := make(chan ErrorCode, 1)

	// SyncRequest installs temporary hooks that intercept only this
	// token's callback and otherwise defer to whatever the user already
	// registered, so concurrent SyncRequest/async usage coexist.
	c.cbMu.Lock()
	prevData, prevError := c.userOnData, c.userOnError
	c.userOnData = func(resp *Response, tok uint32) {
		if tok == token {
			result <- resp
			return
		}
		if prevData != nil {
			prevData(resp, tok)
		}
	}
	c.userOnError = func(errCode ErrorCode, tok uint32) {
		if tok == token {
			errs <- errCode
			return
		}
		if prevError != nil {
			prevError(errCode, tok)
		}
	}
	c.cbMu.Unlock()
	defer func() {
		c.cbMu.Lock()
		c.userOnData, c.userOnError = prevData, prevError
		c.cbMu.Unlock()
	}()

	if pushErr := c.queue.Push(req); pushErr != Success {
		return newExceptionResponse(req, target.ServerID, funcCode, pushErr), pushErr
	}

	select {
	case resp := <-result:
		return resp, Success
	case errCode := <-errs:
		return newExceptionResponse(req, target.ServerID, funcCode, errCode), errCode
	case <-time.After(c.cfg.Timeout + time.Second):
		return newExceptionResponse(req, target.ServerID, funcCode, Timeout), Timeout
	}
}
