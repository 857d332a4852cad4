package modbus

import (
	"time"
)

// maxRTUFrame is the largest possible RTU frame: 1 server-id + 1 function
// code + 252 payload bytes + 2 CRC bytes.
const maxRTUFrame = 256

// DirectionPin asserts a half-duplex transceiver's driver-enable line
// around a write, for RS-485 adapters without automatic direction control.
// A nil DirectionPin is a no-op, matching full-duplex wiring.
type DirectionPin interface {
	Assert()
	Deassert()
}

// rtuReceiveState is the per-request receive state machine spec.md lays
// out as WAIT_INTERVAL -> WAIT_DATA -> IN_PACKET -> DATA_READ -> exit.
type rtuReceiveState int

const (
	stateWaitInterval rtuReceiveState = iota
	stateWaitData
	stateInPacket
	stateDataRead
	stateFinished
	stateErrorExit
)

// RTUFramer drives a SerialPort with silence-delimited framing, optional
// half-duplex direction control, and CRC16 append/verify.
type RTUFramer struct {
	port         SerialPort
	direction    DirectionPin
	baudRate     int
	lastActivity time.Time
	logger       *SimpleLogger
}

// NewRTUFramer returns a framer for port at the given baud rate (used only
// to size the silent interval; SerialPort implementations apply baud rate
// themselves). direction may be nil.
func NewRTUFramer(port SerialPort, baudRate int, direction DirectionPin) *RTUFramer {
	return &RTUFramer{port: port, direction: direction, baudRate: baudRate}
}

// SetLogger attaches a logger the framer writes send/receive/framing-error
// activity to. Passing nil silences it again.
func (f *RTUFramer) SetLogger(l *SimpleLogger) { f.logger = l }

// silentInterval is a slightly conservative 4-character time, floored at
// 1ms; the floor takes over above 40000 baud.
func (f *RTUFramer) silentInterval() time.Duration {
	us := 40_000_000 / f.baudRate
	if us < 1000 {
		us = 1000
	}
	return time.Duration(us) * time.Microsecond
}

// Send waits out the silent interval since the last line activity, asserts
// direction control if configured, writes the PDU with its CRC16 appended,
// and updates last-activity on completion.
func (f *RTUFramer) Send(pdu []byte) error {
	f.waitSilentInterval()
	if f.direction != nil {
		f.direction.Assert()
	}
	frame := crc16Append(append([]byte(nil), pdu...))
	_, err := f.port.Write(frame)
	if f.direction != nil {
		f.direction.Deassert()
	}
	f.lastActivity = time.Now()
	if err != nil {
		logAt(f.logger, LevelError, "rtu framer: write failed: %v", err)
		return err
	}
	logAt(f.logger, LevelDebug, "rtu framer: sent %d byte frame", len(frame))
	return nil
}

func (f *RTUFramer) waitSilentInterval() {
	interval := f.silentInterval()
	if f.lastActivity.IsZero() {
		return
	}
	elapsed := time.Since(f.lastActivity)
	if elapsed < interval {
		time.Sleep(interval - elapsed)
	}
}

// Receive runs the WAIT_DATA/IN_PACKET/DATA_READ state machine until a
// full frame is silence-delimited, timeout elapses, or CRC fails. reqFC
// and reqServerID validate the reply; broadcast requests never call
// Receive at all (the worker reports SUCCESS right after Send).
func (f *RTUFramer) Receive(timeout time.Duration, reqServerID, reqFC byte) ([]byte, ErrorCode) {
	interval := f.silentInterval()
	deadline := time.Now().Add(timeout)
	frame := make([]byte, 0, maxRTUFrame)
	time.Sleep(interval) // WAIT_INTERVAL
	state := stateWaitData

	readBuf := make([]byte, maxRTUFrame)
	var lastByte time.Time

	for {
		switch state {
		case stateWaitData:
			if time.Now().After(deadline) {
				state = stateErrorExit
				continue
			}
			n, _ := f.port.ReadAvailable(readBuf)
			if n > 0 {
				frame = append(frame, readBuf[:n]...)
				lastByte = time.Now()
				state = stateInPacket
				continue
			}
			time.Sleep(time.Millisecond)
		case stateInPacket:
			n, _ := f.port.ReadAvailable(readBuf)
			if n > 0 {
				frame = append(frame, readBuf[:n]...)
				lastByte = time.Now()
				if len(frame) >= maxRTUFrame {
					state = stateDataRead
				}
				continue
			}
			if time.Since(lastByte) >= interval {
				state = stateDataRead
				continue
			}
			time.Sleep(time.Millisecond)
		case stateDataRead:
			if !crc16Verify(frame) {
				state = stateErrorExit
				continue
			}
			state = stateFinished
		case stateFinished:
			f.lastActivity = time.Now()
			pdu := frame[:len(frame)-2]
			if reqServerID != 0 {
				if pdu[0] != reqServerID {
					logAt(f.logger, LevelWarning, "rtu framer: server-id mismatch, got 0x%02X want 0x%02X", pdu[0], reqServerID)
					return nil, ServerIDMismatch
				}
				if pdu[1] != reqFC && pdu[1] != reqFC|exceptionBit {
					logAt(f.logger, LevelWarning, "rtu framer: function code mismatch, got 0x%02X want 0x%02X", pdu[1], reqFC)
					return nil, FCMismatch
				}
			}
			logAt(f.logger, LevelDebug, "rtu framer: received %d byte frame", len(pdu))
			return pdu, Success
		case stateErrorExit:
			f.lastActivity = time.Now()
			if len(frame) == 0 {
				logAt(f.logger, LevelWarning, "rtu framer: receive timed out waiting for a reply")
				return nil, Timeout
			}
			if !crc16Verify(frame) {
				logAt(f.logger, LevelError, "rtu framer: CRC check failed on %d byte frame", len(frame))
				return nil, CRCError
			}
			return nil, Timeout
		}
	}
}

// Exchange implements Exchanger: it sends req's PDU and, unless the
// target is a broadcast (server-id 0), waits for the matching reply. On
// any non-Success outcome it synthesizes the standard three-byte
// exception Response spec.md's ERROR_EXIT transition describes.
func (f *RTUFramer) Exchange(req *Request, timeout time.Duration) (*Response, ErrorCode) {
	serverID := req.Target.ServerID
	fc := req.FunctionCode()

	if err := f.Send(req.Bytes()); err != nil {
		return newExceptionResponse(req, serverID, fc, UndefinedError), UndefinedError
	}
	if req.Target.IsBroadcast() {
		return &Response{Message: NewMessage(0), Err: Success, Request: req}, Success
	}

	pdu, errCode := f.Receive(timeout, serverID, fc)
	if errCode != Success {
		return newExceptionResponse(req, serverID, fc, errCode), errCode
	}
	resp := &Response{Message: NewMessageFrom(pdu), Request: req}
	parsed, err := ParseFramePDU(pdu)
	if err != nil {
		return newExceptionResponse(req, serverID, fc, PacketLengthError), PacketLengthError
	}
	if parsed.IsException {
		resp.Err = parsed.Exception
		return resp, parsed.Exception
	}
	resp.Err = Success
	return resp, Success
}
