package modbus

import "fmt"

// ErrorCode enumerates every outcome a request can resolve to: protocol
// exceptions returned by a remote server, and transport-level failures
// detected locally. SUCCESS is the zero value so a freshly zeroed Response
// reads as successful until something sets it otherwise.
type ErrorCode int

const (
	Success ErrorCode = iota

	// Protocol exceptions (standard Modbus exception codes, §3).
	IllegalFunction
	IllegalDataAddress
	IllegalDataValue
	ServerDeviceFailure
	Acknowledge
	ServerDeviceBusy
	NegativeAcknowledgement
	MemoryParityError
	GatewayPathUnavailable
	GatewayTargetNoResponse

	// Transport-level codes.
	Timeout
	CRCError
	FCMismatch
	ServerIDMismatch
	PacketLengthError
	ParameterCountError
	ParameterLimitError
	RequestQueueFull
	IllegalIPOrPort
	IPConnectionFailed
	TCPHeadMismatch
	EmptyMessage
	UndefinedError
)

// exceptionByte maps the subset of ErrorCode values that correspond to a
// Modbus protocol exception to the byte value carried in the exception PDU.
var exceptionByte = map[ErrorCode]byte{
	IllegalFunction:         0x01,
	IllegalDataAddress:      0x02,
	IllegalDataValue:        0x03,
	ServerDeviceFailure:     0x04,
	Acknowledge:             0x05,
	ServerDeviceBusy:        0x06,
	NegativeAcknowledgement: 0x07,
	MemoryParityError:       0x08,
	GatewayPathUnavailable:  0x0A,
	GatewayTargetNoResponse: 0x0B,
}

// byteToException is the inverse of exceptionByte, used when parsing an
// exception frame off the wire.
var byteToException = func() map[byte]ErrorCode {
	m := make(map[byte]ErrorCode, len(exceptionByte))
	for code, b := range exceptionByte {
		m[b] = code
	}
	return m
}()

// exceptionFromByte maps a received exception byte to an ErrorCode,
// defaulting to UndefinedError for a value the library doesn't recognize.
func exceptionFromByte(b byte) ErrorCode {
	if code, ok := byteToException[b]; ok {
		return code
	}
	return UndefinedError
}

var errorCodeNames = map[ErrorCode]string{
	Success:                 "success",
	IllegalFunction:         "illegal function",
	IllegalDataAddress:      "illegal data address",
	IllegalDataValue:        "illegal data value",
	ServerDeviceFailure:     "server device failure",
	Acknowledge:             "acknowledge",
	ServerDeviceBusy:        "server device busy",
	NegativeAcknowledgement: "negative acknowledgement",
	MemoryParityError:       "memory parity error",
	GatewayPathUnavailable:  "gateway path unavailable",
	GatewayTargetNoResponse: "gateway target device failed to respond",
	Timeout:                 "timeout",
	CRCError:                "CRC error",
	FCMismatch:              "function code mismatch",
	ServerIDMismatch:        "server id mismatch",
	PacketLengthError:       "packet length error",
	ParameterCountError:     "parameter count error",
	ParameterLimitError:     "parameter limit error",
	RequestQueueFull:        "request queue full",
	IllegalIPOrPort:         "illegal IP or port",
	IPConnectionFailed:      "IP connection failed",
	TCPHeadMismatch:         "TCP head mismatch",
	EmptyMessage:            "empty message",
	UndefinedError:          "undefined error",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeNames[e]; ok {
		return s
	}
	return fmt.Sprintf("error(%d)", int(e))
}

// Error implements the error interface so an ErrorCode can be returned and
// compared anywhere a plain Go error is expected.
func (e ErrorCode) Error() string {
	return "modbus: " + e.String()
}

// IsException reports whether e is a protocol exception (as opposed to a
// transport-level error or Success).
func (e ErrorCode) IsException() bool {
	_, ok := exceptionByte[e]
	return ok
}
