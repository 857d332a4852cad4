package modbus

import "fmt"

// Function codes this library builds requests for. Values follow the
// standard Modbus application protocol table; codecs for request types
// spec.md does not name (ASCII-only function codes, vendor-specific
// ranges) are out of scope.
const (
	FuncReadCoils                  byte = 0x01
	FuncReadDiscreteInputs         byte = 0x02
	FuncReadHoldingRegisters       byte = 0x03
	FuncReadInputRegisters         byte = 0x04
	FuncWriteSingleCoil            byte = 0x05
	FuncWriteSingleRegister        byte = 0x06
	FuncReadExceptionStatus        byte = 0x07
	FuncWriteMultipleCoils         byte = 0x0F
	FuncWriteMultipleRegisters     byte = 0x10
	FuncReportServerID             byte = 0x11
	FuncMaskWriteRegister          byte = 0x16
	FuncReadWriteMultipleRegisters byte = 0x17
	FuncReadFIFOQueue              byte = 0x18

	exceptionBit byte = 0x80
)

// quantity limits per spec.md's validation rules.
const (
	minReadCoilsQty  = 1
	maxReadCoilsQty  = 2000
	minWriteCoilsQty = 1
	maxWriteCoilsQty = 1968

	minReadRegsQty  = 1
	maxReadRegsQty  = 125
	minWriteRegsQty = 1
	maxWriteRegsQty = 123
)

// maxServerID is the highest addressable unit/server-id; 248-255 are
// reserved by the Modbus application protocol spec.
const maxServerID = 247

// isWriteFuncCode reports whether funcCode performs a write, the only
// family allowed to target the broadcast server-id (0).
func isWriteFuncCode(funcCode byte) bool {
	switch funcCode {
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils,
		FuncWriteMultipleRegisters, FuncMaskWriteRegister, FuncReadWriteMultipleRegisters:
		return true
	default:
		return false
	}
}

// validateServerID enforces spec.md's server-id range: 0..247, with 0
// (broadcast) legal only ahead of a write function code.
func validateServerID(serverID, funcCode byte) error {
	if serverID > maxServerID {
		return ParameterLimitError
	}
	if serverID == 0 && !isWriteFuncCode(funcCode) {
		return ParameterLimitError
	}
	return nil
}

// BuildReadCoils builds an FC 0x01 request PDU.
func BuildReadCoils(serverID byte, address, quantity uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncReadCoils); err != nil {
		return nil, err
	}
	if quantity < minReadCoilsQty || quantity > maxReadCoilsQty {
		return nil, ParameterLimitError
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncReadCoils).
		AppendU16(address).AppendU16(quantity), nil
}

// BuildReadDiscreteInputs builds an FC 0x02 request PDU.
func BuildReadDiscreteInputs(serverID byte, address, quantity uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncReadDiscreteInputs); err != nil {
		return nil, err
	}
	if quantity < minReadCoilsQty || quantity > maxReadCoilsQty {
		return nil, ParameterLimitError
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncReadDiscreteInputs).
		AppendU16(address).AppendU16(quantity), nil
}

// BuildReadHoldingRegisters builds an FC 0x03 request PDU.
func BuildReadHoldingRegisters(serverID byte, address, quantity uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncReadHoldingRegisters); err != nil {
		return nil, err
	}
	if quantity < minReadRegsQty || quantity > maxReadRegsQty {
		return nil, ParameterLimitError
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncReadHoldingRegisters).
		AppendU16(address).AppendU16(quantity), nil
}

// BuildReadInputRegisters builds an FC 0x04 request PDU.
func BuildReadInputRegisters(serverID byte, address, quantity uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncReadInputRegisters); err != nil {
		return nil, err
	}
	if quantity < minReadRegsQty || quantity > maxReadRegsQty {
		return nil, ParameterLimitError
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncReadInputRegisters).
		AppendU16(address).AppendU16(quantity), nil
}

// BuildWriteSingleCoil builds an FC 0x05 request PDU. value must already be
// 0x0000 or 0xFF00, the on-wire coil encoding.
func BuildWriteSingleCoil(serverID byte, address uint16, value uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncWriteSingleCoil); err != nil {
		return nil, err
	}
	if value != 0x0000 && value != 0xFF00 {
		return nil, ParameterLimitError
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncWriteSingleCoil).
		AppendU16(address).AppendU16(value), nil
}

// BuildWriteSingleRegister builds an FC 0x06 request PDU.
func BuildWriteSingleRegister(serverID byte, address, value uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncWriteSingleRegister); err != nil {
		return nil, err
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncWriteSingleRegister).
		AppendU16(address).AppendU16(value), nil
}

// BuildReadExceptionStatus builds a no-payload FC 0x07 request PDU.
func BuildReadExceptionStatus(serverID byte) (*Message, error) {
	if err := validateServerID(serverID, FuncReadExceptionStatus); err != nil {
		return nil, err
	}
	return NewMessage(2).AppendU8(serverID).AppendU8(FuncReadExceptionStatus), nil
}

// BuildReportServerID builds a no-payload FC 0x11 request PDU.
func BuildReportServerID(serverID byte) (*Message, error) {
	if err := validateServerID(serverID, FuncReportServerID); err != nil {
		return nil, err
	}
	return NewMessage(2).AppendU8(serverID).AppendU8(FuncReportServerID), nil
}

// BuildWriteMultipleCoils builds an FC 0x0F request PDU from coil data
// already packed LSB-first in values (the CoilData.ToWire layout).
func BuildWriteMultipleCoils(serverID byte, address uint16, quantity uint16, values []byte) (*Message, error) {
	if err := validateServerID(serverID, FuncWriteMultipleCoils); err != nil {
		return nil, err
	}
	if quantity < minWriteCoilsQty || quantity > maxWriteCoilsQty {
		return nil, ParameterLimitError
	}
	wantBytes := (int(quantity) + 7) / 8
	if len(values) != wantBytes {
		return nil, ParameterCountError
	}
	msg := NewMessage(7 + wantBytes).AppendU8(serverID).AppendU8(FuncWriteMultipleCoils).
		AppendU16(address).AppendU16(quantity).AppendU8(byte(wantBytes))
	return msg.AppendBytes(values), nil
}

// BuildWriteMultipleRegisters builds an FC 0x10 request PDU. values holds
// quantity big-endian registers (2*quantity bytes).
func BuildWriteMultipleRegisters(serverID byte, address, quantity uint16, values []byte) (*Message, error) {
	if err := validateServerID(serverID, FuncWriteMultipleRegisters); err != nil {
		return nil, err
	}
	if quantity < minWriteRegsQty || quantity > maxWriteRegsQty {
		return nil, ParameterLimitError
	}
	wantBytes := int(quantity) * 2
	if len(values) != wantBytes {
		return nil, ParameterCountError
	}
	msg := NewMessage(7 + wantBytes).AppendU8(serverID).AppendU8(FuncWriteMultipleRegisters).
		AppendU16(address).AppendU16(quantity).AppendU8(byte(wantBytes))
	return msg.AppendBytes(values), nil
}

// BuildMaskWriteRegister builds an FC 0x16 request PDU.
func BuildMaskWriteRegister(serverID byte, address, andMask, orMask uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncMaskWriteRegister); err != nil {
		return nil, err
	}
	return NewMessage(8).AppendU8(serverID).AppendU8(FuncMaskWriteRegister).
		AppendU16(address).AppendU16(andMask).AppendU16(orMask), nil
}

// BuildReadWriteMultipleRegisters builds an FC 0x17 request PDU: read
// readQty registers at readAddr, while writing writeValues (writeQty
// registers) at writeAddr in the same transaction.
func BuildReadWriteMultipleRegisters(serverID byte, readAddr, readQty, writeAddr, writeQty uint16, writeValues []byte) (*Message, error) {
	if err := validateServerID(serverID, FuncReadWriteMultipleRegisters); err != nil {
		return nil, err
	}
	if readQty < minReadRegsQty || readQty > maxReadRegsQty {
		return nil, ParameterLimitError
	}
	if writeQty < minWriteRegsQty || writeQty > maxWriteRegsQty {
		return nil, ParameterLimitError
	}
	wantBytes := int(writeQty) * 2
	if len(writeValues) != wantBytes {
		return nil, ParameterCountError
	}
	msg := NewMessage(11 + wantBytes).AppendU8(serverID).AppendU8(FuncReadWriteMultipleRegisters).
		AppendU16(readAddr).AppendU16(readQty).AppendU16(writeAddr).AppendU16(writeQty).AppendU8(byte(wantBytes))
	return msg.AppendBytes(writeValues), nil
}

// BuildReadFIFOQueue builds an FC 0x18 request PDU.
func BuildReadFIFOQueue(serverID byte, fifoPointer uint16) (*Message, error) {
	if err := validateServerID(serverID, FuncReadFIFOQueue); err != nil {
		return nil, err
	}
	return NewMessage(4).AppendU8(serverID).AppendU8(FuncReadFIFOQueue).
		AppendU16(fifoPointer), nil
}

// ParsedFrame is the decoded result of ParseFramePDU: the responding
// server-id, the function code with its exception bit stripped, the
// payload past the function code, and whether it was an exception frame.
type ParsedFrame struct {
	ServerID    byte
	FuncCode    byte
	Payload     []byte
	IsException bool
	Exception   ErrorCode
}

// ParseFramePDU decodes a response frame's server-id and function code,
// detects an exception reply (function code with the high bit set, one
// exception-code payload byte), and otherwise returns the raw payload
// bytes following the function code for the caller's FC-specific decoding.
func ParseFramePDU(frame []byte) (*ParsedFrame, error) {
	if len(frame) < 2 {
		return nil, EmptyMessage
	}
	serverID, fc := frame[0], frame[1]
	if fc&exceptionBit != 0 {
		if len(frame) < 3 {
			return nil, PacketLengthError
		}
		return &ParsedFrame{
			ServerID:    serverID,
			FuncCode:    fc &^ exceptionBit,
			IsException: true,
			Exception:   exceptionFromByte(frame[2]),
		}, nil
	}
	return &ParsedFrame{
		ServerID: serverID,
		FuncCode: fc,
		Payload:  frame[2:],
	}, nil
}

// ParseByteCountedPayload decodes the [byte-count][data...] shape shared by
// FC 0x01/0x02/0x03/0x04/0x17 responses, validating that the declared byte
// count matches the bytes actually present.
func ParseByteCountedPayload(payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, PacketLengthError
	}
	count := int(payload[0])
	if len(payload)-1 != count {
		return nil, fmt.Errorf("%w: declared %d, have %d", PacketLengthError, count, len(payload)-1)
	}
	return payload[1:], nil
}
