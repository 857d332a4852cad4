package modbus

import (
	"encoding/binary"
)

// Modbus TCP protocol constants.
const (
	tcpHeaderLength        = 7                            // MBAP header length in bytes
	maxPDULength           = 253                           // maximum PDU length per the Modbus spec
	maxTCPFrameLength      = tcpHeaderLength + maxPDULength // maximum complete frame length
	protocolIdentifierTCP  uint16 = 0x0000
)

// packMBAP packs a PDU into a complete MBAP-framed TCP message:
// transaction-id (2, BE), protocol-id=0 (2, BE), length (2, BE), unit-id
// (1), followed by the PDU itself.
func packMBAP(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, EmptyMessage
	}
	if len(pdu) > maxPDULength {
		return nil, PacketLengthError
	}
	length := uint16(len(pdu) + 1)
	frame := make([]byte, tcpHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], protocolIdentifierTCP)
	binary.BigEndian.PutUint16(frame[4:6], length)
	frame[6] = unitID
	copy(frame[7:], pdu)
	return frame, nil
}

// unpackMBAP extracts the transaction-id, unit-id, and PDU from a complete
// MBAP frame, validating the protocol-id and that the length field
// matches the frame actually received.
func unpackMBAP(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if len(frame) < tcpHeaderLength {
		return 0, 0, nil, PacketLengthError
	}
	if len(frame) > maxTCPFrameLength {
		return 0, 0, nil, PacketLengthError
	}
	transactionID = binary.BigEndian.Uint16(frame[0:2])
	protocolID := binary.BigEndian.Uint16(frame[2:4])
	length := binary.BigEndian.Uint16(frame[4:6])
	unitID = frame[6]

	if protocolID != protocolIdentifierTCP {
		return 0, 0, nil, TCPHeadMismatch
	}
	if length == 0 {
		return 0, 0, nil, PacketLengthError
	}
	pdu = frame[7:]
	if length != uint16(len(pdu)+1) {
		return 0, 0, nil, PacketLengthError
	}
	return transactionID, unitID, pdu, nil
}

// peekMBAPLength reads the length field out of a 6-byte (or longer) MBAP
// header prefix without validating the rest of the frame, for the
// streamed-reassembly receive loop.
func peekMBAPLength(header []byte) uint16 {
	return binary.BigEndian.Uint16(header[4:6])
}
