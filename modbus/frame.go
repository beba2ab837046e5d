// Package modbus implements the Modbus/TCP emulator (C5): MBAP framing,
// gateway dispatch by Unit ID, and the function codes of spec §4.5
// against a shared memimage.ModbusImage.
package modbus

import (
	"encoding/binary"
	"errors"
)

const mbapLen = 7

// exception codes, spec §4.5 Errors.
const (
	excIllegalFunction    = 0x01
	excIllegalDataAddress = 0x02
	excIllegalDataValue   = 0x03
	excGatewayUnavailable = 0x0A
)

var errShortFrame = errors.New("modbus: frame shorter than MBAP header")

// frame is a parsed MBAP header plus the PDU bytes following it.
type frame struct {
	transID  uint16
	protoID  uint16
	unitID   uint8
	pdu      []byte
}

// parseFrame splits raw into an MBAP header and PDU. It does not
// validate the function code; that happens in dispatch.
func parseFrame(raw []byte) (frame, error) {
	if len(raw) < mbapLen {
		return frame{}, errShortFrame
	}
	transID := binary.BigEndian.Uint16(raw[0:2])
	protoID := binary.BigEndian.Uint16(raw[2:4])
	length := binary.BigEndian.Uint16(raw[4:6])
	unitID := raw[6]

	need := mbapLen + int(length) - 1
	if len(raw) < need {
		return frame{}, errShortFrame
	}
	return frame{
		transID: transID,
		protoID: protoID,
		unitID:  unitID,
		pdu:     raw[mbapLen:need],
	}, nil
}

// encodeResponse prepends an MBAP header to pdu, echoing transID/unitID
// and recomputing length as required by spec §4.5.
func encodeResponse(transID uint16, unitID uint8, pdu []byte) []byte {
	out := make([]byte, mbapLen+len(pdu))
	binary.BigEndian.PutUint16(out[0:2], transID)
	binary.BigEndian.PutUint16(out[2:4], 0)
	binary.BigEndian.PutUint16(out[4:6], uint16(1+len(pdu)))
	out[6] = unitID
	copy(out[mbapLen:], pdu)
	return out
}

// exceptionPDU builds the `function|0x80, exception-code` error body.
func exceptionPDU(fc byte, code byte) []byte {
	return []byte{fc | 0x80, code}
}
