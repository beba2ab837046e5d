// Package s7comm implements the Siemens S7comm emulator (C6): TPKT/COTP
// framing, the connection state machine of spec §4.6, and the S7 PDU
// functions (Setup Communication, Read/Write Variable, Read SZL).
package s7comm

import (
	"encoding/binary"
	"errors"
)

const (
	tpktVersion = 0x03
	tpktHdrLen  = 4
)

var errShortFrame = errors.New("s7comm: incomplete TPKT frame")

// COTP PDU types, spec §4.6 connection state machine.
const (
	cotpCR = 0xE0 // Connection Request
	cotpCC = 0xD0 // Connection Confirm
	cotpDR = 0x80 // Disconnect Request
	cotpDT = 0xF0 // Data Transfer (carries an S7 PDU)
)

// tpktTotalLength reads the TPKT header's declared total length (header
// included) from the first 4 bytes already in hand.
func tpktTotalLength(header []byte) (int, error) {
	if len(header) < tpktHdrLen {
		return 0, errShortFrame
	}
	if header[0] != tpktVersion {
		return 0, errors.New("s7comm: bad TPKT version")
	}
	return int(binary.BigEndian.Uint16(header[2:4])), nil
}

// buildTPKT wraps payload (COTP header + optional S7 PDU) in a TPKT
// header with total-length set correctly.
func buildTPKT(payload []byte) []byte {
	out := make([]byte, tpktHdrLen+len(payload))
	out[0] = tpktVersion
	out[1] = 0x00
	binary.BigEndian.PutUint16(out[2:4], uint16(len(out)))
	copy(out[tpktHdrLen:], payload)
	return out
}

// cotpConnectRequest is the parsed fixed part plus the Called-TSAP slot
// of a COTP CR, per spec §4.6.
type cotpConnectRequest struct {
	dstRef uint16
	srcRef uint16
	class  uint8
	slot   int
	valid  bool
}

// parseCOTPConnect parses a COTP CR PDU (the bytes after the length
// byte): pduType(1) dstRef(2) srcRef(2) class(1) then variable TLV
// parameters. Parameter code 0xC2 (Called TSAP) carries the slot in the
// lower 5 bits of its second byte.
func parseCOTPConnect(body []byte) (cotpConnectRequest, error) {
	if len(body) < 6 || body[0] != cotpCR {
		return cotpConnectRequest{}, errors.New("s7comm: not a COTP CR")
	}
	req := cotpConnectRequest{
		dstRef: binary.BigEndian.Uint16(body[1:3]),
		srcRef: binary.BigEndian.Uint16(body[3:5]),
		class:  body[5],
	}
	params := body[6:]
	for i := 0; i+1 < len(params); {
		code := params[i]
		length := int(params[i+1])
		if i+2+length > len(params) {
			break
		}
		value := params[i+2 : i+2+length]
		if code == 0xC2 && len(value) >= 2 {
			req.slot = int(value[1] & 0x1F)
			req.valid = true
		}
		i += 2 + length
	}
	return req, nil
}

// buildCOTPCC builds a COTP Connection Confirm echoing the client's
// srcRef in the src-ref field, per spec §4.6.
func buildCOTPCC(srcRef uint16) []byte {
	body := []byte{
		cotpCC,
		0x00, 0x00, // dst-ref (ours; unused by emulated clients)
		0x00, 0x00, // src-ref, filled below
		0x00, // class
	}
	binary.BigEndian.PutUint16(body[3:5], srcRef)
	out := append([]byte{byte(len(body))}, body...)
	return out
}

// buildCOTPDisconnect builds a COTP Disconnect Request rejecting a CR,
// echoing src-ref and carrying reason, per spec §4.6.
func buildCOTPDisconnect(srcRef uint16, reason byte) []byte {
	body := []byte{
		cotpDR,
		0x00, 0x00, // dst-ref
		0x00, 0x00, // src-ref
		reason,
	}
	binary.BigEndian.PutUint16(body[3:5], srcRef)
	out := append([]byte{byte(len(body))}, body...)
	return out
}

// buildCOTPDataHeader wraps an S7 PDU in a COTP DT header (length byte,
// PDU type, EOT-marked TPDU number).
func buildCOTPDataHeader(s7pdu []byte) []byte {
	header := []byte{0x02, cotpDT, 0x80}
	return append(header, s7pdu...)
}

// parseCOTPData strips a COTP DT header from body, returning the S7 PDU.
func parseCOTPData(body []byte) ([]byte, error) {
	if len(body) < 3 || body[0] < 2 || body[1] != cotpDT {
		return nil, errors.New("s7comm: not a COTP DT")
	}
	lengthByte := int(body[0])
	if len(body) < 1+lengthByte {
		return nil, errShortFrame
	}
	return body[1+lengthByte:], nil
}
