package s7comm

import (
	"encoding/binary"
	"errors"
)

// ROSCTR values, spec §4.6 S7 PDU header.
const (
	rosctrJob      = 1
	rosctrAckData  = 3
	rosctrUserData = 7
)

const s7ProtoID = 0x32

// s7Header is the fixed 10-byte (Job/UserData) or 12-byte (Ack-Data)
// S7 PDU header of spec §4.6.
type s7Header struct {
	rosctr   byte
	pduRef   uint16
	paramLen uint16
	dataLen  uint16
	errClass byte
	errCode  byte
}

func parseS7Header(raw []byte) (s7Header, []byte, error) {
	if len(raw) < 10 || raw[0] != s7ProtoID {
		return s7Header{}, nil, errors.New("s7comm: bad S7 PDU header")
	}
	h := s7Header{
		rosctr:   raw[1],
		pduRef:   binary.BigEndian.Uint16(raw[4:6]),
		paramLen: binary.BigEndian.Uint16(raw[6:8]),
		dataLen:  binary.BigEndian.Uint16(raw[8:10]),
	}
	rest := raw[10:]
	if h.rosctr == rosctrAckData {
		if len(rest) < 2 {
			return s7Header{}, nil, errors.New("s7comm: truncated ack-data header")
		}
		h.errClass = rest[0]
		h.errCode = rest[1]
		rest = rest[2:]
	}
	need := int(h.paramLen) + int(h.dataLen)
	if len(rest) < need {
		return s7Header{}, nil, errors.New("s7comm: truncated S7 PDU body")
	}
	return h, rest, nil
}

// buildAckData assembles an Ack-Data PDU echoing pduRef.
func buildAckData(pduRef uint16, param, data []byte) []byte {
	out := make([]byte, 12+len(param)+len(data))
	out[0] = s7ProtoID
	out[1] = rosctrAckData
	out[2], out[3] = 0, 0
	binary.BigEndian.PutUint16(out[4:6], pduRef)
	binary.BigEndian.PutUint16(out[6:8], uint16(len(param)))
	binary.BigEndian.PutUint16(out[8:10], uint16(len(data)))
	out[10], out[11] = 0, 0 // error class/code: success
	copy(out[12:], param)
	copy(out[12+len(param):], data)
	return out
}

// buildAckDataError assembles an Ack-Data PDU carrying only an error
// class/code, zero param/data length (spec §4.6 unsupported SZL).
func buildAckDataError(pduRef uint16, errClass, errCode byte) []byte {
	out := make([]byte, 12)
	out[0] = s7ProtoID
	out[1] = rosctrAckData
	binary.BigEndian.PutUint16(out[4:6], pduRef)
	out[10] = errClass
	out[11] = errCode
	return out
}

// buildUserData assembles a UserData (ROSCTR=7) PDU echoing pduRef.
func buildUserData(pduRef uint16, param, data []byte) []byte {
	out := make([]byte, 10+len(param)+len(data))
	out[0] = s7ProtoID
	out[1] = rosctrUserData
	binary.BigEndian.PutUint16(out[4:6], pduRef)
	binary.BigEndian.PutUint16(out[6:8], uint16(len(param)))
	binary.BigEndian.PutUint16(out[8:10], uint16(len(data)))
	copy(out[10:], param)
	copy(out[10+len(param):], data)
	return out
}
