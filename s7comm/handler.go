package s7comm

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/icsguard/honeypot/memimage"
)

// S7 job function codes, spec §4.6 "Functions handled".
const (
	fnSetupCommunication = 0xF0
	fnReadVar            = 0x04
	fnWriteVar           = 0x05
	fnUserData           = 0x00
)

// handleJob dispatches a Job-ROSCTR S7 PDU's parameter/data area and
// returns the Ack-Data (or UserData) response PDU bytes plus a metadata
// map for the interaction log.
func (c *conn) handleJob(pduRef uint16, param, data []byte) ([]byte, map[string]string) {
	meta := map[string]string{
		"s7.proto_id": "50",
		"s7.rosctr":   "1",
	}
	if len(param) == 0 {
		return buildAckDataError(pduRef, 0x81, 0x01), meta
	}
	fn := param[0]
	meta["s7.function_code"] = strconv.Itoa(int(fn))

	switch fn {
	case fnSetupCommunication:
		return c.handleSetupCommunication(pduRef, param), meta
	case fnReadVar:
		return c.handleReadVar(pduRef, param, meta), meta
	case fnWriteVar:
		return c.handleWriteVar(pduRef, param, data, meta), meta
	case fnUserData:
		meta["s7.rosctr"] = "7"
		return c.handleUserData(pduRef, param, data, meta), meta
	default:
		return buildAckDataError(pduRef, 0x81, 0x04), meta
	}
}

// handleSetupCommunication implements spec §4.6's 0xF0: reply echoing
// the model's max-pdu.
func (c *conn) handleSetupCommunication(pduRef uint16, param []byte) []byte {
	maxPDU := c.model.MaxPDU
	resp := []byte{fnSetupCommunication, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00}
	binary.BigEndian.PutUint16(resp[6:8], maxPDU)
	return buildAckData(pduRef, resp, nil)
}

// readItem is one parsed Read/Write Variable request item, spec §4.6.
type readItem struct {
	transportType byte
	length        uint16
	dbNum         uint16
	area          byte
	byteAddr      uint32
	bitAddr       byte
}

func transportByteLength(transportType byte, length uint16) int {
	switch transportType {
	case 0x01: // bit
		return int((length + 7) / 8)
	case 0x02: // byte
		return int(length)
	case 0x04: // word
		return int(length) * 2
	default:
		return int(length)
	}
}

func areaToS7Area(area byte) memimage.S7Area {
	switch area {
	case 0x84:
		return memimage.AreaDB
	case 0x83:
		return memimage.AreaM
	case 0x81:
		return memimage.AreaI
	case 0x82:
		return memimage.AreaQ
	default:
		return memimage.AreaDB
	}
}

// handleReadVar implements spec §4.6's 0x04: read each item from the
// image and assemble `{return-code, transport, length-in-bits, data}`
// response items.
func (c *conn) handleReadVar(pduRef uint16, param []byte, meta map[string]string) []byte {
	items := parseReadVarItems(param)
	var data []byte
	for _, it := range items {
		s7area := areaToS7Area(it.area)
		byteLen := transportByteLength(it.transportType, it.length)
		raw := c.img.Read(s7area, it.dbNum, it.byteAddr, uint32(byteLen))

		meta["s7.area"] = strconv.Itoa(int(it.area))
		meta["s7.db_number"] = strconv.Itoa(int(it.dbNum))
		meta["s7.address"] = strconv.Itoa(int(it.byteAddr))

		respTransport := byte(0x04)
		if it.transportType == 0x01 {
			respTransport = 0x03
		}
		item := make([]byte, 4+len(raw))
		item[0] = 0xFF // return-code: success
		item[1] = respTransport
		binary.BigEndian.PutUint16(item[2:4], uint16(len(raw)*8))
		copy(item[4:], raw)
		data = append(data, item...)
	}
	respParam := []byte{fnReadVar, byte(len(items))}
	return buildAckData(pduRef, respParam, data)
}

// handleWriteVar implements spec §4.6's 0x05: parse per-item request
// parameters, then per-item `{return-code, transport, length-bits,
// data}` values from the data area, and write each into the image.
// Out-of-range writes succeed silently (honeypot policy).
func (c *conn) handleWriteVar(pduRef uint16, param, data []byte, meta map[string]string) []byte {
	items := parseReadVarItems(param)
	off := 0
	results := make([]byte, 0, len(items))
	for _, it := range items {
		if off+4 > len(data) {
			results = append(results, 0x0A)
			continue
		}
		transport := data[off+1]
		bitLen := binary.BigEndian.Uint16(data[off+2 : off+4])
		byteLen := (int(bitLen) + 7) / 8
		if transport == 0x04 {
			byteLen = int(bitLen) / 8
		}
		valStart := off + 4
		valEnd := valStart + byteLen
		if valEnd > len(data) {
			valEnd = len(data)
		}
		payload := data[valStart:valEnd]

		s7area := areaToS7Area(it.area)
		c.img.Write(s7area, it.dbNum, it.byteAddr, payload)

		meta["s7.area"] = strconv.Itoa(int(it.area))
		meta["s7.db_number"] = strconv.Itoa(int(it.dbNum))
		meta["s7.address"] = strconv.Itoa(int(it.byteAddr))
		meta["s7.write_data"] = hex.EncodeToString(payload)

		results = append(results, 0xFF) // return-code: success
		off = valEnd
		// odd-length items are padded to word boundary in the wire format
		if byteLen%2 == 1 {
			off++
		}
	}
	respParam := []byte{fnWriteVar, byte(len(items))}
	return buildAckData(pduRef, respParam, results)
}

// parseReadVarItems correctly parses the fixed 12-byte item format of
// spec §4.6 (var-spec, spec-len, syntax-id, transport-type, length,
// db-num, area, addr).
func parseReadVarItems(param []byte) []readItem {
	if len(param) < 2 {
		return nil
	}
	count := int(param[1])
	var items []readItem
	off := 2
	for i := 0; i < count && off+12 <= len(param); i++ {
		b := param[off : off+12]
		transportType := b[3]
		length := binary.BigEndian.Uint16(b[4:6])
		dbNum := binary.BigEndian.Uint16(b[6:8])
		area := b[8]
		addr := uint32(b[9])<<16 | uint32(b[10])<<8 | uint32(b[11])
		items = append(items, readItem{
			transportType: transportType,
			length:        length,
			dbNum:         dbNum,
			area:          area,
			byteAddr:      addr >> 3,
			bitAddr:       byte(addr & 0x7),
		})
		off += 12
	}
	return items
}

// handleUserData implements spec §4.6's 0x00/0x01 Read SZL.
func (c *conn) handleUserData(pduRef uint16, param, data []byte, meta map[string]string) []byte {
	if len(data) < 8 {
		return buildAckDataError(pduRef, 0x81, 0x04)
	}
	szlID := binary.BigEndian.Uint16(data[4:6])
	szlIndex := binary.BigEndian.Uint16(data[6:8])
	meta["s7.szl_id"] = strconv.Itoa(int(szlID))
	meta["s7.szl_index"] = strconv.Itoa(int(szlIndex))

	szlData, ok := buildSZLData(c.model, szlID)
	if !ok {
		return buildAckDataError(pduRef, 0x81, 0x04)
	}

	respParam := append([]byte{}, param...)
	return buildUserData(pduRef, respParam, szlData)
}
