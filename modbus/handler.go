package modbus

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"strconv"
	"time"

	"github.com/icsguard/honeypot/logstore"
	"github.com/icsguard/honeypot/memimage"
)

// Function codes, spec §4.5 dispatch table.
const (
	fcReadCoils            = 1
	fcReadDiscreteInputs   = 2
	fcReadHoldingRegisters = 3
	fcReadInputRegisters   = 4
	fcWriteSingleCoil      = 5
	fcWriteSingleRegister  = 6
	fcWriteMultipleCoils   = 15
	fcWriteMultipleRegs    = 16
	fcReportServerID       = 17
	fcMEI                  = 43
)

var fcNames = map[byte]string{
	fcReadCoils:            "read_coils",
	fcReadDiscreteInputs:   "read_discrete_inputs",
	fcReadHoldingRegisters: "read_holding_registers",
	fcReadInputRegisters:   "read_input_registers",
	fcWriteSingleCoil:      "write_single_coil",
	fcWriteSingleRegister:  "write_single_register",
	fcWriteMultipleCoils:   "write_multiple_coils",
	fcWriteMultipleRegs:    "write_multiple_registers",
	fcReportServerID:       "report_server_id",
	fcMEI:                  "read_device_id",
}

// InteractionLogger is the subset of *logstore.Store the handler needs;
// an interface so tests can substitute a recorder.
type InteractionLogger interface {
	Record(ctx context.Context, rec logstore.Record) error
}

// Handler dispatches Modbus PDUs against a fixed set of devices keyed by
// Unit ID (gateway mode, spec §4.5).
type Handler struct {
	devices map[uint8]*Device
	log     *slog.Logger
	store   InteractionLogger
}

// NewHandler builds a Handler for the given devices (indexed by Unit ID).
func NewHandler(devices []*Device, store InteractionLogger, log *slog.Logger) *Handler {
	m := make(map[uint8]*Device, len(devices))
	for _, d := range devices {
		m[d.UnitID] = d
	}
	return &Handler{devices: m, log: log, store: store}
}

// HandleFrame parses raw, dispatches it, logs the interaction, and
// returns the wire bytes of the response (nil if the frame could not be
// parsed at all, in which case the caller should close the connection).
func (h *Handler) HandleFrame(ctx context.Context, sourceIP string, raw []byte) []byte {
	f, err := parseFrame(raw)
	if err != nil {
		return nil
	}
	if len(f.pdu) == 0 {
		return nil
	}

	fc := f.pdu[0]
	meta := map[string]string{
		"modbus.unit_id":   strconv.Itoa(int(f.unitID)),
		"modbus.func_code": strconv.Itoa(int(fc)),
		"modbus.trans_id":  strconv.Itoa(int(f.transID)),
	}
	if name, ok := fcNames[fc]; ok {
		meta["modbus.func_name"] = name
	}

	dev, ok := h.devices[f.unitID]
	var respPDU []byte
	if !ok {
		respPDU = exceptionPDU(fc, excGatewayUnavailable)
		meta["modbus.exception_code"] = strconv.Itoa(excGatewayUnavailable)
	} else {
		respPDU = h.dispatch(dev, fc, f.pdu[1:], meta)
	}

	resp := encodeResponse(f.transID, f.unitID, respPDU)

	if h.store != nil {
		rec := logstore.Record{
			Timestamp: time.Now(),
			SourceIP:  sourceIP,
			Protocol:  "modbus",
			Request:   raw,
			Response:  resp,
			Metadata:  meta,
		}
		if err := h.store.Record(ctx, rec); err != nil && h.log != nil {
			h.log.Error("failed to record interaction", "error", err)
		}
	}

	return resp
}

func (h *Handler) dispatch(dev *Device, fc byte, body []byte, meta map[string]string) []byte {
	switch fc {
	case fcReadCoils:
		return h.readBits(dev, memimage.Coils, fc, body, meta)
	case fcReadDiscreteInputs:
		return h.readBits(dev, memimage.DiscreteInputs, fc, body, meta)
	case fcReadHoldingRegisters:
		return h.readRegisters(dev, memimage.HoldingRegisters, fc, body, meta)
	case fcReadInputRegisters:
		return h.readRegisters(dev, memimage.InputRegisters, fc, body, meta)
	case fcWriteSingleCoil:
		return h.writeSingleCoil(dev, fc, body, meta)
	case fcWriteSingleRegister:
		return h.writeSingleRegister(dev, fc, body, meta)
	case fcWriteMultipleCoils:
		return h.writeMultipleCoils(dev, fc, body, meta)
	case fcWriteMultipleRegs:
		return h.writeMultipleRegisters(dev, fc, body, meta)
	case fcReportServerID:
		return h.reportServerID(dev)
	case fcMEI:
		return h.readDeviceID(dev, body, meta)
	default:
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalFunction)
		return exceptionPDU(fc, excIllegalFunction)
	}
}

func (h *Handler) readRegisters(dev *Device, area memimage.Area, fc byte, body []byte, meta map[string]string) []byte {
	if len(body) < 4 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	meta["modbus.start_addr"] = strconv.Itoa(int(start))
	meta["modbus.quantity"] = strconv.Itoa(int(qty))
	if qty == 0 || qty > 125 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}

	regs := dev.Image.ReadRegisters(area, start, qty)
	out := make([]byte, 2+2*len(regs))
	out[0] = fc
	out[1] = byte(2 * len(regs))
	for i, v := range regs {
		binary.BigEndian.PutUint16(out[2+2*i:], v)
	}
	meta["modbus.data_payload"] = hex.EncodeToString(out[2:])
	return out
}

func (h *Handler) readBits(dev *Device, area memimage.Area, fc byte, body []byte, meta map[string]string) []byte {
	if len(body) < 4 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	meta["modbus.start_addr"] = strconv.Itoa(int(start))
	meta["modbus.quantity"] = strconv.Itoa(int(qty))
	if qty == 0 || qty > 2000 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}

	bits := dev.Image.ReadBits(area, start, qty)
	byteCount := (len(bits) + 7) / 8
	out := make([]byte, 2+byteCount)
	out[0] = fc
	out[1] = byte(byteCount)
	for i, b := range bits {
		if b {
			out[2+i/8] |= 1 << uint(i%8)
		}
	}
	meta["modbus.data_payload"] = hex.EncodeToString(out[2:])
	return out
}

func (h *Handler) writeSingleCoil(dev *Device, fc byte, body []byte, meta map[string]string) []byte {
	if len(body) < 4 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	val := binary.BigEndian.Uint16(body[2:4])
	meta["modbus.start_addr"] = strconv.Itoa(int(addr))
	if val != 0xFF00 && val != 0x0000 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	dev.Image.WriteBit(memimage.Coils, addr, val == 0xFF00)
	meta["modbus.write_value"] = strconv.Itoa(int(val))
	return append([]byte{fc}, body[:4]...)
}

func (h *Handler) writeSingleRegister(dev *Device, fc byte, body []byte, meta map[string]string) []byte {
	if len(body) < 4 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(body[0:2])
	val := binary.BigEndian.Uint16(body[2:4])
	meta["modbus.start_addr"] = strconv.Itoa(int(addr))
	meta["modbus.write_value"] = strconv.Itoa(int(val))
	dev.Image.WriteRegister(memimage.HoldingRegisters, addr, val)
	return append([]byte{fc}, body[:4]...)
}

func (h *Handler) writeMultipleCoils(dev *Device, fc byte, body []byte, meta map[string]string) []byte {
	if len(body) < 5 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	byteCount := int(body[4])
	meta["modbus.start_addr"] = strconv.Itoa(int(start))
	meta["modbus.quantity"] = strconv.Itoa(int(qty))
	if qty == 0 || len(body) < 5+byteCount {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}

	data := body[5 : 5+byteCount]
	meta["modbus.data_payload"] = hex.EncodeToString(data)
	bits := make([]bool, qty)
	for i := range bits {
		bits[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	dev.Image.WriteBits(memimage.Coils, start, bits)

	out := make([]byte, 5)
	out[0] = fc
	binary.BigEndian.PutUint16(out[1:3], start)
	binary.BigEndian.PutUint16(out[3:5], qty)
	return out
}

func (h *Handler) writeMultipleRegisters(dev *Device, fc byte, body []byte, meta map[string]string) []byte {
	if len(body) < 5 {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(body[0:2])
	qty := binary.BigEndian.Uint16(body[2:4])
	byteCount := int(body[4])
	meta["modbus.start_addr"] = strconv.Itoa(int(start))
	meta["modbus.quantity"] = strconv.Itoa(int(qty))
	if qty == 0 || byteCount != 2*int(qty) || len(body) < 5+byteCount {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalDataValue)
		return exceptionPDU(fc, excIllegalDataValue)
	}

	data := body[5 : 5+byteCount]
	meta["modbus.data_payload"] = hex.EncodeToString(data)
	regs := make([]uint16, qty)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	dev.Image.WriteRegisters(memimage.HoldingRegisters, start, regs)

	out := make([]byte, 5)
	out[0] = fc
	binary.BigEndian.PutUint16(out[1:3], start)
	binary.BigEndian.PutUint16(out[3:5], qty)
	return out
}

// reportServerID implements FC17: server-id = device model string.
func (h *Handler) reportServerID(dev *Device) []byte {
	id := []byte(dev.Model)
	out := make([]byte, 0, 3+len(id))
	out = append(out, fcReportServerID, byte(len(id)+1))
	out = append(out, id...)
	out = append(out, 0xFF)
	return out
}

// readDeviceID implements FC43/MEI-14 (spec §4.5 MEI-14 response).
func (h *Handler) readDeviceID(dev *Device, body []byte, meta map[string]string) []byte {
	if len(body) < 3 || body[0] != 0x0E {
		meta["modbus.exception_code"] = strconv.Itoa(excIllegalFunction)
		return exceptionPDU(fcMEI, excIllegalFunction)
	}

	vendor, product, revision := dev.Identity()
	objects := [][2]string{
		{"0", vendor},
		{"1", product},
		{"2", revision},
	}

	// MEI-type, conformity-level, more-follows, next-object, num-objects.
	out := []byte{fcMEI, 0x0E, 0x01, 0x00, 0x00, byte(len(objects))}
	for i, obj := range objects {
		out = append(out, byte(i), byte(len(obj[1])))
		out = append(out, []byte(obj[1])...)
	}
	return out
}
