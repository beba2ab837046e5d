package s7comm

import "encoding/binary"

// SZL IDs spec §4.6 supports.
const (
	szlModuleIdentification = 0x0011
	szlComponentIdent       = 0x001C
	szlCommunication        = 0x0131
)

// buildSZLData renders the data area of a Read SZL response for the
// given SZL-ID, per spec §4.6's three supported ids. ok is false for an
// unrecognized id so the caller can reply with the unsupported-SZL
// error instead.
func buildSZLData(m ModelProfile, szlID uint16) (data []byte, ok bool) {
	switch szlID {
	case szlModuleIdentification:
		return buildSZL0011(m), true
	case szlComponentIdent:
		return buildSZL001C(m), true
	case szlCommunication:
		return buildSZL0131(m), true
	default:
		return nil, false
	}
}

func szlListHeader(entrySize, entryCount int) []byte {
	h := make([]byte, 4)
	binary.BigEndian.PutUint16(h[0:2], uint16(entrySize))
	binary.BigEndian.PutUint16(h[2:4], uint16(entryCount))
	return h
}

func padASCII(s string, n int) []byte {
	out := make([]byte, n)
	copy(out, []byte(s))
	return out
}

// buildSZL0011 is the Module Identification list: one 28-byte entry.
func buildSZL0011(m ModelProfile) []byte {
	entry := make([]byte, 28)
	binary.BigEndian.PutUint16(entry[0:2], 1) // index
	copy(entry[2:22], padASCII(m.OrderCode, 20))
	copy(entry[22:24], []byte{0x00, 0x00}) // module-type
	copy(entry[24:26], []byte{0x00, 0x01}) // firmware
	entries := szlListHeader(28, 1)
	return appendEntries([]byte{0xFF, 0x09}, 4+len(entry), entries, entry)
}

// buildSZL001C is the Component Identification list: 8 fixed-purpose
// entries (spec §4.6).
func buildSZL001C(m ModelProfile) []byte {
	fields := []struct {
		index   uint16
		payload string
	}{
		{1, m.SystemName},
		{2, m.ModuleName},
		{3, m.PlantID},
		{4, "Original MC 575"},
		{5, m.SerialNumber},
		{6, m.ModuleName},
		{7, m.OEMID},
		{8, m.Location},
	}
	var entries []byte
	for _, f := range fields {
		entry := make([]byte, 34)
		binary.BigEndian.PutUint16(entry[0:2], f.index)
		copy(entry[2:34], padASCII(f.payload, 32))
		entries = append(entries, entry...)
	}
	header := szlListHeader(34, len(fields))
	return appendEntries([]byte{0xFF, 0x09}, 4+len(entries), header, entries)
}

// buildSZL0131 is the Communication list: max-pdu, max-connections, 16
// reserved zero bytes.
func buildSZL0131(m ModelProfile) []byte {
	entry := make([]byte, 22)
	binary.BigEndian.PutUint16(entry[0:2], m.MaxPDU)
	binary.BigEndian.PutUint16(entry[2:4], 32)
	header := szlListHeader(22, 1)
	return appendEntries([]byte{0xFF, 0x09}, 4+len(entry), header, entry)
}

// appendEntries assembles `{0xFF,0x09, total-length, list-header,
// entries}` as spec §4.6 mandates for a Read SZL response data area.
func appendEntries(prefix []byte, totalLength int, header, entries []byte) []byte {
	out := make([]byte, 0, 2+2+len(header)+len(entries))
	out = append(out, prefix...)
	lenBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBytes, uint16(totalLength))
	out = append(out, lenBytes...)
	out = append(out, header...)
	out = append(out, entries...)
	return out
}
