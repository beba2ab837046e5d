package simulation

import "github.com/icsguard/honeypot/memimage"

// s7Width returns the byte width a profile.S7Type scalar occupies.
func s7Width(t string) uint32 {
	switch t {
	case "INT", "WORD":
		return 2
	case "DINT", "DWORD", "REAL":
		return 4
	case "BYTE":
		return 1
	default:
		return 2
	}
}

// encodeS7Scalar converts a waveform sample into the wire bytes for an
// S7 scalar of the given type, big-endian as §3 requires.
func encodeS7Scalar(t string, v float64) []byte {
	switch t {
	case "REAL":
		regs := memimage.EncodeFloat32Registers(float32(v))
		return []byte{byte(regs[0] >> 8), byte(regs[0]), byte(regs[1] >> 8), byte(regs[1])}
	case "DINT":
		iv := int32(v)
		uv := uint32(iv)
		return []byte{byte(uv >> 24), byte(uv >> 16), byte(uv >> 8), byte(uv)}
	case "DWORD":
		uv := uint32(v)
		return []byte{byte(uv >> 24), byte(uv >> 16), byte(uv >> 8), byte(uv)}
	case "WORD":
		uv := uint16(v)
		return []byte{byte(uv >> 8), byte(uv)}
	case "BYTE":
		return []byte{byte(uint8(v))}
	case "INT":
		fallthrough
	default:
		iv := int16(v)
		uv := uint16(iv)
		return []byte{byte(uv >> 8), byte(uv)}
	}
}
