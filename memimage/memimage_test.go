package memimage

import "testing"

func TestModbusRegisterRoundTrip(t *testing.T) {
	img := NewModbusImage()
	img.WriteRegister(HoldingRegisters, 0, 12345)
	got := img.ReadRegisters(HoldingRegisters, 0, 1)
	if got[0] != 12345 {
		t.Errorf("register round trip got %v expected 12345", got[0])
	}
}

func TestModbusUnwrittenReadsZero(t *testing.T) {
	img := NewModbusImage()
	got := img.ReadRegisters(HoldingRegisters, 0, 10)
	for i, v := range got {
		if v != 0 {
			t.Errorf("register %d got %v expected 0", i, v)
		}
	}
}

func TestModbusCoilRoundTrip(t *testing.T) {
	img := NewModbusImage()
	img.WriteBit(Coils, 5, true)
	got := img.ReadBits(Coils, 5, 1)
	if !got[0] {
		t.Errorf("coil round trip got false expected true")
	}
}

func TestFloat32RegisterRoundTrip(t *testing.T) {
	v := float32(123.456)
	regs := EncodeFloat32Registers(v)
	got := DecodeFloat32Registers(regs[0], regs[1])
	if got != v {
		t.Errorf("float32 round trip got %v expected %v", got, v)
	}
}

func TestS7ReadWriteRoundTrip(t *testing.T) {
	img := NewS7Image()
	img.Write(AreaDB, 1, 0, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	got := img.Read(AreaDB, 1, 0, 4)
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("DB byte %d got %#x expected %#x", i, got[i], want[i])
		}
	}
}

func TestS7OutOfRangeReadReturnsZero(t *testing.T) {
	img := NewS7Image()
	got := img.Read(AreaDB, 5, 100, 4)
	for i, b := range got {
		if b != 0 {
			t.Errorf("byte %d got %#x expected 0", i, b)
		}
	}
}

func TestS7FixedAreaWriteTruncatesSilently(t *testing.T) {
	img := NewS7Image()
	// Should not panic even though this runs past the 64K fixed area.
	img.Write(AreaM, 0, fixedAreaSize-2, []byte{1, 2, 3, 4})
	got := img.Read(AreaM, 0, fixedAreaSize-2, 2)
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("M area tail write got %v expected [1 2]", got)
	}
}
