package simulation

import (
	"math/rand"
	"testing"

	"github.com/icsguard/honeypot/memimage"
	"github.com/icsguard/honeypot/profile"
	"github.com/icsguard/honeypot/waveform"
)

func TestStaticEntryNeverOverwritten(t *testing.T) {
	img := memimage.NewModbusImage()
	spec := &EffectiveSpec{
		Modbus: &profile.ModbusSection{
			HoldingRegisters: []profile.ModbusEntry{
				{Address: 0, Waveform: waveform.Spec{Kind: waveform.Static, Min: 7}},
			},
		},
	}
	eng := New(img, nil, spec, rand.New(rand.NewSource(1)))
	eng.tick(0)
	img.WriteRegister(memimage.HoldingRegisters, 0, 999) // attacker write
	eng.tick(1)
	eng.tick(2)
	got := img.ReadRegisters(memimage.HoldingRegisters, 0, 1)[0]
	if got != 999 {
		t.Errorf("static entry overwritten by simulator: got %v want 999", got)
	}
}

func TestFloat32EntryRoundTripsAcrossTwoRegisters(t *testing.T) {
	img := memimage.NewModbusImage()
	spec := &EffectiveSpec{
		Modbus: &profile.ModbusSection{
			HoldingRegisters: []profile.ModbusEntry{
				{Address: 10, Type: profile.Float32Reg, Waveform: waveform.Spec{Kind: waveform.Fixed, Value: 42.5}},
			},
		},
	}
	eng := New(img, nil, spec, rand.New(rand.NewSource(1)))
	eng.tick(0)
	regs := img.ReadRegisters(memimage.HoldingRegisters, 10, 2)
	got := memimage.DecodeFloat32Registers(regs[0], regs[1])
	if got != 42.5 {
		t.Errorf("float32 entry got %v want 42.5", got)
	}
}

func TestPM5300ZeroesEnergyOnCommand(t *testing.T) {
	img := memimage.NewModbusImage()
	img.WriteRegister(memimage.HoldingRegisters, pm5300EnergyLo, 123)
	img.WriteRegister(memimage.HoldingRegisters, pm5300EnergyLo+1, 456)
	img.WriteRegister(memimage.HoldingRegisters, pm5300CommandReg, 2020)
	spec := &EffectiveSpec{PostHook: "pm5300_command", Modbus: &profile.ModbusSection{}}
	eng := New(img, nil, spec, rand.New(rand.NewSource(1)))
	eng.tick(0)
	if v := img.ReadRegisters(memimage.HoldingRegisters, pm5300EnergyLo, 1)[0]; v != 0 {
		t.Errorf("energy register not cleared, got %v", v)
	}
	if v := img.ReadRegisters(memimage.HoldingRegisters, pm5300CommandReg, 1)[0]; v != 0 {
		t.Errorf("command register not cleared, got %v", v)
	}
}

func TestCircuitBreakerTripZeroesReadings(t *testing.T) {
	img := memimage.NewModbusImage()
	regs := memimage.EncodeFloat32Registers(123.4)
	img.WriteRegister(memimage.HoldingRegisters, breakerCurrentReg, regs[0])
	img.WriteRegister(memimage.HoldingRegisters, breakerCurrentReg+1, regs[1])
	img.WriteBit(memimage.Coils, breakerCoil, false) // tripped open
	spec := &EffectiveSpec{PostHook: "circuit_breaker_trip", Modbus: &profile.ModbusSection{}}
	eng := New(img, nil, spec, rand.New(rand.NewSource(1)))
	eng.tick(0)
	got := img.ReadRegisters(memimage.HoldingRegisters, breakerCurrentReg, 2)
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("breaker trip did not zero current reading: got %v", got)
	}
}

func TestResolveOverlayWinsOverProfile(t *testing.T) {
	store := profile.NewStore(t.TempDir())
	custom := &profile.ModbusSection{
		HoldingRegisters: []profile.ModbusEntry{
			{Address: 0, Waveform: waveform.Spec{Kind: waveform.Fixed, Value: 111}},
		},
	}
	eff, err := Resolve(store, "water_treatment", custom, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var found bool
	for _, e := range eff.Modbus.HoldingRegisters {
		if e.Address == 0 {
			found = true
			if e.Waveform.Kind != waveform.Fixed || e.Waveform.Value != 111 {
				t.Errorf("overlay entry at address 0 not applied: got %+v", e)
			}
		}
	}
	if !found {
		t.Errorf("expected merged holding registers to include address 0")
	}
}

func TestSineFidelityCoversRange(t *testing.T) {
	img := memimage.NewModbusImage()
	spec := &EffectiveSpec{
		Modbus: &profile.ModbusSection{
			HoldingRegisters: []profile.ModbusEntry{
				{Address: 0, Waveform: waveform.Spec{Kind: waveform.Sine, Min: 20, Max: 80, PeriodS: 300}},
			},
		},
	}
	eng := New(img, nil, spec, rand.New(rand.NewSource(1)))
	minSeen, maxSeen := 1e9, -1e9
	for i := 0; i < 300; i++ {
		eng.tick(float64(i))
		v := float64(int16(img.ReadRegisters(memimage.HoldingRegisters, 0, 1)[0]))
		if v < minSeen {
			minSeen = v
		}
		if v > maxSeen {
			maxSeen = v
		}
	}
	span := maxSeen - minSeen
	if span < 0.9*(80-20) {
		t.Errorf("sine trace covered span %v, want at least %v", span, 0.9*(80-20))
	}
}
