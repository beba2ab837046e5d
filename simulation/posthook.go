package simulation

import "github.com/icsguard/honeypot/memimage"

// PostHookFunc runs after a tick has written every profile-driven entry,
// with the device's Modbus image transaction still open. Registered
// hooks are looked up by name from a profile's post_hook field, per the
// REDESIGN FLAGS note in spec.md §9: duck-typed "does register 5000
// exist" checks become an explicit, named, registry-dispatched hook.
type PostHookFunc func(tx *memimage.ModbusTxn, state *hookState)

var postHooks = map[string]PostHookFunc{}

// RegisterPostHook adds a named post-hook to the registry. Called from
// init() the way the teacher's config parser registers device models.
func RegisterPostHook(name string, fn PostHookFunc) {
	postHooks[name] = fn
}

func lookupPostHook(name string) PostHookFunc {
	if name == "" {
		return nil
	}
	return postHooks[name]
}

// hookState carries small bits of per-device state a post-hook needs
// across ticks (e.g. the PM5300 hook's pre-CT-ratio base currents), kept
// out of the hook functions themselves so hooks stay stateless funcs.
type hookState struct {
	pm5300BaseCurrents [3]float64
}

func init() {
	RegisterPostHook("pm5300_command", pm5300CommandHook)
	RegisterPostHook("circuit_breaker_trip", circuitBreakerTripHook)
}

const (
	pm5300CommandReg  = 5000
	pm5300ResultReg   = 5002
	pm5300EnergyLo    = 3200
	pm5300VoltageBase = 3020
	pm5300CTPrimary   = 2012
	pm5300CurrentBase = 3000
)

// pm5300CommandHook implements the Schneider PM5300 emulation of spec
// §4.3: a command register, a phase-voltage reset coil, and CT-ratio
// scaling of the three current readings.
func pm5300CommandHook(tx *memimage.ModbusTxn, state *hookState) {
	cmd := tx.GetRegister(memimage.HoldingRegisters, pm5300CommandReg)
	if cmd == 2020 {
		tx.SetRegister(memimage.HoldingRegisters, pm5300EnergyLo, 0)
		tx.SetRegister(memimage.HoldingRegisters, pm5300EnergyLo+1, 0)
		tx.SetRegister(memimage.HoldingRegisters, pm5300CommandReg, 0)
		tx.SetRegister(memimage.HoldingRegisters, pm5300ResultReg, 0)
	}

	if tx.GetBit(memimage.Coils, 0) {
		for _, addr := range []uint16{pm5300VoltageBase, pm5300VoltageBase + 2, pm5300VoltageBase + 4} {
			tx.SetRegister(memimage.HoldingRegisters, addr, 0)
			tx.SetRegister(memimage.HoldingRegisters, addr+1, 0)
		}
	}

	ctPrimary := float64(memimage.DecodeFloat32Registers(
		tx.GetRegister(memimage.HoldingRegisters, pm5300CTPrimary),
		tx.GetRegister(memimage.HoldingRegisters, pm5300CTPrimary+1),
	))
	if ctPrimary <= 0 {
		ctPrimary = 100.0
	}

	// Read this tick's waveform-generated ("base") currents fresh every
	// time, before applying the ratio, so scaling is always against the
	// originally generated value rather than compounding against a
	// previously-scaled one (spec.md §9 open question on CT-ratio
	// compounding). The post-hook runs after the waveform write for this
	// tick, so the registers still hold the unscaled generator output.
	for i, addr := range []uint16{pm5300CurrentBase, pm5300CurrentBase + 2, pm5300CurrentBase + 4} {
		v := memimage.DecodeFloat32Registers(
			tx.GetRegister(memimage.HoldingRegisters, addr),
			tx.GetRegister(memimage.HoldingRegisters, addr+1),
		)
		state.pm5300BaseCurrents[i] = float64(v)
	}

	if ctPrimary != 100.0 {
		ratio := ctPrimary / 100.0
		for i, addr := range []uint16{pm5300CurrentBase, pm5300CurrentBase + 2, pm5300CurrentBase + 4} {
			scaled := float32(state.pm5300BaseCurrents[i] * ratio)
			regs := memimage.EncodeFloat32Registers(scaled)
			tx.SetRegister(memimage.HoldingRegisters, addr, regs[0])
			tx.SetRegister(memimage.HoldingRegisters, addr+1, regs[1])
		}
	}
}

const (
	breakerCoil       = 0
	breakerCurrentReg = 0
	breakerVoltageReg = 2
)

// circuitBreakerTripHook zeroes the current/voltage readings once the
// breaker coil is opened (attacker-tripped), and lets the profile
// waveforms resume once it's closed again.
func circuitBreakerTripHook(tx *memimage.ModbusTxn, _ *hookState) {
	if tx.GetBit(memimage.Coils, breakerCoil) {
		return
	}
	for _, addr := range []uint16{breakerCurrentReg, breakerVoltageReg} {
		tx.SetRegister(memimage.HoldingRegisters, addr, 0)
		tx.SetRegister(memimage.HoldingRegisters, addr+1, 0)
	}
}
