package agent

import (
	"encoding/json"
	"fmt"

	"github.com/icsguard/honeypot/profile"
)

// simulationConfig is the flat JSON shape spec §6 allows for a PLC
// entry's "simulation" field: a bare {"profile": name}, or inline
// Modbus tables, or inline S7 tables, or any combination, following the
// roundtrip-then-validate idiom the retrieval pack's EdgeFlow config
// struct uses for its own Modbus JSON config.
type simulationConfig struct {
	Profile          string                                 `json:"profile,omitempty"`
	HoldingRegisters []profile.ModbusEntry                  `json:"holding_registers,omitempty"`
	InputRegisters   []profile.ModbusEntry                  `json:"input_registers,omitempty"`
	Coils            []profile.ModbusEntry                  `json:"coils,omitempty"`
	DiscreteInputs   []profile.ModbusEntry                  `json:"discrete_inputs,omitempty"`
	DB               map[uint16]map[uint32]profile.S7Entry  `json:"db,omitempty"`
	M                map[uint32]profile.S7Entry             `json:"m,omitempty"`
	I                map[uint32]profile.S7Entry             `json:"i,omitempty"`
	Q                map[uint32]profile.S7Entry             `json:"q,omitempty"`
}

func parseSimulationConfig(raw json.RawMessage) (simulationConfig, error) {
	var sc simulationConfig
	if len(raw) == 0 {
		return sc, nil
	}
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sc, fmt.Errorf("agent: parse simulation config: %w", err)
	}
	return sc, nil
}

func (sc simulationConfig) modbusSection() *profile.ModbusSection {
	if len(sc.HoldingRegisters) == 0 && len(sc.InputRegisters) == 0 &&
		len(sc.Coils) == 0 && len(sc.DiscreteInputs) == 0 {
		return nil
	}
	return &profile.ModbusSection{
		HoldingRegisters: sc.HoldingRegisters,
		InputRegisters:   sc.InputRegisters,
		Coils:            sc.Coils,
		DiscreteInputs:   sc.DiscreteInputs,
	}
}

func (sc simulationConfig) s7Section() *profile.S7Section {
	if len(sc.DB) == 0 && len(sc.M) == 0 && len(sc.I) == 0 && len(sc.Q) == 0 {
		return nil
	}
	return &profile.S7Section{DB: sc.DB, M: sc.M, I: sc.I, Q: sc.Q}
}
