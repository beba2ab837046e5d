// Package config holds the JSON shapes shared by the agent and server
// control plane (spec §6): per-device PLC configuration, simulation
// overlays, and the normalization rules the agent applies to whatever
// the server hands back.
package config

import (
	"encoding/json"
	"fmt"
)

// Device is one logical unit behind a gateway-mode Modbus PLC entry, or
// an S7 device's identity (a single logical device per s7comm port).
type Device struct {
	UnitID int    `json:"unit_id"`
	Model  string `json:"model"`
}

// PLC is one emulated device listener: a Modbus or S7comm port with its
// own model identity and simulation spec (spec §6).
type PLC struct {
	Type       string          `json:"type"`
	Enabled    bool            `json:"enabled"`
	Port       int             `json:"port"`
	Model      string          `json:"model"`
	Vendor     string          `json:"vendor,omitempty"`
	Revision   string          `json:"revision,omitempty"`
	Devices    []Device        `json:"devices,omitempty"`
	Simulation json.RawMessage `json:"simulation,omitempty"`
}

// AgentConfig is the top-level shape of client_config.json and of the
// config body the server returns from GET /api/config/{node_id}.
type AgentConfig struct {
	ServerURL  string `json:"server_url"`
	NodeID     string `json:"node_id"`
	OriginalID string `json:"original_id,omitempty"`
	Name       string `json:"name,omitempty"`
	PLCs       []PLC  `json:"plcs"`
}

// Normalize implements spec §4.8's config-fetch normalization: it strips
// top-level keys beginning with "_" (via stripUnderscoreKeys), parses the
// rest into AgentConfig, and validates each PLC's type and port range.
// Values are not coerced: a field of the wrong JSON type fails the parse,
// and a port outside [1,65535] rejects the whole config.
func Normalize(raw json.RawMessage) (AgentConfig, error) {
	stripped, err := stripUnderscoreKeys(raw)
	if err != nil {
		return AgentConfig{}, fmt.Errorf("config: strip keys: %w", err)
	}

	var cfg AgentConfig
	if err := json.Unmarshal(stripped, &cfg); err != nil {
		return AgentConfig{}, fmt.Errorf("config: parse: %w", err)
	}

	for i := range cfg.PLCs {
		if err := normalizePLC(&cfg.PLCs[i]); err != nil {
			return AgentConfig{}, fmt.Errorf("config: plc %d: %w", i, err)
		}
	}
	return cfg, nil
}

func normalizePLC(p *PLC) error {
	if p.Type != "modbus" && p.Type != "s7comm" {
		return fmt.Errorf("unknown plc type %q", p.Type)
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("port %d out of range [1,65535]", p.Port)
	}
	return nil
}

// stripUnderscoreKeys removes any top-level object key starting with
// "_" (e.g. server-side bookkeeping fields the agent should ignore),
// the way the EdgeFlow-style config normalizer round-trips through a
// map before re-marshaling into a typed struct.
func stripUnderscoreKeys(raw json.RawMessage) (json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k := range m {
		if len(k) > 0 && k[0] == '_' {
			delete(m, k)
		}
	}
	return json.Marshal(m)
}

// Canonical returns a deterministic JSON encoding of cfg.PLCs for
// change detection (spec §4.8: "if normalized config's plcs differs
// (serialized canonically) from the running config").
func (c AgentConfig) Canonical() (string, error) {
	b, err := json.Marshal(c.PLCs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
