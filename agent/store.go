package agent

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/icsguard/honeypot/internal/config"
)

// loadLocalConfig reads client_config.json next to the binary (spec
// §6). A missing file is not an error: a fresh agent mints its own
// node_id and starts with an empty device list, per spec §4.8's
// "no devices configured" bootstrap path.
func loadLocalConfig(path string) (config.AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config.AgentConfig{NodeID: newNodeID()}, nil
		}
		return config.AgentConfig{}, fmt.Errorf("agent: read %s: %w", path, err)
	}

	var cfg config.AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return config.AgentConfig{}, fmt.Errorf("agent: parse %s: %w", path, err)
	}
	if cfg.NodeID == "" {
		cfg.NodeID = newNodeID()
	}
	return cfg, nil
}

func saveLocalConfig(path string, cfg config.AgentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("agent: marshal local config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("agent: write %s: %w", path, err)
	}
	return nil
}

func newNodeID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "agent-unseeded"
	}
	return "agent-" + hex.EncodeToString(b)
}
