// Package ctrlserver implements the server control plane (C9): the
// in-memory agent registry, heartbeat/adoption logic, and the HTTP API
// spec §6 and §4.9 describe.
package ctrlserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/icsguard/honeypot/internal/config"
)

const offlineThreshold = 30 * time.Second

var (
	errUnknownAgent    = errors.New("ctrlserver: unknown agent")
	errRenameCollision = errors.New("ctrlserver: node_id already exists")
)

// AgentRecord is the server's view of one agent (spec §3 "Agent
// record"). Liveness is computed from LastHeartbeat, never stored.
type AgentRecord struct {
	NodeID        string
	Name          string
	LastSeenIP    string
	LastHeartbeat time.Time
	Active        bool
	Config        config.AgentConfig
	OriginalID    string
}

// Registry is the stateful in-memory agent table. A production
// deployment would persist this; spec.md's scope (§1) excludes
// operator-facing storage beyond the interaction log, so this stays
// in-memory for the process lifetime.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*AgentRecord
}

func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*AgentRecord)}
}

type heartbeatRequest struct {
	NodeID string              `json:"node_id"`
	IP     string              `json:"ip"`
	Name   string              `json:"name,omitempty"`
	Config *config.AgentConfig `json:"config,omitempty"`
}

type heartbeatResponse struct {
	Status    string `json:"status"`
	Command   string `json:"command"`
	NewNodeID string `json:"new_node_id,omitempty"`
}

// Heartbeat implements spec §4.9: an unknown node_id is either adopted
// (matched against a stored original_id) or auto-registered as
// "Pending (<node_id>)"; a known node_id updates liveness and adopts an
// empty-device agent's first reported device list, returning
// stop iff the operator has disabled it.
func (reg *Registry) Heartbeat(hb heartbeatRequest) heartbeatResponse {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if rec, ok := reg.agents[hb.NodeID]; ok {
		rec.LastSeenIP = hb.IP
		rec.LastHeartbeat = time.Now()
		if hb.Name != "" {
			rec.Name = hb.Name
		}
		if len(rec.Config.PLCs) == 0 && hb.Config != nil && len(hb.Config.PLCs) > 0 {
			rec.Config = *hb.Config
		}
		if !rec.Active {
			return heartbeatResponse{Status: "ok", Command: "stop"}
		}
		return heartbeatResponse{Status: "ok", Command: "start"}
	}

	for newID, rec := range reg.agents {
		if rec.OriginalID == hb.NodeID {
			return heartbeatResponse{Status: "adopted", Command: "stop", NewNodeID: newID}
		}
	}

	reg.agents[hb.NodeID] = &AgentRecord{
		NodeID:        hb.NodeID,
		Name:          fmt.Sprintf("Pending (%s)", hb.NodeID),
		LastSeenIP:    hb.IP,
		LastHeartbeat: time.Now(),
		Active:        true,
	}
	return heartbeatResponse{Status: "registered", Command: "start"}
}

// Get returns a copy of the stored record for nodeID.
func (reg *Registry) Get(nodeID string) (AgentRecord, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.agents[nodeID]
	if !ok {
		return AgentRecord{}, false
	}
	return *rec, true
}

// Add manually registers an agent (POST /api/agents, operator-driven).
func (reg *Registry) Add(nodeID, name string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if name == "" {
		name = fmt.Sprintf("Pending (%s)", nodeID)
	}
	reg.agents[nodeID] = &AgentRecord{NodeID: nodeID, Name: name, Active: true}
}

// SetActive flips the operator-controlled active flag, reporting
// whether nodeID was known.
func (reg *Registry) SetActive(nodeID string, active bool) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	rec, ok := reg.agents[nodeID]
	if !ok {
		return false
	}
	rec.Active = active
	return true
}

// Delete removes an agent record.
func (reg *Registry) Delete(nodeID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.agents, nodeID)
}

type updateConfigRequest struct {
	NodeID    string             `json:"node_id"`
	NewNodeID string             `json:"new_node_id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Config    config.AgentConfig `json:"config"`
}

// UpdateConfig implements spec §4.9's rename rule: the new id must not
// already exist; on success the renamed record's original_id is set to
// the old id so a still-running old agent is adopted on its next
// heartbeat.
func (reg *Registry) UpdateConfig(req updateConfigRequest) (newNodeID string, err error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.agents[req.NodeID]
	if !ok {
		return "", errUnknownAgent
	}

	newNodeID = req.NodeID
	if req.NewNodeID != "" && req.NewNodeID != req.NodeID {
		if _, exists := reg.agents[req.NewNodeID]; exists {
			return "", errRenameCollision
		}
		delete(reg.agents, req.NodeID)
		rec.OriginalID = req.NodeID
		rec.NodeID = req.NewNodeID
		reg.agents[req.NewNodeID] = rec
		newNodeID = req.NewNodeID
	}
	if req.Name != "" {
		rec.Name = req.Name
	}
	rec.Config = req.Config
	return newNodeID, nil
}

type agentView struct {
	NodeID        string    `json:"node_id"`
	Name          string    `json:"name"`
	LastSeenIP    string    `json:"last_seen_ip"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Online        bool      `json:"online"`
	Active        bool      `json:"active"`
	OriginalID    string    `json:"original_id,omitempty"`
	DeviceCount   int       `json:"device_count"`
}

// List returns every known agent with liveness computed (not stored)
// from the 30 s offline threshold, spec §4.9.
func (reg *Registry) List() []agentView {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	out := make([]agentView, 0, len(reg.agents))
	now := time.Now()
	for _, rec := range reg.agents {
		out = append(out, agentView{
			NodeID:        rec.NodeID,
			Name:          rec.Name,
			LastSeenIP:    rec.LastSeenIP,
			LastHeartbeat: rec.LastHeartbeat,
			Online:        now.Sub(rec.LastHeartbeat) <= offlineThreshold,
			Active:        rec.Active,
			OriginalID:    rec.OriginalID,
			DeviceCount:   len(rec.Config.PLCs),
		})
	}
	return out
}
