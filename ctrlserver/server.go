package ctrlserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/icsguard/honeypot/logstore"
	"github.com/icsguard/honeypot/profile"
)

// Server wires the agent registry, the profile store, and the
// server-side interaction log sink behind the HTTP API of spec §6.
type Server struct {
	mux      *http.ServeMux
	registry *Registry
	profiles *profile.Store
	logs     *logstore.Store
	log      *slog.Logger
}

// New builds a Server reading bundled/on-disk profiles from
// profilesDir and persisting uploaded interaction logs at logDBPath.
func New(profilesDir, logDBPath string, log *slog.Logger) (*Server, error) {
	logs, err := logstore.Open(logDBPath)
	if err != nil {
		return nil, err
	}

	s := &Server{
		registry: NewRegistry(),
		profiles: profile.NewStore(profilesDir),
		logs:     logs,
		log:      log,
	}
	s.mux = http.NewServeMux()
	s.routes()
	return s, nil
}

// Close releases the underlying log store handle.
func (s *Server) Close() error {
	return s.logs.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("GET /api/config/{node_id}", s.handleGetConfig)
	s.mux.HandleFunc("POST /api/logs", s.handlePostLogs)
	s.mux.HandleFunc("GET /api/agents", s.handleListAgents)
	s.mux.HandleFunc("POST /api/agents", s.handleAddAgent)
	s.mux.HandleFunc("POST /api/agents/{id}/toggle", s.handleToggleAgent)
	s.mux.HandleFunc("DELETE /api/agents/{id}", s.handleDeleteAgent)
	s.mux.HandleFunc("POST /api/update_agent_config", s.handleUpdateConfig)
	s.mux.HandleFunc("GET /api/profiles", s.handleListProfiles)
	s.mux.HandleFunc("GET /api/profiles/{name}", s.handleGetProfile)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid body"})
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Heartbeat(req))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.registry.Get(r.PathValue("node_id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	cfg := rec.Config
	cfg.NodeID = rec.NodeID
	cfg.Name = rec.Name
	writeJSON(w, http.StatusOK, cfg)
}

type logsUploadRequest struct {
	NodeID string            `json:"node_id"`
	Logs   []logstore.Record `json:"logs"`
}

func (s *Server) handlePostLogs(w http.ResponseWriter, r *http.Request) {
	var req logsUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid body"})
		return
	}

	ctx := r.Context()
	for _, rec := range req.Logs {
		if rec.Metadata == nil {
			rec.Metadata = map[string]string{}
		}
		rec.Metadata["node_id"] = req.NodeID
		if err := s.logs.Record(ctx, rec); err != nil {
			s.log.Error("failed to persist uploaded log", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": len(req.Logs)})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleAddAgent(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid form"})
		return
	}
	nodeID := r.FormValue("node_id")
	if nodeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "node_id required"})
		return
	}
	s.registry.Add(nodeID, r.FormValue("name"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

func (s *Server) handleToggleAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid body"})
		return
	}
	if !s.registry.SetActive(r.PathValue("id"), req.IsActive) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "is_active": req.IsActive})
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	s.registry.Delete(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid body"})
		return
	}

	newID, err := s.registry.UpdateConfig(req)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": err.Error()})
		return
	}

	resp := map[string]string{"status": "ok"}
	if newID != req.NodeID {
		resp["new_node_id"] = newID
		if err := s.logs.RekeyNodeID(r.Context(), req.NodeID, newID); err != nil {
			s.log.Error("failed to rekey logs on rename", "old_node_id", req.NodeID, "new_node_id", newID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type profileSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	names := s.profiles.List()
	out := make([]profileSummary, 0, len(names))
	for _, name := range names {
		p, err := s.profiles.Info(name)
		if err != nil {
			continue
		}
		out = append(out, profileSummary{Name: name, Description: p.Description, Type: profileType(p)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Info(r.PathValue("name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func profileType(p *profile.Profile) string {
	switch {
	case p.Modbus != nil && p.S7 != nil:
		return "modbus+s7comm"
	case p.S7 != nil:
		return "s7comm"
	default:
		return "modbus"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
