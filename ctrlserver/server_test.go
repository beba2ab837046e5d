package ctrlserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/icsguard/honeypot/logstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir, dir+"/logs.db", testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatUnknownNodeRegisters(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-1", IP: "10.0.0.5"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", rec.Code)
	}
	var resp heartbeatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "registered" || resp.Command != "start" {
		t.Errorf("got %+v want status=registered command=start", resp)
	}

	list := s.registry.List()
	if len(list) != 1 || list[0].NodeID != "agent-1" {
		t.Errorf("expected agent-1 registered, got %+v", list)
	}
}

// TestAdoptionRenameFlow reproduces spec.md §8 scenario 7: a renamed
// agent is adopted on its next heartbeat under its old id.
func TestAdoptionRenameFlow(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-X", IP: "10.0.0.5"})

	rec := doJSON(t, s, http.MethodPost, "/api/update_agent_config", updateConfigRequest{
		NodeID:    "agent-X",
		NewNodeID: "agent-Y",
	})
	var updateResp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &updateResp)
	if updateResp["status"] != "ok" || updateResp["new_node_id"] != "agent-Y" {
		t.Fatalf("got %+v want status=ok new_node_id=agent-Y", updateResp)
	}

	hbRec := doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-X", IP: "10.0.0.5"})
	var hbResp heartbeatResponse
	json.Unmarshal(hbRec.Body.Bytes(), &hbResp)
	if hbResp.Status != "adopted" || hbResp.NewNodeID != "agent-Y" {
		t.Errorf("got %+v want status=adopted new_node_id=agent-Y", hbResp)
	}
}

// TestUpdateConfigRenameRekeysLogs confirms spec.md §4.9's rename rule
// carries historical logs forward under the new node id instead of
// leaving them permanently tagged with the retired one.
func TestUpdateConfigRenameRekeysLogs(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-X", IP: "10.0.0.5"})
	doJSON(t, s, http.MethodPost, "/api/logs", logsUploadRequest{
		NodeID: "agent-X",
		Logs: []logstore.Record{{
			Timestamp: time.Now(),
			SourceIP:  "10.0.0.5",
			Protocol:  "modbus",
			Request:   []byte{0x01},
			Response:  []byte{0x01},
		}},
	})

	doJSON(t, s, http.MethodPost, "/api/update_agent_config", updateConfigRequest{
		NodeID:    "agent-X",
		NewNodeID: "agent-Y",
	})

	pending, err := s.logs.PendingBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("PendingBatch: %v", err)
	}
	if len(pending) != 1 || pending[0].Metadata["node_id"] != "agent-Y" {
		t.Errorf("got pending %+v want one record rekeyed to agent-Y", pending)
	}
}

func TestUpdateConfigRenameCollisionReturnsErrorStatus(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-A", IP: "10.0.0.1"})
	doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-B", IP: "10.0.0.2"})

	rec := doJSON(t, s, http.MethodPost, "/api/update_agent_config", updateConfigRequest{
		NodeID:    "agent-A",
		NewNodeID: "agent-B",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d want 200 (errors are reported in body)", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["status"] != "error" {
		t.Errorf("got %+v want status=error on rename collision", resp)
	}
}

func TestToggleAndDeleteAgent(t *testing.T) {
	s := newTestServer(t)
	doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-1", IP: "10.0.0.5"})

	rec := doJSON(t, s, http.MethodPost, "/api/agents/agent-1/toggle", map[string]bool{"is_active": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: got status %d", rec.Code)
	}

	hbRec := doJSON(t, s, http.MethodPost, "/api/heartbeat", heartbeatRequest{NodeID: "agent-1", IP: "10.0.0.5"})
	var hbResp heartbeatResponse
	json.Unmarshal(hbRec.Body.Bytes(), &hbResp)
	if hbResp.Command != "stop" {
		t.Errorf("got command %q want stop after deactivation", hbResp.Command)
	}

	delRec := doJSON(t, s, http.MethodDelete, "/api/agents/agent-1", nil)
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete: got status %d", delRec.Code)
	}
	if len(s.registry.List()) != 0 {
		t.Errorf("expected agent-1 removed after delete")
	}
}

func TestListProfilesIncludesBundledDefaults(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/profiles", nil)
	var summaries []profileSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode profiles: %v", err)
	}
	found := false
	for _, p := range summaries {
		if p.Name == "water_treatment" {
			found = true
			if p.Type != "modbus" {
				t.Errorf("got type %q for water_treatment want modbus", p.Type)
			}
		}
	}
	if !found {
		t.Errorf("expected water_treatment among bundled profiles, got %+v", summaries)
	}
}

func TestGetConfigUnknownNodeReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/api/config/nonexistent", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("got status %d want 404", rec.Code)
	}
}

func TestPostLogsPersistsRecords(t *testing.T) {
	s := newTestServer(t)
	body := logsUploadRequest{
		NodeID: "agent-1",
		Logs: []logstore.Record{
			{
				Timestamp: time.Now(),
				SourceIP:  "10.0.0.5",
				Protocol:  "modbus",
				Request:   []byte{0x01, 0x03},
				Response:  []byte{0x01, 0x03, 0x02, 0x00, 0x00},
				Metadata:  map[string]string{"modbus.func_code": "3"},
			},
		},
	}

	rec := doJSON(t, s, http.MethodPost, "/api/logs", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", rec.Code)
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if count, _ := resp["count"].(float64); count != 1 {
		t.Errorf("got count %v want 1", resp["count"])
	}

	pending, err := s.logs.PendingBatch(context.Background(), 10)
	if err != nil {
		t.Fatalf("PendingBatch: %v", err)
	}
	if len(pending) != 1 || pending[0].Metadata["node_id"] != "agent-1" {
		t.Errorf("got pending %+v want one record tagged node_id=agent-1", pending)
	}
}
