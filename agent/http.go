package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/icsguard/honeypot/internal/config"
	"github.com/icsguard/honeypot/logstore"
)

// errConfigNotFound distinguishes a 404 from any other transport or
// server failure, since the sync tick treats "server doesn't know this
// node yet" as a quiet no-op rather than a logged error.
var errConfigNotFound = errors.New("agent: config not found")

type httpClient struct {
	baseURL string
	hc      *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{baseURL: baseURL, hc: &http.Client{Timeout: httpRequestTimeout}}
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

func (c *httpClient) heartbeat(ctx context.Context, req heartbeatRequest) (heartbeatResponse, error) {
	var resp heartbeatResponse
	err := c.postJSON(ctx, "/api/heartbeat", req, &resp)
	return resp, err
}

func (c *httpClient) fetchConfigRaw(ctx context.Context, nodeID string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/api/config/%s", c.baseURL, nodeID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errConfigNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agent: fetch config: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("agent: read config body: %w", err)
	}
	return json.RawMessage(body), nil
}

type uploadLogsRequest struct {
	NodeID string            `json:"node_id"`
	Logs   []logstore.Record `json:"logs"`
}

type uploadLogsResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (c *httpClient) uploadLogs(ctx context.Context, req uploadLogsRequest) (uploadLogsResponse, error) {
	var resp uploadLogsResponse
	err := c.postJSON(ctx, "/api/logs", req, &resp)
	return resp, err
}

func (c *httpClient) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("agent: marshal %s request: %w", path, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent: %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
