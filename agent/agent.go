// Package agent implements the agent control loop (C8): a 5 s
// heartbeat/config-fetch/log-upload sync tick, device start/stop
// lifecycle, start-attempt backoff, and node-id adoption (spec §4.8).
package agent

import (
	"context"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/icsguard/honeypot/internal/config"
	"github.com/icsguard/honeypot/logstore"
	"github.com/icsguard/honeypot/profile"
	"github.com/icsguard/honeypot/waveform"
)

const (
	syncInterval       = 5 * time.Second
	httpRequestTimeout = 2 * time.Second
	startBackoffMax    = 3
	startBackoffCool   = 10 * time.Second
	logsBatchSize      = 10
)

// Agent holds one process's identity, running devices, and the
// sync-tick state machine.
type Agent struct {
	mu         sync.Mutex
	cfg        config.AgentConfig
	configPath string

	client   *httpClient
	store    *logstore.Store
	profiles *profile.Store
	log      *slog.Logger
	rng      waveform.Source

	devices []*deviceRuntime
	backoff startBackoff

	stop chan struct{}
}

type startBackoff struct {
	attempts  int
	until     time.Time
	exhausted bool
}

// New builds an Agent: it loads (or mints) the local identity at
// configPath, opens the interaction-log queue at logDBPath, and loads
// bundled/on-disk profiles from profilesDir.
func New(configPath, profilesDir, logDBPath string, log *slog.Logger) (*Agent, error) {
	cfg, err := loadLocalConfig(configPath)
	if err != nil {
		return nil, err
	}

	store, err := logstore.Open(logDBPath)
	if err != nil {
		return nil, err
	}

	return &Agent{
		cfg:        cfg,
		configPath: configPath,
		client:     newHTTPClient(cfg.ServerURL),
		store:      store,
		profiles:   profile.NewStore(profilesDir),
		log:        log,
		rng:        waveform.NewSharedSource(rand.New(rand.NewSource(time.Now().UnixNano()))),
		stop:       make(chan struct{}),
	}, nil
}

// Run blocks, driving the sync tick every 5 s until Stop is called.
func (a *Agent) Run() {
	ctx := context.Background()
	a.syncTick(ctx)

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.syncTick(ctx)
		}
	}
}

// Stop halts the sync loop, tears down any running devices, and closes
// the log store.
func (a *Agent) Stop() {
	close(a.stop)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopAllDevicesLocked()
	if a.store != nil {
		a.store.Close()
	}
}

// heartbeatOutcome is the explicit variant the sync tick dispatches on,
// replacing exception-for-control-flow parsing of the heartbeat
// response (spec §9 REDESIGN FLAGS).
type heartbeatOutcome interface{ isHeartbeatOutcome() }

type adopted struct{ newNodeID string }
type startCmd struct{}
type stopCmd struct{}
type unreachable struct{ err error }

func (adopted) isHeartbeatOutcome()     {}
func (startCmd) isHeartbeatOutcome()    {}
func (stopCmd) isHeartbeatOutcome()     {}
func (unreachable) isHeartbeatOutcome() {}

func classifyHeartbeat(resp heartbeatResponse, err error, currentNodeID string) heartbeatOutcome {
	if err != nil {
		return unreachable{err: err}
	}
	if resp.NewNodeID != "" && resp.NewNodeID != currentNodeID {
		return adopted{newNodeID: resp.NewNodeID}
	}
	if resp.Command == "stop" {
		return stopCmd{}
	}
	return startCmd{}
}

// syncTick implements spec §4.8's sync tick: heartbeat, then (unless
// adopted) fetch config, then upload logs.
func (a *Agent) syncTick(ctx context.Context) {
	cfg := a.snapshotConfig()
	resp, err := a.client.heartbeat(ctx, heartbeatRequest{
		NodeID: cfg.NodeID,
		IP:     localIP(),
		Name:   cfg.Name,
		Config: &cfg,
	})

	switch o := classifyHeartbeat(resp, err, cfg.NodeID).(type) {
	case adopted:
		a.handleAdoption(o.newNodeID)
		return
	case unreachable:
		a.log.Debug("heartbeat transport error", "error", o.err)
		a.safetyStopIfRunning()
	case stopCmd:
		a.stopAllDevices()
	case startCmd:
		a.maybeStartDevices()
	}

	a.fetchAndApplyConfig(ctx)
	a.uploadPendingLogs(ctx)
}

func (a *Agent) snapshotConfig() config.AgentConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// handleAdoption implements spec §4.8 point 1: stop devices, rewrite
// the node id, persist, reset backoff. The tick is exited by the caller
// without consuming the command.
func (a *Agent) handleAdoption(newNodeID string) {
	a.mu.Lock()
	a.stopAllDevicesLocked()
	a.cfg.NodeID = newNodeID
	a.backoff = startBackoff{}
	cfg := a.cfg
	a.mu.Unlock()

	if err := saveLocalConfig(a.configPath, cfg); err != nil {
		a.log.Error("failed to persist adopted config", "error", err)
	}
	a.log.Info("adopted new node id", "new_node_id", newNodeID)
}

func (a *Agent) stopAllDevices() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopAllDevicesLocked()
}

func (a *Agent) stopAllDevicesLocked() {
	for _, d := range a.devices {
		d.stop()
	}
	a.devices = nil
}

func (a *Agent) safetyStopIfRunning() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.devices) > 0 {
		a.stopAllDevicesLocked()
	}
}

// maybeStartDevices implements spec §4.8's start-command handling and
// the start-backoff rule: at most 3 attempts, 10 s cooldown between
// them, reset on success/config-change/adoption.
func (a *Agent) maybeStartDevices() {
	a.mu.Lock()
	hasDevices := len(a.devices) > 0
	hasConfig := len(a.cfg.PLCs) > 0
	inBackoff := a.backoff.exhausted || time.Now().Before(a.backoff.until)
	plcs := a.cfg.PLCs
	a.mu.Unlock()

	if hasDevices || !hasConfig || inBackoff {
		return
	}

	runtimes, err := a.startDevices(plcs)
	if err != nil {
		a.mu.Lock()
		a.backoff.attempts++
		if a.backoff.attempts >= startBackoffMax {
			a.backoff.exhausted = true
			a.log.Error("device start failed, giving up after max attempts", "attempts", a.backoff.attempts, "error", err)
		} else {
			a.backoff.until = time.Now().Add(startBackoffCool)
			a.log.Error("device start failed, backing off", "attempts", a.backoff.attempts, "error", err)
		}
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	a.devices = runtimes
	a.backoff = startBackoff{}
	a.mu.Unlock()
}

func (a *Agent) startDevices(plcs []config.PLC) ([]*deviceRuntime, error) {
	var runtimes []*deviceRuntime
	for _, plc := range plcs {
		if !plc.Enabled {
			continue
		}
		rt, err := a.startDevice(plc)
		if err != nil {
			for _, started := range runtimes {
				started.stop()
			}
			return nil, err
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}

// fetchAndApplyConfig implements spec §4.8's config-fetch
// normalization: stop and reinstall devices only if the normalized
// config's plcs actually changed from the running config.
func (a *Agent) fetchAndApplyConfig(ctx context.Context) {
	nodeID := a.snapshotConfig().NodeID

	raw, err := a.client.fetchConfigRaw(ctx, nodeID)
	if err != nil {
		if err != errConfigNotFound {
			a.log.Debug("config fetch failed", "error", err)
		}
		return
	}

	normalized, err := config.Normalize(raw)
	if err != nil {
		a.log.Error("rejected config from server", "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	currentCanon, _ := a.cfg.Canonical()
	newCanon, _ := normalized.Canonical()
	if currentCanon == newCanon {
		a.cfg.Name = normalized.Name
		return
	}

	a.stopAllDevicesLocked()
	normalized.NodeID = a.cfg.NodeID
	normalized.ServerURL = a.cfg.ServerURL
	if normalized.OriginalID == "" {
		normalized.OriginalID = a.cfg.OriginalID
	}
	a.cfg = normalized
	a.backoff = startBackoff{}

	if err := saveLocalConfig(a.configPath, a.cfg); err != nil {
		a.log.Error("failed to persist fetched config", "error", err)
	}
}

func (a *Agent) uploadPendingLogs(ctx context.Context) {
	batch, err := a.store.PendingBatch(ctx, logsBatchSize)
	if err != nil {
		a.log.Error("failed to read pending logs", "error", err)
		return
	}
	if len(batch) == 0 {
		return
	}

	nodeID := a.snapshotConfig().NodeID
	if _, err := a.client.uploadLogs(ctx, uploadLogsRequest{NodeID: nodeID, Logs: batch}); err != nil {
		a.log.Debug("log upload failed", "error", err)
		return
	}

	ids := make([]int64, len(batch))
	for i, r := range batch {
		ids[i] = r.ID
	}
	if err := a.store.MarkUploaded(ctx, ids); err != nil {
		a.log.Error("failed to mark logs uploaded", "error", err)
	}
}

// localIP reports the outbound interface address used to reach the
// network, the way a lightweight agent self-reports its IP without a
// routing-table dependency. No packets are sent: UDP Dial only
// resolves the route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
