package node

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meshnode/pkg/api"
	"meshnode/pkg/compute"
	"meshnode/pkg/config"
	"meshnode/pkg/events"
	"meshnode/pkg/identity"
	"meshnode/pkg/metrics"
	"meshnode/pkg/model"
	"meshnode/pkg/resource"
	"meshnode/pkg/version"
)

// idleGate always reports the user away so tests never wait on the
// platform idle probe.
type idleGate struct{}

func (idleGate) WaitForIdle(context.Context) error { return nil }
func (idleGate) CPULoad() float64                  { return 12.5 }

// fakeCoordinator is a minimal in-process coordinator: register, shard
// queue, submit sink and the websocket command stream.
type fakeCoordinator struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	rejectReason string
	failRegister bool

	shards   chan model.ComputeShard
	submits  chan model.ShardResult
	conns    chan *websocket.Conn

	mu            sync.Mutex
	registrations []api.RegistrationRequest
}

func newFakeCoordinator(t *testing.T) *fakeCoordinator {
	t.Helper()
	f := &fakeCoordinator{
		shards:  make(chan model.ComputeShard, 4),
		submits: make(chan model.ShardResult, 4),
		conns:   make(chan *websocket.Conn, 2),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/nodes/register", f.handleRegister)
	mux.HandleFunc("/api/v1/shards/request", f.handleRequest)
	mux.HandleFunc("/api/v1/shards/submit", f.handleSubmit)
	mux.HandleFunc("/api/v1/ws/node", f.handleWS)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCoordinator) handleRegister(w http.ResponseWriter, r *http.Request) {
	if f.failRegister {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}
	var req api.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.registrations = append(f.registrations, req)
	f.mu.Unlock()

	resp := api.RegistrationResponse{Accepted: true, Role: model.RoleCompute, Mesh: api.MeshState{NodeCount: 3, Epoch: 7}}
	if f.rejectReason != "" {
		resp = api.RegistrationResponse{Reason: f.rejectReason}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeCoordinator) handleRequest(w http.ResponseWriter, _ *http.Request) {
	select {
	case s := <-f.shards:
		_ = json.NewEncoder(w).Encode(api.ShardResponse{Available: true, Shard: &s})
	default:
		_ = json.NewEncoder(w).Encode(api.ShardResponse{})
	}
}

func (f *fakeCoordinator) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var res model.ShardResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.submits <- res
	_ = json.NewEncoder(w).Encode(api.SubmitResponse{Accepted: true})
}

func (f *fakeCoordinator) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.conns <- conn
	for {
		var msg api.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
	}
}

func (f *fakeCoordinator) registration(t *testing.T, i int) api.RegistrationRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Greater(t, len(f.registrations), i)
	return f.registrations[i]
}

func newTestCore(t *testing.T, coordinator string, mutate func(*config.Config)) *Core {
	t.Helper()
	cfg := config.Config{
		Coordinator:      coordinator,
		DataDir:          t.TempDir(),
		HeartbeatSec:     1,
		MonitorSec:       1,
		RetentionMin:     1,
		IdleThresholdSec: 1,
		OfflineRetryMin:  1,
		MaxReconnects:    3,
		ShardCacheSize:   4,
	}
	config.ApplyDefaults(&cfg)
	if mutate != nil {
		mutate(&cfg)
	}

	log := zap.NewNop()
	id, err := identity.New()
	require.NoError(t, err)

	specs := model.HardwareSpecs{RAMMb: 8192, CPUCores: 4, DiskFreeMb: 10240, Backend: "cpu"}
	meter := metrics.New()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	engine, err := compute.NewEngine(log, nil, cfg.CacheDir, specs, cfg.ShardCacheSize, meter)
	require.NoError(t, err)
	t.Cleanup(engine.UnloadAll)

	journal, err := OpenJournal(cfg.JournalPath, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	core := New(cfg, Deps{
		Log:      log,
		Identity: id,
		Specs:    specs,
		Gate:     idleGate{},
		Engine:   engine,
		Monitor:  resource.NewMonitor(log, bus, meter, time.Second, time.Minute, nil),
		Bus:      bus,
		Journal:  journal,
		Metrics:  meter,
	})
	core.addrProbe = func(context.Context) string { return "203.0.113.5:4500" }
	core.updateGrace = 10 * time.Millisecond
	return core
}

func TestRunFullCycle(t *testing.T) {
	f := newFakeCoordinator(t)
	f.shards <- model.ComputeShard{ID: "s1", ModelHash: "m1", StartLayer: 0, EndLayer: 4, InputData: []byte{10, 20, 30}}

	core := newTestCore(t, f.srv.URL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- core.Run(ctx) }()

	var res model.ShardResult
	select {
	case res = <-f.submits:
	case <-time.After(20 * time.Second):
		t.Fatal("no shard result submitted")
	}
	assert.Equal(t, "s1", res.ShardID)
	assert.Len(t, res.OutputData, 3)
	assert.Equal(t, "fallback", res.ExecutionProvider)
	assert.GreaterOrEqual(t, res.ComputeTimeMs, int64(8), "four layers take at least 2ms each")
	assert.True(t, core.id.Verify(res.OutputData, res.Signature), "result must carry a valid signature")
	assert.Equal(t, core.id.NodeID, res.NodeID)
	assert.Equal(t, float64(1), testutil.ToFloat64(core.meter.ShardsServed),
		"one shard processed counts exactly once")

	reg := f.registration(t, 0)
	assert.True(t, strings.HasPrefix(reg.NodeID, "mesh-"))
	assert.Equal(t, version.Build, reg.Version)
	assert.Contains(t, reg.Compute.Backends, "cpu")
	assert.Equal(t, "203.0.113.5:4500", reg.PublicAddress)
	assert.Equal(t, model.RoleCompute, core.Role())
	assert.Equal(t, model.StateConnected, core.State())

	var conn *websocket.Conn
	select {
	case conn = <-f.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("node never opened the command stream")
	}
	require.NoError(t, conn.WriteJSON(api.NewMessage(api.CmdTerminate, nil)))

	select {
	case err := <-errCh:
		assert.NoError(t, err, "terminate ends the run cleanly")
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after terminate")
	}
	assert.Equal(t, model.StateShuttingDown, core.State())
}

func TestRunEntersOfflineAfterReconnectCeiling(t *testing.T) {
	f := newFakeCoordinator(t)
	f.failRegister = true

	core := newTestCore(t, f.srv.URL, func(c *config.Config) { c.MaxReconnects = 1 })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- core.Run(ctx) }()

	require.Eventually(t, func() bool {
		return core.State() == model.StateOffline
	}, 5*time.Second, 20*time.Millisecond, "node should go offline after the reconnect ceiling")
	assert.Equal(t, 0, core.ReconnectAttempts(), "attempt counter resets on the offline transition")

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on cancellation")
	}
}

func TestOutdatedRejectionStagesUpdate(t *testing.T) {
	f := newFakeCoordinator(t)
	f.rejectReason = "node version outdated"

	core := newTestCore(t, f.srv.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- core.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(core.cfg.UpdateSignalPath)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond, "rejection should stage an update signal for the watchdog")

	raw, err := os.ReadFile(core.cfg.UpdateSignalPath)
	require.NoError(t, err)
	var sig updateSignal
	require.NoError(t, json.Unmarshal(raw, &sig))
	assert.Equal(t, version.Build, sig.CurrentVersion)
	assert.False(t, sig.RequestedAt.IsZero())

	// The node keeps retrying on the current version until the watchdog acts.
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on cancellation")
	}
}

func TestDispatchRoleChangeAndUnknown(t *testing.T) {
	f := newFakeCoordinator(t)
	core := newTestCore(t, f.srv.URL, nil)
	ctx := context.Background()

	require.NoError(t, core.dispatch(ctx, nil, api.NewMessage(api.CmdChangeRole, api.CommandRole{Role: model.RoleScout})))
	assert.Equal(t, model.RoleScout, core.Role())
	assert.True(t, core.Role().RunsScouting())

	require.NoError(t, core.dispatch(ctx, nil, api.Message{Type: "mystery_command"}), "unknown commands are ignored")

	err := core.dispatch(ctx, nil, api.NewMessage(api.CmdTerminate, nil))
	assert.ErrorIs(t, err, errTerminated)
}

func TestJournalFlushOnReconnect(t *testing.T) {
	f := newFakeCoordinator(t)
	core := newTestCore(t, f.srv.URL, nil)

	core.journal.RecordResult(model.ShardResult{
		ShardID:    "stale-1",
		OutputData: []byte{1, 2},
		Signature:  core.id.Sign([]byte{1, 2}),
	}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- core.Run(ctx) }()

	select {
	case res := <-f.submits:
		assert.Equal(t, "stale-1", res.ShardID)
		assert.Equal(t, core.id.NodeID, res.NodeID)
	case <-time.After(10 * time.Second):
		t.Fatal("journaled result was not resubmitted")
	}
	require.Eventually(t, func() bool {
		return len(core.journal.PendingResults(core.id.NodeID)) == 0
	}, 5*time.Second, 20*time.Millisecond)

	select {
	case conn := <-f.conns:
		require.NoError(t, conn.WriteJSON(api.NewMessage(api.CmdTerminate, nil)))
	case <-time.After(5 * time.Second):
		t.Fatal("node never opened the command stream")
	}
	<-errCh
}
