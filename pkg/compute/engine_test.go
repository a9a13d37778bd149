package compute

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"meshnode/pkg/hardware"
	"meshnode/pkg/model"
)

// countingRuntime records load attempts and hands out echo sessions.
type countingRuntime struct {
	loads   atomic.Int64
	closed  atomic.Int64
	failAll bool
}

type echoSession struct{ rt *countingRuntime }

func (s *echoSession) Run(input []byte) ([]byte, error) { return input, nil }
func (s *echoSession) Close() error {
	s.rt.closed.Add(1)
	return nil
}

func (rt *countingRuntime) Load(path, provider string) (Session, error) {
	rt.loads.Add(1)
	if rt.failAll {
		return nil, assert.AnError
	}
	return &echoSession{rt: rt}, nil
}

func (rt *countingRuntime) Providers() []string { return []string{"cpu"} }

func testSpecs() model.HardwareSpecs {
	return model.HardwareSpecs{RAMMb: 8192, CPUCores: 4, Backend: "cpu"}
}

func newTestEngine(t *testing.T, rt Runtime, dir string) *Engine {
	t.Helper()
	e, err := NewEngine(zap.NewNop(), rt, dir, testSpecs(), 0, nil)
	require.NoError(t, err)
	return e
}

func writeShardFile(t *testing.T, dir, hash string, start, end int) {
	t.Helper()
	name := shardKey{modelHash: hash, startLayer: start, endLayer: end}.fileName()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("weights"), 0o644))
}

func TestConcurrentResolveLoadsOnce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeShardFile(t, dir, "abc123", 0, 3)
	rt := &countingRuntime{}
	e := newTestEngine(t, rt, dir)

	shard := model.ComputeShard{ModelHash: "abc123", StartLayer: 0, EndLayer: 3, InputData: []byte("x")}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.ProcessShard(context.Background(), shard)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), rt.loads.Load(), "same key must load at most once")
	assert.Equal(t, 1, e.CachedShards())
}

func TestFallbackDeterministicAndLengthPreserving(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, nil, t.TempDir()) // nil runtime: everything falls back

	input := []byte("the quick brown fox")
	shard := model.ComputeShard{ModelHash: "nocache", StartLayer: 2, EndLayer: 5, InputData: input}

	out1, info, err := e.ProcessShard(context.Background(), shard)
	require.NoError(t, err)
	assert.Equal(t, fallbackProvider, info.Provider)
	assert.Len(t, out1, len(input))
	assert.NotEqual(t, input, out1)

	out2, _, err := e.ProcessShard(context.Background(), shard)
	require.NoError(t, err)
	assert.Equal(t, out1, out2, "fallback must be deterministic for identical input")

	// a different layer range transforms differently
	other := shard
	other.StartLayer, other.EndLayer = 6, 9
	out3, _, err := e.ProcessShard(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, out1, out3)
}

func TestAllProvidersFailFallsBack(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeShardFile(t, dir, "broken", 0, 1)
	e := newTestEngine(t, &countingRuntime{failAll: true}, dir)

	out, info, err := e.ProcessShard(context.Background(), model.ComputeShard{
		ModelHash: "broken", StartLayer: 0, EndLayer: 1, InputData: []byte("abcd"),
	})
	require.NoError(t, err)
	assert.Equal(t, fallbackProvider, info.Provider)
	assert.Len(t, out, 4)
}

func TestUnloadAllClosesSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeShardFile(t, dir, "m1", 0, 1)
	writeShardFile(t, dir, "m2", 0, 1)
	rt := &countingRuntime{}
	e := newTestEngine(t, rt, dir)

	require.NoError(t, e.Preload("m1", 0, 1))
	require.NoError(t, e.Preload("m2", 0, 1))
	require.Equal(t, 2, e.CachedShards())

	e.UnloadAll()
	assert.Equal(t, 0, e.CachedShards())
	assert.Equal(t, int64(2), rt.closed.Load())
}

func TestBoundedCacheEvictsAndCloses(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rt := &countingRuntime{}
	for i := 0; i < 3; i++ {
		writeShardFile(t, dir, "m", i, i)
	}
	e, err := NewEngine(zap.NewNop(), rt, dir, testSpecs(), 2, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Preload("m", i, i))
	}
	assert.Equal(t, 2, e.CachedShards())
	assert.Equal(t, int64(1), rt.closed.Load(), "evicted shard must be closed")
}

// gateSession blocks inside Run until released, and errors if used after
// Close, so tests can hold an inference open across cache churn.
type gateSession struct {
	entered chan struct{}
	proceed chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *gateSession) Run(input []byte) ([]byte, error) {
	if s.isClosed() {
		return nil, errors.New("session used after close")
	}
	close(s.entered)
	<-s.proceed
	if s.isClosed() {
		return nil, errors.New("session used after close")
	}
	return input, nil
}

func (s *gateSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *gateSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// holdFirstRuntime hands out the gate session on the first load and echo
// sessions afterwards.
type holdFirstRuntime struct {
	first *gateSession
	loads atomic.Int64
}

func (rt *holdFirstRuntime) Load(path, provider string) (Session, error) {
	if rt.loads.Add(1) == 1 {
		return rt.first, nil
	}
	return &echoSession{rt: &countingRuntime{}}, nil
}

func (rt *holdFirstRuntime) Providers() []string { return []string{"cpu"} }

func TestEvictionDefersCloseUntilInferenceReleases(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeShardFile(t, dir, "m1", 0, 0)
	writeShardFile(t, dir, "m2", 0, 0)
	sess := &gateSession{entered: make(chan struct{}), proceed: make(chan struct{})}
	rt := &holdFirstRuntime{first: sess}
	e, err := NewEngine(zap.NewNop(), rt, dir, testSpecs(), 1, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := e.ProcessShard(context.Background(), model.ComputeShard{
			ModelHash: "m1", StartLayer: 0, EndLayer: 0, InputData: []byte("x"),
		})
		done <- err
	}()
	<-sess.entered

	// push m1 out of the single-slot cache while its inference is running
	require.NoError(t, e.Preload("m2", 0, 0))
	assert.False(t, sess.isClosed(), "evicted session must stay open while inference runs")

	close(sess.proceed)
	require.NoError(t, <-done, "in-flight inference survives eviction")
	assert.True(t, sess.isClosed(), "last release closes the evicted session")

	// the evicted key fully reloads on the next request
	_, _, err = e.ProcessShard(context.Background(), model.ComputeShard{
		ModelHash: "m1", StartLayer: 0, EndLayer: 0, InputData: []byte("y"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rt.loads.Load())
}

func TestProviderOrderFollowsBackendPreference(t *testing.T) {
	t.Parallel()

	specs := testSpecs()
	specs.HasGPU = true
	specs.GPUName = "NVIDIA RTX 4090"
	specs.GPUMemoryMb = 24576
	specs.Backend = hardware.BackendCUDA

	e, err := NewEngine(zap.NewNop(), &countingRuntime{}, t.TempDir(), specs, 0, nil)
	require.NoError(t, err)

	want := hardware.ProviderPreference(hardware.BackendCUDA)
	assert.Equal(t, want, e.Capabilities().Backends,
		"engine must try providers in the audited backend's preference order")
}

func TestHydrateModelIdempotent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	e := newTestEngine(t, nil, dir)

	require.NoError(t, e.HydrateModel(context.Background(), "dl", 0, 3, srv.URL))
	require.NoError(t, e.HydrateModel(context.Background(), "dl", 0, 3, srv.URL))
	assert.Equal(t, int64(1), hits.Load(), "existing cache file must short-circuit")

	raw, err := os.ReadFile(filepath.Join(dir, "dl_0_3.shard"))
	require.NoError(t, err)
	assert.Equal(t, []byte("model-bytes"), raw)
}

func TestCapabilitiesListCachedModels(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeShardFile(t, dir, "hash_a", 0, 3)
	writeShardFile(t, dir, "hash_a", 4, 7)
	writeShardFile(t, dir, "hash_b", 0, 3)

	e := newTestEngine(t, nil, dir)
	caps := e.Capabilities()
	assert.ElementsMatch(t, []string{"hash_a", "hash_b"}, caps.CachedModels)
	assert.Contains(t, caps.Backends, "cpu")
	assert.Greater(t, caps.MaxModelSizeMb, int64(0))
}
