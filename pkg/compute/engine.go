// Package compute owns the node's shard-based inference engine: a bounded
// cache of loaded model shards, a download path to hydrate shard files, and
// a deterministic fallback so the pipeline keeps functioning before model
// data has propagated to this node.
package compute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"meshnode/pkg/hardware"
	"meshnode/pkg/metrics"
	"meshnode/pkg/model"
)

const defaultCacheSize = 32

// ExecutionInfo describes how a shard was actually executed.
type ExecutionInfo struct {
	Provider     string
	MemoryUsedMb int64
}

// Engine is safe for concurrent use. Population is at-most-once per key via
// mu; each resident shard carries a reference count so eviction cannot close
// a session while inference still runs on it.
type Engine struct {
	log       *zap.Logger
	rt        Runtime
	dir       string
	providers []string
	caps      model.ComputeCapabilities
	counters  *metrics.Metrics
	client    *http.Client

	mu    sync.Mutex // serializes shard loads, not cache reads
	cache *lru.Cache[shardKey, *residentShard]
}

// NewEngine builds an engine over cacheDir. rt may be nil, in which case
// every shard takes the fallback path. Capabilities are computed once here.
func NewEngine(log *zap.Logger, rt Runtime, cacheDir string, specs model.HardwareSpecs, cacheSize int, counters *metrics.Metrics) (*Engine, error) {
	if rt == nil {
		rt = unavailableRuntime{}
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	e := &Engine{
		log:       log,
		rt:        rt,
		dir:       cacheDir,
		providers: orderProviders(specs.Backend, rt.Providers()),
		counters:  counters,
		client:    &http.Client{Timeout: 5 * time.Minute},
	}

	cache, err := lru.NewWithEvict(cacheSize, func(_ shardKey, res *residentShard) {
		res.evict()
	})
	if err != nil {
		return nil, err
	}
	e.cache = cache

	e.caps = model.ComputeCapabilities{
		Backends:       e.providers,
		CachedModels:   e.scanCachedModels(),
		MaxModelSizeMb: maxModelSizeMb(specs),
		MaxBatch:       8,
	}
	return e, nil
}

// orderProviders merges the audited backend's preference order with the
// runtime's advertised providers: preferred backend first, runtime extras in
// the middle, cpu last.
func orderProviders(preferred string, available []string) []string {
	out := make([]string, 0, len(available)+1)
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	pref := hardware.ProviderPreference(preferred)
	for _, p := range pref[:len(pref)-1] {
		add(p)
	}
	for _, p := range available {
		if p != hardware.BackendCPU {
			add(p)
		}
	}
	add(pref[len(pref)-1]) // cpu, the preference list's guaranteed tail
	return out
}

func maxModelSizeMb(specs model.HardwareSpecs) int64 {
	limit := specs.RAMMb / 2
	if specs.HasGPU && specs.GPUMemoryMb > 0 && specs.GPUMemoryMb < limit {
		limit = specs.GPUMemoryMb
	}
	if limit < 512 {
		limit = 512
	}
	return limit
}

// scanCachedModels lists distinct model hashes with shard files on disk.
func (e *Engine) scanCachedModels() []string {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil
	}
	seen := map[string]bool{}
	var hashes []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".shard") {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(name, ".shard"), "_")
		if len(parts) < 3 {
			continue
		}
		hash := strings.Join(parts[:len(parts)-2], "_")
		if !seen[hash] {
			seen[hash] = true
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// Capabilities returns the summary computed at construction.
func (e *Engine) Capabilities() model.ComputeCapabilities { return e.caps }

// ProcessShard resolves the model shard for the request and runs inference,
// returning raw output bytes and execution metadata.
func (e *Engine) ProcessShard(ctx context.Context, shard model.ComputeShard) ([]byte, ExecutionInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, ExecutionInfo{}, err
	}
	key := shardKey{modelHash: shard.ModelHash, startLayer: shard.StartLayer, endLayer: shard.EndLayer}

	resident, err := e.resolve(key)
	if err != nil {
		return nil, ExecutionInfo{}, err
	}
	defer resident.release()

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	out, err := resident.shard.Infer(shard.InputData)
	if err != nil {
		return nil, ExecutionInfo{}, fmt.Errorf("inference %s: %w", key, err)
	}
	runtime.ReadMemStats(&after)

	info := ExecutionInfo{Provider: resident.shard.Provider()}
	if after.HeapAlloc > before.HeapAlloc {
		info.MemoryUsedMb = int64((after.HeapAlloc - before.HeapAlloc) / (1 << 20))
	}

	if e.counters != nil {
		e.counters.ShardsServed.Inc()
		if info.Provider == fallbackProvider {
			e.counters.FallbackRuns.Inc()
		}
	}
	return out, info, nil
}

// resolve returns the resident shard for key with a reference already held,
// loading it at most once even under concurrent callers: lock-free cache
// read, then the engine lock with a re-check before the expensive load. A
// shard the fast path finds mid-eviction fails acquire and falls through to
// the locked path, where evictions cannot run concurrently.
func (e *Engine) resolve(key shardKey) (*residentShard, error) {
	if res, ok := e.cache.Get(key); ok && res.acquire() {
		return res, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if res, ok := e.cache.Get(key); ok && res.acquire() {
		// a concurrent caller won the race and already paid the load cost
		return res, nil
	}

	res := &residentShard{key: key, shard: e.loadShard(key), log: e.log}
	res.acquire() // the caller's reference, held before eviction can see it
	e.cache.Add(key, res)
	if e.counters != nil {
		e.counters.ShardLoads.Inc()
	}
	return res, nil
}

// loadShard loads the shard file when one is cached on disk, trying execution
// providers in preference order. Missing or unloadable files yield the
// deterministic fallback: availability over strict correctness.
func (e *Engine) loadShard(key shardKey) modelShard {
	path := filepath.Join(e.dir, key.fileName())
	if _, err := os.Stat(path); err != nil {
		e.log.Debug("shard file not cached, using fallback", zap.String("shard", key.String()))
		return &fallbackShard{startLayer: key.startLayer, endLayer: key.endLayer}
	}

	var lastErr error
	for _, provider := range e.providers {
		session, err := e.rt.Load(path, provider)
		if err != nil {
			lastErr = err
			continue
		}
		e.log.Info("model shard loaded",
			zap.String("shard", key.String()),
			zap.String("provider", provider),
		)
		return &realShard{session: session, provider: provider}
	}

	e.log.Warn("all providers failed, using fallback",
		zap.String("shard", key.String()),
		zap.Error(lastErr),
	)
	return &fallbackShard{startLayer: key.startLayer, endLayer: key.endLayer}
}

// Preload forces a shard resident without running inference.
func (e *Engine) Preload(modelHash string, startLayer, endLayer int) error {
	res, err := e.resolve(shardKey{modelHash: modelHash, startLayer: startLayer, endLayer: endLayer})
	if err != nil {
		return err
	}
	res.release()
	return nil
}

// HydrateModel downloads a shard file into the cache directory. Idempotent:
// an existing file short-circuits the download.
func (e *Engine) HydrateModel(ctx context.Context, modelHash string, startLayer, endLayer int, sourceURL string) error {
	key := shardKey{modelHash: modelHash, startLayer: startLayer, endLayer: endLayer}
	path := filepath.Join(e.dir, key.fileName())
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build hydrate request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("hydrate %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("hydrate %s: source returned %s", key, resp.Status)
	}

	tmp, err := os.CreateTemp(e.dir, "hydrate-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("commit shard file: %w", err)
	}
	e.log.Info("model shard hydrated", zap.String("shard", key.String()))
	return nil
}

// UnloadAll disposes every cached shard and clears the cache. Shards with
// inference in flight close when their last user releases them.
func (e *Engine) UnloadAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache.Purge() // evict callback closes each idle shard
}

// CachedShards reports how many shards are resident.
func (e *Engine) CachedShards() int {
	return e.cache.Len()
}
