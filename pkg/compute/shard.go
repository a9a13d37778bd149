package compute

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// shardKey identifies a cached model shard.
type shardKey struct {
	modelHash  string
	startLayer int
	endLayer   int
}

func (k shardKey) fileName() string {
	return fmt.Sprintf("%s_%d_%d.shard", k.modelHash, k.startLayer, k.endLayer)
}

func (k shardKey) String() string {
	return fmt.Sprintf("%s[%d:%d]", k.modelHash, k.startLayer, k.endLayer)
}

// modelShard is a resident shard: either a real loaded model or the
// deterministic fallback.
type modelShard interface {
	Infer(input []byte) ([]byte, error)
	Provider() string
	Close() error
}

// realShard wraps a runtime session.
type realShard struct {
	session  Session
	provider string
}

func (r *realShard) Infer(input []byte) ([]byte, error) { return r.session.Run(input) }
func (r *realShard) Provider() string                   { return r.provider }
func (r *realShard) Close() error                       { return r.session.Close() }

// residentShard pairs a loaded shard with a reference count so cache
// eviction never closes a session that still has inference in flight. The
// underlying session closes once the shard is evicted AND the last user
// releases it.
type residentShard struct {
	key   shardKey
	shard modelShard
	log   *zap.Logger

	mu      sync.Mutex
	refs    int
	evicted bool
	closed  bool
}

// acquire takes a reference. False means eviction already closed the
// session and the caller must re-resolve.
func (r *residentShard) acquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.refs++
	return true
}

// release drops a reference, closing the session if it was evicted while
// this user held it.
func (r *residentShard) release() {
	r.mu.Lock()
	r.refs--
	closeNow := r.evicted && !r.closed && r.refs == 0
	if closeNow {
		r.closed = true
	}
	r.mu.Unlock()
	if closeNow {
		r.closeShard()
	}
}

// evict marks the shard dead for new users. The close is immediate only
// when no inference holds a reference.
func (r *residentShard) evict() {
	r.mu.Lock()
	r.evicted = true
	closeNow := !r.closed && r.refs == 0
	if closeNow {
		r.closed = true
	}
	r.mu.Unlock()
	if closeNow {
		r.closeShard()
	}
}

func (r *residentShard) closeShard() {
	if err := r.shard.Close(); err != nil {
		r.log.Warn("closing shard", zap.String("shard", r.key.String()), zap.Error(err))
	}
}
