package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshnode/pkg/api"
	"meshnode/pkg/events"
	"meshnode/pkg/model"
)

// workPollInterval is the pause between pull requests when the coordinator's
// queue is empty or a request fails.
const workPollInterval = 10 * time.Second

// workLoop runs one connected session: the command loop reads the stream
// inline while heartbeat, compute, scout and log-flush goroutines run beside
// it. Any exit tears the whole session down.
func (c *Core) workLoop(ctx context.Context) error {
	st, err := c.dialStream(ctx)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the pending read when the session ends for any reason.
	go func() {
		<-loopCtx.Done()
		st.Close()
	}()

	// Token expiry forces a fresh registration rather than limping on with
	// rejected requests.
	expiry := c.sessionExpiry()
	if !expiry.IsZero() {
		go func() {
			t := time.NewTimer(time.Until(expiry))
			defer t.Stop()
			select {
			case <-loopCtx.Done():
			case <-t.C:
				c.log.Info("session token expired, re-registering")
				cancel()
			}
		}()
	}

	c.flushJournal(loopCtx)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); st.flushLogs(loopCtx) }()
	go func() { defer wg.Done(); c.heartbeatLoop(loopCtx, st) }()
	go func() { defer wg.Done(); c.computeLoop(loopCtx, st) }()
	go func() { defer wg.Done(); c.scoutLoop(loopCtx, st) }()

	err = c.commandLoop(loopCtx, st)
	cancel()
	wg.Wait()
	return err
}

// flushJournal resubmits results recorded while the coordinator was
// unreachable. A transport failure stops the pass; the rest stays journaled.
func (c *Core) flushJournal(ctx context.Context) {
	pending := c.journal.PendingResults(c.id.NodeID)
	if len(pending) == 0 {
		return
	}
	c.log.Info("resubmitting journaled results", zap.Int("count", len(pending)))
	for _, res := range pending {
		accepted, reason, err := c.submitResult(ctx, res)
		if err != nil {
			c.log.Warn("journal flush interrupted", zap.Error(err))
			return
		}
		if !accepted {
			c.log.Warn("journaled result rejected", zap.String("shard", res.ShardID), zap.String("reason", reason))
		}
		c.journal.MarkSubmitted(res.ShardID)
	}
}

// heartbeatLoop pushes a status report on every tick, holding off while the
// user is at the machine.
func (c *Core) heartbeatLoop(ctx context.Context, st *stream) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.gate.WaitForIdle(ctx); err != nil {
				return
			}
			report := api.StatusReport{
				NodeID:        c.id.NodeID,
				CPULoad:       c.gate.CPULoad(),
				PublicAddress: c.publicAddress(ctx),
				Timestamp:     time.Now().UTC(),
			}
			if snap, ok := c.monitor.Latest(); ok {
				report.RAMUsedMb = snap.Memory.TotalMb - snap.Memory.AvailableMb
				report.HealthScore = snap.HealthScore
				report.Autonomy = snap.Autonomy.String()
			}
			if err := st.send(api.NewMessage(api.MsgStatus, report)); err != nil {
				c.log.Debug("heartbeat send failed", zap.Error(err))
			}
		}
	}
}

// computeLoop pulls shards while the role allows it, the user is away and
// the node is not in survival mode. Role changes take effect on the next
// iteration without reconnecting.
func (c *Core) computeLoop(ctx context.Context, st *stream) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if !c.Role().RunsCompute() {
			if err := sleepCtx(ctx, workPollInterval); err != nil {
				return
			}
			continue
		}
		if err := c.gate.WaitForIdle(ctx); err != nil {
			return
		}
		if snap, ok := c.monitor.Latest(); ok && snap.Autonomy == model.AutonomySurvival {
			c.log.Debug("skipping work pull in survival mode")
			if err := sleepCtx(ctx, workPollInterval); err != nil {
				return
			}
			continue
		}

		shard, err := c.requestShard(ctx)
		if err != nil {
			c.log.Debug("shard request failed", zap.Error(err))
			if err := sleepCtx(ctx, workPollInterval); err != nil {
				return
			}
			continue
		}
		if shard == nil {
			if err := sleepCtx(ctx, workPollInterval); err != nil {
				return
			}
			continue
		}
		c.processAndSubmit(ctx, st, *shard, false)
	}
}

// processAndSubmit executes a shard, signs the output and delivers the
// result. Pushed shards answer over the stream; pulled shards post back.
// Failed deliveries land in the journal for the next session.
func (c *Core) processAndSubmit(ctx context.Context, st *stream, shard model.ComputeShard, viaStream bool) {
	start := time.Now()
	out, info, err := c.engine.ProcessShard(ctx, shard)
	if err != nil {
		c.log.Error("shard processing failed", zap.String("shard", shard.ID), zap.Error(err))
		return
	}
	res := model.ShardResult{
		ShardID:           shard.ID,
		NodeID:            c.id.NodeID,
		OutputData:        out,
		ComputeTimeMs:     time.Since(start).Milliseconds(),
		Signature:         c.id.Sign(out),
		ExecutionProvider: info.Provider,
		MemoryUsedMb:      info.MemoryUsedMb,
	}

	// ShardsServed is counted inside the engine; only timing is recorded here.
	c.meter.ComputeMillis.Observe(float64(res.ComputeTimeMs))
	c.bus.Publish(events.Event{Type: events.ShardProcessed, Data: res})
	st.pushLog(fmt.Sprintf("shard %s done in %dms via %s", shard.ID, res.ComputeTimeMs, res.ExecutionProvider))

	if viaStream {
		if err := st.send(api.NewMessage(api.MsgResult, res)); err != nil {
			c.log.Warn("result send failed, journaling", zap.String("shard", shard.ID), zap.Error(err))
			c.journal.RecordResult(res, false)
		}
		return
	}

	accepted, reason, err := c.submitResult(ctx, res)
	switch {
	case err != nil:
		c.log.Warn("result submit failed, journaling", zap.String("shard", shard.ID), zap.Error(err))
		c.journal.RecordResult(res, false)
	case !accepted:
		c.log.Warn("result rejected", zap.String("shard", shard.ID), zap.String("reason", reason))
	default:
		c.log.Info("shard result accepted",
			zap.String("shard", shard.ID),
			zap.String("provider", res.ExecutionProvider),
			zap.Int64("compute_ms", res.ComputeTimeMs),
		)
	}
}

// scoutLoop reports connectivity telemetry while the scout role is held.
// Telemetry moves slower than status, so it reports every other heartbeat.
func (c *Core) scoutLoop(ctx context.Context, st *stream) {
	ticker := time.NewTicker(2 * c.cfg.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.Role().RunsScouting() {
				continue
			}
			c.sendTelemetry(ctx, st)
		}
	}
}

func (c *Core) sendTelemetry(ctx context.Context, st *stream) {
	t := api.Telemetry{
		NodeID:        c.id.NodeID,
		PublicAddress: c.publicAddress(ctx),
		Timestamp:     time.Now().UTC(),
	}
	if snap, ok := c.monitor.Latest(); ok {
		t.Online = snap.Network.Online
		t.WifiSignalDbm = snap.Network.WifiSignalDbm
	}
	if err := st.send(api.NewMessage(api.MsgTelemetry, t)); err != nil {
		c.log.Debug("telemetry send failed", zap.Error(err))
	}
}
