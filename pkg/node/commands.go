package node

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"meshnode/pkg/api"
	"meshnode/pkg/events"
	"meshnode/pkg/model"
)

// commandLoop is the stream's sole reader. Commands are handled in arrival
// order; only compute and hydration run detached so a long task does not
// stall later commands.
func (c *Core) commandLoop(ctx context.Context, st *stream) error {
	for {
		msg, err := st.read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read: %w", err)
		}
		if err := c.dispatch(ctx, st, msg); err != nil {
			return err
		}
	}
}

func (c *Core) dispatch(ctx context.Context, st *stream, msg api.Message) error {
	switch msg.Type {
	case api.CmdExecuteTask:
		var cmd api.CommandExecute
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.log.Warn("malformed execute command", zap.Error(err))
			return nil
		}
		go c.processAndSubmit(ctx, st, cmd.Shard, true)

	case api.CmdTriggerUpdate:
		var cmd api.CommandUpdate
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.log.Warn("malformed update command", zap.Error(err))
			return nil
		}
		return c.selfUpdate(ctx, cmd)

	case api.CmdHydrateShard:
		var cmd api.CommandHydrate
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.log.Warn("malformed hydrate command", zap.Error(err))
			return nil
		}
		go func() {
			if err := c.engine.HydrateModel(ctx, cmd.ModelHash, cmd.StartLayer, cmd.EndLayer, cmd.SourceURL); err != nil {
				c.log.Warn("shard hydration failed", zap.String("model", cmd.ModelHash), zap.Error(err))
				return
			}
			st.pushLog(fmt.Sprintf("hydrated %s layers %d-%d", cmd.ModelHash, cmd.StartLayer, cmd.EndLayer))
		}()

	case api.CmdChangeRole:
		var cmd api.CommandRole
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.log.Warn("malformed role command", zap.Error(err))
			return nil
		}
		c.setRole(cmd.Role)

	case api.CmdIntroducePeer:
		var cmd api.CommandPeer
		if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
			c.log.Warn("malformed peer command", zap.Error(err))
			return nil
		}
		peer := model.Peer{NodeID: cmd.NodeID, Address: cmd.Address, IntroducedAt: time.Now().UTC()}
		c.log.Info("peer introduced", zap.String("peer", peer.NodeID), zap.String("address", peer.Address))
		c.journal.RecordPeer(peer)
		c.bus.Publish(events.Event{Type: events.PeerIntroduced, Data: peer})

	case api.CmdRequestLocation:
		c.sendTelemetry(ctx, st)

	case api.CmdTerminate:
		return errTerminated

	default:
		c.log.Debug("ignoring unknown command", zap.String("type", msg.Type))
	}
	return nil
}
