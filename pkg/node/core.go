// Package node implements the node's runtime: the registration/reconnection
// state machine, the concurrent work loops gated by the stealth gate, inbound
// command dispatch, offline survival and the self-update handoff.
package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"meshnode/pkg/api"
	"meshnode/pkg/auth"
	"meshnode/pkg/compute"
	"meshnode/pkg/config"
	"meshnode/pkg/events"
	"meshnode/pkg/identity"
	"meshnode/pkg/metrics"
	"meshnode/pkg/model"
	"meshnode/pkg/resource"
)

// Gate is the stealth gate surface the core needs: blocking until the user
// is away and reporting the smoothed CPU load.
type Gate interface {
	WaitForIdle(ctx context.Context) error
	CPULoad() float64
}

// errTerminated signals a clean shutdown ordered by the coordinator.
var errTerminated = errors.New("terminate command received")

const defaultUpdateGrace = 30 * time.Second

// Deps are the node core's collaborators, owned by the caller.
type Deps struct {
	Log      *zap.Logger
	Identity *identity.Identity
	Specs    model.HardwareSpecs
	Gate     Gate
	Engine   *compute.Engine
	Monitor  *resource.Monitor
	Bus      *events.Bus
	Journal  *Journal
	Metrics  *metrics.Metrics
}

// Core is the top of the dependency graph. All connection state lives here,
// never persisted.
type Core struct {
	cfg     config.Config
	log     *zap.Logger
	id      *identity.Identity
	specs   model.HardwareSpecs
	gate    Gate
	engine  *compute.Engine
	monitor *resource.Monitor
	bus     *events.Bus
	journal *Journal
	meter   *metrics.Metrics
	client  *http.Client

	startedAt   time.Time
	updateGrace time.Duration
	addrProbe   func(ctx context.Context) string

	mu                sync.RWMutex
	state             model.ConnectionState
	role              model.Role
	session           auth.SessionToken
	mesh              api.MeshState
	reconnectAttempts int
	pubAddr           string
	addrProbed        bool
}

// New wires the core. Every dependency except Journal must be non-nil; a
// nil Journal disables survival persistence but nothing else.
func New(cfg config.Config, d Deps) *Core {
	c := &Core{
		cfg:         cfg,
		log:         d.Log,
		id:          d.Identity,
		specs:       d.Specs,
		gate:        d.Gate,
		engine:      d.Engine,
		monitor:     d.Monitor,
		bus:         d.Bus,
		journal:     d.Journal,
		meter:       d.Metrics,
		client:      &http.Client{Timeout: 60 * time.Second},
		startedAt:   time.Now(),
		updateGrace: defaultUpdateGrace,
		state:       model.StateDisconnected,
		role:        model.RoleGeneral,
	}
	c.addrProbe = c.defaultAddrProbe
	return c
}

// State returns the current connection state.
func (c *Core) State() model.ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Core) setState(s model.ConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.log.Info("connection state changed", zap.Stringer("from", prev), zap.Stringer("to", s))
		c.bus.Publish(events.Event{Type: events.StateChanged, Data: s})
	}
}

// Role returns the currently assigned role.
func (c *Core) Role() model.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Core) setRole(r model.Role) {
	c.mu.Lock()
	prev := c.role
	c.role = r
	c.mu.Unlock()
	if prev != r {
		c.log.Info("role changed", zap.String("from", string(prev)), zap.String("to", string(r)))
		c.bus.Publish(events.Event{Type: events.RoleChanged, Data: r})
	}
}

// ReconnectAttempts reports the consecutive-failure counter.
func (c *Core) ReconnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnectAttempts
}

// bearer picks the session token when valid, falling back to the static
// auth token.
func (c *Core) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session.Valid(time.Now()) {
		return c.session.Raw
	}
	return c.cfg.AuthToken
}

func (c *Core) sessionExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.ExpiresAt
}

// Run drives the connect/work/reconnect cycle until ctx is cancelled or the
// coordinator orders termination. Resource intelligence and the journal keep
// working regardless of connection state.
func (c *Core) Run(ctx context.Context) error {
	defer c.setState(model.StateShuttingDown)

	go c.alertLoop(ctx)

	bo := newReconnectBackoff()
	offline := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.setState(model.StateConnecting)
		registered, err := c.runSession(ctx)
		if registered {
			offline = false
			bo.Reset()
			c.mu.Lock()
			c.reconnectAttempts = 0
			c.mu.Unlock()
		}
		switch {
		case errors.Is(err, errTerminated):
			c.log.Info("terminated by coordinator")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			return nil
		}
		c.log.Warn("session ended", zap.Error(err))

		if offline {
			if err := sleepCtx(ctx, c.cfg.OfflineRetry()); err != nil {
				return err
			}
			continue
		}

		c.mu.Lock()
		c.reconnectAttempts++
		attempts := c.reconnectAttempts
		c.mu.Unlock()

		if attempts >= c.cfg.MaxReconnects {
			c.log.Warn("reconnect ceiling reached, entering offline mode", zap.Int("attempts", attempts))
			c.setState(model.StateOffline)
			c.mu.Lock()
			c.reconnectAttempts = 0
			c.mu.Unlock()
			bo.Reset()
			offline = true
			if err := sleepCtx(ctx, c.cfg.OfflineRetry()); err != nil {
				return err
			}
			continue
		}

		delay := bo.NextBackOff()
		c.log.Info("reconnecting", zap.Int("attempt", attempts), zap.Duration("delay", delay))
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}

// runSession performs one register + work-loop cycle. The returned bool
// reports whether registration succeeded.
func (c *Core) runSession(ctx context.Context) (bool, error) {
	resp, err := c.register(ctx)
	if err != nil {
		return false, fmt.Errorf("register: %w", err)
	}
	if !resp.Accepted {
		if strings.Contains(strings.ToLower(resp.Reason), "outdated") {
			c.log.Warn("registration rejected for outdated version, signalling update")
			if err := c.selfUpdate(ctx, api.CommandUpdate{}); err != nil {
				return false, err
			}
		}
		return false, fmt.Errorf("registration rejected: %s", resp.Reason)
	}

	role := resp.Role
	if role == "" {
		role = model.RoleGeneral
	}
	c.mu.Lock()
	c.session = auth.Parse(resp.SessionToken)
	c.mesh = resp.Mesh
	c.mu.Unlock()
	c.setRole(role)
	c.setState(model.StateConnected)
	c.log.Info("registered with coordinator",
		zap.String("role", string(role)),
		zap.Int("mesh_nodes", resp.Mesh.NodeCount),
		zap.Int64("epoch", resp.Mesh.Epoch),
	)

	return true, c.workLoop(ctx)
}

// alertLoop journals critical alerts for the process lifetime, connected or
// not.
func (c *Core) alertLoop(ctx context.Context) {
	ch := c.bus.Subscribe(events.AlertRaised)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			alert, isAlert := ev.Data.(model.Alert)
			if !isAlert {
				continue
			}
			if alert.Severity == model.SeverityCritical {
				c.journal.RecordAlert(alert)
				c.log.Warn("critical resource alert",
					zap.String("category", alert.Category),
					zap.String("message", alert.Message),
				)
			}
		}
	}
}
