package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"meshnode/pkg/api"
	"meshnode/pkg/model"
	"meshnode/pkg/netinfo"
	"meshnode/pkg/version"
)

const addressProbeTimeout = 3 * time.Second

// postJSON posts payload and decodes the response into out.
func (c *Core) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Coordinator+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("coordinator returned %s body=%s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// buildManifest assembles the registration request from identity, audited
// hardware and engine capabilities.
func (c *Core) buildManifest(ctx context.Context) api.RegistrationRequest {
	specs := c.specs
	specs.CPULoad = c.gate.CPULoad()

	return api.RegistrationRequest{
		NodeID:        c.id.NodeID,
		PublicKey:     c.id.PublicKey,
		Version:       version.Build,
		Specs:         specs,
		Compute:       c.engine.Capabilities(),
		PublicAddress: c.publicAddress(ctx),
		StartedAt:     c.startedAt,
	}
}

// publicAddress returns the STUN-discovered address, probing once per
// process and caching the answer. Probe failure yields an empty string.
func (c *Core) publicAddress(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addrProbed {
		return c.pubAddr
	}
	c.addrProbed = true
	c.pubAddr = c.addrProbe(ctx)
	return c.pubAddr
}

func (c *Core) defaultAddrProbe(ctx context.Context) string {
	addr, err := netinfo.PublicAddress(ctx, c.cfg.StunServers, addressProbeTimeout)
	if err != nil {
		c.log.Debug("public address probe failed")
		return ""
	}
	return addr
}

// register submits the manifest to the coordinator.
func (c *Core) register(ctx context.Context) (api.RegistrationResponse, error) {
	var resp api.RegistrationResponse
	err := c.postJSON(ctx, "/api/v1/nodes/register", c.buildManifest(ctx), &resp)
	return resp, err
}

// requestShard asks for work; nil shard means the queue is empty.
func (c *Core) requestShard(ctx context.Context) (*model.ComputeShard, error) {
	var resp api.ShardResponse
	if err := c.postJSON(ctx, "/api/v1/shards/request", api.ShardRequest{NodeID: c.id.NodeID}, &resp); err != nil {
		return nil, err
	}
	if !resp.Available {
		return nil, nil
	}
	return resp.Shard, nil
}

// submitResult delivers a signed shard result. A coordinator rejection is
// reported via accepted/reason, not as an error.
func (c *Core) submitResult(ctx context.Context, res model.ShardResult) (bool, string, error) {
	var resp api.SubmitResponse
	if err := c.postJSON(ctx, "/api/v1/shards/submit", res, &resp); err != nil {
		return false, "", err
	}
	return resp.Accepted, resp.Reason, nil
}
