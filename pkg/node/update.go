package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"meshnode/pkg/api"
	"meshnode/pkg/events"
	"meshnode/pkg/version"
)

// updateSignal is what the external watchdog reads to swap the binary. The
// node never replaces its own executable.
type updateSignal struct {
	CurrentVersion string    `json:"currentVersion"`
	TargetVersion  string    `json:"targetVersion,omitempty"`
	BinaryPath     string    `json:"binaryPath,omitempty"`
	RequestedAt    time.Time `json:"requestedAt"`
}

// selfUpdate stages an update for the external watchdog: the offered binary
// (if any) is downloaded next to the signal file, the signal is written
// atomically, then the node waits a grace period for the watchdog to restart
// it. Surviving the grace means no watchdog acted; the node carries on at
// the current version.
func (c *Core) selfUpdate(ctx context.Context, cmd api.CommandUpdate) error {
	c.log.Info("self-update requested",
		zap.String("current", version.Build),
		zap.String("target", cmd.Version),
	)
	c.bus.Publish(events.Event{Type: events.UpdateRequested, Data: cmd})

	sig := updateSignal{
		CurrentVersion: version.Build,
		TargetVersion:  cmd.Version,
		RequestedAt:    time.Now().UTC(),
	}
	if cmd.BinaryURL != "" {
		staged, err := c.stageBinary(ctx, cmd.BinaryURL)
		if err != nil {
			c.log.Warn("binary staging failed, signalling without it", zap.Error(err))
		} else {
			sig.BinaryPath = staged
		}
	}
	if err := writeSignal(c.cfg.UpdateSignalPath, sig); err != nil {
		c.log.Error("update signal write failed", zap.Error(err))
		return fmt.Errorf("write update signal: %w", err)
	}

	c.log.Info("update signalled, waiting for watchdog", zap.Duration("grace", c.updateGrace))
	if err := sleepCtx(ctx, c.updateGrace); err != nil {
		return err
	}
	c.log.Warn("no restart within grace, continuing on current version", zap.String("version", version.Build))
	return nil
}

// stageBinary downloads the new executable beside the signal file.
func (c *Core) stageBinary(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch binary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch binary: %s", resp.Status)
	}

	dest := filepath.Join(filepath.Dir(c.cfg.UpdateSignalPath), "meshnode.next")
	tmp := dest + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("write binary: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dest, nil
}

func writeSignal(path string, sig updateSignal) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(sig, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
