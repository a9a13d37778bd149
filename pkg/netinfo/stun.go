// Package netinfo discovers the node's public address via STUN, best effort.
package netinfo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

// DefaultServers are tried in order until one answers.
var DefaultServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// PublicAddress queries STUN servers for the node's mapped address. The
// mapped address belongs to the probe socket and is advisory only.
func PublicAddress(ctx context.Context, servers []string, timeout time.Duration) (string, error) {
	if len(servers) == 0 {
		servers = DefaultServers
	}
	var lastErr error
	for _, server := range servers {
		addr, err := probeServer(ctx, server, timeout)
		if err != nil {
			lastErr = err
			continue
		}
		return addr, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no STUN servers configured")
	}
	return "", lastErr
}

func probeServer(ctx context.Context, server string, timeout time.Duration) (string, error) {
	uriStr := strings.TrimSpace(server)
	if uriStr == "" {
		return "", fmt.Errorf("empty STUN server")
	}
	if !strings.HasPrefix(uriStr, "stun:") {
		uriStr = "stun:" + uriStr
	}
	uri, err := stun.ParseURI(uriStr)
	if err != nil {
		return "", err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return "", err
	}
	defer client.Close()

	msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	result := make(chan stun.XORMappedAddress, 1)
	fail := make(chan error, 1)

	go func() {
		var addr stun.XORMappedAddress
		err := client.Do(msg, func(res stun.Event) {
			if res.Error != nil {
				fail <- res.Error
				return
			}
			if err := addr.GetFrom(res.Message); err != nil {
				fail <- err
				return
			}
			result <- addr
		})
		if err != nil {
			fail <- err
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case addr := <-result:
		return addr.String(), nil
	case err := <-fail:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
