package socket

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-logr/logr"
)

// DialRetryConfig controls DialWithRetry's backoff. Grounded on the
// teacher's webhook registration retry idiom (internal/webhook/config.go's
// retry(remaining, f)): a fixed delay between a bounded number of
// attempts, since the extension host child process may still be starting
// its listener when the bridge first tries to connect.
type DialRetryConfig struct {
	Network string
	Address string
	Retries int
	Delay   time.Duration
}

// DefaultDialRetryConfig is tuned for a freshly-spawned child process.
func DefaultDialRetryConfig(network, address string) DialRetryConfig {
	return DialRetryConfig{Network: network, Address: address, Retries: 5, Delay: 500 * time.Millisecond}
}

// DialWithRetry dials cfg.Network/cfg.Address, making at most cfg.Retries
// attempts in total (at least one) with a fixed delay between them. It returns the
// first successful net.Conn, or the last dial error once retries are
// exhausted. The context may cancel an in-progress wait between attempts.
func DialWithRetry(ctx context.Context, cfg DialRetryConfig, log logr.Logger) (net.Conn, error) {
	var dialer net.Dialer
	var lastErr error
	attempts := cfg.Retries
	if attempts <= 0 {
		attempts = 1
	}
	for remaining := attempts; remaining > 0; remaining-- {
		log.V(1).Info("dialing", "network", cfg.Network, "address", cfg.Address, "remaining", remaining)
		conn, err := dialer.DialContext(ctx, cfg.Network, cfg.Address)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.V(1).Info("dial failed", "error", err, "remaining", remaining-1)
		if remaining == 1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.Delay):
		}
	}
	return nil, fmt.Errorf("socket: dial %s %s: %w", cfg.Network, cfg.Address, lastErr)
}
