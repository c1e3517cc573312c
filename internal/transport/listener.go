// File: internal/transport/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP listener construction with platform socket options.

package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// ListenConfig controls listener socket options.
type ListenConfig struct {
	ReuseAddr bool
	ReusePort bool
	KeepAlive time.Duration
}

// DefaultListenConfig returns the options used by the server.
func DefaultListenConfig() ListenConfig {
	return ListenConfig{
		ReuseAddr: true,
		KeepAlive: 30 * time.Second,
	}
}

// Listen opens a TCP listener on addr with cfg applied before bind.
func Listen(ctx context.Context, addr string, cfg ListenConfig) (net.Listener, error) {
	lc := net.ListenConfig{
		KeepAlive: cfg.KeepAlive,
		Control:   socketControl(cfg),
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}
