// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-broadcast/control"
	"github.com/momentics/hioload-broadcast/protocol"
)

// StatusBody is the response to plain HTTP requests.
const StatusBody = "WebSocket server is running"

// Config holds all server-side configuration parameters.
type Config struct {
	Addr              string        // TCP bind address, e.g. ":3000"
	MaxConnections    int           // 0 = unbounded
	MaxPayload        uint64        // largest accepted inbound payload
	ReadBuffer        int           // per-connection read size
	ReadHeaderTimeout time.Duration // upgrade request header deadline
	ShutdownTimeout   time.Duration // graceful shutdown timeout
	WriteTimeout      time.Duration // per-write deadline on a peer, 0 = none
	StrictVersion     bool          // require Sec-WebSocket-Version: 13
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:              ":3000",
		MaxPayload:        protocol.DefaultMaxPayload,
		ReadBuffer:        4096,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ConfigFromSettings maps loaded settings onto a Config, keeping defaults for zero values.
func ConfigFromSettings(s control.ServerSettings) *Config {
	cfg := DefaultConfig()
	cfg.Addr = s.Addr()
	cfg.MaxConnections = s.MaxConnections
	cfg.StrictVersion = s.StrictVersion
	if s.MaxPayload > 0 {
		cfg.MaxPayload = s.MaxPayload
	}
	if s.ReadBuffer > 0 {
		cfg.ReadBuffer = s.ReadBuffer
	}
	if s.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = s.ShutdownTimeout
	}
	if s.WriteTimeout > 0 {
		cfg.WriteTimeout = s.WriteTimeout
	}
	return cfg
}
