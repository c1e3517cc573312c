// internal/transport/transport_linux.go
//go:build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket options applied to listening sockets via x/sys/unix.

package transport

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl returns a net.ListenConfig Control hook setting cfg's options.
func socketControl(cfg ListenConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			if cfg.ReuseAddr {
				if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
					serr = fmt.Errorf("SO_REUSEADDR: %w", serr)
					return
				}
			}
			if cfg.ReusePort {
				if serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); serr != nil {
					serr = fmt.Errorf("SO_REUSEPORT: %w", serr)
					return
				}
			}
			// Accepted sockets inherit TCP_NODELAY; frames are small and latency bound.
			if serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); serr != nil {
				serr = fmt.Errorf("TCP_NODELAY: %w", serr)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
