//go:build !linux

// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "syscall"

// socketControl is a no-op outside Linux; the runtime defaults apply.
func socketControl(cfg ListenConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}
