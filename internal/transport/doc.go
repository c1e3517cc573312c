// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stream transport for upgraded connections. Wraps a hijacked net.Conn as an
// api.Transport with pooled read buffers, and builds TCP listeners with
// socket options applied through golang.org/x/sys on Linux.

package transport
