// File: protocol/handshake.go
// Package protocol implements the server side of the WebSocket opening handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Validates the HTTP/1.1 Upgrade request, derives Sec-WebSocket-Accept and
// serializes the 101 Switching Protocols response.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/momentics/hioload-broadcast/api"
)

// Constants used for handshake processing.
const (
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketVer    = "Sec-WebSocket-Version"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
	RequiredWebSocketVersion = "13"
	MaxHandshakeHeadersSize  = 8192
)

// Errors for handshake validation. They reach callers wrapped in *api.HandshakeError.
var (
	ErrInvalidUpgradeHeaders = errors.New("invalid WebSocket upgrade headers")
	ErrMissingWebSocketKey   = errors.New("missing Sec-WebSocket-Key header")
	ErrBadWebSocketVersion   = errors.New("unsupported WebSocket version; only '13' is supported")
	ErrHeadersTooLarge       = errors.New("handshake headers too large")
)

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
func ComputeAcceptKey(clientKey string) string {
	hash := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// IsUpgradeRequest reports whether r asks to switch to the websocket protocol.
// Requests that don't are plain HTTP and never become connections.
func IsUpgradeRequest(r *http.Request) bool {
	return headerContainsToken(r.Header, HeaderUpgrade, "websocket")
}

// ValidateUpgrade checks the upgrade headers of r and returns the client key.
// The version header is only enforced when strictVersion is set.
func ValidateUpgrade(r *http.Request, strictVersion bool) (string, error) {
	total := 0
	for k, vs := range r.Header {
		total += len(k)
		for _, v := range vs {
			total += len(v)
		}
		if total > MaxHandshakeHeadersSize {
			return "", &api.HandshakeError{Reason: "headers", Err: ErrHeadersTooLarge}
		}
	}

	if r.Method != http.MethodGet {
		return "", &api.HandshakeError{Reason: "method " + r.Method, Err: ErrInvalidUpgradeHeaders}
	}
	if !headerContainsToken(r.Header, HeaderConnection, "upgrade") ||
		!headerContainsToken(r.Header, HeaderUpgrade, "websocket") {
		return "", &api.HandshakeError{Reason: "upgrade tokens", Err: ErrInvalidUpgradeHeaders}
	}

	key := strings.TrimSpace(r.Header.Get(HeaderSecWebSocketKey))
	if key == "" {
		return "", &api.HandshakeError{Reason: "key", Err: ErrMissingWebSocketKey}
	}

	if strictVersion && r.Header.Get(HeaderSecWebSocketVer) != RequiredWebSocketVersion {
		return "", &api.HandshakeError{Reason: "version", Err: ErrBadWebSocketVersion}
	}
	return key, nil
}

// WriteHandshakeResponse writes the literal 101 response block carrying accept.
func WriteHandshakeResponse(w io.Writer, accept string) error {
	var sb strings.Builder
	sb.Grow(128)
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString(HeaderSecWebSocketAccept + ": " + accept + "\r\n")
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// headerContainsToken checks if headerName contains the given token, case-insensitive.
func headerContainsToken(h http.Header, headerName, token string) bool {
	vals := h[http.CanonicalHeaderKey(headerName)]
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
