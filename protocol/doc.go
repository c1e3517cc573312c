// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the wire-level WebSocket logic (RFC 6455) for hioload-broadcast.
//
// Includes:
//   - Sec-WebSocket-Accept derivation and upgrade header validation
//   - One-shot frame decoding with masking support (client -> server)
//   - Unmasked TEXT frame encoding with 7, 16 and 64-bit length forms (server -> client)
//   - An accumulating FrameParser for streams whose reads do not align with frames
//
// Fragmentation, ping/pong and extensions are not negotiated. Everything in this
// package is synchronous and CPU-only.
package protocol
