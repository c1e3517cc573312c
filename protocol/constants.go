// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket wire protocol constants

package protocol

const (
	// WebSocketGUID is appended to the client key before hashing (RFC 6455, 1.3).
	WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

	// Frame limit settings
	MaxControlPayloadLen = 125
	MaxFrameHeaderLen    = 14 // 2 + 8 extended length + 4 mask key

	// DefaultMaxPayload bounds a single inbound frame unless the caller picks another limit.
	DefaultMaxPayload = 16 << 20

	// Bit masks
	FinBit    = 0x80
	MaskBit   = 0x80
	opcodeMsk = 0x0F
	lenMsk    = 0x7F

	// Length escapes in the second header byte
	len16 = 126
	len64 = 127

	// Close codes
	CloseNormalClosure   = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseUnsupportedData = 1003
	CloseMessageTooBig   = 1009
	CloseTryAgainLater   = 1013
)
