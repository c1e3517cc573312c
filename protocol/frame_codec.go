// File: protocol/frame_codec.go
// Package protocol implements the frame codec with payload size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Decoding accepts client frames (masked or not). Encoding produces server frames,
// which are never masked unless a key is passed explicitly.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/momentics/hioload-broadcast/api"
)

// ErrPayloadTooLarge is wrapped by the FrameDecodeError for a frame whose
// declared length is over the limit.
var ErrPayloadTooLarge = errors.New("payload too large")

// header is the parsed fixed and extended part of a frame.
type header struct {
	fin     bool
	opcode  Opcode
	masked  bool
	length  uint64
	maskKey [4]byte
	size    int // header bytes including extended length and mask key
}

// readHeader parses the header at the front of raw. ok is false when raw does
// not yet hold the whole header; err is set when the header can never be valid.
func readHeader(raw []byte, limit uint64) (h header, ok bool, err error) {
	if len(raw) < 2 {
		return h, false, nil
	}
	h.fin = raw[0]&FinBit != 0
	h.opcode = Opcode(raw[0] & opcodeMsk)
	h.masked = raw[1]&MaskBit != 0
	h.length = uint64(raw[1] & lenMsk)
	h.size = 2

	switch h.length {
	case len16:
		if len(raw) < h.size+2 {
			return h, false, nil
		}
		h.length = uint64(binary.BigEndian.Uint16(raw[h.size:]))
		h.size += 2
	case len64:
		if len(raw) < h.size+8 {
			return h, false, nil
		}
		h.length = binary.BigEndian.Uint64(raw[h.size:])
		h.size += 8
		if h.length > math.MaxInt64 || h.length > uint64(math.MaxInt-MaxFrameHeaderLen) {
			return h, false, api.NewFrameDecodeError("64-bit payload length %d is not representable", h.length)
		}
	}

	if h.length > limit {
		return h, false, &api.FrameDecodeError{
			Reason: fmt.Sprintf("payload length %d exceeds limit %d", h.length, limit),
			Err:    ErrPayloadTooLarge,
		}
	}

	if h.masked {
		if len(raw) < h.size+4 {
			return h, false, nil
		}
		copy(h.maskKey[:], raw[h.size:h.size+4])
		h.size += 4
	}
	return h, true, nil
}

// frameLen is the total number of bytes the frame described by h occupies.
func (h header) frameLen() int {
	return h.size + int(h.length)
}

// build copies the payload out of raw and unmasks it.
func (h header) build(raw []byte) *Frame {
	payload := make([]byte, h.length)
	copy(payload, raw[h.size:h.frameLen()])
	if h.masked {
		MaskBytes(h.maskKey, payload)
	}
	return &Frame{
		Fin:        h.fin,
		Opcode:     h.opcode,
		Masked:     h.masked,
		PayloadLen: h.length,
		MaskKey:    h.maskKey,
		Payload:    payload,
	}
}

// DecodeFrame parses exactly one frame from the front of raw using DefaultMaxPayload.
// It returns the frame and the number of bytes consumed.
func DecodeFrame(raw []byte) (*Frame, int, error) {
	return DecodeFrameLimit(raw, DefaultMaxPayload)
}

// DecodeFrameLimit is DecodeFrame with an explicit payload limit.
// A buffer that ends before the frame does is a *api.FrameDecodeError.
func DecodeFrameLimit(raw []byte, limit uint64) (*Frame, int, error) {
	h, ok, err := readHeader(raw, limit)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, api.NewFrameDecodeError("header truncated: have %d bytes", len(raw))
	}
	if n := h.frameLen(); len(raw) < n {
		return nil, 0, api.NewFrameDecodeError("payload truncated: need %d bytes, have %d", n, len(raw))
	}
	return h.build(raw), h.frameLen(), nil
}

// EncodeTextFrame serializes msg as a single unmasked TEXT frame with FIN set.
func EncodeTextFrame(msg []byte) []byte {
	return appendFrame(make([]byte, 0, MaxFrameHeaderLen+len(msg)), OpText, msg, nil)
}

// EncodeFrame serializes a final frame of any opcode. A non-nil maskKey produces
// a client-style masked frame; payload itself is left untouched.
func EncodeFrame(op Opcode, payload []byte, maskKey *[4]byte) ([]byte, error) {
	if op > opcodeMsk {
		return nil, fmt.Errorf("encode frame: opcode 0x%x out of range", byte(op))
	}
	return appendFrame(make([]byte, 0, MaxFrameHeaderLen+len(payload)), op, payload, maskKey), nil
}

// EncodeCloseFrame builds an unmasked CLOSE frame carrying code. A zero code
// produces an empty body.
func EncodeCloseFrame(code uint16) []byte {
	if code == 0 {
		return appendFrame(make([]byte, 0, 2), OpClose, nil, nil)
	}
	return appendFrame(make([]byte, 0, 4), OpClose, binary.BigEndian.AppendUint16(nil, code), nil)
}

// CloseCode returns the status code carried by a CLOSE payload, or zero when absent.
func CloseCode(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(payload)
}

// SendableCloseCode reports whether code may be put on the wire in a CLOSE
// frame (RFC 6455 7.4). 1005, 1006 and 1015 are reserved for local use.
func SendableCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003,
		code >= 1007 && code <= 1014,
		code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// appendFrame writes header and payload to dst and returns the extended slice.
func appendFrame(dst []byte, op Opcode, payload []byte, maskKey *[4]byte) []byte {
	var maskBit byte
	if maskKey != nil {
		maskBit = MaskBit
	}
	dst = append(dst, FinBit|byte(op))

	plen := len(payload)
	switch {
	case plen <= MaxControlPayloadLen:
		dst = append(dst, maskBit|byte(plen))
	case plen <= math.MaxUint16:
		dst = append(dst, maskBit|len16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, maskBit|len64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if maskKey == nil {
		return append(dst, payload...)
	}
	dst = append(dst, maskKey[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	MaskBytes(*maskKey, dst[start:])
	return dst
}
