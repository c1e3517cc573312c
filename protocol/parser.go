// File: protocol/parser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FrameParser accumulates stream bytes and yields complete frames in arrival order.
// A read may carry part of a frame, exactly one, or several; the parser handles all three.

package protocol

import (
	"github.com/eapache/queue"
)

// FrameParser is not safe for concurrent use; each connection owns one.
type FrameParser struct {
	limit  uint64
	buf    []byte
	frames *queue.Queue
}

// NewFrameParser returns a parser rejecting payloads larger than limit.
// A zero limit means DefaultMaxPayload.
func NewFrameParser(limit uint64) *FrameParser {
	if limit == 0 {
		limit = DefaultMaxPayload
	}
	return &FrameParser{
		limit:  limit,
		frames: queue.New(),
	}
}

// Feed appends chunk and decodes every frame that is now complete.
// The returned error is a *api.FrameDecodeError; the stream is unusable afterwards.
func (p *FrameParser) Feed(chunk []byte) error {
	p.buf = append(p.buf, chunk...)

	off := 0
	for {
		h, ok, err := readHeader(p.buf[off:], p.limit)
		if err != nil {
			return err
		}
		if !ok || len(p.buf)-off < h.frameLen() {
			break
		}
		p.frames.Add(h.build(p.buf[off:]))
		off += h.frameLen()
	}

	if off > 0 {
		n := copy(p.buf, p.buf[off:])
		p.buf = p.buf[:n]
	}
	return nil
}

// Next pops the oldest decoded frame.
func (p *FrameParser) Next() (*Frame, bool) {
	if p.frames.Length() == 0 {
		return nil, false
	}
	return p.frames.Remove().(*Frame), true
}

// Pending reports how many decoded frames are waiting.
func (p *FrameParser) Pending() int {
	return p.frames.Length()
}

// Buffered reports how many bytes of an incomplete frame are held.
func (p *FrameParser) Buffered() int {
	return len(p.buf)
}
