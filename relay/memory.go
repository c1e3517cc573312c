// Package relay
// Author: momentics <momentics@gmail.com>
//
// In-process relay hub, for tests and single-binary multi-engine setups.

package relay

import (
	"context"
	"sync"
)

// Hub connects in-process relays. Messages go through the same envelope
// encoding as the Redis relay.
type Hub struct {
	mu      sync.RWMutex
	members map[*Memory]chan []byte
}

func NewHub() *Hub {
	return &Hub{members: make(map[*Memory]chan []byte)}
}

// Join returns a new relay attached to h.
func (h *Hub) Join() *Memory {
	m := &Memory{hub: h, node: newNodeID(), done: make(chan struct{})}
	h.mu.Lock()
	h.members[m] = make(chan []byte, 256)
	h.mu.Unlock()
	return m
}

func (h *Hub) inbox(m *Memory) (chan []byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ch, ok := h.members[m]
	return ch, ok
}

type target struct {
	member *Memory
	inbox  chan []byte
}

// snapshot copies the membership so sends happen outside the lock.
func (h *Hub) snapshot() []target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]target, 0, len(h.members))
	for m, ch := range h.members {
		out = append(out, target{member: m, inbox: ch})
	}
	return out
}

func (h *Hub) leave(m *Memory) {
	h.mu.Lock()
	delete(h.members, m)
	h.mu.Unlock()
}

// Memory is one member of a Hub.
type Memory struct {
	hub       *Hub
	node      string
	done      chan struct{}
	closeOnce sync.Once
}

func (m *Memory) Node() string { return m.node }

// Publish delivers to every member's inbox, including the sender's own,
// where it is filtered out on receipt. A full inbox blocks until it drains,
// its member leaves or ctx ends.
func (m *Memory) Publish(ctx context.Context, payload []byte) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	data, err := encodeEnvelope(m.node, payload)
	if err != nil {
		return err
	}
	for _, t := range m.hub.snapshot() {
		select {
		case t.inbox <- data:
		case <-t.member.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe implements Relay.
func (m *Memory) Subscribe(ctx context.Context, deliver func(payload []byte)) error {
	ch, ok := m.hub.inbox(m)
	if !ok {
		return ErrClosed
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case data := <-ch:
			payload, ok, err := decodeEnvelope(m.node, data)
			if err == nil && ok {
				deliver(payload)
			}
		}
	}
}

// Close detaches m from its hub.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.hub.leave(m)
	})
	return nil
}
