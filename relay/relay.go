// Package relay
// Author: momentics <momentics@gmail.com>
//
// Cross-instance fan-out. Each server publishes the messages its own peers
// send and broadcasts what other instances publish, never echoing its own.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed relay.
var ErrClosed = errors.New("relay: closed")

// Relay carries broadcast payloads between server instances.
type Relay interface {
	// Publish sends payload to every other instance.
	Publish(ctx context.Context, payload []byte) error
	// Subscribe calls deliver for each payload published by another
	// instance, until ctx is done or the relay is closed.
	Subscribe(ctx context.Context, deliver func(payload []byte)) error
	// Node identifies this instance on the channel.
	Node() string
	Close() error
}

// envelope is the wire form on the shared channel.
type envelope struct {
	Node    string `json:"node"`
	Payload []byte `json:"payload"`
}

func newNodeID() string { return uuid.NewString() }

func encodeEnvelope(node string, payload []byte) ([]byte, error) {
	b, err := json.Marshal(envelope{Node: node, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("relay: encode: %w", err)
	}
	return b, nil
}

// decodeEnvelope returns the payload of data, or ok=false when it came from self.
func decodeEnvelope(self string, data []byte) (payload []byte, ok bool, err error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("relay: decode: %w", err)
	}
	if env.Node == "" {
		return nil, false, errors.New("relay: envelope without node")
	}
	if env.Node == self {
		return nil, false, nil
	}
	return env.Payload, true, nil
}
