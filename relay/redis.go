// Package relay
// Author: momentics <momentics@gmail.com>
//
// Redis pub/sub relay.

package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a standalone Redis connection.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// Redis is a Relay over a Redis pub/sub channel.
type Redis struct {
	client  redis.UniversalClient
	channel string
	node    string
	log     *zap.Logger
	closed  atomic.Bool
}

// NewRedis wraps an existing client. The client is closed by Close.
func NewRedis(client redis.UniversalClient, channel string, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:  client,
		channel: channel,
		node:    newNodeID(),
		log:     log,
	}
}

// DialRedis connects to cfg.Addr and checks the server answers.
func DialRedis(ctx context.Context, cfg RedisConfig, log *zap.Logger) (*Redis, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("relay: ping %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.Channel, log), nil
}

func (r *Redis) Node() string { return r.node }

// Publish implements Relay.
func (r *Redis) Publish(ctx context.Context, payload []byte) error {
	if r.closed.Load() {
		return ErrClosed
	}
	data, err := encodeEnvelope(r.node, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

// Subscribe implements Relay.
func (r *Redis) Subscribe(ctx context.Context, deliver func(payload []byte)) error {
	if r.closed.Load() {
		return ErrClosed
	}
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	// Wait for the subscription confirmation so no publish is missed after return.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	r.log.Info("relay subscribed", zap.String("channel", r.channel), zap.String("node", r.node))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch([]byte(msg.Payload), deliver)
		}
	}
}

func (r *Redis) dispatch(data []byte, deliver func([]byte)) {
	payload, ok, err := decodeEnvelope(r.node, data)
	if err != nil {
		r.log.Warn("relay message dropped", zap.Error(err))
		return
	}
	if ok {
		deliver(payload)
	}
}

// Close releases the Redis client.
func (r *Redis) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.client.Close()
}
