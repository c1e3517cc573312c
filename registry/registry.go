// File: registry/registry.go
// Package registry
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe set of open connections for high concurrency.

package registry

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrRegistryFull is returned by Add when the capacity bound is reached.
var ErrRegistryFull = errors.New("registry: connection limit reached")

// Registry holds the set of OPEN connections. Membership is by *Conn identity.
type Registry struct {
	shards   []*shard
	mask     uint32
	count    atomic.Int64
	maxConns int64
	log      *zap.Logger
}

type shard struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxConns bounds the number of members; zero or less means unbounded.
func WithMaxConns(n int) Option {
	return func(r *Registry) { r.maxConns = int64(n) }
}

// WithShards sets the shard count, rounded up to a power of two.
func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shards = make([]*shard, nextPowerOfTwo(uint32(n)))
		}
	}
}

// WithLogger attaches a logger for membership changes.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// New creates an empty registry with 16 shards unless told otherwise.
func New(opts ...Option) *Registry {
	r := &Registry{
		shards: make([]*shard, 16),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[*Conn]struct{})}
	}
	r.mask = uint32(len(r.shards) - 1)
	return r
}

func (r *Registry) shardFor(c *Conn) *shard {
	return r.shards[fnv32(c.ID())&r.mask]
}

// Add inserts c. Adding a member again is a no-op.
func (r *Registry) Add(c *Conn) error {
	sh := r.shardFor(c)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[c]; ok {
		return nil
	}
	total := r.count.Add(1)
	if r.maxConns > 0 && total > r.maxConns {
		r.count.Add(-1)
		return ErrRegistryFull
	}
	sh.conns[c] = struct{}{}
	r.log.Debug("connection added", zap.String("conn", c.ID()), zap.Int64("total", total))
	return nil
}

// Remove deletes c and reports whether it was a member.
func (r *Registry) Remove(c *Conn) bool {
	sh := r.shardFor(c)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[c]; !ok {
		return false
	}
	delete(sh.conns, c)
	total := r.count.Add(-1)
	r.log.Debug("connection removed", zap.String("conn", c.ID()), zap.Int64("total", total))
	return true
}

// Contains reports whether c is a member.
func (r *Registry) Contains(c *Conn) bool {
	sh := r.shardFor(c)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.conns[c]
	return ok
}

// Snapshot returns the members at the time of the call, in no particular order.
func (r *Registry) Snapshot() []*Conn {
	out := make([]*Conn, 0, r.Len())
	for _, sh := range r.shards {
		sh.mu.RLock()
		for c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

// ForEach applies fn to a snapshot of the members. No lock is held while fn
// runs, so fn may add or remove connections.
func (r *Registry) ForEach(fn func(*Conn)) {
	for _, c := range r.Snapshot() {
		fn(c)
	}
}

// Len returns the number of members.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// CloseAll removes and closes every member. It returns how many were closed.
func (r *Registry) CloseAll() int {
	n := 0
	for _, c := range r.Snapshot() {
		if r.Remove(c) {
			if err := c.Close(); err != nil {
				r.log.Debug("close on shutdown", zap.String("conn", c.ID()), zap.Error(err))
			}
			n++
		}
	}
	return n
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
