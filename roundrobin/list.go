// Copyright (c) 2021 Meridian Proxy Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package roundrobin selects upstream peers with a smooth weighted
// round-robin: every eligible peer's running weight grows by its effective
// weight on each pass, the largest running weight wins, and the winner is
// pulled back by the pass total so picks interleave proportionally instead
// of bursting.
//
// Peers that fail repeatedly are demoted (their effective weight shrinks)
// and, past their failure threshold, skipped for the length of their fail
// window. A backup pool, when configured, is consulted only once every
// eligible primary peer has been tried.
package roundrobin

import (
	"go.uber.org/net/metrics"
	"go.uber.org/zap"

	"github.com/meridianproxy/upstream"
	"github.com/meridianproxy/upstream/internal/clock"
	"github.com/meridianproxy/upstream/internal/introspection"
)

// The cap on cached TLS session blobs, matching the largest serialized
// session the cache slot layout accounts for.
const _defaultMaxSessionSize = 4096

type options struct {
	logger         *zap.Logger
	clock          clock.Clock
	scope          *metrics.Scope
	shared         bool
	unlocked       bool
	maxSessionSize int
}

var defaultOptions = options{
	maxSessionSize: _defaultMaxSessionSize,
}

// Option customizes the behavior of a balancer.
type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(options *options) { f(options) }

// Logger sets a logger for selection debug output and peer health warnings.
//
// Defaults to a no-op logger.
func Logger(logger *zap.Logger) Option {
	return optionFunc(func(options *options) {
		options.logger = logger
	})
}

// Clock overrides the time source used for failure windows. Intended for
// tests.
func Clock(c clock.Clock) Option {
	return optionFunc(func(options *options) {
		options.clock = c
	})
}

// Metrics registers selection, failure, and exhaustion counters on the
// given scope.
func Metrics(scope *metrics.Scope) Option {
	return optionFunc(func(options *options) {
		options.scope = scope
	})
}

// Shared marks the balancer's pools as living in memory shared across
// worker processes. Pool and peer locks become spinlocks over shared atomic
// words, and the TLS session cache copies blobs instead of sharing them.
func Shared() Option {
	return optionFunc(func(options *options) {
		options.shared = true
	})
}

// Unlocked removes all locking. Only safe for hosts that serialize every
// Get and Release on a single thread and never share pools.
func Unlocked() Option {
	return optionFunc(func(options *options) {
		options.unlocked = true
	})
}

// MaxSessionSize caps cached TLS session blobs for shared pools; larger
// sessions are dropped rather than cached.
//
// Defaults to 4096 bytes.
func MaxSessionSize(n int) Option {
	return optionFunc(func(options *options) {
		options.maxSessionSize = n
	})
}

func (o options) newPoolLock() poolLock {
	switch {
	case o.shared:
		return newSpinPoolLock()
	case o.unlocked:
		return newNopPoolLock()
	default:
		return newLocalPoolLock()
	}
}

func (o options) newPeerLock() peerLock {
	switch {
	case o.shared:
		return newSpinPeerLock()
	case o.unlocked:
		return newNopPeerLock()
	default:
		return newLocalPeerLock()
	}
}

// Balancer owns an upstream group's pools and hands out peers one request
// attempt at a time.
type Balancer struct {
	name    string
	primary *Pool

	logger         *zap.Logger
	clock          clock.Clock
	metrics        *balancerMetrics
	maxSessionSize int
}

func newBalancer(name string, primary *Pool, cfg options) *Balancer {
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := cfg.clock
	if clk == nil {
		clk = clock.NewReal()
	}
	return &Balancer{
		name:           name,
		primary:        primary,
		logger:         logger,
		clock:          clk,
		metrics:        newBalancerMetrics(cfg.scope),
		maxSessionSize: cfg.maxSessionSize,
	}
}

// New builds a balancer for an explicitly configured upstream group. Specs
// flagged Backup feed the backup pool; the rest feed the primary. An empty
// primary is a configuration error. An empty backup simply links no backup
// pool.
func New(name string, specs []upstream.ServerSpec, opts ...Option) (*Balancer, error) {
	cfg := defaultOptions
	for _, o := range opts {
		o.apply(&cfg)
	}

	primary, err := buildPool(name, specs, false, cfg)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, upstream.ErrNoServers{Group: name}
	}

	backup, err := buildPool(name, specs, true, cfg)
	if err != nil {
		return nil, err
	}
	if backup != nil {
		// A pool with a backup never takes the single-peer fast path, on
		// either side of the link.
		primary.single = false
		backup.single = false
		primary.backup = backup
	}

	return newBalancer(name, primary, cfg), nil
}

// NewImplicit builds a balancer for an upstream implicitly defined by a
// proxied hostname. Each resolved address becomes a weight-1 peer with the
// default failure limits; there is no backup pool.
func NewImplicit(host string, port int, addrs []string, opts ...Option) (*Balancer, error) {
	if port == 0 {
		return nil, upstream.ErrNoPort{Host: host}
	}
	return NewResolved(host, addrs, opts...)
}

// NewResolved builds a balancer over addresses resolved for a single
// request (a proxied URL with variables, resolved just-in-time). Peers get
// the same defaults as an implicit upstream.
func NewResolved(host string, addrs []string, opts ...Option) (*Balancer, error) {
	cfg := defaultOptions
	for _, o := range opts {
		o.apply(&cfg)
	}

	pool, err := buildImplicitPool(host, addrs, cfg)
	if err != nil {
		return nil, err
	}
	return newBalancer(host, pool, cfg), nil
}

// Name returns the upstream group label.
func (b *Balancer) Name() string { return b.name }

// Request initializes per-request selection state: the tried set and the
// attempt budget across the primary and backup pools.
func (b *Balancer) Request() *RequestState {
	n := b.primary.number
	if backup := b.primary.backup; backup != nil && backup.number > n {
		n = backup.number
	}

	rs := &RequestState{
		balancer: b,
		pool:     b.primary,
		tries:    b.primary.tries,
	}
	if b.primary.backup != nil {
		rs.tries += b.primary.backup.tries
	}

	// Small pools track tried peers in a single inline word; only larger
	// pools pay for a heap allocation.
	if n <= _wordBits {
		rs.tried = rs.inline[:]
	} else {
		rs.tried = make([]uint64, (n+_wordBits-1)/_wordBits)
	}
	return rs
}

// Introspect returns a snapshot of every pool's peers for debug surfaces.
func (b *Balancer) Introspect() introspection.PoolStatus {
	return b.primary.introspect(b.clock.Now())
}
