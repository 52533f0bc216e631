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

package roundrobin

import (
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/meridianproxy/upstream"
	"github.com/meridianproxy/upstream/internal/introspection"
)

// Defaults for implicitly defined upstreams (a bare hostname rather than a
// configured server list).
const (
	_implicitWeight      = 1
	_implicitMaxFails    = 1
	_implicitFailTimeout = 10 * time.Second
)

// Pool is an ordered collection of peers selected among as a unit. A primary
// pool may link a backup pool, consulted only once the primary is exhausted.
//
// Pools are built once at configuration load and outlive every request.
// Peers are never added or removed afterward; only their health and weight
// state changes.
type Pool struct {
	lock poolLock

	name   string
	peers  []*Peer
	backup *Pool

	// single is the fast path: exactly one peer and no backup.
	single bool
	// weighted is false when every peer has weight 1.
	weighted    bool
	number      int
	totalWeight int
	// tries counts peers that were not down at construction; it bounds how
	// many distinct peers one request may attempt in this pool.
	tries int

	// shared marks pools living in cross-worker shared memory; it selects
	// the spinning lock forms and the copying session-cache discipline.
	shared  bool
	allocMu sync.Mutex
}

// Name returns the upstream group label.
func (pool *Pool) Name() string { return pool.name }

// buildPool assembles one pool from the specs whose Backup flag matches
// backup. A nil pool and nil error mean no spec contributed an address.
func buildPool(name string, specs []upstream.ServerSpec, backup bool, cfg options) (*Pool, error) {
	var errs error
	n, w, t := 0, 0, 0
	for _, spec := range specs {
		if spec.Backup != backup {
			continue
		}
		if spec.Weight < 1 {
			errs = multierr.Append(errs, upstream.ErrInvalidWeight{Server: spec.Name, Weight: spec.Weight})
			continue
		}

		n += len(spec.Addrs)
		w += len(spec.Addrs) * spec.Weight
		if !spec.Down {
			t += len(spec.Addrs)
		}
	}
	if errs != nil {
		return nil, errs
	}
	if n == 0 {
		return nil, nil
	}

	pool := &Pool{
		lock:        cfg.newPoolLock(),
		name:        name,
		peers:       make([]*Peer, 0, n),
		single:      n == 1,
		weighted:    w != n,
		number:      n,
		totalWeight: w,
		tries:       t,
		shared:      cfg.shared,
	}

	for _, spec := range specs {
		if spec.Backup != backup {
			continue
		}
		for _, addr := range spec.Addrs {
			pool.peers = append(pool.peers, &Peer{
				lock:            cfg.newPeerLock(),
				addr:            addr,
				server:          spec.Name,
				weight:          spec.Weight,
				effectiveWeight: spec.Weight,
				maxConns:        spec.MaxConns,
				maxFails:        spec.MaxFails,
				failTimeout:     spec.FailTimeout,
				down:            spec.Down,
			})
		}
	}
	return pool, nil
}

// buildImplicitPool assembles a pool for an upstream defined by a bare
// hostname: every resolved address becomes a weight-1 peer with the default
// failure limits, and there is no backup.
func buildImplicitPool(host string, addrs []string, cfg options) (*Pool, error) {
	if len(addrs) == 0 {
		return nil, upstream.ErrNoServers{Group: host}
	}

	pool := &Pool{
		lock:        cfg.newPoolLock(),
		name:        host,
		peers:       make([]*Peer, 0, len(addrs)),
		single:      len(addrs) == 1,
		number:      len(addrs),
		totalWeight: len(addrs),
		tries:       len(addrs),
		shared:      cfg.shared,
	}
	for _, addr := range addrs {
		pool.peers = append(pool.peers, &Peer{
			lock:            cfg.newPeerLock(),
			addr:            addr,
			server:          host,
			weight:          _implicitWeight,
			effectiveWeight: _implicitWeight,
			maxFails:        _implicitMaxFails,
			failTimeout:     _implicitFailTimeout,
		})
	}
	return pool, nil
}

func (pool *Pool) introspect(now time.Time) introspection.PoolStatus {
	pool.lock.RLock()
	status := introspection.PoolStatus{
		Name:  pool.name,
		Peers: make([]introspection.PeerStatus, 0, len(pool.peers)),
	}
	for _, peer := range pool.peers {
		peer.lock.Lock()
		status.Peers = append(status.Peers, peer.status(now))
		peer.lock.Unlock()
	}
	pool.lock.RUnlock()

	if pool.backup != nil {
		backup := pool.backup.introspect(now)
		status.Backup = &backup
	}
	return status
}
