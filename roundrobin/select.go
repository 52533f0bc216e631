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
	"time"

	"go.uber.org/zap"

	"github.com/meridianproxy/upstream"
)

const _wordBits = 64

// RequestState carries one request's selection context: the pool currently
// being searched, the most recent pick, the tried set, and the remaining
// attempt budget. Create one per request with Balancer.Request and discard
// it when the request ends.
//
// A RequestState is used by a single request at a time; its methods are not
// safe for concurrent use with each other.
type RequestState struct {
	balancer *Balancer
	pool     *Pool
	current  *Peer

	tried  []uint64
	inline [1]uint64

	tries int
}

func (rs *RequestState) isTried(i int) bool {
	return rs.tried[i/_wordBits]&(1<<uint(i%_wordBits)) != 0
}

func (rs *RequestState) markTried(i int) {
	rs.tried[i/_wordBits] |= 1 << uint(i%_wordBits)
}

// RemainingTries is the number of attempts left in the request's budget.
// The retry driver should stop asking for peers when it reaches zero.
func (rs *RequestState) RemainingTries() int { return rs.tries }

// Get returns a peer this request has not tried yet that is currently
// eligible, moving on to the backup pool once the primary is exhausted.
// When both pools are exhausted it returns upstream.ErrBusy; the request
// must not call Get again after that.
//
// Every successful Get must be paired with exactly one Release.
//
// Get also rolls a peer's fail window forward when it lapsed without a
// release refreshing it, even if the peer is then returned. The refresh
// moves the check time past the last failure time, so a success released
// after it clears the failure count. This matches the long-standing
// behavior of the scheme and is relied on elsewhere; do not "fix" it.
func (rs *RequestState) Get() (*Peer, error) {
	b := rs.balancer
	pool := rs.pool

	b.logger.Debug("get round robin peer",
		zap.String("upstream", pool.name),
		zap.Int("tries", rs.tries))

	pool.lock.Lock()

	var best *Peer
	if pool.single {
		// One peer, nowhere else to go: failure state is not consulted,
		// only the administrative flag and the connection cap.
		peer := pool.peers[0]
		if peer.down || (peer.maxConns > 0 && int(peer.conns.Load()) >= peer.maxConns) {
			return rs.fallback(pool)
		}
		rs.current = peer
		best = peer
	} else {
		best = rs.pick(pool, b.clock.Now())
		if best == nil {
			return rs.fallback(pool)
		}
		b.logger.Debug("get round robin peer, current",
			zap.String("peer", best.addr),
			zap.Int("currentWeight", best.currentWeight))
	}

	best.conns.Inc()
	pool.lock.Unlock()

	b.metrics.incSelection(pool.name, best.addr)
	return best, nil
}

// pick runs one smooth weighted round-robin pass over the pool. Each
// untried eligible peer's running weight grows by its effective weight, and
// demoted peers recover one point of effective weight per pass; the largest
// running weight wins (ties to the lower index) and is pulled back by the
// pass total.
//
// Callers must hold the pool write lock.
func (rs *RequestState) pick(pool *Pool, now time.Time) *Peer {
	var best *Peer
	bestIndex := 0
	total := 0

	for i, peer := range pool.peers {
		if rs.isTried(i) {
			continue
		}
		if !peer.eligible(now) {
			continue
		}

		peer.currentWeight += peer.effectiveWeight
		total += peer.effectiveWeight

		if peer.effectiveWeight < peer.weight {
			peer.effectiveWeight++
		}

		if best == nil || peer.currentWeight > best.currentWeight {
			best = peer
			bestIndex = i
		}
	}

	if best == nil {
		return nil
	}

	rs.current = best
	rs.markTried(bestIndex)

	best.currentWeight -= total

	if now.Sub(best.checked) > best.failTimeout {
		best.checked = now
	}

	return best
}

// fallback advances the request to the backup pool, or reports exhaustion.
// Called with pool's write lock held; releases it.
func (rs *RequestState) fallback(pool *Pool) (*Peer, error) {
	b := rs.balancer

	if pool.backup != nil {
		b.logger.Debug("backup servers", zap.String("upstream", pool.name))

		rs.pool = pool.backup

		// The tried set is reinterpreted against the backup pool's index
		// space.
		words := (pool.backup.number + _wordBits - 1) / _wordBits
		for i := 0; i < words; i++ {
			rs.tried[i] = 0
		}

		pool.lock.Unlock()
		return rs.Get()
	}

	pool.lock.Unlock()

	b.metrics.incBusy(pool.name)
	return nil, upstream.ErrBusy
}

// Release reports the outcome of the attempt started by the most recent
// Get: nil for success, non-nil for a connection- or protocol-level
// failure. It must be called exactly once per successful Get, including
// when the request is canceled.
//
// A failure demotes the peer's effective weight and, at the failure
// threshold, starts its fail window. A success clears the failure count
// only when the window was already rolled past the last failure.
func (rs *RequestState) Release(failure error) {
	b := rs.balancer
	pool := rs.pool
	peer := rs.current

	b.logger.Debug("free round robin peer",
		zap.String("peer", peer.addr),
		zap.Int("tries", rs.tries),
		zap.Bool("failed", failure != nil))

	pool.lock.RLock()
	peer.lock.Lock()

	if pool.single {
		peer.conns.Dec()

		peer.lock.Unlock()
		pool.lock.RUnlock()

		// The only peer was just attempted; retrying cannot do better.
		rs.tries = 0
		return
	}

	if failure != nil {
		now := b.clock.Now()

		peer.fails++
		peer.accessed = now
		peer.checked = now

		if peer.maxFails > 0 {
			peer.effectiveWeight -= peer.weight / peer.maxFails

			if peer.fails == peer.maxFails {
				b.logger.Warn("upstream server temporarily disabled",
					zap.String("upstream", pool.name),
					zap.String("peer", peer.addr),
					zap.Error(failure))
			}

			if peer.effectiveWeight < 0 {
				peer.effectiveWeight = 0
			}
		}

		b.metrics.incFailure(pool.name, peer.addr)
	} else if peer.accessed.Before(peer.checked) {
		// The fail window rolled past the last failure: the peer is live.
		peer.fails = 0
	}

	peer.conns.Dec()

	peer.lock.Unlock()
	pool.lock.RUnlock()

	if rs.tries > 0 {
		rs.tries--
	}
}
