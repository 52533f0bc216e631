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

import "go.uber.org/zap"

// SessionConn is the slice of a TLS-capable upstream connection the
// balancer needs to reuse sessions across requests to the same peer. Hosts
// without TLS upstreams never call LoadSession or SaveSession, so they need
// not implement it.
type SessionConn interface {
	// Session returns the connection's serialized TLS session, or nil when
	// there is none to save.
	Session() []byte

	// SetSession installs a previously saved serialized session on the
	// connection before the handshake.
	SetSession(session []byte) error
}

// LoadSession installs the current peer's cached TLS session, if any, on
// the connection. For shared pools the blob is copied out under the peer
// lock first, so deserialization happens without any lock held.
func (rs *RequestState) LoadSession(conn SessionConn) error {
	peer := rs.current
	pool := rs.pool

	if pool.shared {
		pool.lock.RLock()
		peer.lock.Lock()

		if peer.session == nil {
			peer.lock.Unlock()
			pool.lock.RUnlock()
			return nil
		}

		session := make([]byte, len(peer.session))
		copy(session, peer.session)

		peer.lock.Unlock()
		pool.lock.RUnlock()

		rs.balancer.logger.Debug("set session",
			zap.String("peer", peer.addr),
			zap.Int("len", len(session)))

		return conn.SetSession(session)
	}

	peer.lock.Lock()
	session := peer.session
	peer.lock.Unlock()

	if session == nil {
		return nil
	}

	rs.balancer.logger.Debug("set session",
		zap.String("peer", peer.addr),
		zap.Int("len", len(session)))

	return conn.SetSession(session)
}

// SaveSession captures the connection's TLS session into the current peer's
// cache slot. For shared pools the blob is copied in under the peer lock,
// growing the slot under the pool's allocator mutex only when it is too
// small; blobs over the configured maximum are dropped.
func (rs *RequestState) SaveSession(conn SessionConn) {
	b := rs.balancer
	pool := rs.pool

	session := conn.Session()
	if session == nil {
		return
	}

	peer := rs.current

	if pool.shared {
		// Do not cache too big sessions.
		if len(session) > b.maxSessionSize {
			return
		}

		b.logger.Debug("save session",
			zap.String("peer", peer.addr),
			zap.Int("len", len(session)))

		pool.lock.RLock()
		peer.lock.Lock()

		if cap(peer.session) < len(session) {
			pool.allocMu.Lock()
			peer.session = make([]byte, len(session))
			pool.allocMu.Unlock()
		} else {
			peer.session = peer.session[:len(session)]
		}
		copy(peer.session, session)

		peer.lock.Unlock()
		pool.lock.RUnlock()
		return
	}

	b.logger.Debug("save session",
		zap.String("peer", peer.addr),
		zap.Int("len", len(session)))

	// Process-local pools swap the blob in place; the old one is left to
	// the collector.
	peer.lock.Lock()
	peer.session = session
	peer.lock.Unlock()
}
