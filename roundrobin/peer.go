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

	"go.uber.org/atomic"

	"github.com/meridianproxy/upstream/internal/introspection"
)

// Peer is one backend endpoint: its static configuration and the health and
// weight state the balancer mutates as attempts succeed and fail.
//
// All mutable fields are guarded by the owning pool's lock during selection
// and by the peer's own lock during release and status snapshots; conns is
// additionally atomic.
type Peer struct {
	lock peerLock

	addr   string
	server string

	weight          int
	effectiveWeight int
	currentWeight   int

	conns    atomic.Int32
	maxConns int

	fails       int
	maxFails    int
	failTimeout time.Duration

	// accessed is the last time fails was incremented; checked is the start
	// of the current fail window, set on every failure and moved forward by
	// a selection made after the window lapsed. A failure leaves the two
	// equal; accessed < checked once the window has rolled past the last
	// failure, and only then does a success clear fails.
	accessed time.Time
	checked  time.Time

	down bool

	session []byte
}

// Addr returns the peer's printable socket address.
func (p *Peer) Addr() string { return p.addr }

// Server returns the server line this peer came from.
func (p *Peer) Server() string { return p.server }

// eligible reports whether the peer may be handed out at the given time:
// not administratively down, under its connection cap, and not inside an
// active fail window.
func (p *Peer) eligible(now time.Time) bool {
	if p.down {
		return false
	}
	if p.maxFails > 0 &&
		p.fails >= p.maxFails &&
		now.Sub(p.checked) <= p.failTimeout {
		return false
	}
	if p.maxConns > 0 && int(p.conns.Load()) >= p.maxConns {
		return false
	}
	return true
}

func (p *Peer) status(now time.Time) introspection.PeerStatus {
	state := "up"
	switch {
	case p.down:
		state = "down"
	case p.maxFails > 0 && p.fails >= p.maxFails && now.Sub(p.checked) <= p.failTimeout:
		state = "probation"
	}
	return introspection.PeerStatus{
		Addr:            p.addr,
		Server:          p.server,
		State:           state,
		Weight:          p.weight,
		EffectiveWeight: p.effectiveWeight,
		Fails:           p.fails,
		Conns:           int(p.conns.Load()),
	}
}
