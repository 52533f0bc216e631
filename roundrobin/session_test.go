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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianproxy/upstream"
)

// fakeConn is a TLS-capable connection stub carrying a serialized session.
type fakeConn struct {
	session   []byte
	installed []byte
}

func (c *fakeConn) Session() []byte { return c.session }

func (c *fakeConn) SetSession(session []byte) error {
	c.installed = session
	return nil
}

func getPeer(t *testing.T, b *Balancer) (*RequestState, *Peer) {
	rs := b.Request()
	peer, err := rs.Get()
	require.NoError(t, err)
	return rs, peer
}

func TestLocalSessionSwap(t *testing.T) {
	b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1)})

	rs, peer := getPeer(t, b)

	// Nothing cached yet: load installs nothing.
	conn := &fakeConn{session: []byte("ticket-1")}
	require.NoError(t, rs.LoadSession(conn))
	assert.Nil(t, conn.installed)

	rs.SaveSession(conn)
	assert.Equal(t, []byte("ticket-1"), peer.session)
	rs.Release(nil)

	// The next request to the peer gets the cached session back.
	rs2, _ := getPeer(t, b)
	conn2 := &fakeConn{}
	require.NoError(t, rs2.LoadSession(conn2))
	assert.Equal(t, []byte("ticket-1"), conn2.installed)

	// A new session replaces the old one in place.
	conn2.session = []byte("ticket-2")
	rs2.SaveSession(conn2)
	assert.Equal(t, []byte("ticket-2"), peer.session)
	rs2.Release(nil)
}

func TestSharedSessionCopies(t *testing.T) {
	b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1)}, Shared())

	rs, peer := getPeer(t, b)

	blob := []byte("ticket-1")
	rs.SaveSession(&fakeConn{session: blob})

	// The cache holds its own copy; mutating the caller's blob afterward
	// must not reach it.
	blob[0] = 'X'
	assert.Equal(t, []byte("ticket-1"), peer.session)

	// Loading hands out a copy too.
	conn := &fakeConn{}
	require.NoError(t, rs.LoadSession(conn))
	assert.Equal(t, []byte("ticket-1"), conn.installed)
	conn.installed[0] = 'Y'
	assert.Equal(t, []byte("ticket-1"), peer.session)

	rs.Release(nil)
}

func TestSharedSessionReusesSlot(t *testing.T) {
	b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1)}, Shared())

	rs, peer := getPeer(t, b)

	rs.SaveSession(&fakeConn{session: []byte("a-long-session-ticket")})
	slot := &peer.session[0]

	// A shorter session fits the existing slot.
	rs.SaveSession(&fakeConn{session: []byte("short")})
	assert.Equal(t, []byte("short"), peer.session)
	assert.True(t, slot == &peer.session[0], "shorter blob reuses the slot")

	// A longer one forces a new slot.
	rs.SaveSession(&fakeConn{session: []byte("an-even-longer-session-ticket")})
	assert.Equal(t, []byte("an-even-longer-session-ticket"), peer.session)

	rs.Release(nil)
}

func TestSharedSessionDropsOversize(t *testing.T) {
	b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1)},
		Shared(), MaxSessionSize(8))

	rs, peer := getPeer(t, b)

	rs.SaveSession(&fakeConn{session: []byte("way-too-big-to-cache")})
	assert.Nil(t, peer.session, "oversize sessions are dropped")

	rs.SaveSession(&fakeConn{session: []byte("ok")})
	assert.Equal(t, []byte("ok"), peer.session)

	rs.Release(nil)
}

func TestSessionNoopWithoutSession(t *testing.T) {
	b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1)})

	rs, peer := getPeer(t, b)

	rs.SaveSession(&fakeConn{})
	assert.Nil(t, peer.session)

	conn := &fakeConn{}
	require.NoError(t, rs.LoadSession(conn))
	assert.Nil(t, conn.installed)

	rs.Release(nil)
}
