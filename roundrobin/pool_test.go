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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianproxy/upstream"
)

func TestNewRequiresPrimaryServers(t *testing.T) {
	_, err := New("empty", nil)
	assert.Equal(t, upstream.ErrNoServers{Group: "empty"}, err)

	// Backup-only configuration leaves the primary empty.
	backup := server("b:80", 1)
	backup.Backup = true
	_, err = New("backuponly", []upstream.ServerSpec{backup})
	assert.Equal(t, upstream.ErrNoServers{Group: "backuponly"}, err)
}

func TestNewRejectsInvalidWeight(t *testing.T) {
	spec := server("a:80", 0)
	_, err := New("test", []upstream.ServerSpec{spec})
	assert.Equal(t, upstream.ErrInvalidWeight{Server: "a:80", Weight: 0}, err)
}

func TestPoolFlags(t *testing.T) {
	t.Run("single peer no backup", func(t *testing.T) {
		b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1)})
		assert.True(t, b.primary.single)
		assert.False(t, b.primary.weighted)
		assert.Equal(t, 1, b.primary.number)
		assert.Equal(t, 1, b.primary.tries)
		assert.Nil(t, b.primary.backup)
	})

	t.Run("single peer with backup", func(t *testing.T) {
		backup := server("b:80", 1)
		backup.Backup = true
		b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1), backup})
		assert.False(t, b.primary.single, "a backup disables the fast path")
		require.NotNil(t, b.primary.backup)
		assert.False(t, b.primary.backup.single)
		assert.Equal(t, 1, b.primary.backup.number)
	})

	t.Run("weighted", func(t *testing.T) {
		b := newTestBalancer(t, []upstream.ServerSpec{
			server("a:80", 3),
			server("b:80", 1),
		})
		assert.True(t, b.primary.weighted)
		assert.Equal(t, 4, b.primary.totalWeight)
	})

	t.Run("down peers do not count toward tries", func(t *testing.T) {
		down := server("b:80", 1)
		down.Down = true
		b := newTestBalancer(t, []upstream.ServerSpec{server("a:80", 1), down})
		assert.Equal(t, 2, b.primary.number)
		assert.Equal(t, 1, b.primary.tries)
	})

	t.Run("multi-address spec", func(t *testing.T) {
		spec := upstream.ServerSpec{
			Name:        "cluster.internal",
			Addrs:       []string{"10.0.0.1:80", "10.0.0.2:80"},
			Weight:      2,
			MaxFails:    1,
			FailTimeout: 10 * time.Second,
		}
		b := newTestBalancer(t, []upstream.ServerSpec{spec})
		require.Equal(t, 2, b.primary.number)
		assert.Equal(t, 4, b.primary.totalWeight)
		for _, peer := range b.primary.peers {
			assert.Equal(t, "cluster.internal", peer.Server())
			assert.Equal(t, 2, peer.weight)
		}
	})
}

func TestNewImplicit(t *testing.T) {
	t.Run("no port", func(t *testing.T) {
		_, err := NewImplicit("example.com", 0, []string{"10.0.0.1:80"})
		assert.Equal(t, upstream.ErrNoPort{Host: "example.com"}, err)
	})

	t.Run("no addresses", func(t *testing.T) {
		_, err := NewImplicit("example.com", 80, nil)
		assert.Equal(t, upstream.ErrNoServers{Group: "example.com"}, err)
	})

	t.Run("defaults", func(t *testing.T) {
		b, err := NewImplicit("example.com", 80, []string{"10.0.0.1:80", "10.0.0.2:80"})
		require.NoError(t, err)

		pool := b.primary
		assert.False(t, pool.single)
		assert.False(t, pool.weighted)
		assert.Equal(t, 2, pool.tries)
		assert.Nil(t, pool.backup, "implicit upstreams have no backup servers")

		for _, peer := range pool.peers {
			assert.Equal(t, 1, peer.weight)
			assert.Equal(t, 1, peer.effectiveWeight)
			assert.Equal(t, 1, peer.maxFails)
			assert.Equal(t, 10*time.Second, peer.failTimeout)
			assert.Equal(t, 0, peer.maxConns)
			assert.Equal(t, "example.com", peer.Server())
		}
	})
}

func TestNewResolved(t *testing.T) {
	b, err := NewResolved("example.com", []string{"10.0.0.1:8080"})
	require.NoError(t, err)
	assert.True(t, b.primary.single)

	rs := b.Request()
	peer, err := rs.Get()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:8080", peer.Addr())
	rs.Release(nil)
}

func TestIntrospect(t *testing.T) {
	down := server("c:80", 1)
	down.Down = true
	backup := server("d:80", 1)
	backup.Backup = true

	b := newTestBalancer(t, []upstream.ServerSpec{
		server("a:80", 2),
		server("b:80", 1),
		down,
		backup,
	})

	// Drive b into probation.
	var flaky *Peer
	for _, p := range b.primary.peers {
		if p.Addr() == "b:80" {
			flaky = p
		}
	}
	require.NotNil(t, flaky)
	for flaky.fails == 0 {
		rs := b.Request()
		peer, err := rs.Get()
		require.NoError(t, err)
		if peer == flaky {
			rs.Release(errAttempt)
		} else {
			rs.Release(nil)
		}
	}

	status := b.Introspect()
	assert.Equal(t, "test", status.Name)
	require.Len(t, status.Peers, 3)

	states := map[string]string{}
	for _, peer := range status.Peers {
		states[peer.Addr] = peer.State
	}
	assert.Equal(t, "up", states["a:80"])
	assert.Equal(t, "probation", states["b:80"])
	assert.Equal(t, "down", states["c:80"])

	require.NotNil(t, status.Backup)
	require.Len(t, status.Backup.Peers, 1)
	assert.Equal(t, "d:80", status.Backup.Peers[0].Addr)
	assert.Equal(t, "up", status.Backup.Peers[0].State)
}
