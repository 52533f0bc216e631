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

package upstream

import "time"

// ServerSpec describes one server line of an upstream group, as produced by
// the configuration layer after hostname resolution.
//
// A single spec may carry several addresses when its hostname resolved to
// more than one; each address becomes a distinct peer sharing the spec's
// weight and limits.
type ServerSpec struct {
	// Name is the server as written in configuration (hostname:port or
	// address), used for diagnostics.
	Name string

	// Addrs are the resolved socket addresses in printable host:port form.
	Addrs []string

	// Weight is the static selection weight. Must be positive.
	Weight int

	// MaxConns caps concurrent connections to each of the spec's peers.
	// Zero means unlimited.
	MaxConns int

	// MaxFails is the failure threshold after which a peer is skipped for
	// FailTimeout. Zero means failures never disable the peer.
	MaxFails int

	// FailTimeout is both the window over which failures accumulate and the
	// time a peer that exceeded MaxFails is skipped.
	FailTimeout time.Duration

	// Down administratively disables the spec's peers.
	Down bool

	// Backup places the spec's peers in the backup pool, used only once the
	// primary pool is exhausted.
	Backup bool
}
