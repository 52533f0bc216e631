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

// Package introspection holds read-only snapshot types a balancer exposes
// for debug pages and status endpoints.
package introspection

// PeerStatus is a point-in-time view of one peer's selection state.
type PeerStatus struct {
	Addr            string `json:"addr"`
	Server          string `json:"server"`
	State           string `json:"state"` // "up", "probation", or "down"
	Weight          int    `json:"weight"`
	EffectiveWeight int    `json:"effectiveWeight"`
	Fails           int    `json:"fails"`
	Conns           int    `json:"conns"`
}

// PoolStatus is a point-in-time view of a pool and, recursively, of its
// backup pool.
type PoolStatus struct {
	Name   string       `json:"name"`
	Peers  []PeerStatus `json:"peers"`
	Backup *PoolStatus  `json:"backup,omitempty"`
}
