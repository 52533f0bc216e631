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
	"runtime"
	"sync"

	"go.uber.org/atomic"
)

// poolLock guards a pool's peer array. Get takes it for writing because the
// smooth round-robin pass mutates weights; Release takes it for reading and
// then the per-peer lock for writing.
type poolLock interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// peerLock guards one peer's mutable fields during release and session
// cache operations.
type peerLock interface {
	Lock()
	Unlock()
}

// Process-local pools use ordinary mutexes.

func newLocalPoolLock() poolLock { return &sync.RWMutex{} }
func newLocalPeerLock() peerLock { return &sync.Mutex{} }

// Pools placed in memory shared across workers cannot carry runtime mutexes;
// they spin on a single atomic word instead. Writers park the word at -1,
// readers count upward from 0.

const _writerHeld = -1

type spinPoolLock struct {
	state atomic.Int32
}

func newSpinPoolLock() poolLock { return &spinPoolLock{} }

func (l *spinPoolLock) Lock() {
	for !l.state.CAS(0, _writerHeld) {
		runtime.Gosched()
	}
}

func (l *spinPoolLock) Unlock() {
	l.state.Store(0)
}

func (l *spinPoolLock) RLock() {
	for {
		n := l.state.Load()
		if n >= 0 && l.state.CAS(n, n+1) {
			return
		}
		runtime.Gosched()
	}
}

func (l *spinPoolLock) RUnlock() {
	l.state.Dec()
}

type spinPeerLock struct {
	state atomic.Int32
}

func newSpinPeerLock() peerLock { return &spinPeerLock{} }

func (l *spinPeerLock) Lock() {
	for !l.state.CAS(0, 1) {
		runtime.Gosched()
	}
}

func (l *spinPeerLock) Unlock() {
	l.state.Store(0)
}

// Single-threaded hosts (one event loop per worker, pools never shared) may
// opt out of locking entirely; every contract still holds because calls are
// serialized by the host.

type nopPoolLock struct{}

func newNopPoolLock() poolLock { return nopPoolLock{} }

func (nopPoolLock) Lock()    {}
func (nopPoolLock) Unlock()  {}
func (nopPoolLock) RLock()   {}
func (nopPoolLock) RUnlock() {}

type nopPeerLock struct{}

func newNopPeerLock() peerLock { return nopPeerLock{} }

func (nopPeerLock) Lock()   {}
func (nopPeerLock) Unlock() {}
