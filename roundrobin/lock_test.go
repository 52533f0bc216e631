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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridianproxy/upstream"
)

func TestSpinPoolLockExcludesWriters(t *testing.T) {
	lock := newSpinPoolLock()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8000, counter)
}

func TestSpinPoolLockAllowsConcurrentReaders(t *testing.T) {
	lock := newSpinPoolLock()

	// Two read locks held at once from the same goroutine only work if
	// readers do not exclude each other.
	lock.RLock()
	lock.RLock()
	lock.RUnlock()
	lock.RUnlock()

	// And a writer can get in afterward.
	lock.Lock()
	lock.Unlock()
}

func TestSpinPeerLockExcludes(t *testing.T) {
	lock := newSpinPeerLock()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				lock.Lock()
				counter++
				lock.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 8000, counter)
}

func TestConcurrentSelection(t *testing.T) {
	// Hammer one balancer from many goroutines under the default locks;
	// the race detector and the conns pairing check the discipline.
	b := newTestBalancer(t, []upstream.ServerSpec{
		server("a:80", 3),
		server("b:80", 1),
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				rs := b.Request()
				if _, err := rs.Get(); err != nil {
					continue
				}
				rs.Release(nil)
			}
		}()
	}
	wg.Wait()

	for _, peer := range b.primary.peers {
		assert.Equal(t, int32(0), peer.conns.Load())
	}
}
