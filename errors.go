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

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by a balancer's Get when every peer of the current pool
// (and of the backup pool, if any) has been tried or is currently
// ineligible. It is a signal, not a fault: the caller decides whether to
// answer the client with an error or a fallback response. A request that
// observed ErrBusy must not retry within the same request.
var ErrBusy = errors.New("no live upstreams")

// ErrNoServers is returned when an upstream group's configuration yields no
// peers in the primary pool.
type ErrNoServers struct {
	Group string
}

func (e ErrNoServers) Error() string {
	return fmt.Sprintf("no servers in upstream %q", e.Group)
}

// ErrNoPort is returned when an implicitly defined upstream has no port to
// resolve against.
type ErrNoPort struct {
	Host string
}

func (e ErrNoPort) Error() string {
	return fmt.Sprintf("no port in upstream %q", e.Host)
}

// ErrInvalidWeight is returned when a server spec carries a non-positive
// weight.
type ErrInvalidWeight struct {
	Server string
	Weight int
}

func (e ErrInvalidWeight) Error() string {
	return fmt.Sprintf("invalid weight %d for server %q", e.Weight, e.Server)
}
