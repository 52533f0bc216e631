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

// Package upstreamconfig decodes upstream group configuration into the
// server specs the balancer consumes.
//
//	upstreams:
//	  api:
//	    servers:
//	      - address: 10.0.0.1:8080
//	        weight: 5
//	      - address: 10.0.0.2:8080
//	        maxFails: 3
//	        failTimeout: 30s
//	      - address: 10.0.0.3:8080
//	        backup: true
//
// Hostname resolution happens before this package: every address is already
// a host:port the connection layer can dial.
package upstreamconfig

import (
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/meridianproxy/upstream"
	"github.com/meridianproxy/upstream/roundrobin"
)

// Server line defaults, applied when a field is omitted.
const (
	_defaultWeight      = 1
	_defaultMaxFails    = 1
	_defaultFailTimeout = 10 * time.Second
)

// Config is the root of an upstream configuration document.
type Config struct {
	Upstreams map[string]Group `config:"upstreams"`
}

// Group describes one named upstream group.
type Group struct {
	Servers []Server `config:"servers"`
}

// Server describes one server line of a group.
type Server struct {
	// Address is the server's host:port. Addresses lists several at once
	// (a hostname that resolved to multiple addresses); the two may be
	// combined.
	Address   string   `config:"address"`
	Addresses []string `config:"addresses"`

	Weight      *int           `config:"weight"`
	MaxConns    int            `config:"maxConns"`
	MaxFails    *int           `config:"maxFails"`
	FailTimeout *time.Duration `config:"failTimeout"`
	Backup      bool           `config:"backup"`
	Down        bool           `config:"down"`
}

// Specs converts the group's server lines into balancer server specs,
// applying defaults: weight 1, maxFails 1, failTimeout 10s.
func (g Group) Specs() ([]upstream.ServerSpec, error) {
	var errs error
	specs := make([]upstream.ServerSpec, 0, len(g.Servers))

	for i, server := range g.Servers {
		addrs := server.Addresses
		if server.Address != "" {
			addrs = append([]string{server.Address}, addrs...)
		}
		if len(addrs) == 0 {
			errs = multierr.Append(errs, fmt.Errorf("server %d has no address", i))
			continue
		}

		spec := upstream.ServerSpec{
			Name:        addrs[0],
			Addrs:       addrs,
			Weight:      _defaultWeight,
			MaxConns:    server.MaxConns,
			MaxFails:    _defaultMaxFails,
			FailTimeout: _defaultFailTimeout,
			Down:        server.Down,
			Backup:      server.Backup,
		}
		if server.Weight != nil {
			spec.Weight = *server.Weight
		}
		if server.MaxFails != nil {
			spec.MaxFails = *server.MaxFails
		}
		if server.FailTimeout != nil {
			spec.FailTimeout = *server.FailTimeout
		}
		specs = append(specs, spec)
	}

	if errs != nil {
		return nil, errs
	}
	return specs, nil
}

// Build constructs one balancer per configured upstream group.
func (c Config) Build(opts ...roundrobin.Option) (map[string]*roundrobin.Balancer, error) {
	var errs error
	balancers := make(map[string]*roundrobin.Balancer, len(c.Upstreams))

	for name, group := range c.Upstreams {
		specs, err := group.Specs()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("upstream %q: %v", name, err))
			continue
		}

		balancer, err := roundrobin.New(name, specs, opts...)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		balancers[name] = balancer
	}

	if errs != nil {
		return nil, errs
	}
	return balancers, nil
}
