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

import "go.uber.org/net/metrics"

// balancerMetrics counts selections, failed attempts, and pool exhaustion.
// A nil *balancerMetrics is valid and counts nothing.
type balancerMetrics struct {
	selections *metrics.CounterVector
	failures   *metrics.CounterVector
	busy       *metrics.CounterVector
}

func newBalancerMetrics(scope *metrics.Scope) *balancerMetrics {
	if scope == nil {
		return nil
	}
	return &balancerMetrics{
		selections: registerSelections(scope),
		failures:   registerFailures(scope),
		busy:       registerBusy(scope),
	}
}

func registerSelections(scope *metrics.Scope) *metrics.CounterVector {
	v, _ := scope.CounterVector(metrics.Spec{
		Name:      "upstream_peer_selections",
		Help:      "Total number of peer selections.",
		ConstTags: map[string]string{"component": "upstream"},
		VarTags:   []string{"upstream", "peer"},
	})
	return v
}

func registerFailures(scope *metrics.Scope) *metrics.CounterVector {
	v, _ := scope.CounterVector(metrics.Spec{
		Name:      "upstream_peer_failures",
		Help:      "Total number of failed attempts reported against peers.",
		ConstTags: map[string]string{"component": "upstream"},
		VarTags:   []string{"upstream", "peer"},
	})
	return v
}

func registerBusy(scope *metrics.Scope) *metrics.CounterVector {
	v, _ := scope.CounterVector(metrics.Spec{
		Name:      "upstream_busy",
		Help:      "Total number of requests that exhausted every pool.",
		ConstTags: map[string]string{"component": "upstream"},
		VarTags:   []string{"upstream"},
	})
	return v
}

func (m *balancerMetrics) incSelection(upstream, peer string) {
	if m == nil {
		return
	}
	incPeerVecMetric(m.selections, upstream, peer)
}

func (m *balancerMetrics) incFailure(upstream, peer string) {
	if m == nil {
		return
	}
	incPeerVecMetric(m.failures, upstream, peer)
}

func (m *balancerMetrics) incBusy(upstream string) {
	if m == nil || m.busy == nil {
		return
	}
	if counter, err := m.busy.Get("upstream", upstream); err == nil {
		counter.Inc()
	}
}

func incPeerVecMetric(vector *metrics.CounterVector, upstream, peer string) {
	if vector == nil {
		return
	}
	if counter, err := vector.Get("upstream", upstream, "peer", peer); err == nil {
		counter.Inc()
	}
}
