// Copyright 2015 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package metric

import "sync/atomic"

// Counter is a monotonically increasing int64.
type Counter struct {
	count int64
}

// NewCounter creates a Counter.
func NewCounter() *Counter { return &Counter{} }

// Inc increments the counter by n.
func (c *Counter) Inc(n int64) { atomic.AddInt64(&c.count, n) }

// Count returns the current value.
func (c *Counter) Count() int64 { return atomic.LoadInt64(&c.count) }

// Each implements Iterable.
func (c *Counter) Each(f func(string, interface{})) { f("", c.Count()) }

// Gauge is a metric that can go up or down.
type Gauge struct {
	value int64
}

// NewGauge creates a Gauge.
func NewGauge() *Gauge { return &Gauge{} }

// Update sets the gauge's value.
func (g *Gauge) Update(v int64) { atomic.StoreInt64(&g.value, v) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return atomic.LoadInt64(&g.value) }

// Each implements Iterable.
func (g *Gauge) Each(f func(string, interface{})) { f("", g.Value()) }
