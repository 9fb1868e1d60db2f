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

// Package metric is the metric sink threaded through tablet bootstrap and
// the sys-catalog table constructor (spec §4.E, §4.I). It is trimmed down
// from the teacher's windowed-histogram/EWMA-rate registry to the counters
// and gauges the catalog actually emits: row counts, apply latencies are out
// of scope here (no time-series backend is wired — see DESIGN.md).
package metric

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Iterable is implemented by every metric and by *Registry itself, so
// registries can be nested the way the teacher nests per-store registries
// under a per-node one.
type Iterable interface {
	Each(func(name string, val interface{}))
}

// Registry bundles named Counters and Gauges under a single point of access.
type Registry struct {
	sync.Mutex
	tracked map[string]Iterable
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{tracked: map[string]Iterable{}}
}

// Add links the given Iterable into this registry under name.
func (r *Registry) Add(name string, item Iterable) error {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.tracked[name]; ok {
		return errors.New("metric name already in use: " + name)
	}
	r.tracked[name] = item
	return nil
}

// MustAdd calls Add and panics on error.
func (r *Registry) MustAdd(name string, item Iterable) {
	if err := r.Add(name, item); err != nil {
		panic(fmt.Sprintf("error adding %s: %s", name, err))
	}
}

// Each calls f for every tracked metric.
func (r *Registry) Each(f func(name string, val interface{})) {
	r.Lock()
	defer r.Unlock()
	for name, item := range r.tracked {
		item.Each(func(sub string, v interface{}) {
			if sub == "" {
				f(name, v)
			} else {
				f(name+"."+sub, v)
			}
		})
	}
}

// MarshalJSON marshals all tracked metrics to a flat map.
func (r *Registry) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{})
	r.Each(func(name string, v interface{}) { m[name] = v })
	return json.Marshal(m)
}

// Counter registers and returns a new monotonic Counter.
func (r *Registry) Counter(name string) *Counter {
	c := NewCounter()
	r.MustAdd(name, c)
	return c
}

// Gauge registers and returns a new Gauge.
func (r *Registry) Gauge(name string) *Gauge {
	g := NewGauge()
	r.MustAdd(name, g)
	return g
}
