// Copyright (c) 2026 Warden Team
// Warden - operations control plane for MEV trading
// This source code is licensed under the MIT license found in the LICENSE file.

// Package metrics keeps the process counters Prometheus scrapes from
// GET /metrics. Strategies and the tx engine bump counters through the
// package-level helpers; the registry renders the plain text exposition
// format.
package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Registry holds named counters, gauges and running averages.
type Registry struct {
	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
	avgs     map[string]*average
}

type average struct {
	count uint64
	sum   float64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: map[string]float64{},
		gauges:   map[string]float64{},
		avgs:     map[string]*average{},
	}
}

// Inc adds one to the named counter.
func (r *Registry) Inc(name string) { r.Add(name, 1) }

// Add adds delta to the named counter. Counters only move up; a negative
// delta is ignored.
func (r *Registry) Add(name string, delta float64) {
	if delta < 0 {
		return
	}
	r.mu.Lock()
	r.counters[name] += delta
	r.mu.Unlock()
}

// Set sets the named gauge.
func (r *Registry) Set(name string, value float64) {
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

// Observe folds value into the named running average.
func (r *Registry) Observe(name string, value float64) {
	r.mu.Lock()
	a := r.avgs[name]
	if a == nil {
		a = &average{}
		r.avgs[name] = a
	}
	a.count++
	a.sum += value
	r.mu.Unlock()
}

// Value returns the current value of a counter or gauge, or 0 when unset.
func (r *Registry) Value(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.counters[name]; ok {
		return v
	}
	return r.gauges[name]
}

// Snapshot returns every metric with averages resolved, for status output.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]float64, len(r.counters)+len(r.gauges)+len(r.avgs))
	for k, v := range r.counters {
		out[k] = v
	}
	for k, v := range r.gauges {
		out[k] = v
	}
	for k, a := range r.avgs {
		if a.count > 0 {
			out[k] = a.sum / float64(a.count)
		} else {
			out[k] = 0
		}
	}
	return out
}

// Render writes the text exposition: a # TYPE line per metric followed by
// its value, names sorted so scrapes are diffable.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	type metric struct {
		name  string
		kind  string
		value float64
	}
	all := make([]metric, 0, len(r.counters)+len(r.gauges)+len(r.avgs))
	for k, v := range r.counters {
		all = append(all, metric{k, "counter", v})
	}
	for k, v := range r.gauges {
		all = append(all, metric{k, "gauge", v})
	}
	for k, a := range r.avgs {
		var v float64
		if a.count > 0 {
			v = a.sum / float64(a.count)
		}
		all = append(all, metric{k, "gauge", v})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })

	var b strings.Builder
	for _, m := range all {
		fmt.Fprintf(&b, "# TYPE %s %s\n", m.name, m.kind)
		b.WriteString(m.name)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(m.value, 'g', -1, 64))
		b.WriteByte('\n')
	}
	return b.String()
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryOnce.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// Inc bumps a counter on the default registry.
func Inc(name string) { Default().Inc(name) }

// Add adds to a counter on the default registry.
func Add(name string, delta float64) { Default().Add(name, delta) }

// Set sets a gauge on the default registry.
func Set(name string, value float64) { Default().Set(name, value) }

// Observe folds into a running average on the default registry.
func Observe(name string, value float64) { Default().Observe(name, value) }
