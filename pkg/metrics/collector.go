// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-zkauth.
//
// go-zkauth is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Probe reads the current value of a gauge owned by another component.
type Probe func() float64

type watch struct {
	gauge prometheus.Gauge
	probe Probe
}

// Collector samples state gauges on an interval. Components register a
// probe per gauge; the collector owns the schedule.
type Collector struct {
	interval time.Duration
	started  time.Time

	mu      sync.Mutex
	watches []watch
}

// NewCollector creates a collector sampling every interval. Uptime is
// always reported.
func NewCollector(interval time.Duration) *Collector {
	c := &Collector{interval: interval, started: time.Now()}
	c.Watch(ServerUptime, func() float64 {
		return time.Since(c.started).Seconds()
	})
	return c
}

// Watch registers probe as the source of gauge.
func (c *Collector) Watch(gauge prometheus.Gauge, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watches = append(c.watches, watch{gauge: gauge, probe: probe})
}

// CollectOnce samples every probe once.
func (c *Collector) CollectOnce() {
	if !IsEnabled() {
		return
	}
	c.mu.Lock()
	watches := append([]watch(nil), c.watches...)
	c.mu.Unlock()

	for _, w := range watches {
		w.gauge.Set(w.probe())
	}
}

// Run samples immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CollectOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce()
		}
	}
}
