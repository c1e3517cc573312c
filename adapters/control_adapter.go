// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter bundling metrics and debug probes behind one stats view.

package adapters

import (
	"github.com/momentics/hioload-broadcast/control"
)

type ControlAdapter struct {
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

// NewControlAdapter creates empty metrics and probes with the platform probes registered.
func NewControlAdapter() *ControlAdapter {
	adapter := &ControlAdapter{
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) Metrics() *control.MetricsRegistry { return c.metrics }

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// UnregisterDebugProbe drops a probe registered earlier.
func (c *ControlAdapter) UnregisterDebugProbe(name string) {
	c.debug.UnregisterProbe(name)
}

// DebugProbeNames lists the registered probes in sorted order.
func (c *ControlAdapter) DebugProbeNames() []string {
	return c.debug.Names()
}

// Stats merges the metrics snapshot with probe output under a "debug." prefix.
func (c *ControlAdapter) Stats() map[string]any {
	stats, _ := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}
