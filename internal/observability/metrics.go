// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package observability

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/patchbay/patchbay/internal/catalog"
	"github.com/patchbay/patchbay/internal/engine"
	"github.com/patchbay/patchbay/internal/manager"
)

// Metrics are the engine's Prometheus metrics. They are updated from event
// channels on a control goroutine, never from the render path.
type Metrics struct {
	RenderAverageMs  prometheus.Gauge
	RenderMaxMs      prometheus.Gauge
	RenderCPUPercent prometheus.Gauge
	BlocksTotal      prometheus.Counter
	EngineErrors     prometheus.Counter
	PluginLoads      *prometheus.CounterVec
	PluginsLoaded    prometheus.Gauge
	ParameterChanges prometheus.Counter
	Scans            *prometheus.CounterVec
	ProbeFailures    prometheus.Counter
	CatalogPlugins   prometheus.Gauge

	// lastBlocks is the block total of the previous performance event. Only
	// the Watch goroutine touches it.
	lastBlocks uint64
}

// NewMetrics creates and registers the metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RenderAverageMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_render_average_ms",
			Help: "Smoothed render time per block in milliseconds",
		}),
		RenderMaxMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_render_max_ms",
			Help: "Longest block render time since the last stats reset",
		}),
		RenderCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_render_cpu_percent",
			Help: "Average render time as a percentage of the block duration",
		}),
		BlocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_render_blocks_total",
			Help: "Total number of rendered blocks",
		}),
		EngineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_engine_errors_total",
			Help: "Total number of engine error notifications",
		}),
		PluginLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patchbay_plugin_loads_total",
			Help: "Total number of plugin loads by status",
		}, []string{"status"}),
		PluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_plugins_loaded",
			Help: "Number of plugins in the graph",
		}),
		ParameterChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_parameter_changes_total",
			Help: "Total number of parameter changes made through the manager",
		}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "patchbay_catalog_scans_total",
			Help: "Total number of catalog scans by result",
		}, []string{"result"}),
		ProbeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "patchbay_catalog_probe_failures_total",
			Help: "Total number of plugin files that failed to probe",
		}),
		CatalogPlugins: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "patchbay_catalog_plugins",
			Help: "Number of plugins known to the catalog",
		}),
	}
	reg.MustRegister(
		m.RenderAverageMs, m.RenderMaxMs, m.RenderCPUPercent, m.BlocksTotal,
		m.EngineErrors, m.PluginLoads, m.PluginsLoaded, m.ParameterChanges,
		m.Scans, m.ProbeFailures, m.CatalogPlugins,
	)
	return m
}

// ObserveEngine records an engine notification.
func (m *Metrics) ObserveEngine(ev engine.Event) {
	switch ev.Kind {
	case engine.EventPerformance:
		st := ev.Stats
		m.RenderAverageMs.Set(st.AverageMs)
		m.RenderMaxMs.Set(st.MaxMs)
		m.RenderCPUPercent.Set(st.CPUUsagePercent)
		// The block total restarts when stats are reset.
		if st.TotalBlocksProcessed >= m.lastBlocks {
			m.BlocksTotal.Add(float64(st.TotalBlocksProcessed - m.lastBlocks))
		} else {
			m.BlocksTotal.Add(float64(st.TotalBlocksProcessed))
		}
		m.lastBlocks = st.TotalBlocksProcessed
	case engine.EventError:
		m.EngineErrors.Inc()
	}
}

// ObserveManager records a manager event.
func (m *Metrics) ObserveManager(ev manager.Event) {
	switch ev.Kind {
	case manager.PluginLoaded:
		m.PluginLoads.WithLabelValues("ok").Inc()
		m.PluginsLoaded.Inc()
	case manager.PluginLoadFailed:
		m.PluginLoads.WithLabelValues("error").Inc()
	case manager.PluginRemoved:
		m.PluginsLoaded.Dec()
	case manager.ParameterChanged:
		m.ParameterChanges.Inc()
	}
}

// ObserveCatalog records a catalog event. total is the catalog size after
// the event.
func (m *Metrics) ObserveCatalog(ev catalog.Event, total int) {
	switch ev.Kind {
	case catalog.ProbeFailed:
		m.ProbeFailures.Inc()
	case catalog.ScanFinished:
		result := "completed"
		if ev.Cancelled {
			result = "cancelled"
		}
		m.Scans.WithLabelValues(result).Inc()
	}
	m.CatalogPlugins.Set(float64(total))
}

// Watch subscribes to the engine, manager and catalog and feeds their events
// into m until ctx is done or every subscription is closed. The returned
// channel is closed when the watcher exits.
func (m *Metrics) Watch(ctx context.Context, eng *engine.Processor, mgr *manager.Manager, cat *catalog.Catalog) <-chan struct{} {
	engCh := eng.Notifier().Subscribe(engine.DefaultSubscriberBuffer)
	mgrCh := mgr.Subscribe(0)
	catCh := cat.Subscribe(0)
	m.PluginsLoaded.Set(float64(len(mgr.Instances())))
	m.CatalogPlugins.Set(float64(cat.Len()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if engCh != nil {
				eng.Notifier().Unsubscribe(engCh)
			}
			if mgrCh != nil {
				mgr.Unsubscribe(mgrCh)
			}
			if catCh != nil {
				cat.Unsubscribe(catCh)
			}
		}()

		for engCh != nil || mgrCh != nil || catCh != nil {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-engCh:
				if !ok {
					engCh = nil
					continue
				}
				m.ObserveEngine(ev)
			case ev, ok := <-mgrCh:
				if !ok {
					mgrCh = nil
					continue
				}
				m.ObserveManager(ev)
			case ev, ok := <-catCh:
				if !ok {
					catCh = nil
					continue
				}
				m.ObserveCatalog(ev, cat.Len())
			}
		}
	}()
	return done
}
