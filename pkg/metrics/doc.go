// Package metrics exposes server counters in the Prometheus text format
// (text/plain; version=0.0.4).
//
// A Registry holds counters, gauges, histograms and gauge funcs. Set is the
// server's own metric family:
//
//   - imposter_requests_total{plugin,status}
//   - imposter_cursors_open
//   - imposter_cursors_created_total
//   - imposter_cursors_evicted_total{reason}
//   - imposter_script_executions_total{engine,outcome}
//   - imposter_script_duration_seconds{engine}
//   - imposter_uptime_seconds, go_goroutines, go_memstats_heap_alloc_bytes
//
// Each Server owns its own Registry; there is no package-level state.
package metrics
