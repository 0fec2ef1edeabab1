package metrics

import (
	"runtime"
	"strconv"
	"time"
)

// Set is the server's metric family.
type Set struct {
	Registry *Registry

	Requests        *Counter
	CursorsCreated  *Counter
	CursorsEvicted  *Counter
	ScriptRuns      *Counter
	ScriptsRunning  *Gauge
	ScriptDurations *Histogram
}

// NewSet registers the server metrics on a fresh Registry. openCursors is
// sampled for imposter_cursors_open; it may be nil.
func NewSet(openCursors func() float64) *Set {
	reg := NewRegistry()
	started := time.Now()

	s := &Set{
		Registry:        reg,
		Requests:        reg.NewCounter("imposter_requests_total", "Requests served, by plugin and status code", "plugin", "status"),
		CursorsCreated:  reg.NewCounter("imposter_cursors_created_total", "Scanner cursors created"),
		CursorsEvicted:  reg.NewCounter("imposter_cursors_evicted_total", "Scanner cursors removed, by reason", "reason"),
		ScriptRuns:      reg.NewCounter("imposter_script_executions_total", "Behaviour script executions, by engine and outcome", "engine", "outcome"),
		ScriptsRunning:  reg.NewGauge("imposter_scripts_running", "Behaviour scripts currently executing, by engine", "engine"),
		ScriptDurations: reg.NewHistogram("imposter_script_duration_seconds", "Behaviour script execution time", DefaultDurationBuckets, "engine"),
	}
	if openCursors != nil {
		reg.NewGaugeFunc("imposter_cursors_open", "Scanner cursors currently open", openCursors)
	}
	reg.NewGaugeFunc("imposter_uptime_seconds", "Seconds since the server started", func() float64 {
		return time.Since(started).Seconds()
	})
	reg.NewGaugeFunc("go_goroutines", "Number of goroutines that currently exist", func() float64 {
		return float64(runtime.NumGoroutine())
	})
	reg.NewGaugeFunc("go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use", func() float64 {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return float64(mem.HeapAlloc)
	})
	return s
}

// ObserveRequest counts a response.
func (s *Set) ObserveRequest(plugin string, status int) {
	_ = s.Requests.Inc(plugin, strconv.Itoa(status))
}

// ObserveCursorCreated counts a new cursor.
func (s *Set) ObserveCursorCreated() {
	_ = s.CursorsCreated.Inc()
}

// ObserveCursorEvicted counts a removed cursor.
func (s *Set) ObserveCursorEvicted(_ uint64, reason string) {
	_ = s.CursorsEvicted.Inc(reason)
}

// ObserveScript counts a script run and records its duration.
func (s *Set) ObserveScript(engine, outcome string, elapsed time.Duration) {
	_ = s.ScriptRuns.Inc(engine, outcome)
	_ = s.ScriptDurations.Observe(elapsed.Seconds(), engine)
}

// TrackScriptRunning adjusts the running-scripts gauge for engine.
func (s *Set) TrackScriptRunning(engine string, delta float64) {
	_ = s.ScriptsRunning.Add(delta, engine)
}
