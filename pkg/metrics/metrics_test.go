package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, r *Registry) string {
	t.Helper()
	var b strings.Builder
	_, err := r.WriteTo(&b)
	require.NoError(t, err)
	return b.String()
}

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("test_total", "A test counter", "kind")

	require.NoError(t, c.Inc("a"))
	require.NoError(t, c.Add(2.5, "a"))
	require.NoError(t, c.Inc("b"))

	assert.ErrorIs(t, c.Add(-1, "a"), ErrNegativeCounterValue)
	assert.ErrorIs(t, c.Inc(), ErrLabelCountMismatch)
	assert.ErrorIs(t, c.Inc("a", "b"), ErrLabelCountMismatch)

	assert.Equal(t, "# HELP test_total A test counter\n"+
		"# TYPE test_total counter\n"+
		"test_total{kind=\"a\"} 3.5\n"+
		"test_total{kind=\"b\"} 1\n", render(t, r))
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.NewGauge("test_gauge", "A gauge")

	require.NoError(t, g.Set(10))
	require.NoError(t, g.Add(-3))
	assert.Contains(t, render(t, r), "test_gauge 7\n")
}

func TestGaugeFunc(t *testing.T) {
	r := NewRegistry()
	v := 1.0
	r.NewGaugeFunc("test_func", "Computed", func() float64 { return v })

	assert.Contains(t, render(t, r), "test_func 1\n")
	v = 42
	assert.Contains(t, render(t, r), "test_func 42\n")
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.NewHistogram("test_seconds", "Durations", []float64{0.1, 1}, "engine")

	require.NoError(t, h.Observe(0.0625, "js"))
	require.NoError(t, h.Observe(0.5, "js"))
	require.NoError(t, h.Observe(3, "js"))

	out := render(t, r)
	assert.Contains(t, out, "# TYPE test_seconds histogram\n")
	assert.Contains(t, out, `test_seconds_bucket{engine="js",le="0.1"} 1`)
	assert.Contains(t, out, `test_seconds_bucket{engine="js",le="1"} 2`)
	assert.Contains(t, out, `test_seconds_bucket{engine="js",le="+Inf"} 3`)
	assert.Contains(t, out, `test_seconds_sum{engine="js"} 3.5625`)
	assert.Contains(t, out, `test_seconds_count{engine="js"} 3`)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("dup_total", "first")
	assert.Panics(t, func() { r.NewGauge("dup_total", "second") })
	assert.ErrorIs(t, r.Register(&GaugeFunc{name: "dup_total"}), ErrDuplicateMetric)
}

func TestRegistry_SkipsEmptyMetrics(t *testing.T) {
	r := NewRegistry()
	r.NewCounter("unused_total", "never incremented", "x")
	assert.Empty(t, render(t, r))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.NewCounter("hits_total", "Hits").Inc())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "version=0.0.4")
	assert.Contains(t, rec.Body.String(), "hits_total 1\n")
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, `a\\b\nc`, escapeHelp("a\\b\nc"))
	assert.Equal(t, `say \"hi\"`, escapeLabelValue(`say "hi"`))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1", formatFloat(1))
	assert.Equal(t, "0.25", formatFloat(0.25))
	assert.Equal(t, "+Inf", formatFloat(posInf()))
}

func posInf() float64 {
	var zero float64
	return 1 / zero
}

func TestConcurrentUpdates(t *testing.T) {
	r := NewRegistry()
	c := r.NewCounter("conc_total", "Concurrent", "worker")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for range 1000 {
				_ = c.Inc(string(rune('a' + i%2)))
			}
		}(i)
	}
	wg.Wait()

	out := render(t, r)
	assert.Contains(t, out, `conc_total{worker="a"} 4000`)
	assert.Contains(t, out, `conc_total{worker="b"} 4000`)
}

func TestSet(t *testing.T) {
	open := 3.0
	s := NewSet(func() float64 { return open })

	s.ObserveRequest("hbase", 201)
	s.ObserveRequest("hbase", 201)
	s.ObserveRequest("rest", 404)
	s.ObserveCursorCreated()
	s.ObserveCursorEvicted(1, "idle")
	s.ObserveScript("js", "decided", 20*time.Millisecond)
	s.TrackScriptRunning("js", 1)
	s.TrackScriptRunning("js", 1)
	s.TrackScriptRunning("js", -1)

	out := render(t, s.Registry)
	assert.Contains(t, out, `imposter_requests_total{plugin="hbase",status="201"} 2`)
	assert.Contains(t, out, `imposter_requests_total{plugin="rest",status="404"} 1`)
	assert.Contains(t, out, "imposter_cursors_open 3\n")
	assert.Contains(t, out, "imposter_cursors_created_total 1\n")
	assert.Contains(t, out, `imposter_cursors_evicted_total{reason="idle"} 1`)
	assert.Contains(t, out, `imposter_script_executions_total{engine="js",outcome="decided"} 1`)
	assert.Contains(t, out, `imposter_script_duration_seconds_count{engine="js"} 1`)
	assert.Contains(t, out, `imposter_scripts_running{engine="js"} 1`)
	assert.Contains(t, out, "imposter_uptime_seconds ")
	assert.Contains(t, out, "go_goroutines ")
}
