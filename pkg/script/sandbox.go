package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/getmockd/imposter/pkg/behaviour"
	"github.com/getmockd/imposter/pkg/logging"
)

// Outcome labels reported to an Observer.
const (
	OutcomeDecided    = "decided"
	OutcomeNoDecision = "no_decision"
	OutcomeError      = "error"
	OutcomeTimeout    = "timeout"
)

// Observer is notified after every evaluation.
type Observer func(engine, outcome string, elapsed time.Duration)

// RunningHook is called with +1 when a script starts on a worker and -1
// when it returns, including scripts whose caller has given up on them.
type RunningHook func(engine string, delta float64)

// ErrSandboxClosed is returned by Evaluate after Close.
var ErrSandboxClosed = errors.New("script sandbox is closed")

// Sandbox runs scripts off the caller's goroutine with bounded concurrency
// and a per-evaluation timeout. It implements behaviour.Evaluator.
type Sandbox struct {
	engines  map[string]Engine
	slots    chan struct{}
	timeout  time.Duration
	sources  *sourceCache
	observer Observer
	running  RunningHook
	log      *slog.Logger

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ behaviour.Evaluator = (*Sandbox)(nil)

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithEngine registers engine for script files with the given extension
// (including the dot, e.g. ".js").
func WithEngine(ext string, engine Engine) SandboxOption {
	return func(s *Sandbox) {
		s.engines[strings.ToLower(ext)] = engine
	}
}

// WithTimeout bounds each evaluation.
func WithTimeout(d time.Duration) SandboxOption {
	return func(s *Sandbox) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithWorkers bounds the number of scripts running at once.
func WithWorkers(n int) SandboxOption {
	return func(s *Sandbox) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithObserver sets a hook called after each evaluation.
func WithObserver(o Observer) SandboxOption {
	return func(s *Sandbox) { s.observer = o }
}

// WithRunningHook sets a hook tracking scripts currently on a worker.
func WithRunningHook(h RunningHook) SandboxOption {
	return func(s *Sandbox) { s.running = h }
}

// WithLogger sets the sandbox logger.
func WithLogger(log *slog.Logger) SandboxOption {
	return func(s *Sandbox) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSandbox creates a Sandbox with the JS (".js") and expr (".expr")
// engines registered. Options may replace or add engines.
func NewSandbox(opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		engines: make(map[string]Engine),
		slots:   make(chan struct{}, runtime.GOMAXPROCS(0)),
		timeout: 10 * time.Second,
		sources: newSourceCache(),
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, ok := s.engines[".js"]; !ok {
		s.engines[".js"] = NewJSEngine(WithJSLogger(s.log))
	}
	if _, ok := s.engines[".expr"]; !ok {
		s.engines[".expr"] = NewExprEngine()
	}
	return s
}

// Evaluate loads scriptFile and runs it against rc on a worker goroutine.
// It returns when the script finishes, the timeout elapses or ctx is done,
// whichever comes first; an abandoned script keeps its worker slot until
// its engine stops it.
func (s *Sandbox) Evaluate(ctx context.Context, scriptFile string, rc *behaviour.RequestContext) (*behaviour.Decision, error) {
	ext := strings.ToLower(filepath.Ext(scriptFile))
	engine, ok := s.engines[ext]
	if !ok {
		return nil, &ExecutionError{Script: scriptFile, Err: fmt.Errorf("no script engine for %q files", ext)}
	}

	src, err := s.sources.load(scriptFile)
	if err != nil {
		return nil, &ExecutionError{Script: scriptFile, Engine: engine.Name(), Err: err}
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, &ExecutionError{Script: scriptFile, Engine: engine.Name(), Err: ErrSandboxClosed}
	}
	s.inflight.Add(1)
	s.mu.RUnlock()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()

	select {
	case s.slots <- struct{}{}:
	case <-runCtx.Done():
		cancel()
		s.inflight.Done()
		return nil, s.fail(engine, scriptFile, start, runCtx.Err())
	}

	type result struct {
		decision *behaviour.Decision
		err      error
	}
	done := make(chan result, 1)

	go func() {
		defer s.inflight.Done()
		defer cancel()
		defer func() { <-s.slots }()
		if s.running != nil {
			s.running(engine.Name(), 1)
			defer s.running(engine.Name(), -1)
		}
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("script panic: %v", p)}
			}
		}()

		d, err := engine.Evaluate(runCtx, src, rc)
		done <- result{decision: d, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, s.fail(engine, scriptFile, start, res.err)
		}
		outcome := OutcomeDecided
		if res.decision == nil {
			outcome = OutcomeNoDecision
		}
		s.observe(engine.Name(), outcome, start)
		return res.decision, nil
	case <-runCtx.Done():
		return nil, s.fail(engine, scriptFile, start, runCtx.Err())
	}
}

func (s *Sandbox) fail(engine Engine, scriptFile string, start time.Time, err error) error {
	timedOut := errors.Is(err, context.DeadlineExceeded)
	outcome := OutcomeError
	if timedOut {
		outcome = OutcomeTimeout
	}
	s.observe(engine.Name(), outcome, start)
	s.log.Warn("script execution failed", "script", scriptFile, "engine", engine.Name(), "timedOut", timedOut, "error", err)
	return &ExecutionError{Script: scriptFile, Engine: engine.Name(), TimedOut: timedOut, Err: err}
}

func (s *Sandbox) observe(engine, outcome string, start time.Time) {
	if s.observer != nil {
		s.observer(engine, outcome, time.Since(start))
	}
}

// Close rejects new evaluations and waits for running ones to finish or
// for ctx to be done.
func (s *Sandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running scripts: %w", ctx.Err())
	}
}

// sourceCache keeps script sources keyed by path, re-reading a file only
// when its size or modification time changes.
type sourceCache struct {
	mu      sync.RWMutex
	entries map[string]cachedSource
}

type cachedSource struct {
	modTime time.Time
	size    int64
	source  Source
}

func newSourceCache() *sourceCache {
	return &sourceCache{entries: make(map[string]cachedSource)}
}

func (c *sourceCache) load(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, fmt.Errorf("reading script: %w", err)
	}

	c.mu.RLock()
	cached, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.source, nil
	}

	code, err := os.ReadFile(path)
	if err != nil {
		return Source{}, fmt.Errorf("reading script: %w", err)
	}
	src := NewSource(path, string(code))

	c.mu.Lock()
	c.entries[path] = cachedSource{modTime: info.ModTime(), size: info.Size(), source: src}
	c.mu.Unlock()

	return src, nil
}
